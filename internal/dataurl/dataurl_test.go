package dataurl

import (
	"bytes"
	"errors"
	"testing"
)

// pngHeader is the 8-byte PNG signature followed by the start of an IHDR chunk.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 13, 'I', 'H', 'D', 'R'}

// jpegHeader is the SOI marker followed by an APP0 segment start.
var jpegHeader = []byte{0xff, 0xd8, 0xff, 0xe0, 0, 16, 'J', 'F', 'I', 'F', 0}

func TestStrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"png prefix", "data:image/png;base64,AAAA", "AAAA"},
		{"jpeg prefix", "data:image/jpeg;base64,BBBB", "BBBB"},
		{"upper-case scheme", "DATA:image/png;base64,CCCC", "CCCC"},
		{"raw base64", "AAAA", "AAAA"},
		{"surrounding spaces", "  data:image/png;base64,DDDD\n", "DDDD"},
		{"no comma", "data:image/png;base64", "data:image/png;base64"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Strip(tt.in); got != tt.want {
				t.Errorf("Strip(%q): got %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	t.Parallel()

	payloads := []struct {
		mediaType string
		data      []byte
	}{
		{"image/png", pngHeader},
		{"image/jpeg", jpegHeader},
		{"image/png", []byte{0}},
		{"image/png", bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 1000)},
	}

	for _, p := range payloads {
		img, err := Decode(Encode(p.mediaType, p.data))
		if err != nil {
			t.Fatalf("Decode(%s): unexpected error: %v", p.mediaType, err)
		}
		if img.MediaType != p.mediaType {
			t.Errorf("MediaType: got %q, want %q", img.MediaType, p.mediaType)
		}
		if !bytes.Equal(img.Data, p.data) {
			t.Errorf("Data: round trip mismatch for %d bytes", len(p.data))
		}
	}
}

func TestDecode_RawBase64SniffsType(t *testing.T) {
	t.Parallel()

	raw := Strip(Encode("image/png", pngHeader))
	img, err := Decode(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img.MediaType != "image/png" {
		t.Errorf("MediaType: got %q, want image/png", img.MediaType)
	}
	if img.Extension() != "png" {
		t.Errorf("Extension: got %q, want png", img.Extension())
	}

	jpg, err := Decode(Strip(Encode("image/jpeg", jpegHeader)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if jpg.MediaType != "image/jpeg" {
		t.Errorf("MediaType: got %q, want image/jpeg", jpg.MediaType)
	}
	if !jpg.IsImage() {
		t.Error("expected jpeg payload to be an image")
	}
}

func TestDecode_ToleratesLineBreaksAndMissingPadding(t *testing.T) {
	t.Parallel()

	// "hello" is aGVsbG8= in padded base64.
	img, err := Decode("data:image/png;base64,aGVs\r\nbG8")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(img.Data) != "hello" {
		t.Errorf("Data: got %q, want %q", img.Data, "hello")
	}
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	if _, err := Decode(""); !errors.Is(err, ErrEmpty) {
		t.Errorf("empty: got %v, want ErrEmpty", err)
	}
	if _, err := Decode("data:image/png;base64,"); !errors.Is(err, ErrEmpty) {
		t.Errorf("empty payload: got %v, want ErrEmpty", err)
	}
	if _, err := Decode("data:text/plain,hello"); !errors.Is(err, ErrNotBase64) {
		t.Errorf("non-base64: got %v, want ErrNotBase64", err)
	}
	if _, err := Decode("data:image/png;base64,!!!not-base64!!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
}
