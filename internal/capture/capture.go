// Package capture turns chart pixels into the data URLs submitted to the relay,
// mirroring what canvas.toDataURL does in the browser.
package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"strings"

	"github.com/shineum/bucks2bar/internal/dataurl"
)

// Format is an image encoding supported by Capture.
type Format string

const (
	// PNG is lossless; quality is ignored.
	PNG Format = "png"
	// JPEG is lossy and honours the quality factor.
	JPEG Format = "jpeg"
)

// DefaultQuality matches the browser default for image/jpeg.
const DefaultQuality = 0.92

// ParseFormat maps a user supplied name ("png", "jpeg", "jpg", "image/png", ...)
// to a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.TrimPrefix(strings.ToLower(name), "image/") {
	case "", "png":
		return PNG, nil
	case "jpeg", "jpg":
		return JPEG, nil
	}
	return "", fmt.Errorf("unsupported image format %q", name)
}

// MediaType returns the MIME type for the format.
func (f Format) MediaType() string {
	if f == JPEG {
		return "image/jpeg"
	}
	return "image/png"
}

// Capture encodes img and returns it as a data URL. Quality is a factor in
// (0, 1]; values outside that range use DefaultQuality. img must not be nil.
func Capture(img image.Image, format Format, quality float64) (string, error) {
	if img == nil {
		panic("capture: nil image")
	}

	var buf bytes.Buffer
	switch format {
	case PNG, "":
		if err := png.Encode(&buf, img); err != nil {
			return "", fmt.Errorf("failed to encode png: %w", err)
		}
	case JPEG:
		if quality <= 0 || quality > 1 {
			quality = DefaultQuality
		}
		opts := &jpeg.Options{Quality: int(quality*100 + 0.5)}
		if err := jpeg.Encode(&buf, img, opts); err != nil {
			return "", fmt.Errorf("failed to encode jpeg: %w", err)
		}
	default:
		return "", fmt.Errorf("unsupported image format %q", format)
	}

	return dataurl.Encode(format.MediaType(), buf.Bytes()), nil
}

// Load reads a PNG or JPEG file from disk so it can be captured and sent.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return img, nil
}
