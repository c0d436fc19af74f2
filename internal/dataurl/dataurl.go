// Package dataurl encodes and decodes base64 data URLs such as the ones produced
// by HTMLCanvasElement.toDataURL.
package dataurl

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
)

var (
	// ErrEmpty is returned when there is no payload to decode.
	ErrEmpty = errors.New("dataurl: empty payload")

	// ErrNotBase64 is returned for data URLs that do not use base64 encoding.
	ErrNotBase64 = errors.New("dataurl: payload is not base64 encoded")
)

// Image is a decoded data URL payload.
type Image struct {
	MediaType string
	Data      []byte
}

// Strip removes a leading "data:<mediatype>[;params];base64," prefix from s.
// Strings without a data URL prefix are returned unchanged.
func Strip(s string) string {
	s = strings.TrimSpace(s)
	if !hasScheme(s) {
		return s
	}
	comma := strings.IndexByte(s, ',')
	if comma < 0 {
		return s
	}
	return s[comma+1:]
}

// Decode decodes a data URL or a bare base64 string. The media type comes from
// the data URL header when present, otherwise it is sniffed from the bytes.
func Decode(s string) (*Image, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmpty
	}

	var mediaType string
	payload := s
	if hasScheme(s) {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, fmt.Errorf("dataurl: missing ',' separator")
		}
		header := s[len("data:"):comma]
		mt, isBase64 := parseHeader(header)
		if !isBase64 {
			return nil, ErrNotBase64
		}
		mediaType = mt
		payload = s[comma+1:]
	}

	data, err := decodeBase64(payload)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	if mediaType == "" {
		mediaType = sniff(data)
	}

	return &Image{MediaType: mediaType, Data: data}, nil
}

// Encode builds a base64 data URL for data with the given media type.
func Encode(mediaType string, data []byte) string {
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Extension returns a file extension (without the dot) for the image media type.
func (img *Image) Extension() string {
	switch img.MediaType {
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpg"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	}
	if exts, err := mime.ExtensionsByType(img.MediaType); err == nil && len(exts) > 0 {
		return strings.TrimPrefix(exts[0], ".")
	}
	return "bin"
}

// IsImage reports whether the payload is an image.
func (img *Image) IsImage() bool {
	return strings.HasPrefix(img.MediaType, "image/")
}

func hasScheme(s string) bool {
	return len(s) >= 5 && strings.EqualFold(s[:5], "data:")
}

// parseHeader splits "image/png;base64" into its media type and base64 flag.
func parseHeader(header string) (string, bool) {
	parts := strings.Split(header, ";")
	mediaType := strings.ToLower(strings.TrimSpace(parts[0]))
	isBase64 := false
	for _, p := range parts[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}
	return mediaType, isBase64
}

// decodeBase64 decodes padded or unpadded standard base64, ignoring embedded
// whitespace. URL-safe alphabets are accepted as a fallback.
func decodeBase64(payload string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, payload)

	if data, err := base64.StdEncoding.DecodeString(cleaned); err == nil {
		return data, nil
	}
	if data, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(cleaned, "=")); err == nil {
		return data, nil
	}
	if data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(cleaned, "=")); err == nil {
		return data, nil
	}
	_, err := base64.StdEncoding.DecodeString(cleaned)
	return nil, fmt.Errorf("dataurl: invalid base64 payload: %w", err)
}

func sniff(data []byte) string {
	mediaType := http.DetectContentType(data)
	if mt, _, err := mime.ParseMediaType(mediaType); err == nil {
		return mt
	}
	return mediaType
}
