// Package parser reads RFC 5322 messages back into the email model. The mail sink
// uses it to store captured messages and tests use it to inspect composed output.
package parser

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/shineum/bucks2bar/internal/email"
)

// maxDepth bounds how deeply nested multipart bodies are followed.
const maxDepth = 8

var headerDecoder = new(mime.WordDecoder)

// Parse parses a raw message into an Email. Text and HTML bodies come from the
// first matching parts; parts with a filename or Content-ID become attachments,
// flagged Inline when their disposition is inline.
func Parse(raw []byte) (*email.Email, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	result := &email.Email{
		Subject:   decodeHeader(msg.Header.Get("Subject")),
		MessageID: strings.TrimSpace(msg.Header.Get("Message-Id")),
		To:        parseAddressList(msg.Header.Get("To")),
		Cc:        parseAddressList(msg.Header.Get("Cc")),
		Bcc:       parseAddressList(msg.Header.Get("Bcc")),
	}
	if from, err := mail.ParseAddress(msg.Header.Get("From")); err == nil {
		result.From = from.Address
		result.FromName = from.Name
	} else {
		result.From = msg.Header.Get("From")
	}

	p := &entity{
		contentType: msg.Header.Get("Content-Type"),
		disposition: msg.Header.Get("Content-Disposition"),
		encoding:    msg.Header.Get("Content-Transfer-Encoding"),
		contentID:   msg.Header.Get("Content-Id"),
		body:        msg.Body,
	}
	if err := walk(p, result, 0); err != nil {
		return nil, err
	}
	return result, nil
}

// entity is the header subset needed to process one MIME entity.
type entity struct {
	contentType string
	disposition string
	encoding    string
	contentID   string
	filename    string
	body        io.Reader
}

func walk(e *entity, result *email.Email, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("multipart nesting deeper than %d levels", maxDepth)
	}

	contentType := e.contentType
	if contentType == "" {
		contentType = "text/plain"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		slog.Warn("failed to parse content type, treating as plain text",
			"content_type", contentType,
			"error", err,
		)
		mediaType, params = "text/plain", map[string]string{}
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return fmt.Errorf("multipart entity missing boundary")
		}
		return walkMultipart(e.body, boundary, result, depth)
	}

	content, err := readContent(e.body, e.encoding)
	if err != nil {
		return err
	}

	disposition, dispParams, _ := mime.ParseMediaType(e.disposition)
	filename := e.filename
	if filename == "" {
		filename = dispParams["filename"]
	}
	if filename == "" {
		filename = params["name"]
	}
	contentID := strings.Trim(strings.TrimSpace(e.contentID), "<>")

	isFile := disposition == "attachment" || filename != "" || contentID != ""
	switch {
	case !isFile && mediaType == "text/plain" && result.TextBody == "":
		result.TextBody = string(content)
	case !isFile && mediaType == "text/html" && result.HtmlBody == "":
		result.HtmlBody = string(content)
	case isFile:
		if filename == "" {
			filename = fallbackFilename(mediaType)
		}
		result.Attachments = append(result.Attachments, email.Attachment{
			Filename:    filename,
			ContentType: mediaType,
			Content:     content,
			ContentID:   contentID,
			Inline:      disposition == "inline" || (disposition == "" && contentID != ""),
		})
	default:
		slog.Warn("unrecognized MIME part, skipping",
			"content_type", mediaType,
			"disposition", e.disposition,
		)
	}
	return nil
}

func walkMultipart(body io.Reader, boundary string, result *email.Email, depth int) error {
	reader := multipart.NewReader(body, boundary)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read next part: %w", err)
		}

		child := &entity{
			contentType: part.Header.Get("Content-Type"),
			disposition: part.Header.Get("Content-Disposition"),
			encoding:    part.Header.Get("Content-Transfer-Encoding"),
			contentID:   part.Header.Get("Content-Id"),
			filename:    part.FileName(),
			body:        part,
		}
		if err := walk(child, result, depth+1); err != nil {
			return err
		}
	}
}

// readContent reads a leaf body and undoes its transfer encoding. Multipart
// parts arrive with quoted-printable already decoded by mime/multipart.
func readContent(body io.Reader, encoding string) ([]byte, error) {
	encoding = strings.ToLower(strings.TrimSpace(encoding))
	if encoding == "quoted-printable" {
		body = quotedprintable.NewReader(body)
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	if encoding != "base64" {
		return raw, nil
	}

	cleaned := strings.NewReplacer("\r", "", "\n", "", " ", "").Replace(string(raw))
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(cleaned, "="))
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 content: %w", err)
		}
	}
	return decoded, nil
}

func fallbackFilename(mediaType string) string {
	if _, sub, ok := strings.Cut(mediaType, "/"); ok && sub != "" {
		return "attachment." + sub
	}
	return "attachment"
}

func decodeHeader(v string) string {
	decoded, err := headerDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}

// parseAddressList returns the bare addresses of a header address list.
func parseAddressList(raw string) []string {
	if raw == "" {
		return nil
	}

	addresses, err := mail.ParseAddressList(raw)
	if err != nil {
		parts := strings.Split(raw, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		result = append(result, addr.Address)
	}
	return result
}
