package compose

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/shineum/bucks2bar/internal/email"
)

// Build renders msg as an RFC 5322 message:
//
//	multipart/mixed
//	├── multipart/related
//	│   ├── multipart/alternative (text/plain, text/html)
//	│   └── inline parts referenced by Content-ID
//	└── regular attachments
func Build(msg *email.Email) ([]byte, error) {
	if msg.From == "" {
		return nil, fmt.Errorf("message has no sender")
	}
	if len(msg.To) == 0 && len(msg.Cc) == 0 {
		return nil, fmt.Errorf("message has no recipients")
	}

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Name: msg.FromName, Address: msg.From}})
	if len(msg.To) > 0 {
		h.SetAddressList("To", addressList(msg.To))
	}
	if len(msg.Cc) > 0 {
		h.SetAddressList("Cc", addressList(msg.Cc))
	}
	h.SetSubject(msg.Subject)
	if id := strings.Trim(msg.MessageID, "<> "); id != "" {
		h.SetMessageID(id)
	}
	h.Set("MIME-Version", "1.0")
	h.SetContentType("multipart/mixed", nil)

	var buf bytes.Buffer
	root, err := message.CreateWriter(&buf, h.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	if err := writeRelated(root, msg); err != nil {
		return nil, err
	}

	for _, att := range msg.RegularAttachments() {
		if err := writeBinaryPart(root, att, "attachment"); err != nil {
			return nil, err
		}
	}

	if err := root.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish message: %w", err)
	}
	return buf.Bytes(), nil
}

// writeRelated writes the body alternatives and the inline parts they reference.
func writeRelated(parent *message.Writer, msg *email.Email) error {
	var rh message.Header
	rh.SetContentType("multipart/related", map[string]string{"type": "multipart/alternative"})
	related, err := parent.CreatePart(rh)
	if err != nil {
		return fmt.Errorf("failed to create related part: %w", err)
	}

	var ah message.Header
	ah.SetContentType("multipart/alternative", nil)
	alt, err := related.CreatePart(ah)
	if err != nil {
		return fmt.Errorf("failed to create alternative part: %w", err)
	}

	text := msg.TextBody
	if text == "" && msg.HtmlBody == "" {
		text = " "
	}
	if text != "" {
		if err := writeTextPart(alt, "text/plain", text); err != nil {
			return err
		}
	}
	if msg.HtmlBody != "" {
		if err := writeTextPart(alt, "text/html", msg.HtmlBody); err != nil {
			return err
		}
	}
	if err := alt.Close(); err != nil {
		return fmt.Errorf("failed to close alternative part: %w", err)
	}

	for _, att := range msg.InlineAttachments() {
		if err := writeBinaryPart(related, att, "inline"); err != nil {
			return err
		}
	}

	if err := related.Close(); err != nil {
		return fmt.Errorf("failed to close related part: %w", err)
	}
	return nil
}

func writeTextPart(parent *message.Writer, contentType, body string) error {
	var h message.Header
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	w, err := parent.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("failed to write %s part: %w", contentType, err)
	}
	return w.Close()
}

func writeBinaryPart(parent *message.Writer, att email.Attachment, disposition string) error {
	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var h message.Header
	h.SetContentType(contentType, map[string]string{"name": att.Filename})
	h.SetContentDisposition(disposition, map[string]string{"filename": att.Filename})
	h.Set("Content-Transfer-Encoding", "base64")
	if att.ContentID != "" {
		h.Set("Content-ID", "<"+att.ContentID+">")
	}

	w, err := parent.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create part for %s: %w", att.Filename, err)
	}
	if _, err := w.Write(att.Content); err != nil {
		return fmt.Errorf("failed to write part for %s: %w", att.Filename, err)
	}
	return w.Close()
}

func addressList(addrs []string) []*mail.Address {
	out := make([]*mail.Address, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, &mail.Address{Address: a})
	}
	return out
}
