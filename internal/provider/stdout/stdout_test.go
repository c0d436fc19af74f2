package stdout

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shineum/bucks2bar/internal/email"
)

func TestSend_BasicEmail(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	id, err := p.Send(context.Background(), &email.Email{
		From:      "sender@example.com",
		FromName:  "Bucks2Bar",
		To:        []string{"alice@example.com", "bob@example.com"},
		Subject:   "Monthly Report",
		TextBody:  "Please find the report attached.",
		MessageID: "<id@example.com>",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "<id@example.com>" {
		t.Errorf("message id: got %q", id)
	}

	output := buf.String()
	for _, want := range []string{
		"From: Bucks2Bar <sender@example.com>",
		"To: alice@example.com, bob@example.com",
		"Subject: Monthly Report",
		"Message-ID: <id@example.com>",
		"Please find the report attached.",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
	if strings.Contains(output, "Attachments:") {
		t.Error("output should not contain Attachments line when there are none")
	}
	if !strings.HasPrefix(output, separator) || !strings.HasSuffix(output, separator) {
		t.Error("output should be framed by separator lines")
	}
}

func TestSend_InlineChart(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	id, err := p.Send(context.Background(), &email.Email{
		From:     "sender@example.com",
		To:       []string{"user@example.com"},
		Bcc:      []string{"audit@example.com"},
		HtmlBody: "<p>chart</p>",
		Attachments: []email.Attachment{{
			Filename: "chart.png", ContentType: "image/png", Content: make([]byte, 2048), ContentID: "chart-image", Inline: true,
		}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(id, "@example.com>") {
		t.Errorf("generated id: got %q", id)
	}

	output := buf.String()
	if !strings.Contains(output, "Attachments: chart.png (image/png, 2.0 KB) inline cid:chart-image") {
		t.Errorf("attachment line missing:\n%s", output)
	}
	if !strings.Contains(output, "Bcc: audit@example.com") {
		t.Error("output missing Bcc line")
	}
	if !strings.Contains(output, "<p>chart</p>") {
		t.Error("HTML body should be printed when there is no text body")
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestSend_WriteError(t *testing.T) {
	t.Parallel()

	if _, err := NewWithWriter(failingWriter{}).Send(context.Background(), &email.Email{}); err == nil {
		t.Error("expected write error")
	}
}

func TestFormatSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		bytes int
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
	}

	for _, tt := range tests {
		if got := formatSize(tt.bytes); got != tt.want {
			t.Errorf("formatSize(%d): got %q, want %q", tt.bytes, got, tt.want)
		}
	}
}

func TestNameAndVerify(t *testing.T) {
	t.Parallel()

	p := New()
	if p.Name() != "stdout" {
		t.Errorf("Name(): got %q", p.Name())
	}
	if err := p.Verify(context.Background()); err != nil {
		t.Errorf("Verify: %v", err)
	}
}
