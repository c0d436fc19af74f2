package status

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/shineum/bucks2bar/internal/client"
)

func TestDescribe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "Email sent successfully!"},
		{"invalid email", client.ErrInvalidEmail, "Please enter a valid email address"},
		{"timeout", fmt.Errorf("%w after 30s", client.ErrTimeout), "Request timed out. The server might be busy, please try again later."},
		{"backend message", &client.RequestError{StatusCode: 500, Message: "The recipient address was rejected by the mail server."}, "The recipient address was rejected by the mail server."},
		{"empty backend message", &client.RequestError{StatusCode: 502}, client.GenericErrorMessage},
		{"cancelled", context.Canceled, client.GenericErrorMessage},
		{"other", errors.New("dial tcp: connection refused"), client.GenericErrorMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Describe(tt.err)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if got == "" {
				t.Error("Describe must never return an empty string")
			}
		})
	}
}

func TestRegion_Overwrites(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r := NewRegion(&buf)

	r.Report(SendingMessage, Info)
	r.Report("Email sent successfully!", Success)

	msg, sev := r.Current()
	if msg != "Email sent successfully!" || sev != Success {
		t.Errorf("Current: got %q %v", msg, sev)
	}

	out := buf.String()
	if !strings.Contains(out, SendingMessage) || !strings.Contains(out, "Email sent successfully!") {
		t.Errorf("output: got %q", out)
	}
	if strings.Contains(out, "\x1b[2K") {
		t.Error("non-terminal writers must not receive line-clear sequences")
	}
}

func TestRegion_ReportResult(t *testing.T) {
	t.Parallel()

	r := NewRegion(nil)

	r.ReportResult(client.ErrTimeout)
	msg, sev := r.Current()
	if sev != Danger || !strings.HasPrefix(msg, "Request timed out") {
		t.Errorf("got %q %v", msg, sev)
	}

	r.ReportResult(nil)
	msg, sev = r.Current()
	if sev != Success || msg != SentMessage {
		t.Errorf("got %q %v", msg, sev)
	}
}

func TestSeverityString(t *testing.T) {
	t.Parallel()

	for sev, want := range map[Severity]string{Info: "info", Success: "success", Danger: "danger"} {
		if got := sev.String(); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}
