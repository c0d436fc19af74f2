package relay

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shineum/bucks2bar/internal/compose"
	"github.com/shineum/bucks2bar/internal/mailsink"
	"github.com/shineum/bucks2bar/internal/provider/smtp"
)

// sinkHandler wires the relay to an SMTP provider that logs in to an
// in-process sink as user/password.
func sinkHandler(t *testing.T, cfg mailsink.Config, user, password string) (http.Handler, *mailsink.Server) {
	t.Helper()

	cfg.ListenAddr = "127.0.0.1:0"
	sink := mailsink.New(cfg)
	if err := sink.Listen(); err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sink.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	host, portText, _ := net.SplitHostPort(sink.Addr())
	port, _ := strconv.Atoi(portText)
	p := smtp.New(smtp.Config{
		Host:     host,
		Port:     port,
		TLSMode:  smtp.TLSModeNone,
		Username: user,
		Password: password,
		Timeout:  5 * time.Second,
	})

	svc := NewService(p, ServiceConfig{Sender: "relay@example.com", FromName: "Bucks2Bar"})
	return NewHandler(Options{Service: svc}), sink
}

func TestRelayThroughSink(t *testing.T) {
	t.Parallel()

	h, sink := sinkHandler(t, mailsink.Config{AuthUsername: "relay", AuthPassword: "secret"}, "relay", "secret")

	rec, resp := doJSON(t, h, http.MethodPost, "/api/send-chart-email",
		`{"recipient":"user@example.com","subject":"Q1","message":"**Great** quarter","chartImage":"`+chartImage+`"}`)
	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("got %d %+v", rec.Code, resp)
	}

	msg, ok := sink.Mailbox().Last()
	if !ok {
		t.Fatal("sink captured no message")
	}
	if msg.From != "relay@example.com" || len(msg.To) != 1 || msg.To[0] != "user@example.com" {
		t.Errorf("envelope: got %s -> %v", msg.From, msg.To)
	}
	if msg.Email == nil {
		t.Fatal("captured message did not parse")
	}
	if msg.Email.Subject != "Q1" {
		t.Errorf("subject: got %q", msg.Email.Subject)
	}
	if !strings.Contains(msg.Email.HtmlBody, "<strong>Great</strong>") || !strings.Contains(msg.Email.HtmlBody, "cid:"+compose.ChartContentID) {
		t.Errorf("html body: got %q", msg.Email.HtmlBody)
	}
	if strings.Trim(msg.Email.MessageID, "<>") != strings.Trim(resp.MessageID, "<>") {
		t.Errorf("message id: sink has %q, relay returned %q", msg.Email.MessageID, resp.MessageID)
	}

	var found bool
	for _, att := range msg.Email.Attachments {
		if att.ContentID == compose.ChartContentID && att.Filename == compose.ChartFilename {
			found = true
		}
	}
	if !found {
		t.Errorf("inline chart attachment missing: %+v", msg.Email.Attachments)
	}
}

func TestRelayThroughSink_Faults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		cfg       mailsink.Config
		user      string
		password  string
		wantError string
	}{
		{
			name:      "wrong password",
			cfg:       mailsink.Config{AuthUsername: "relay", AuthPassword: "other"},
			user:      "relay",
			password:  "secret",
			wantError: "Authentication failed",
		},
		{
			name:      "recipient rejected",
			cfg:       mailsink.Config{Faults: map[mailsink.Stage]mailsink.Reply{mailsink.StageRcpt: {Code: 550, Message: "5.1.1 No such user"}}},
			wantError: "The recipient address was rejected",
		},
		{
			name:      "temporarily unavailable",
			cfg:       mailsink.Config{Faults: map[mailsink.Stage]mailsink.Reply{mailsink.StageData: {Code: 451, Message: "4.3.0 Try again"}}},
			wantError: "temporarily unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h, sink := sinkHandler(t, tt.cfg, tt.user, tt.password)

			rec, resp := doJSON(t, h, http.MethodPost, "/api/send-email",
				`{"recipient":"user@example.com","chartImage":"`+chartImage+`"}`)
			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status: got %d, want 500", rec.Code)
			}
			if !strings.Contains(resp.Error, tt.wantError) {
				t.Errorf("error: got %q, want it to contain %q", resp.Error, tt.wantError)
			}
			if strings.Contains(rec.Body.String(), "5.1.1") || strings.Contains(rec.Body.String(), "4.3.0") {
				t.Error("raw SMTP response leaked to the client")
			}
			if sink.Mailbox().Len() != 0 {
				t.Error("failed delivery must not be captured")
			}
		})
	}
}
