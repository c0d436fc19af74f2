package relay

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/shineum/bucks2bar/internal/compose"
	"github.com/shineum/bucks2bar/internal/dataurl"
	"github.com/shineum/bucks2bar/internal/delivery"
	"github.com/shineum/bucks2bar/internal/email"
)

// mockProvider records sent messages and returns preset results.
type mockProvider struct {
	mu        sync.Mutex
	sent      []*email.Email
	id        string
	err       error
	verifyErr error
}

func (m *mockProvider) Send(_ context.Context, msg *email.Email) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	if m.err != nil {
		return "", m.err
	}
	return m.id, nil
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Verify(context.Context) error { return m.verifyErr }

func (m *mockProvider) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

var chartImage = dataurl.Encode("image/png", []byte("\x89PNG\r\n\x1a\nchart"))

func newTestService(p *mockProvider) (*Service, *Metrics) {
	m := NewMetrics()
	return NewService(p, ServiceConfig{Sender: "relay@example.com", FromName: "Bucks2Bar", Metrics: m}), m
}

func TestService_Send(t *testing.T) {
	t.Parallel()

	p := &mockProvider{id: "<abc@example.com>"}
	svc, m := newTestService(p)

	id, err := svc.Send(context.Background(), Request{
		Recipient:  " user@example.com ",
		ChartImage: chartImage,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "<abc@example.com>" {
		t.Errorf("id: got %q, want %q", id, "<abc@example.com>")
	}

	if p.count() != 1 {
		t.Fatalf("sent: got %d messages, want 1", p.count())
	}
	msg := p.sent[0]
	if msg.From != "relay@example.com" || msg.FromName != "Bucks2Bar" {
		t.Errorf("sender: got %q <%s>", msg.FromName, msg.From)
	}
	if !reflect.DeepEqual(msg.To, []string{"user@example.com"}) {
		t.Errorf("To: got %v", msg.To)
	}
	if msg.Subject != compose.DefaultSubject {
		t.Errorf("Subject: got %q, want default", msg.Subject)
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].ContentID != compose.ChartContentID {
		t.Fatalf("attachments: got %+v", msg.Attachments)
	}
	if string(msg.Attachments[0].Content) != "\x89PNG\r\n\x1a\nchart" {
		t.Errorf("chart bytes not decoded: got %q", msg.Attachments[0].Content)
	}

	if got := testutil.ToFloat64(m.sent); got != 1 {
		t.Errorf("sent counter: got %v, want 1", got)
	}
}

func TestService_SendFallsBackToComposedMessageID(t *testing.T) {
	t.Parallel()

	p := &mockProvider{}
	svc, _ := newTestService(p)

	id, err := svc.Send(context.Background(), Request{Recipient: "user@example.com", ChartImage: chartImage})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" || id != p.sent[0].MessageID {
		t.Errorf("id: got %q, want composed %q", id, p.sent[0].MessageID)
	}
}

func TestService_SendValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		req         Request
		wantMessage string
		wantMissing []string
	}{
		{
			name:        "missing both",
			req:         Request{},
			wantMessage: "Missing required fields: recipient, chartImage",
			wantMissing: []string{"recipient", "chartImage"},
		},
		{
			name:        "missing image",
			req:         Request{Recipient: "user@example.com", ChartImage: "   "},
			wantMessage: "Missing required fields: chartImage",
			wantMissing: []string{"chartImage"},
		},
		{
			name:        "invalid recipient",
			req:         Request{Recipient: "not-an-email", ChartImage: chartImage},
			wantMessage: "Please enter a valid email address",
		},
		{
			name:        "undecodable image",
			req:         Request{Recipient: "user@example.com", ChartImage: "data:image/png;base64,@@@"},
			wantMessage: "Invalid chart image",
		},
		{
			name:        "not an image",
			req:         Request{Recipient: "user@example.com", ChartImage: dataurl.Encode("text/plain", []byte("hello"))},
			wantMessage: "Invalid chart image",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := &mockProvider{}
			svc, _ := newTestService(p)

			_, err := svc.Send(context.Background(), tt.req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if verr.Message != tt.wantMessage {
				t.Errorf("Message: got %q, want %q", verr.Message, tt.wantMessage)
			}
			if !reflect.DeepEqual(verr.MissingFields, tt.wantMissing) {
				t.Errorf("MissingFields: got %v, want %v", verr.MissingFields, tt.wantMissing)
			}
			if p.count() != 0 {
				t.Error("provider must not be called for invalid requests")
			}
		})
	}
}

func TestService_SendDeliveryFailure(t *testing.T) {
	t.Parallel()

	p := &mockProvider{err: &gosmtp.SMTPError{
		Code:         535,
		EnhancedCode: gosmtp.EnhancedCode{5, 7, 8},
		Message:      "Authentication credentials invalid",
	}}
	svc, m := newTestService(p)

	_, err := svc.Send(context.Background(), Request{Recipient: "user@example.com", ChartImage: chartImage})

	var derr *DeliveryError
	if !errors.As(err, &derr) {
		t.Fatalf("expected *DeliveryError, got %v", err)
	}
	if derr.Category != delivery.AuthFailure {
		t.Errorf("Category: got %v, want %v", derr.Category, delivery.AuthFailure)
	}
	if got := testutil.ToFloat64(m.failures.WithLabelValues("auth_failure")); got != 1 {
		t.Errorf("failure counter: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.sent); got != 0 {
		t.Errorf("sent counter: got %v, want 0", got)
	}
	if p.count() != 1 {
		t.Errorf("attempts: got %d, want exactly 1 (no retries)", p.count())
	}
}

func TestService_TestConnection(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(&mockProvider{})
	if err := svc.TestConnection(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	failing, _ := newTestService(&mockProvider{verifyErr: &gosmtp.SMTPError{Code: 421, Message: "busy"}})
	err := failing.TestConnection(context.Background())
	var derr *DeliveryError
	if !errors.As(err, &derr) || derr.Category != delivery.TemporarilyUnavailable {
		t.Errorf("got %v, want TemporarilyUnavailable delivery error", err)
	}
}

func TestUserMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"validation", &ValidationError{Message: "Please enter a valid email address"}, "Please enter a valid email address"},
		{"delivery", &DeliveryError{Category: delivery.RecipientRejected, Err: errors.New("550 no such user")}, delivery.RecipientRejected.Message()},
		{"other", errors.New("boom"), "Failed to send email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := userMessage(tt.err); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
