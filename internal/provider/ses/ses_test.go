package ses

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/smithy-go"

	"github.com/shineum/bucks2bar/internal/delivery"
	"github.com/shineum/bucks2bar/internal/email"
	"github.com/shineum/bucks2bar/internal/parser"
)

// mockSESClient implements API for testing.
type mockSESClient struct {
	sendFn    func(ctx context.Context, params *sesv2.SendEmailInput) (*sesv2.SendEmailOutput, error)
	accountFn func(ctx context.Context) (*sesv2.GetAccountOutput, error)
	callCount int
	lastInput *sesv2.SendEmailInput
}

func (m *mockSESClient) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.callCount++
	m.lastInput = params
	if m.sendFn != nil {
		return m.sendFn(ctx, params)
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("test-message-id")}, nil
}

func (m *mockSESClient) GetAccount(ctx context.Context, _ *sesv2.GetAccountInput, _ ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error) {
	if m.accountFn != nil {
		return m.accountFn(ctx)
	}
	return &sesv2.GetAccountOutput{SendingEnabled: true}, nil
}

// mockAPIError implements smithy.APIError for testing.
type mockAPIError struct {
	code  string
	fault smithy.ErrorFault
}

func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return "mock" }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return e.fault }
func (e *mockAPIError) Error() string                 { return fmt.Sprintf("%s: mock", e.code) }

func TestName(t *testing.T) {
	t.Parallel()
	p := NewWithClient("sender@example.com", &mockSESClient{})
	if got := p.Name(); got != "ses" {
		t.Errorf("Name(): got %q, want %q", got, "ses")
	}
}

func TestSend_SimpleTextEmail(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient("sender@example.com", mock)

	id, err := p.Send(context.Background(), &email.Email{
		To:       []string{"to@example.com"},
		Cc:       []string{"cc@example.com"},
		Subject:  "Test Subject",
		TextBody: "Hello, World!",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "test-message-id" {
		t.Errorf("message id: got %q, want %q", id, "test-message-id")
	}

	input := mock.lastInput
	if input.Content.Simple == nil {
		t.Fatal("expected simple email content, got nil")
	}
	if got := *input.FromEmailAddress; got != "sender@example.com" {
		t.Errorf("FromEmailAddress: got %q, want %q", got, "sender@example.com")
	}
	if got := *input.Content.Simple.Subject.Data; got != "Test Subject" {
		t.Errorf("Subject: got %q, want %q", got, "Test Subject")
	}
	if got := *input.Content.Simple.Body.Text.Data; got != "Hello, World!" {
		t.Errorf("TextBody: got %q, want %q", got, "Hello, World!")
	}
	if input.Content.Simple.Body.Html != nil {
		t.Error("expected no HTML body")
	}
	if got := input.Destination.CcAddresses; len(got) != 1 || got[0] != "cc@example.com" {
		t.Errorf("CcAddresses: got %v", got)
	}
}

func TestSend_InlineChartUsesRawMIME(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient("sender@example.com", mock)

	_, err := p.Send(context.Background(), &email.Email{
		From:     "relay@example.com",
		To:       []string{"to@example.com"},
		Subject:  "Chart",
		TextBody: "see chart",
		HtmlBody: `<p>see chart</p><img src="cid:chart-image" />`,
		Attachments: []email.Attachment{{
			Filename: "chart.png", ContentType: "image/png", Content: []byte("png"), ContentID: "chart-image", Inline: true,
		}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	input := mock.lastInput
	if input.Content.Raw == nil {
		t.Fatal("expected raw content")
	}
	if got := *input.FromEmailAddress; got != "relay@example.com" {
		t.Errorf("FromEmailAddress: got %q, want message sender", got)
	}

	parsed, err := parser.Parse(input.Content.Raw.Data)
	if err != nil {
		t.Fatalf("raw message does not parse: %v", err)
	}
	if parsed.MessageID == "" {
		t.Error("raw message should carry a Message-ID")
	}
	if len(parsed.Attachments) != 1 || parsed.Attachments[0].ContentID != "chart-image" || !parsed.Attachments[0].Inline {
		t.Errorf("Attachments: got %+v", parsed.Attachments)
	}
}

func TestSend_NoRetryOnError(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{
		sendFn: func(context.Context, *sesv2.SendEmailInput) (*sesv2.SendEmailOutput, error) {
			return nil, &mockAPIError{code: "TooManyRequestsException"}
		},
	}
	p := NewWithClient("sender@example.com", mock)

	_, err := p.Send(context.Background(), &email.Email{To: []string{"a@b.com"}, TextBody: "x"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1", mock.callCount)
	}
	if got := delivery.Classify(err); got != delivery.TemporarilyUnavailable {
		t.Errorf("Classify: got %s, want %s", got, delivery.TemporarilyUnavailable)
	}
}

func TestLoadOptions_DisableSDKRetries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		cfg        Config
		wantStatic bool
	}{
		{"default chain", Config{Region: "us-east-1"}, false},
		{"static keys", Config{Region: "eu-west-1", AccessKeyID: "AKID", SecretAccessKey: "secret"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var lo awsconfig.LoadOptions
			for _, opt := range loadOptions(tt.cfg) {
				if err := opt(&lo); err != nil {
					t.Fatalf("option: %v", err)
				}
			}
			if lo.Region != tt.cfg.Region {
				t.Errorf("Region: got %q, want %q", lo.Region, tt.cfg.Region)
			}
			if lo.Retryer == nil {
				t.Fatal("Retryer not set")
			}
			if got := lo.Retryer().MaxAttempts(); got != 1 {
				t.Errorf("MaxAttempts: got %d, want 1", got)
			}
			if got := lo.Credentials != nil; got != tt.wantStatic {
				t.Errorf("static credentials: got %v, want %v", got, tt.wantStatic)
			}
		})
	}
}

func TestWrapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want delivery.Category
	}{
		{"bad credentials", &mockAPIError{code: "UnrecognizedClientException"}, delivery.AuthFailure},
		{"signature", &mockAPIError{code: "SignatureDoesNotMatch"}, delivery.AuthFailure},
		{"unverified address", &mockAPIError{code: "MessageRejected"}, delivery.RecipientRejected},
		{"throttled", &mockAPIError{code: "TooManyRequestsException"}, delivery.TemporarilyUnavailable},
		{"paused", &mockAPIError{code: "SendingPausedException"}, delivery.TemporarilyUnavailable},
		{"bad request", &mockAPIError{code: "BadRequestException"}, delivery.SyntaxError},
		{"server fault", &mockAPIError{code: "InternalFailure", fault: smithy.FaultServer}, delivery.TemporarilyUnavailable},
		{"unknown code", &mockAPIError{code: "AccountSuspendedException"}, delivery.Unknown},
		{"transport", fmt.Errorf("send: %w", context.DeadlineExceeded), delivery.ConnectionFailure},
		{"plain", errors.New("boom"), delivery.Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			wrapped := wrapError("SendEmail", tt.err)
			if got := delivery.Classify(wrapped); got != tt.want {
				t.Errorf("Classify(%v): got %s, want %s", wrapped, got, tt.want)
			}
			if !errors.Is(wrapped, tt.err) {
				t.Error("wrapped error should unwrap to the original")
			}
		})
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	t.Run("enabled", func(t *testing.T) {
		t.Parallel()
		if err := NewWithClient("s@example.com", &mockSESClient{}).Verify(context.Background()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("sending disabled", func(t *testing.T) {
		t.Parallel()
		mock := &mockSESClient{accountFn: func(context.Context) (*sesv2.GetAccountOutput, error) {
			return &sesv2.GetAccountOutput{SendingEnabled: false}, nil
		}}
		err := NewWithClient("s@example.com", mock).Verify(context.Background())
		if got := delivery.Classify(err); got != delivery.TemporarilyUnavailable {
			t.Errorf("Classify(%v): got %s, want %s", err, got, delivery.TemporarilyUnavailable)
		}
	})

	t.Run("bad credentials", func(t *testing.T) {
		t.Parallel()
		mock := &mockSESClient{accountFn: func(context.Context) (*sesv2.GetAccountOutput, error) {
			return nil, &mockAPIError{code: "InvalidClientTokenId"}
		}}
		err := NewWithClient("s@example.com", mock).Verify(context.Background())
		if got := delivery.Classify(err); got != delivery.AuthFailure {
			t.Errorf("Classify(%v): got %s, want %s", err, got, delivery.AuthFailure)
		}
	})
}

func TestBuildSimpleInput(t *testing.T) {
	t.Parallel()

	input := buildSimpleInput(&email.Email{
		From:     "sender@example.com",
		To:       []string{"to@example.com"},
		Bcc:      []string{"bcc@example.com"},
		Subject:  "Subject",
		HtmlBody: "<p>hi</p>",
	})

	if *input.Content.Simple.Body.Html.Data != "<p>hi</p>" {
		t.Errorf("Html: got %q", *input.Content.Simple.Body.Html.Data)
	}
	if input.Content.Simple.Body.Text != nil {
		t.Error("expected no text body")
	}
	if got := input.Destination.BccAddresses; len(got) != 1 || got[0] != "bcc@example.com" {
		t.Errorf("BccAddresses: got %v", got)
	}
}
