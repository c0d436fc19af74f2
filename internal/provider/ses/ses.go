// Package ses implements a Provider that sends emails via AWS SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/shineum/bucks2bar/internal/compose"
	"github.com/shineum/bucks2bar/internal/delivery"
	"github.com/shineum/bucks2bar/internal/email"
)

// Config holds the configuration for creating a Provider.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Sender          string
}

// API is the subset of the SES v2 client used by the provider.
// Tests substitute a mock implementation.
type API interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	GetAccount(ctx context.Context, params *sesv2.GetAccountInput, optFns ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error)
}

// Provider sends emails via the AWS SES v2 API.
type Provider struct {
	sender string
	client API
}

// New creates a Provider backed by the default AWS credential chain, or by
// static credentials when both keys are set.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(cfg.Sender, sesv2.NewFromConfig(awsCfg)), nil
}

// loadOptions disables the SDK retryer: a SendEmail retried after a lost
// response would deliver the chart twice.
func loadOptions(cfg Config) []func(*awsconfig.LoadOptions) error {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	return opts
}

// NewWithClient creates a Provider with a custom client, used for testing.
func NewWithClient(sender string, client API) *Provider {
	return &Provider{
		sender: sender,
		client: client,
	}
}

// Name returns the provider name.
func (s *Provider) Name() string {
	return "ses"
}

// Send delivers msg through SES and returns the SES message ID. Messages with
// attachments go out as raw MIME; others use the simple content form.
func (s *Provider) Send(ctx context.Context, msg *email.Email) (string, error) {
	out := *msg
	if out.From == "" {
		out.From = s.sender
	}

	var input *sesv2.SendEmailInput
	if len(out.Attachments) > 0 {
		if out.MessageID == "" {
			out.MessageID = compose.NewMessageID(out.From)
		}
		raw, err := compose.Build(&out)
		if err != nil {
			return "", fmt.Errorf("failed to build raw message: %w", err)
		}
		input = &sesv2.SendEmailInput{
			FromEmailAddress: aws.String(out.From),
			Destination:      destination(&out),
			Content: &types.EmailContent{
				Raw: &types.RawMessage{Data: raw},
			},
		}
	} else {
		input = buildSimpleInput(&out)
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		slog.Warn("SES API error", "error", err)
		return "", wrapError("SendEmail", err)
	}

	id := aws.ToString(result.MessageId)
	slog.Info("email delivered via ses", "message_id", id)
	return id, nil
}

// Verify checks that the credentials work and that sending is enabled.
func (s *Provider) Verify(ctx context.Context) error {
	account, err := s.client.GetAccount(ctx, &sesv2.GetAccountInput{})
	if err != nil {
		return wrapError("GetAccount", err)
	}
	if !account.SendingEnabled {
		return &sendError{
			op:       "GetAccount",
			err:      errors.New("sending is disabled for this account"),
			category: delivery.TemporarilyUnavailable,
		}
	}
	return nil
}

func destination(msg *email.Email) *types.Destination {
	return &types.Destination{
		ToAddresses:  msg.To,
		CcAddresses:  msg.Cc,
		BccAddresses: msg.Bcc,
	}
}

// buildSimpleInput creates a SES SendEmailInput for emails without attachments.
func buildSimpleInput(msg *email.Email) *sesv2.SendEmailInput {
	body := &types.Body{}

	if msg.HtmlBody != "" {
		body.Html = &types.Content{
			Data:    aws.String(msg.HtmlBody),
			Charset: aws.String("UTF-8"),
		}
	}
	if msg.TextBody != "" {
		body.Text = &types.Content{
			Data:    aws.String(msg.TextBody),
			Charset: aws.String("UTF-8"),
		}
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination:      destination(msg),
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(msg.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: body,
			},
		},
	}
}

// sendError carries the delivery category derived from an SES API error.
type sendError struct {
	op       string
	err      error
	category delivery.Category
}

func (e *sendError) Error() string                       { return fmt.Sprintf("ses %s: %v", e.op, e.err) }
func (e *sendError) Unwrap() error                       { return e.err }
func (e *sendError) DeliveryCategory() delivery.Category { return e.category }

// wrapError maps SES API error codes to delivery categories. Errors without
// an API code are wrapped plainly so network failures classify normally.
func wrapError(op string, err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("ses %s: %w", op, err)
	}

	category := delivery.Unknown
	switch apiErr.ErrorCode() {
	case "UnrecognizedClientException", "InvalidClientTokenId", "SignatureDoesNotMatch",
		"AccessDeniedException", "ExpiredTokenException", "IncompleteSignature":
		category = delivery.AuthFailure
	case "MessageRejected", "MailFromDomainNotVerifiedException", "NotFoundException":
		category = delivery.RecipientRejected
	case "TooManyRequestsException", "LimitExceededException", "SendingPausedException", "Throttling", "ThrottlingException":
		category = delivery.TemporarilyUnavailable
	case "BadRequestException", "ValidationException":
		category = delivery.SyntaxError
	default:
		if apiErr.ErrorFault() == smithy.FaultServer {
			category = delivery.TemporarilyUnavailable
		}
	}
	return &sendError{op: op, err: err, category: category}
}
