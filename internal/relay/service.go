// Package relay implements the backend that receives chart snapshots over HTTP
// and hands them to the configured delivery provider.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shineum/bucks2bar/internal/compose"
	"github.com/shineum/bucks2bar/internal/dataurl"
	"github.com/shineum/bucks2bar/internal/delivery"
	"github.com/shineum/bucks2bar/internal/provider"
	"github.com/shineum/bucks2bar/internal/validate"
)

// Request is a chart email submission after JSON field aliases are resolved.
type Request struct {
	Recipient  string
	Subject    string
	Message    string
	ChartImage string
}

// ValidationError reports a request that was rejected before delivery.
type ValidationError struct {
	Message       string
	MissingFields []string
	Err           error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }

// DeliveryError reports a provider failure together with its category.
type DeliveryError struct {
	Category delivery.Category
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed (%s): %v", e.Category, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ServiceConfig holds the settings a Service needs to build messages.
type ServiceConfig struct {
	Sender   string
	FromName string
	Metrics  *Metrics
}

// Service validates chart submissions, builds the email and dispatches it.
// It never retries; a resubmission is a new message.
type Service struct {
	provider provider.Provider
	sender   string
	fromName string
	metrics  *Metrics
}

// NewService creates a Service delivering through p.
func NewService(p provider.Provider, cfg ServiceConfig) *Service {
	return &Service{
		provider: p,
		sender:   cfg.Sender,
		fromName: cfg.FromName,
		metrics:  cfg.Metrics,
	}
}

// Send runs one submission through validation, image decoding and delivery and
// returns the provider's message ID.
func (s *Service) Send(ctx context.Context, req Request) (string, error) {
	req.Recipient = strings.TrimSpace(req.Recipient)

	var missing []string
	if req.Recipient == "" {
		missing = append(missing, "recipient")
	}
	if strings.TrimSpace(req.ChartImage) == "" {
		missing = append(missing, "chartImage")
	}
	if len(missing) > 0 {
		return "", &ValidationError{
			Message:       "Missing required fields: " + strings.Join(missing, ", "),
			MissingFields: missing,
		}
	}

	if !validate.Email(req.Recipient) {
		return "", &ValidationError{Message: "Please enter a valid email address"}
	}

	img, err := dataurl.Decode(req.ChartImage)
	if err != nil {
		return "", &ValidationError{Message: "Invalid chart image", Err: err}
	}
	if !img.IsImage() {
		return "", &ValidationError{Message: "Invalid chart image", Err: fmt.Errorf("unexpected media type %q", img.MediaType)}
	}

	msg := compose.ChartEmail(compose.ChartRequest{
		From:     s.sender,
		FromName: s.fromName,
		To:       req.Recipient,
		Subject:  req.Subject,
		Message:  req.Message,
		Image:    img,
	})

	start := time.Now()
	id, err := s.provider.Send(ctx, msg)
	elapsed := time.Since(start)

	if err != nil {
		category := delivery.Classify(err)
		s.metrics.recordFailure(category, elapsed)
		attrs := append([]any{"provider", s.provider.Name()}, delivery.Details(err)...)
		slog.ErrorContext(ctx, "email delivery failed", attrs...)
		return "", &DeliveryError{Category: category, Err: err}
	}

	s.metrics.recordSuccess(elapsed)
	if id == "" {
		id = msg.MessageID
	}
	slog.InfoContext(ctx, "chart email sent",
		"provider", s.provider.Name(),
		"message_id", id,
		"image_bytes", len(img.Data),
		"duration", elapsed,
	)
	return id, nil
}

// TestConnection verifies the provider without sending mail.
func (s *Service) TestConnection(ctx context.Context) error {
	if err := provider.Verify(ctx, s.provider); err != nil {
		attrs := append([]any{"provider", s.provider.Name()}, delivery.Details(err)...)
		slog.ErrorContext(ctx, "email connection test failed", attrs...)
		return &DeliveryError{Category: delivery.Classify(err), Err: err}
	}
	slog.InfoContext(ctx, "email connection test passed", "provider", s.provider.Name())
	return nil
}

// userMessage returns the text a client may see for err.
func userMessage(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	var derr *DeliveryError
	if errors.As(err, &derr) {
		return derr.Category.Message()
	}
	return delivery.Unknown.Message()
}
