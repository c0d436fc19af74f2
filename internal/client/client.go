// Package client submits chart emails to the relay on behalf of the page or CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shineum/bucks2bar/internal/compose"
	"github.com/shineum/bucks2bar/internal/validate"
)

const (
	// DefaultTimeout bounds a submission when Config.Timeout is zero.
	DefaultTimeout = 30 * time.Second
	// DefaultBaseURL is the relay address used when Config.BaseURL is empty.
	DefaultBaseURL = "http://localhost:3000"
	// GenericErrorMessage is shown when the relay gives no usable error text.
	GenericErrorMessage = "An error occurred while sending the email"

	sendPath = "/api/send-email"
	testPath = "/api/test-email-connection"

	maxResponseSize = 1 << 20
)

var (
	// ErrInvalidEmail is returned before any network call when the recipient
	// fails the syntax check.
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrTimeout is returned when the relay does not answer within the timeout.
	ErrTimeout = errors.New("request timed out")
)

// RequestError is a failure reported by the relay.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("relay returned %d: %s", e.StatusCode, e.Message)
}

// EmailRequest is the JSON body submitted to the relay.
type EmailRequest struct {
	Recipient  string `json:"recipient"`
	Subject    string `json:"subject"`
	Message    string `json:"message"`
	ChartImage string `json:"chartImage"`
}

// DeliveryResult is the relay's JSON answer.
type DeliveryResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the relay over HTTP.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
}

// New creates a Client, applying defaults for zero fields.
func New(cfg Config) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		http:    cfg.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	return c
}

// Timeout returns the effective per-request timeout.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Submit validates req and sends it to the relay. Empty subject and message
// are replaced with the defaults. A response that arrives after the timeout or
// after ctx is cancelled is discarded.
func (c *Client) Submit(ctx context.Context, req EmailRequest) (*DeliveryResult, error) {
	req.Recipient = strings.TrimSpace(req.Recipient)
	if !validate.Email(req.Recipient) {
		return nil, ErrInvalidEmail
	}
	if strings.TrimSpace(req.Subject) == "" {
		req.Subject = compose.DefaultSubject
	}
	if strings.TrimSpace(req.Message) == "" {
		req.Message = compose.DefaultMessage
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	slog.Debug("submitting chart email", "url", c.baseURL+sendPath, "bytes", len(body))

	var result DeliveryResult
	if err := c.do(ctx, http.MethodPost, sendPath, body, &result); err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, &RequestError{StatusCode: http.StatusOK, Message: messageOrGeneric(result.Error)}
	}
	return &result, nil
}

// TestConnection asks the relay to verify its mail transport.
func (c *Client) TestConnection(ctx context.Context) error {
	var result DeliveryResult
	if err := c.do(ctx, http.MethodGet, testPath, nil, &result); err != nil {
		return err
	}
	if !result.Success {
		return &RequestError{StatusCode: http.StatusOK, Message: messageOrGeneric(result.Error)}
	}
	return nil
}

// do performs one request under the client timeout and decodes the JSON
// answer into out. Non-2xx responses become *RequestError.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out *DeliveryResult) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return c.transportError(ctx, err)
	}

	decodeErr := json.Unmarshal(data, out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := ""
		if decodeErr == nil {
			msg = out.Error
		}
		return &RequestError{StatusCode: resp.StatusCode, Message: messageOrGeneric(msg)}
	}
	if decodeErr != nil {
		return fmt.Errorf("failed to decode relay response: %w", decodeErr)
	}
	return nil
}

func (c *Client) transportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return fmt.Errorf("request to relay failed: %w", err)
}

func messageOrGeneric(msg string) string {
	if strings.TrimSpace(msg) == "" {
		return GenericErrorMessage
	}
	return msg
}
