package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/shineum/bucks2bar/internal/compose"
	"github.com/shineum/bucks2bar/internal/delivery"
	"github.com/shineum/bucks2bar/internal/email"
)

const (
	graphBaseURL = "https://graph.microsoft.com/v1.0"
	graphScope   = "https://graph.microsoft.com/.default"

	defaultTimeout = 30 * time.Second

	// maxErrorBody caps how much of an error response is read.
	maxErrorBody = 64 * 1024
)

// Config holds the configuration for creating a Provider.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Sender       string
	Timeout      time.Duration
}

// Provider sends emails via the Microsoft Graph API using OAuth2
// client credentials authentication.
type Provider struct {
	sender     string
	sendURL    string
	tokens     oauth2.TokenSource
	httpClient *http.Client
}

// New creates a Provider for the configured tenant and sender mailbox.
func New(cfg Config) *Provider {
	tokenURL := fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", url.PathEscape(cfg.TenantID))
	return newProvider(cfg, graphBaseURL, tokenURL, nil)
}

// newProvider wires the token source and HTTP client. base is the transport
// used for both token and API calls; nil means http.DefaultTransport.
func newProvider(cfg Config, baseURL, tokenURL string, base http.RoundTripper) *Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if base == nil {
		base = http.DefaultTransport
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{graphScope},
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{
		Timeout:   cfg.Timeout,
		Transport: base,
	})
	tokens := cc.TokenSource(tokenCtx)

	return &Provider{
		sender:  cfg.Sender,
		sendURL: fmt.Sprintf("%s/users/%s/sendMail", baseURL, url.PathEscape(cfg.Sender)),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &oauth2.Transport{Source: tokens, Base: base},
		},
	}
}

// Name returns the provider name.
func (g *Provider) Name() string {
	return "msgraph"
}

// Send delivers msg through sendMail and returns its internetMessageId.
// Graph answers 202 with no body, so the ID is assigned here.
func (g *Provider) Send(ctx context.Context, msg *email.Email) (string, error) {
	out := *msg
	if out.From == "" {
		out.From = g.sender
	}
	if out.MessageID == "" {
		out.MessageID = compose.NewMessageID(out.From)
	}

	bodyJSON, err := json.Marshal(buildSendMailRequest(&out))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.sendURL, bytes.NewReader(bodyJSON))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		slog.Info("email delivered via msgraph", "message_id", out.MessageID)
		return out.MessageID, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return "", responseError(resp.StatusCode, body)
}

// Verify obtains an access token without sending mail.
func (g *Provider) Verify(ctx context.Context) error {
	if _, err := g.tokens.Token(); err != nil {
		return transportError(err)
	}
	return ctx.Err()
}

// sendError is a failed Graph call with its delivery category.
type sendError struct {
	statusCode int
	code       string
	message    string
	category   delivery.Category
	err        error
}

func (e *sendError) Error() string {
	if e.statusCode == 0 {
		return fmt.Sprintf("Graph API error: %s", e.message)
	}
	return fmt.Sprintf("Graph API error (HTTP %d %s): %s", e.statusCode, e.code, e.message)
}

func (e *sendError) Unwrap() error                       { return e.err }
func (e *sendError) DeliveryCategory() delivery.Category { return e.category }

// responseError classifies a non-success sendMail response.
func responseError(statusCode int, body []byte) *sendError {
	err := &sendError{statusCode: statusCode, message: string(body)}

	var graphErrResp graphErrorResponse
	if jsonErr := json.Unmarshal(body, &graphErrResp); jsonErr == nil && graphErrResp.Error.Message != "" {
		err.code = graphErrResp.Error.Code
		err.message = graphErrResp.Error.Message
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		err.category = delivery.AuthFailure
	case err.code == "ErrorInvalidRecipients" || statusCode == http.StatusNotFound:
		err.category = delivery.RecipientRejected
	case statusCode == http.StatusBadRequest:
		err.category = delivery.SyntaxError
	case statusCode == http.StatusTooManyRequests || statusCode >= 500:
		err.category = delivery.TemporarilyUnavailable
	default:
		err.category = delivery.Unknown
	}
	return err
}

// transportError classifies a failure before a response arrived. Token
// endpoint rejections are authentication failures; anything else is a
// connection problem.
func transportError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return &sendError{
			message:  fmt.Sprintf("token request rejected: %v", retrieveErr),
			category: delivery.AuthFailure,
			err:      err,
		}
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("Graph API request cancelled: %w", err)
	}
	return &sendError{
		message:  fmt.Sprintf("HTTP request failed: %v", err),
		category: delivery.ConnectionFailure,
		err:      err,
	}
}
