// Package smtp implements a Provider that submits mail to an SMTP server
// using emersion/go-smtp. Each Send opens its own connection.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/bucks2bar/internal/compose"
	"github.com/shineum/bucks2bar/internal/delivery"
	"github.com/shineum/bucks2bar/internal/email"
	tlsutil "github.com/shineum/bucks2bar/internal/tls"
)

// TLSMode selects how the connection is secured.
type TLSMode string

const (
	// TLSModeImplicit dials straight into TLS, usually on port 465.
	TLSModeImplicit TLSMode = "tls"
	// TLSModeStartTLS connects in plaintext and requires a STARTTLS upgrade.
	TLSModeStartTLS TLSMode = "starttls"
	// TLSModeNone never encrypts. Only for local development.
	TLSModeNone TLSMode = "none"
)

// DefaultTimeout bounds dialing and each SMTP command.
const DefaultTimeout = 30 * time.Second

// ParseTLSMode parses a configured TLS mode name.
func ParseTLSMode(s string) (TLSMode, error) {
	switch mode := TLSMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case TLSModeImplicit, TLSModeStartTLS, TLSModeNone:
		return mode, nil
	case "":
		return TLSModeImplicit, nil
	default:
		return "", fmt.Errorf("unknown TLS mode %q (want tls, starttls or none)", s)
	}
}

var (
	// ErrStartTLSUnsupported is returned when starttls mode is configured but
	// the server does not offer the extension.
	ErrStartTLSUnsupported error = &setupError{"server does not support STARTTLS", delivery.ConnectionFailure}

	// ErrAuthUnsupported is returned when credentials are configured but the
	// server offers no usable AUTH mechanism.
	ErrAuthUnsupported error = &setupError{"server offers no supported AUTH mechanism", delivery.AuthFailure}
)

type setupError struct {
	msg      string
	category delivery.Category
}

func (e *setupError) Error() string                       { return e.msg }
func (e *setupError) DeliveryCategory() delivery.Category { return e.category }

// CommandError records the SMTP command during which a failure occurred. The
// wrapped error is usually a *gosmtp.SMTPError or a network error.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("smtp %s: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// SMTPCommand returns the failed command verb.
func (e *CommandError) SMTPCommand() string { return e.Command }

// Config holds the SMTP transport settings.
type Config struct {
	Host     string
	Port     int
	TLSMode  TLSMode
	Username string
	Password string

	// Timeout bounds dialing and each command. Zero means DefaultTimeout.
	Timeout time.Duration

	// InsecureSkipVerify disables certificate checks for self-signed servers.
	InsecureSkipVerify bool

	// LocalName is sent in EHLO. Defaults to "localhost". Ignored in
	// starttls mode, where go-smtp greets with its own default.
	LocalName string
}

// Provider delivers mail over SMTP.
type Provider struct {
	cfg Config
}

// New creates an SMTP provider.
func New(cfg Config) *Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TLSMode == "" {
		cfg.TLSMode = TLSModeImplicit
	}
	if cfg.LocalName == "" {
		cfg.LocalName = "localhost"
	}
	return &Provider{cfg: cfg}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}

// Send submits msg to the server and returns its Message-ID. The message is
// sent once; nothing is retried.
func (p *Provider) Send(ctx context.Context, msg *email.Email) (string, error) {
	out := *msg
	if out.MessageID == "" {
		out.MessageID = compose.NewMessageID(out.From)
	}
	recipients := out.Recipients()
	if len(recipients) == 0 {
		return "", errors.New("smtp: message has no recipients")
	}

	raw, err := compose.Build(&out)
	if err != nil {
		return "", fmt.Errorf("smtp: failed to build message: %w", err)
	}

	c, err := p.connect(ctx)
	if err != nil {
		return "", err
	}
	defer c.close()

	if err := c.client.Mail(out.From, nil); err != nil {
		return "", c.fail(ctx, "MAIL", err)
	}
	for _, rcpt := range recipients {
		if err := c.client.Rcpt(rcpt, nil); err != nil {
			return "", c.fail(ctx, "RCPT", err)
		}
	}

	w, err := c.client.Data()
	if err != nil {
		return "", c.fail(ctx, "DATA", err)
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return "", c.fail(ctx, "DATA", err)
	}
	if err := w.Close(); err != nil {
		return "", c.fail(ctx, "DATA", err)
	}

	if err := c.client.Quit(); err != nil {
		slog.Debug("smtp QUIT failed after delivery", "error", err)
	}

	slog.Info("email delivered via smtp",
		"host", p.cfg.Host,
		"message_id", out.MessageID,
		"recipients", len(recipients),
		"size", len(raw),
	)
	return out.MessageID, nil
}

// Verify connects, greets, authenticates and issues NOOP without sending mail.
func (p *Provider) Verify(ctx context.Context) error {
	c, err := p.connect(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	if err := c.client.Noop(); err != nil {
		return c.fail(ctx, "NOOP", err)
	}
	if err := c.client.Quit(); err != nil {
		return c.fail(ctx, "QUIT", err)
	}
	return nil
}

// conn is one SMTP session. Cancelling the dial context closes it.
type conn struct {
	client *gosmtp.Client
	stop   func() bool
}

func (c *conn) close() {
	c.stop()
	_ = c.client.Close()
}

// fail wraps err with the command that produced it. When ctx ended first the
// context error is reported as well, since the cancellation caused the failure.
func (c *conn) fail(ctx context.Context, cmd string, err error) error {
	return commandError(ctx, cmd, err)
}

func commandError(ctx context.Context, cmd string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = errors.Join(ctxErr, err)
	}
	return &CommandError{Command: cmd, Err: err}
}

func (p *Provider) connect(ctx context.Context) (*conn, error) {
	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	tlsConfig := tlsutil.ClientConfig(p.cfg.Host, p.cfg.InsecureSkipVerify)
	dialer := &net.Dialer{Timeout: p.cfg.Timeout}

	var (
		netConn net.Conn
		err     error
	)
	if p.cfg.TLSMode == TLSModeImplicit {
		netConn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		netConn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, &CommandError{Command: "CONNECT", Err: err}
	}

	stop := context.AfterFunc(ctx, func() { netConn.Close() })
	client, err := p.greet(ctx, netConn, tlsConfig)
	if err != nil {
		stop()
		_ = netConn.Close()
		return nil, err
	}
	client.CommandTimeout = p.cfg.Timeout
	client.SubmissionTimeout = p.cfg.Timeout
	c := &conn{client: client, stop: stop}

	if err := p.authenticate(ctx, c); err != nil {
		c.close()
		return nil, err
	}
	return c, nil
}

// errNoStartTLS is the text go-smtp reports when STARTTLS is not advertised.
const errNoStartTLS = "smtp: server doesn't support STARTTLS"

// greet opens the SMTP session. In starttls mode go-smtp sends EHLO and
// upgrades the connection itself, so LocalName is not used there and the
// exchange is bounded by a connection deadline instead of CommandTimeout.
func (p *Provider) greet(ctx context.Context, netConn net.Conn, tlsConfig *tls.Config) (*gosmtp.Client, error) {
	if p.cfg.TLSMode != TLSModeStartTLS {
		client := gosmtp.NewClient(netConn)
		client.CommandTimeout = p.cfg.Timeout
		if err := client.Hello(p.cfg.LocalName); err != nil {
			return nil, commandError(ctx, "EHLO", err)
		}
		return client, nil
	}

	_ = netConn.SetDeadline(time.Now().Add(p.cfg.Timeout))
	client, err := gosmtp.NewClientStartTLS(netConn, tlsConfig)
	if err != nil {
		if err.Error() == errNoStartTLS {
			return nil, &CommandError{Command: "STARTTLS", Err: ErrStartTLSUnsupported}
		}
		return nil, commandError(ctx, "STARTTLS", err)
	}
	_ = netConn.SetDeadline(time.Time{})
	return client, nil
}

func (p *Provider) authenticate(ctx context.Context, c *conn) error {
	if p.cfg.Username == "" {
		return nil
	}

	auth, err := p.saslClient(c.client)
	if err != nil {
		return &CommandError{Command: "AUTH", Err: err}
	}
	if err := c.client.Auth(auth); err != nil {
		return c.fail(ctx, "AUTH", err)
	}
	return nil
}

// saslClient prefers PLAIN and falls back to LOGIN when that is all the
// server advertises.
func (p *Provider) saslClient(client *gosmtp.Client) (sasl.Client, error) {
	ok, params := client.Extension("AUTH")
	if !ok {
		return nil, ErrAuthUnsupported
	}

	var hasLogin bool
	for _, mech := range strings.Fields(strings.ToUpper(params)) {
		switch mech {
		case "PLAIN":
			return sasl.NewPlainClient("", p.cfg.Username, p.cfg.Password), nil
		case "LOGIN":
			hasLogin = true
		}
	}
	if hasLogin {
		return sasl.NewLoginClient(p.cfg.Username, p.cfg.Password), nil
	}
	return nil, ErrAuthUnsupported
}
