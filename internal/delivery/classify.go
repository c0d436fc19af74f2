package delivery

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"syscall"

	gosmtp "github.com/emersion/go-smtp"
)

// Commander is implemented by errors that record which SMTP command failed.
type Commander interface {
	SMTPCommand() string
}

// Classify maps a delivery error to its Category. It never performs I/O.
func Classify(err error) Category {
	if err == nil {
		return Unknown
	}

	var categorized Categorized
	if errors.As(err, &categorized) {
		return categorized.DeliveryCategory()
	}

	var smtpErr *gosmtp.SMTPError
	if errors.As(err, &smtpErr) {
		return ClassifyCode(smtpErr.Code, command(err))
	}

	if isConnectionError(err) {
		return ConnectionFailure
	}

	return Unknown
}

// ClassifyCode maps an SMTP reply code, and optionally the command it answered,
// to a Category.
func ClassifyCode(code int, cmd string) Category {
	cmd = strings.ToUpper(cmd)

	switch code {
	case 530, 534, 535, 538:
		return AuthFailure
	}
	if cmd == "AUTH" && (code >= 500 || code == 454) {
		return AuthFailure
	}

	switch code {
	case 550, 551, 553:
		if cmd == "" || cmd == "RCPT" {
			return RecipientRejected
		}
	}
	if cmd == "RCPT" && code >= 500 && code < 600 {
		return RecipientRejected
	}

	switch code {
	case 500, 501, 502, 503, 504, 555:
		return SyntaxError
	}

	if code >= 400 && code < 500 {
		return TemporarilyUnavailable
	}

	return Unknown
}

// Details returns slog attributes describing err for server-side logs. The
// result may include raw SMTP responses and must never be sent to clients.
func Details(err error) []any {
	if err == nil {
		return nil
	}

	attrs := []any{
		slog.String("category", Classify(err).String()),
		slog.String("error", err.Error()),
	}

	if cmd := command(err); cmd != "" {
		attrs = append(attrs, slog.String("smtp_command", cmd))
	}

	var smtpErr *gosmtp.SMTPError
	if errors.As(err, &smtpErr) {
		attrs = append(attrs,
			slog.Int("smtp_code", smtpErr.Code),
			slog.String("smtp_response", smtpErr.Message),
		)
		if ec := smtpErr.EnhancedCode; ec != gosmtp.NoEnhancedCode && ec != (gosmtp.EnhancedCode{}) {
			attrs = append(attrs, slog.String("smtp_enhanced_code", fmt.Sprintf("%d.%d.%d", ec[0], ec[1], ec[2])))
		}
	}

	return attrs
}

func command(err error) string {
	var c Commander
	if errors.As(err, &c) {
		return c.SMTPCommand()
	}
	return ""
}

// isConnectionError reports whether err came from reaching or talking to the
// remote server rather than from a protocol-level rejection.
func isConnectionError(err error) bool {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.ETIMEDOUT),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	var authorityErr x509.UnknownAuthorityError
	if errors.As(err, &authorityErr) {
		return true
	}
	var hostnameErr x509.HostnameError
	return errors.As(err, &hostnameErr)
}
