// Package provider defines the interface for email delivery backends.
package provider

import (
	"context"

	"github.com/shineum/bucks2bar/internal/email"
)

// Provider is the interface that email delivery backends must implement.
// Each provider hands a composed message to its transport (SMTP, SES,
// Microsoft Graph, stdout) exactly once; callers never retry.
type Provider interface {
	// Send delivers an email message through this provider and returns the
	// message identifier assigned to it.
	Send(ctx context.Context, msg *email.Email) (string, error)

	// Name returns the human-readable name of this provider.
	Name() string
}

// Verifier is implemented by providers that can check their connection and
// credentials without sending mail.
type Verifier interface {
	Verify(ctx context.Context) error
}

// Verify runs p's self-test when it has one. Providers without a self-test
// are assumed reachable.
func Verify(ctx context.Context, p Provider) error {
	if v, ok := p.(Verifier); ok {
		return v.Verify(ctx)
	}
	return nil
}
