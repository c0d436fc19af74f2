// Package delivery classifies delivery failures into the categories reported to
// users, independently of the transport that produced them.
package delivery

// Category is the user-facing class of a delivery failure.
type Category int

const (
	// Unknown covers failures that match no other category.
	Unknown Category = iota
	// AuthFailure means the relay's credentials were rejected by the provider.
	AuthFailure
	// RecipientRejected means the provider refused the recipient address.
	RecipientRejected
	// TemporarilyUnavailable means the provider asked us to come back later.
	TemporarilyUnavailable
	// SyntaxError means the provider rejected a command or its arguments.
	SyntaxError
	// ConnectionFailure means the provider could not be reached.
	ConnectionFailure
)

// Categorized is implemented by provider errors that know their own category.
type Categorized interface {
	DeliveryCategory() Category
}

// String returns a stable identifier used for logs and metric labels.
func (c Category) String() string {
	switch c {
	case AuthFailure:
		return "auth_failure"
	case RecipientRejected:
		return "recipient_rejected"
	case TemporarilyUnavailable:
		return "temporarily_unavailable"
	case SyntaxError:
		return "syntax_error"
	case ConnectionFailure:
		return "connection_failure"
	default:
		return "unknown"
	}
}

// Message returns the sanitized text shown to the user for the category.
func (c Category) Message() string {
	switch c {
	case AuthFailure:
		return "Authentication failed. Please check the email server credentials."
	case RecipientRejected:
		return "The recipient address was rejected by the mail server."
	case TemporarilyUnavailable:
		return "The mail server is temporarily unavailable. Please try again later."
	case SyntaxError:
		return "The mail server rejected the request because of a syntax error."
	case ConnectionFailure:
		return "Could not connect to the mail server. Please try again later."
	default:
		return "Failed to send email"
	}
}

// Categories lists every category, in declaration order.
func Categories() []Category {
	return []Category{Unknown, AuthFailure, RecipientRejected, TemporarilyUnavailable, SyntaxError, ConnectionFailure}
}
