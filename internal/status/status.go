// Package status renders the single status line shown while a chart email is
// being sent.
package status

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/shineum/bucks2bar/internal/client"
)

// Severity selects the style of a status message.
type Severity int

const (
	// Info is neutral progress, such as a send in flight.
	Info Severity = iota
	// Success marks an accepted email.
	Success
	// Danger marks a validation or delivery failure.
	Danger
)

// String returns the severity name used by the web page's alert classes.
func (s Severity) String() string {
	switch s {
	case Success:
		return "success"
	case Danger:
		return "danger"
	default:
		return "info"
	}
}

const (
	// SentMessage is reported after the relay accepted the email.
	SentMessage = "Email sent successfully!"
	// SendingMessage is reported while the request is in flight.
	SendingMessage = "Sending email, please wait..."

	invalidEmailMessage = "Please enter a valid email address"
	timeoutMessage      = "Request timed out. The server might be busy, please try again later."
)

var (
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	dangerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

// Render formats msg for a terminal.
func Render(msg string, sev Severity) string {
	switch sev {
	case Success:
		return successStyle.Render("✓ " + msg)
	case Danger:
		return dangerStyle.Render("✗ " + msg)
	default:
		return infoStyle.Render("• " + msg)
	}
}

// Region is a single status line. Each Report replaces the previous one; on a
// terminal the line is redrawn in place.
type Region struct {
	mu      sync.Mutex
	w       io.Writer
	inPlace bool
	msg     string
	sev     Severity
	drawn   bool
}

// NewRegion creates a Region writing to w. A nil writer keeps the state only.
func NewRegion(w io.Writer) *Region {
	r := &Region{w: w}
	if f, ok := w.(*os.File); ok {
		r.inPlace = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return r
}

// Report replaces the current status.
func (r *Region) Report(msg string, sev Severity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.msg, r.sev = msg, sev
	if r.w == nil {
		return
	}
	if r.inPlace && r.drawn {
		fmt.Fprint(r.w, "\r\x1b[2K")
	}
	line := Render(msg, sev)
	if r.inPlace {
		fmt.Fprint(r.w, line)
	} else {
		fmt.Fprintln(r.w, line)
	}
	r.drawn = true
}

// Current returns the last reported message and severity.
func (r *Region) Current() (string, Severity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msg, r.sev
}

// Close ends an in-place line so later output starts on a fresh line.
func (r *Region) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w != nil && r.inPlace && r.drawn {
		fmt.Fprintln(r.w)
	}
	r.drawn = false
}

// Describe maps a submission result to the text shown to the user. It never
// returns an empty string.
func Describe(err error) string {
	if err == nil {
		return SentMessage
	}

	var reqErr *client.RequestError
	switch {
	case errors.Is(err, client.ErrInvalidEmail):
		return invalidEmailMessage
	case errors.Is(err, client.ErrTimeout):
		return timeoutMessage
	case errors.As(err, &reqErr) && reqErr.Message != "":
		return reqErr.Message
	}
	return client.GenericErrorMessage
}

// ReportResult reports the outcome of a submission with the matching severity.
func (r *Region) ReportResult(err error) {
	if err == nil {
		r.Report(SentMessage, Success)
		return
	}
	r.Report(Describe(err), Danger)
}
