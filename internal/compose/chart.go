// Package compose builds the chart email and renders messages as MIME.
package compose

import (
	"bytes"
	"html"
	"strings"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"

	"github.com/shineum/bucks2bar/internal/dataurl"
	"github.com/shineum/bucks2bar/internal/email"
)

const (
	// ChartFilename is the attachment name of the chart image.
	ChartFilename = "chart.png"
	// ChartContentID is the Content-ID the HTML body uses to reference the chart.
	ChartContentID = "chart-image"

	// DefaultSubject is used when the request has no subject.
	DefaultSubject = "My Financial Chart from Bucks2Bar"
	// DefaultMessage is used when the request has no message.
	DefaultMessage = "Here is my income and expense chart."

	fallbackDomain = "bucks2bar.local"
)

var (
	markdown = goldmark.New()
	policy   = bluemonday.UGCPolicy()
)

// ChartRequest holds the user-supplied parts of a chart email.
type ChartRequest struct {
	From     string
	FromName string
	To       string
	Subject  string
	Message  string
	Image    *dataurl.Image
}

// ChartEmail builds the outbound message for a chart snapshot. The message is
// rendered as Markdown and sanitized for the HTML body, and the image is
// attached inline as chart.png.
func ChartEmail(req ChartRequest) *email.Email {
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		subject = DefaultSubject
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		message = DefaultMessage
	}

	contentType := "image/png"
	var content []byte
	if req.Image != nil {
		content = req.Image.Data
		if req.Image.MediaType != "" {
			contentType = req.Image.MediaType
		}
	}

	return &email.Email{
		From:     req.From,
		FromName: req.FromName,
		To:       []string{req.To},
		Subject:  subject,
		TextBody: message,
		HtmlBody: RenderHTML(message) + `<img src="cid:` + ChartContentID + `" alt="Income and expense chart" />`,
		Attachments: []email.Attachment{{
			Filename:    ChartFilename,
			ContentType: contentType,
			Content:     content,
			ContentID:   ChartContentID,
			Inline:      true,
		}},
		MessageID: NewMessageID(req.From),
	}
}

// RenderHTML converts a Markdown message into sanitized HTML.
func RenderHTML(message string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(message), &buf); err != nil {
		return "<p>" + html.EscapeString(message) + "</p>"
	}
	return policy.Sanitize(buf.String())
}

// NewMessageID returns a unique RFC 5322 message identifier, including angle
// brackets, whose domain is taken from the sender address.
func NewMessageID(from string) string {
	domain := fallbackDomain
	if at := strings.LastIndexByte(from, '@'); at >= 0 && at < len(from)-1 {
		domain = strings.Trim(from[at+1:], "<> ")
	}
	return "<" + uuid.NewString() + "@" + domain + ">"
}
