// Package email defines the outbound message model shared by the relay and its providers.
package email

// Email represents a message ready for delivery.
type Email struct {
	From        string
	FromName    string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	TextBody    string
	HtmlBody    string
	Attachments []Attachment
	MessageID   string
}

// Attachment represents a file carried by an email message. Inline attachments
// are referenced from the HTML body through their ContentID ("cid:<ContentID>").
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
	ContentID   string
	Inline      bool
}

// InlineAttachments returns the attachments that are referenced from the HTML body.
func (e *Email) InlineAttachments() []Attachment {
	var out []Attachment
	for _, att := range e.Attachments {
		if att.Inline {
			out = append(out, att)
		}
	}
	return out
}

// RegularAttachments returns the attachments that are not displayed inline.
func (e *Email) RegularAttachments() []Attachment {
	var out []Attachment
	for _, att := range e.Attachments {
		if !att.Inline {
			out = append(out, att)
		}
	}
	return out
}

// Recipients returns every envelope recipient (To, Cc and Bcc).
func (e *Email) Recipients() []string {
	out := make([]string, 0, len(e.To)+len(e.Cc)+len(e.Bcc))
	out = append(out, e.To...)
	out = append(out, e.Cc...)
	out = append(out, e.Bcc...)
	return out
}
