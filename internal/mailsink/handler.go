package mailsink

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// messageSummary is the JSON form of a captured message.
type messageSummary struct {
	ID          uint64           `json:"id"`
	From        string           `json:"from"`
	To          []string         `json:"to"`
	Received    time.Time        `json:"received"`
	Size        int              `json:"size"`
	Subject     string           `json:"subject,omitempty"`
	MessageID   string           `json:"messageId,omitempty"`
	TextBody    string           `json:"textBody,omitempty"`
	HtmlBody    string           `json:"htmlBody,omitempty"`
	Attachments []attachmentInfo `json:"attachments,omitempty"`
}

type attachmentInfo struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	ContentID   string `json:"contentId,omitempty"`
	Inline      bool   `json:"inline"`
	Size        int    `json:"size"`
}

func summarize(m *Message) messageSummary {
	out := messageSummary{
		ID:       m.ID,
		From:     m.From,
		To:       m.To,
		Received: m.Received,
		Size:     len(m.Raw),
	}
	if e := m.Email; e != nil {
		out.Subject = e.Subject
		out.MessageID = e.MessageID
		out.TextBody = e.TextBody
		out.HtmlBody = e.HtmlBody
		for _, a := range e.Attachments {
			out.Attachments = append(out.Attachments, attachmentInfo{
				Filename:    a.Filename,
				ContentType: a.ContentType,
				ContentID:   a.ContentID,
				Inline:      a.Inline,
				Size:        len(a.Content),
			})
		}
	}
	return out
}

// Handler exposes a mailbox over HTTP:
//
//	GET    /messages           captured messages, oldest first
//	GET    /messages/{id}      one message
//	GET    /messages/{id}/raw  the message as received, message/rfc822
//	DELETE /messages           empty the mailbox
func Handler(mb *Mailbox) http.Handler {
	r := chi.NewRouter()

	r.Get("/messages", func(w http.ResponseWriter, _ *http.Request) {
		msgs := mb.Messages()
		out := make([]messageSummary, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, summarize(m))
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Delete("/messages", func(w http.ResponseWriter, _ *http.Request) {
		mb.Reset()
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		m, ok := lookup(mb, chi.URLParam(r, "id"))
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "message not found"})
			return
		}
		writeJSON(w, http.StatusOK, summarize(m))
	})

	r.Get("/messages/{id}/raw", func(w http.ResponseWriter, r *http.Request) {
		m, ok := lookup(mb, chi.URLParam(r, "id"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "message/rfc822")
		_, _ = w.Write(m.Raw)
	})

	return r
}

func lookup(mb *Mailbox, raw string) (*Message, bool) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, false
	}
	return mb.Get(id)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
