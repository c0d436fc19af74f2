package email

import (
	"reflect"
	"testing"
)

func TestEmailHelpers(t *testing.T) {
	t.Parallel()

	e := &Email{
		To:  []string{"a@example.com"},
		Cc:  []string{"b@example.com"},
		Bcc: []string{"c@example.com"},
		Attachments: []Attachment{
			{Filename: "chart.png", ContentID: "chart-image", Inline: true},
			{Filename: "data.csv"},
		},
	}

	if got, want := e.Recipients(), []string{"a@example.com", "b@example.com", "c@example.com"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Recipients: got %v, want %v", got, want)
	}
	if inline := e.InlineAttachments(); len(inline) != 1 || inline[0].Filename != "chart.png" {
		t.Errorf("InlineAttachments: got %+v", inline)
	}
	if regular := e.RegularAttachments(); len(regular) != 1 || regular[0].Filename != "data.csv" {
		t.Errorf("RegularAttachments: got %+v", regular)
	}
}
