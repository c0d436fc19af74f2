package main

import (
	"testing"

	"github.com/shineum/bucks2bar/internal/mailsink"
)

func TestFaultFlags(t *testing.T) {
	t.Parallel()

	f := faultFlags{}
	if err := f.Set("rcpt=550 5.1.1 No such user"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := f.Set("DATA=451"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if got := f[mailsink.StageRcpt]; got.Code != 550 || got.Message != "5.1.1 No such user" {
		t.Errorf("RCPT: got %+v", got)
	}
	if got := f[mailsink.StageData]; got.Code != 451 {
		t.Errorf("DATA: got %+v", got)
	}

	if err := f.Set("QUIT=221"); err == nil {
		t.Error("expected error for unknown stage")
	}
	if err := f.Set("MAIL=250 OK"); err == nil {
		t.Error("expected error for non-failure code")
	}
}
