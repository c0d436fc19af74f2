package mailsink

import (
	"fmt"
	"strconv"
	"strings"
)

// Stage names the SMTP command a fault is injected at.
type Stage string

const (
	StageAuth Stage = "AUTH"
	StageMail Stage = "MAIL"
	StageRcpt Stage = "RCPT"
	// StageData replies after the message content has been received.
	StageData Stage = "DATA"
)

// Reply is an SMTP response line.
type Reply struct {
	Code    int
	Message string
}

func (r Reply) String() string {
	if r.Message == "" {
		return strconv.Itoa(r.Code)
	}
	return fmt.Sprintf("%d %s", r.Code, r.Message)
}

// ParseFault parses a fault definition of the form STAGE=CODE [text], for example
// "RCPT=550 5.1.1 No such user".
func ParseFault(def string) (Stage, Reply, error) {
	name, reply, ok := strings.Cut(strings.TrimSpace(def), "=")
	if !ok {
		return "", Reply{}, fmt.Errorf("fault %q: want STAGE=CODE [message]", def)
	}

	stage := Stage(strings.ToUpper(strings.TrimSpace(name)))
	switch stage {
	case StageAuth, StageMail, StageRcpt, StageData:
	default:
		return "", Reply{}, fmt.Errorf("fault %q: unknown stage %q", def, name)
	}

	codeText, text, _ := strings.Cut(strings.TrimSpace(reply), " ")
	code, err := strconv.Atoi(codeText)
	if err != nil || code < 400 || code > 599 {
		return "", Reply{}, fmt.Errorf("fault %q: code must be 4xx or 5xx", def)
	}

	return stage, Reply{Code: code, Message: strings.TrimSpace(text)}, nil
}
