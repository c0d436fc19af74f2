package mailsink

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/shineum/bucks2bar/internal/parser"
)

// Session states for the SMTP state machine.
const (
	stateConnected = iota
	stateGreeted
	stateAuthOK
	stateMailFrom
	stateRcptTo
)

// idleTimeout is the maximum time a session can remain idle before being closed.
const idleTimeout = 60 * time.Second

// session is a single client connection and its SMTP state machine.
type session struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	state  int
	server *Server

	tlsActive bool

	// Current transaction
	mailFrom string
	rcptTo   []string
}

func newSession(conn net.Conn, srv *Server) *session {
	_, isTLS := conn.(*tls.Conn)
	return &session{
		conn:      conn,
		reader:    bufio.NewReader(conn),
		writer:    bufio.NewWriter(conn),
		state:     stateConnected,
		server:    srv,
		tlsActive: isTLS,
	}
}

// handle processes commands until the client disconnects or an error occurs.
func (s *session) handle(ctx context.Context) {
	defer s.conn.Close()

	s.writeLine("220 %s ESMTP bucks2bar mail sink", s.server.config.Hostname)

	for {
		select {
		case <-ctx.Done():
			s.writeLine("421 4.3.2 Service shutting down")
			return
		default:
		}

		if err := s.conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			slog.Error("failed to set connection deadline", "error", err)
			return
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				slog.Debug("connection read error", "error", err)
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		cmd, arg := parseCommand(line)
		if done := s.handleCommand(cmd, arg); done {
			return
		}
	}
}

// handleCommand processes a single SMTP command and returns true if the session should end.
func (s *session) handleCommand(cmd, arg string) bool {
	switch cmd {
	case "EHLO", "HELO":
		s.handleEHLO(cmd, arg)
	case "STARTTLS":
		return s.handleSTARTTLS()
	case "AUTH":
		s.handleAUTH(arg)
	case "MAIL":
		s.handleMAIL(arg)
	case "RCPT":
		s.handleRCPT(arg)
	case "DATA":
		return s.handleDATA()
	case "RSET":
		s.resetTransaction()
		s.writeLine("250 2.0.0 OK")
	case "NOOP":
		s.writeLine("250 2.0.0 OK")
	case "QUIT":
		s.writeLine("221 2.0.0 Bye")
		return true
	default:
		s.writeLine("500 5.5.1 Unrecognized command")
	}
	return false
}

func (s *session) handleEHLO(cmd, arg string) {
	if arg == "" {
		s.writeLine("501 5.5.4 Syntax: %s hostname", cmd)
		return
	}

	s.resetTransaction()
	s.state = stateGreeted
	hostname := s.server.config.Hostname

	if cmd == "HELO" {
		s.writeLine("250 %s Hello %s", hostname, arg)
		return
	}

	s.writeLine("250-%s Hello %s", hostname, arg)
	if s.server.config.TLSConfig != nil && !s.tlsActive {
		s.writeLine("250-STARTTLS")
	}
	if s.server.auth.Enabled() {
		s.writeLine("250-AUTH PLAIN LOGIN")
	}
	s.writeLine("250-ENHANCEDSTATUSCODES")
	s.writeLine("250 SIZE %d", s.server.config.MaxMessageSize)
}

// handleSTARTTLS upgrades the connection. It returns true when the handshake
// failed and the connection is unusable.
func (s *session) handleSTARTTLS() bool {
	if s.server.config.TLSConfig == nil {
		s.writeLine("454 4.7.0 TLS not available")
		return false
	}
	if s.tlsActive {
		s.writeLine("503 5.5.1 TLS already active")
		return false
	}

	s.writeLine("220 2.0.0 Ready to start TLS")

	tlsConn := tls.Server(s.conn, s.server.config.TLSConfig)
	if err := tlsConn.Handshake(); err != nil {
		slog.Error("TLS handshake failed", "error", err)
		return true
	}

	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
	s.tlsActive = true
	s.state = stateConnected
	s.resetTransaction()
	return false
}

// handleAUTH processes AUTH PLAIN and AUTH LOGIN, with or without an initial response.
func (s *session) handleAUTH(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 5.5.1 Send EHLO/HELO first")
		return
	}
	if !s.server.auth.Enabled() {
		s.writeLine("503 5.5.1 AUTH not available")
		return
	}
	if s.state >= stateAuthOK {
		s.writeLine("503 5.5.1 Already authenticated")
		return
	}
	if reply, ok := s.server.fault(StageAuth); ok {
		s.writeLine("%s", reply)
		return
	}

	mechanism, initial, _ := strings.Cut(arg, " ")
	initial = strings.TrimSpace(initial)

	var err error
	switch strings.ToUpper(mechanism) {
	case "PLAIN":
		err = s.authPlain(initial)
	case "LOGIN":
		err = s.authLogin(initial)
	default:
		s.writeLine("504 5.5.4 Unrecognized authentication type")
		return
	}

	switch {
	case errors.Is(err, errAuthCancelled):
		s.writeLine("501 5.0.0 Authentication cancelled")
	case err != nil:
		slog.Info("authentication rejected", "mechanism", mechanism, "error", err)
		s.writeLine("535 5.7.8 Authentication credentials invalid")
	default:
		s.state = stateAuthOK
		s.writeLine("235 2.7.0 Authentication successful")
	}
}

var errAuthCancelled = errors.New("authentication cancelled")

func (s *session) authPlain(initial string) error {
	encoded := initial
	if encoded == "" {
		line, err := s.challenge("")
		if err != nil {
			return err
		}
		encoded = line
	}
	return s.server.auth.VerifyPlain(encoded)
}

func (s *session) authLogin(initial string) error {
	user := initial
	if user == "" {
		line, err := s.challenge("VXNlcm5hbWU6") // "Username:"
		if err != nil {
			return err
		}
		user = line
	}

	pass, err := s.challenge("UGFzc3dvcmQ6") // "Password:"
	if err != nil {
		return err
	}

	return s.server.auth.VerifyLogin(user, pass)
}

// challenge sends a 334 continuation and reads the client's answer.
func (s *session) challenge(text string) (string, error) {
	if text == "" {
		s.writeLine("334 ")
	} else {
		s.writeLine("334 %s", text)
	}

	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read AUTH response: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "*" {
		return "", errAuthCancelled
	}
	return line, nil
}

func (s *session) handleMAIL(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 5.5.1 Send EHLO/HELO first")
		return
	}
	if s.server.auth.Enabled() && s.state < stateAuthOK {
		s.writeLine("530 5.7.0 Authentication required")
		return
	}
	if s.state >= stateMailFrom {
		s.writeLine("503 5.5.1 Nested MAIL command")
		return
	}

	if !strings.HasPrefix(strings.ToUpper(arg), "FROM:") {
		s.writeLine("501 5.5.4 Syntax: MAIL FROM:<address>")
		return
	}
	addr, ok := extractAddress(arg[5:])
	if !ok {
		s.writeLine("501 5.1.7 Syntax: MAIL FROM:<address>")
		return
	}

	if reply, ok := s.server.fault(StageMail); ok {
		s.writeLine("%s", reply)
		return
	}

	s.mailFrom = addr
	s.rcptTo = nil
	s.state = stateMailFrom
	s.writeLine("250 2.1.0 OK")
}

func (s *session) handleRCPT(arg string) {
	if s.state < stateMailFrom {
		s.writeLine("503 5.5.1 Send MAIL FROM first")
		return
	}

	if !strings.HasPrefix(strings.ToUpper(arg), "TO:") {
		s.writeLine("501 5.5.4 Syntax: RCPT TO:<address>")
		return
	}
	addr, ok := extractAddress(arg[3:])
	if !ok || addr == "" {
		s.writeLine("501 5.1.3 Syntax: RCPT TO:<address>")
		return
	}

	if reply, ok := s.server.fault(StageRcpt); ok {
		s.writeLine("%s", reply)
		return
	}

	s.rcptTo = append(s.rcptTo, addr)
	s.state = stateRcptTo
	s.writeLine("250 2.1.5 OK")
}

// handleDATA reads the message up to the terminating dot line and stores it.
// It returns true when the connection broke mid-message.
func (s *session) handleDATA() bool {
	if s.state < stateRcptTo {
		s.writeLine("503 5.5.1 Send RCPT TO first")
		return false
	}

	s.writeLine("354 Start mail input; end with <CRLF>.<CRLF>")

	limit := s.server.config.MaxMessageSize
	var data bytes.Buffer
	tooLarge := false
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			slog.Error("error reading DATA", "error", err)
			return true
		}

		if strings.TrimRight(line, "\r\n") == "." {
			break
		}
		// Dot-stuffing: a leading dot was doubled by the client.
		if strings.HasPrefix(line, "..") {
			line = line[1:]
		}

		if data.Len()+len(line) > limit {
			tooLarge = true
			continue
		}
		data.WriteString(line)
	}
	defer s.resetTransaction()

	if tooLarge {
		s.writeLine("552 5.3.4 Message exceeds fixed maximum message size")
		return false
	}
	if reply, ok := s.server.fault(StageData); ok {
		s.writeLine("%s", reply)
		return false
	}

	msg := &Message{
		From:     s.mailFrom,
		To:       append([]string(nil), s.rcptTo...),
		Received: time.Now(),
		Raw:      data.Bytes(),
	}
	if parsed, err := parser.Parse(msg.Raw); err != nil {
		slog.Warn("captured message could not be parsed", "error", err)
	} else {
		msg.Email = parsed
	}

	id := s.server.mailbox.Add(msg)
	attrs := []any{"id", id, "from", msg.From, "to", msg.To, "size", len(msg.Raw)}
	if msg.Email != nil {
		attrs = append(attrs, "subject", msg.Email.Subject, "attachments", len(msg.Email.Attachments))
	}
	slog.Info("message captured", attrs...)

	s.writeLine("250 2.0.0 OK queued as %d", id)
	return false
}

// resetTransaction clears the mail transaction without affecting the
// greeting or authentication state.
func (s *session) resetTransaction() {
	s.mailFrom = ""
	s.rcptTo = nil

	switch {
	case s.state >= stateAuthOK && s.server.auth.Enabled():
		s.state = stateAuthOK
	case s.state >= stateGreeted:
		s.state = stateGreeted
	}
}

// writeLine writes a formatted line to the client, followed by \r\n.
func (s *session) writeLine(format string, args ...any) {
	if _, err := fmt.Fprintf(s.writer, format+"\r\n", args...); err != nil {
		slog.Error("failed to write to client", "error", err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		slog.Error("failed to flush to client", "error", err)
	}
}

// parseCommand splits an SMTP command line into the command verb and its argument.
func parseCommand(line string) (string, string) {
	cmd, arg, _ := strings.Cut(line, " ")
	return strings.ToUpper(cmd), arg
}

// extractAddress extracts the path from a MAIL or RCPT parameter. Angle
// brackets are optional; ESMTP parameters after the path are ignored. The
// null reverse-path <> yields an empty address.
func extractAddress(s string) (string, bool) {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 0 {
			return "", false
		}
		return s[1:end], true
	}

	addr, _, _ := strings.Cut(s, " ")
	return addr, addr != ""
}
