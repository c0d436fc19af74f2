package mailsink

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// shutdownTimeout is the maximum time to wait for in-flight connections
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// DefaultMaxMessageSize is the SIZE advertised when none is configured (10 MB).
const DefaultMaxMessageSize = 10 * 1024 * 1024

// Config holds the configuration for a mail sink.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":2525").
	ListenAddr string

	// Hostname is the server hostname used in greetings and EHLO responses.
	Hostname string

	// TLSConfig enables STARTTLS, or implicit TLS when ImplicitTLS is set.
	// If nil, the sink speaks plaintext only.
	TLSConfig   *tls.Config
	ImplicitTLS bool

	// AuthUsername and AuthPassword configure SMTP AUTH.
	// If both are empty, authentication is not required.
	AuthUsername string
	AuthPassword string

	// Capacity is the number of messages kept in memory.
	Capacity int

	// MaxMessageSize is the largest accepted message in bytes.
	MaxMessageSize int

	// Faults are replies returned instead of success at the given stage.
	Faults map[Stage]Reply
}

// Server is an SMTP server that accepts mail and stores it in a Mailbox.
type Server struct {
	config  Config
	auth    *Authenticator
	mailbox *Mailbox

	mu       sync.RWMutex
	faults   map[Stage]Reply
	listener net.Listener

	// wg tracks in-flight session goroutines for graceful shutdown.
	wg sync.WaitGroup
}

// New creates a new mail sink with the given configuration.
func New(cfg Config) *Server {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}

	faults := make(map[Stage]Reply, len(cfg.Faults))
	for stage, reply := range cfg.Faults {
		faults[stage] = reply
	}

	return &Server{
		config:  cfg,
		auth:    NewAuthenticator(cfg.AuthUsername, cfg.AuthPassword),
		mailbox: NewMailbox(cfg.Capacity),
		faults:  faults,
	}
}

// Listen binds the listening socket so Addr is known before Serve runs.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}
	if s.config.ImplicitTLS {
		if s.config.TLSConfig == nil {
			ln.Close()
			return errors.New("implicit TLS requires a TLS config")
		}
		ln = tls.NewListener(ln, s.config.TLSConfig)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// ListenAndServe binds the listener and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve accepts connections until ctx is cancelled, then stops accepting and
// waits up to 30 seconds for in-flight sessions to complete.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.RLock()
	ln := s.listener
	s.mu.RUnlock()
	if ln == nil {
		return errors.New("mail sink is not listening")
	}

	slog.Info("mail sink listening",
		"addr", ln.Addr().String(),
		"auth_enabled", s.auth.Enabled(),
		"tls_enabled", s.config.TLSConfig != nil,
		"implicit_tls", s.config.ImplicitTLS,
	)

	stop := context.AfterFunc(ctx, func() {
		slog.Info("shutting down mail sink")
		ln.Close()
	})
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.waitForSessions()
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			slog.Error("accept error", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			newSession(conn, s).handle(ctx)
		}()
	}
}

// waitForSessions waits for all in-flight sessions to complete,
// with a maximum timeout to prevent indefinite blocking.
func (s *Server) waitForSessions() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("all sessions completed")
	case <-time.After(shutdownTimeout):
		slog.Warn("shutdown timeout reached, forcing close")
	}
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Mailbox returns the store of captured messages.
func (s *Server) Mailbox() *Mailbox {
	return s.mailbox
}

// SetFault makes the sink answer stage with reply until the fault is cleared.
func (s *Server) SetFault(stage Stage, reply Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[stage] = reply
}

// ClearFaults removes every injected fault.
func (s *Server) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.faults)
}

func (s *Server) fault(stage Stage) (Reply, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.faults[stage]
	return r, ok
}
