// Package main runs a development SMTP sink that captures chart emails and
// exposes them over HTTP.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shineum/bucks2bar/internal/mailsink"
	sinktls "github.com/shineum/bucks2bar/internal/tls"
)

// faultFlags collects repeated -fault STAGE=CODE [text] flags.
type faultFlags map[mailsink.Stage]mailsink.Reply

func (f faultFlags) String() string {
	parts := make([]string, 0, len(f))
	for stage, reply := range f {
		parts = append(parts, string(stage)+"="+reply.String())
	}
	return strings.Join(parts, ",")
}

func (f faultFlags) Set(v string) error {
	stage, reply, err := mailsink.ParseFault(v)
	if err != nil {
		return err
	}
	f[stage] = reply
	return nil
}

func main() {
	faults := faultFlags{}

	listen := flag.String("listen", ":2525", "SMTP listen address")
	httpAddr := flag.String("http", ":8025", "HTTP address for the message API; empty disables it")
	hostname := flag.String("hostname", "localhost", "hostname used in the SMTP greeting")
	user := flag.String("user", "", "require SMTP AUTH with this username")
	password := flag.String("password", "", "password for -user")
	useTLS := flag.Bool("tls", false, "offer STARTTLS")
	implicitTLS := flag.Bool("implicit-tls", false, "speak TLS from the first byte (port 465 style)")
	certFile := flag.String("cert", "", "TLS certificate file; a self-signed one is generated when empty")
	keyFile := flag.String("key", "", "TLS key file")
	capacity := flag.Int("capacity", mailsink.DefaultCapacity, "number of messages kept in memory")
	maxSize := flag.Int("max-size", mailsink.DefaultMaxMessageSize, "largest accepted message in bytes")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Var(faults, "fault", "inject a reply, e.g. 'RCPT=550 5.1.1 No such user' (repeatable)")
	flag.Parse()

	setupLogger(*logLevel)

	var tlsConfig *tls.Config
	if *useTLS || *implicitTLS {
		var err error
		tlsConfig, err = sinktls.LoadOrGenerateTLS(*certFile, *keyFile, *hostname)
		if err != nil {
			slog.Error("failed to setup TLS", "error", err)
			os.Exit(1)
		}
	}

	sink := mailsink.New(mailsink.Config{
		ListenAddr:     *listen,
		Hostname:       *hostname,
		TLSConfig:      tlsConfig,
		ImplicitTLS:    *implicitTLS,
		AuthUsername:   *user,
		AuthPassword:   *password,
		Capacity:       *capacity,
		MaxMessageSize: *maxSize,
		Faults:         faults,
	})

	for stage, reply := range faults {
		slog.Info("fault injected", "stage", stage, "reply", reply.String())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, sink, *httpAddr); err != nil {
		slog.Error("mail sink error", "error", err)
		os.Exit(1)
	}
	slog.Info("mail sink stopped")
}

func run(ctx context.Context, sink *mailsink.Server, httpAddr string) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sink.ListenAndServe(ctx)
	})

	if httpAddr != "" {
		server := &http.Server{
			Addr:              httpAddr,
			Handler:           mailsink.Handler(sink.Mailbox()),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			slog.Info("message API listening", "addr", httpAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}
