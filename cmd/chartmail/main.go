// Package main is a command-line client that emails a chart image through the
// bucks2bar relay.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shineum/bucks2bar/internal/capture"
	"github.com/shineum/bucks2bar/internal/client"
	"github.com/shineum/bucks2bar/internal/status"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout))
}

type options struct {
	to      string
	subject string
	message string
	image   string
	format  string
	quality float64
	server  string
	timeout string
	test    bool
	verbose bool
}

func parseFlags(args []string, out io.Writer) (*options, error) {
	fs := flag.NewFlagSet("chartmail", flag.ContinueOnError)
	fs.SetOutput(out)

	var o options
	fs.StringVar(&o.to, "to", "", "recipient email address")
	fs.StringVar(&o.subject, "subject", "", "email subject (default \"My Financial Chart from Bucks2Bar\")")
	fs.StringVar(&o.message, "message", "", "email message, Markdown allowed")
	fs.StringVar(&o.image, "image", "", "PNG or JPEG file holding the chart")
	fs.StringVar(&o.format, "format", "png", "encoding sent to the relay: png or jpeg")
	fs.Float64Var(&o.quality, "quality", capture.DefaultQuality, "JPEG quality in (0,1]")
	fs.StringVar(&o.server, "server", client.DefaultBaseURL, "relay base URL")
	fs.StringVar(&o.timeout, "timeout", client.DefaultTimeout.String(), "request timeout")
	fs.BoolVar(&o.test, "test", false, "only check the relay's mail connection")
	fs.BoolVar(&o.verbose, "v", false, "log requests to stderr")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return &o, nil
}

// run executes the command and returns the process exit code.
func run(ctx context.Context, args []string, out io.Writer) int {
	o, err := parseFlags(args, out)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if o.verbose {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	region := status.NewRegion(out)
	defer region.Close()

	timeout, err := parseTimeout(o.timeout)
	if err != nil {
		region.Report(err.Error(), status.Danger)
		return 2
	}
	c := client.New(client.Config{BaseURL: o.server, Timeout: timeout})

	if o.test {
		region.Report("Testing email connection...", status.Info)
		if err := c.TestConnection(ctx); err != nil {
			region.Report(status.Describe(err), status.Danger)
			return 1
		}
		region.Report("Email connection verified", status.Success)
		return 0
	}

	format, err := capture.ParseFormat(o.format)
	if err != nil {
		region.Report(err.Error(), status.Danger)
		return 2
	}
	if o.image == "" {
		region.Report("An -image file is required", status.Danger)
		return 2
	}

	img, err := capture.Load(o.image)
	if err != nil {
		region.Report(fmt.Sprintf("Could not read chart image: %v", err), status.Danger)
		return 1
	}
	dataURL, err := capture.Capture(img, format, o.quality)
	if err != nil {
		region.Report(fmt.Sprintf("Could not encode chart image: %v", err), status.Danger)
		return 1
	}

	region.Report(status.SendingMessage, status.Info)
	res, err := c.Submit(ctx, client.EmailRequest{
		Recipient:  o.to,
		Subject:    o.subject,
		Message:    o.message,
		ChartImage: dataURL,
	})
	region.ReportResult(err)
	if err != nil {
		return 1
	}

	slog.Debug("chart email accepted", "message_id", res.MessageID)
	return 0
}
