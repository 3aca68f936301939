// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// apm-collector-mock is an in-memory stand-in for an APM collector, for
// developing and testing agents without a real backend.
//
// It accepts intake batches on /intake/v2/events, decoding and
// verifying them exactly as a collector would, and serves central
// configuration on /config/v1/agents from a JSONC file that is
// reloaded when it changes. Received events can be inspected on
// /_mock/events and /_mock/status and cleared with DELETE
// /_mock/events.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/apm/lib/clock"
	"github.com/bureau-foundation/apm/lib/logging"
	"github.com/bureau-foundation/apm/lib/process"
	"github.com/bureau-foundation/apm/lib/service"
	"github.com/bureau-foundation/apm/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

type options struct {
	listen         string
	centralConfig  string
	maxAge         time.Duration
	reloadInterval time.Duration
	secretToken    string
	apiKey         string
	logLevel       string
	showVersion    bool
}

func run(args []string) error {
	var opts options
	flagSet := pflag.NewFlagSet("apm-collector-mock", pflag.ContinueOnError)
	flagSet.StringVar(&opts.listen, "listen", "127.0.0.1:8200", "TCP address to listen on")
	flagSet.StringVar(&opts.centralConfig, "central-config", "", "JSONC file served as central configuration (off when empty)")
	flagSet.DurationVar(&opts.maxAge, "max-age", 30*time.Second, "Cache-Control max-age sent with central configuration")
	flagSet.DurationVar(&opts.reloadInterval, "reload-interval", 2*time.Second, "how often to check the central config file for changes")
	flagSet.StringVar(&opts.secretToken, "secret-token", "", "require this Bearer token from agents")
	flagSet.StringVar(&opts.apiKey, "api-key", "", "require this ApiKey from agents")
	flagSet.StringVar(&opts.logLevel, "log-level", "info", "trace, debug, info, warn, error or off")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Println(version.Banner("apm-collector-mock"))
		return nil
	}
	if flagSet.NArg() > 0 {
		return process.Usagef("unexpected arguments: %v", flagSet.Args())
	}
	if opts.maxAge < time.Second {
		return process.Usagef("--max-age must be at least 1s, got %s", opts.maxAge)
	}

	level, err := logging.ParseLevel(opts.logLevel)
	if err != nil {
		return process.Usagef("--log-level: %v", err)
	}
	logger := logging.New(os.Stderr, level)

	mock := newCollector(logger, opts.maxAge)
	if opts.centralConfig != "" {
		document, err := os.ReadFile(opts.centralConfig)
		if err != nil {
			return fmt.Errorf("reading central config: %w", err)
		}
		if err := mock.setCentralConfig(document); err != nil {
			return fmt.Errorf("%s: %w", opts.centralConfig, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := service.NewHTTPServer(service.HTTPServerConfig{
		Address: opts.listen,
		Handler: mock.handler(opts.secretToken, opts.apiKey),
		Logger:  logger,
	})

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return server.Serve(ctx) })
	if opts.centralConfig != "" {
		group.Go(func() error {
			watchCentralConfig(ctx, clock.Real(), opts.centralConfig, opts.reloadInterval, mock, logger)
			return nil
		})
	}

	logger.Info("collector mock running", "version", version.Info(), "central_config", opts.centralConfig)
	return group.Wait()
}

// watchCentralConfig reloads path whenever its modification time
// changes. A missing file turns central configuration off; an invalid
// one keeps the previous document.
func watchCentralConfig(ctx context.Context, clk clock.Clock, path string, interval time.Duration, mock *collector, logger *slog.Logger) {
	var lastModified time.Time
	if info, err := os.Stat(path); err == nil {
		lastModified = info.ModTime()
	}

	ticker := clk.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}

		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			if !lastModified.IsZero() {
				logger.Warn("central config file removed, disabling central configuration", "path", path)
				mock.setCentralConfig(nil)
				lastModified = time.Time{}
			}
			continue
		}
		if err != nil {
			logger.Warn("checking central config file", "path", path, "error", err)
			continue
		}
		if info.ModTime().Equal(lastModified) {
			continue
		}
		lastModified = info.ModTime()

		document, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("reading central config file", "path", path, "error", err)
			continue
		}
		if err := mock.setCentralConfig(document); err != nil {
			logger.Warn("keeping previous central config", "path", path, "error", err)
		}
	}
}
