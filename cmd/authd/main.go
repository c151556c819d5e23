// Command authd serves the authcore HTTP API.
//
// Settings come from flags, AUTHCORE_* environment variables and an
// optional .env file; run authd --help for the list. AUTHCORE_JWT_SECRET and
// AUTHCORE_REFRESH_SECRET are required.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/railconnect/authcore"
	"github.com/railconnect/authcore/internal/config"
	"github.com/railconnect/authcore/internal/logging"
	"github.com/railconnect/authcore/internal/server"
	"github.com/railconnect/authcore/internal/stores"
	"github.com/spf13/pflag"
)

const outboxMaxLen = 100_000

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "authd: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	cfg, err := config.Load(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	backends, err := stores.Open(ctx, cfg, stores.Options{Migrate: true, Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		if err := backends.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("closing backends", slog.Any("error", err))
		}
	}()

	engine, err := buildEngine(cfg, backends, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	if cfg.OTel {
		out, closeOut, err := otelOutput(cfg, stderr)
		if err != nil {
			return err
		}
		defer closeOut()
		shutdown, err := startOTel(cfg, out, engine)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("shutting down meter provider", slog.Any("error", err))
			}
		}()
	}

	srv, err := server.New(cfg, engine, logger)
	if err != nil {
		return err
	}
	l, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return err
	}
	return srv.Run(ctx, l)
}

func buildEngine(cfg config.Config, backends *stores.Backends, logger *slog.Logger) (*authcore.Engine, error) {
	b := authcore.New().
		WithConfig(cfg.Engine()).
		WithStore(backends.Store).
		WithLogger(logger).
		WithAuditSink(authcore.NewSlogSink(logger))

	if backends.Redis != nil {
		b.WithRedis(backends.Redis).
			WithNotifier(authcore.NewRedisStreamNotifier(backends.Redis, cfg.OutboxStream, outboxMaxLen))
	} else {
		logger.Warn("no redis configured; deliveries are only logged")
		b.WithNotifier(authcore.NewLogNotifier(logger))
	}
	return b.Build()
}
