// Command authctl runs operator tasks against the credential store.
//
//	authctl [flags] migrate
//	authctl [flags] suspend|activate|deactivate|unlock <identity-id>
//
// It reads the same flags and AUTHCORE_* variables as authd.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/railconnect/authcore"
	"github.com/railconnect/authcore/identity"
	"github.com/railconnect/authcore/internal/config"
	"github.com/railconnect/authcore/internal/logging"
	"github.com/railconnect/authcore/internal/stores"
	"github.com/railconnect/authcore/store/postgres"
	"github.com/spf13/pflag"
)

const usage = `usage: authctl [flags] <command> [identity-id]

commands:
  migrate                 apply pending Postgres migrations
  suspend <id>            block sign-in and revoke sessions
  activate <id>           allow sign-in again
  deactivate <id>         close the account and free its email and phone
  unlock <id>             clear a failed-login lockout
`

var statusCommands = map[string]identity.Status{
	"suspend":    identity.StatusSuspended,
	"activate":   identity.StatusActive,
	"deactivate": identity.StatusDeactivated,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "authctl: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, rest, err := config.Parse("authctl", args)
	if errors.Is(err, pflag.ErrHelp) {
		fmt.Fprint(stderr, usage)
		return nil
	}
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		fmt.Fprint(stderr, usage)
		return errors.New("missing command")
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, stderr)
	if err != nil {
		return err
	}

	cmd, rest := rest[0], rest[1:]
	if cmd == "migrate" {
		return migrate(ctx, cfg, stdout)
	}

	if len(rest) != 1 || rest[0] == "" {
		return fmt.Errorf("%s needs exactly one identity id", cmd)
	}
	id := rest[0]

	status, isStatus := statusCommands[cmd]
	if !isStatus && cmd != "unlock" {
		return fmt.Errorf("unknown command %q", cmd)
	}

	backends, err := stores.Open(ctx, cfg, stores.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer backends.Close(context.WithoutCancel(ctx))

	b := authcore.New().
		WithConfig(cfg.Engine()).
		WithStore(backends.Store).
		WithLogger(logger).
		WithAuditSink(authcore.NewSlogSink(logger))
	if backends.Redis != nil {
		b.WithRedis(backends.Redis)
	}
	engine, err := b.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	if isStatus {
		err = engine.SetStatus(ctx, id, status)
	} else {
		err = engine.Unlock(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", cmd, id, err)
	}
	logger.Info("done", slog.String("command", cmd), slog.String("identity_id", id))
	fmt.Fprintf(stdout, "%s %s: ok\n", cmd, id)
	return nil
}

func migrate(ctx context.Context, cfg config.Config, stdout io.Writer) error {
	if cfg.Store != config.StorePostgres {
		return fmt.Errorf("migrate needs --store=postgres, have %q", cfg.Store)
	}
	db, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "migrations applied")
	return nil
}
