// Package stores opens the credential store and the optional Redis client
// named by the authd settings.
package stores

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/railconnect/authcore/identity"
	"github.com/railconnect/authcore/internal/config"
	"github.com/railconnect/authcore/store/memory"
	mongostore "github.com/railconnect/authcore/store/mongo"
	"github.com/railconnect/authcore/store/postgres"
	"github.com/redis/go-redis/v9"
)

// Backends is what Open connected. Redis is nil when no address is set.
type Backends struct {
	Store identity.Store
	Redis redis.UniversalClient

	closers []func(context.Context) error
}

// Options tune Open.
type Options struct {
	// Migrate applies pending Postgres migrations before returning.
	Migrate bool
	Logger  *slog.Logger
}

// Open connects every backend cfg names. On error, anything already
// opened is closed.
func Open(ctx context.Context, cfg config.Config, opts Options) (_ *Backends, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &Backends{}
	defer func() {
		if err != nil {
			_ = b.Close(context.WithoutCancel(ctx))
		}
	}()

	switch cfg.Store {
	case config.StoreMemory:
		logger.WarnContext(ctx, "using the in-memory credential store; identities are lost on restart")
		b.Store = memory.New()

	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func(context.Context) error { return db.Close() })
		if opts.Migrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				return nil, err
			}
		}
		b.Store = postgres.New(db)

	case config.StoreMongo:
		client, err := mongostore.Open(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, client.Disconnect)
		s := mongostore.New(client.Database(cfg.MongoDatabase).Collection(mongostore.DefaultCollection))
		if err := s.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		b.Store = s

	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	if cfg.RedisAddr != "" {
		rdb, err := OpenRedis(ctx, cfg)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func(context.Context) error { return rdb.Close() })
		b.Redis = rdb
	}

	logger.InfoContext(ctx, "backends ready",
		slog.String("store", cfg.Store),
		slog.Bool("redis", b.Redis != nil),
	)
	return b, nil
}

// OpenRedis dials cfg.RedisAddr and pings it.
func OpenRedis(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping error: %w", err)
	}
	return rdb, nil
}

// Close releases every backend in reverse opening order.
func (b *Backends) Close(ctx context.Context) error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
