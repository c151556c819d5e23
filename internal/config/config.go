// Package config loads authd settings from command-line flags, the process
// environment and an optional .env file.
//
// Every flag has an environment twin named AUTHCORE_ plus the flag name in
// upper snake case, so --http-addr is AUTHCORE_HTTP_ADDR. A flag given on
// the command line wins over the environment, which wins over .env, which
// wins over the built-in default. Secrets are read from the environment
// only.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/railconnect/authcore"
	"github.com/spf13/pflag"
)

const envPrefix = "AUTHCORE_"

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// Config holds the runtime settings for cmd/authd.
type Config struct {
	EnvFile string

	HTTPAddr        string
	ShutdownTimeout time.Duration
	TrustedProxies  []string
	CORSOrigins     []string

	LogLevel  string
	LogFormat string

	Store         string
	PostgresDSN   string
	MongoURI      string
	MongoDatabase string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	OutboxStream  string

	JWTSecret     string
	RefreshSecret string
	JWTIssuer     string
	JWTAudience   string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	RememberTTL   time.Duration

	DefaultRegion string
	CookieDomain  string
	CookieSecure  bool

	Metrics bool
	Audit   bool

	OTel         bool
	OTelInterval time.Duration
	OTelOutput   string
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		EnvFile:         ".env",
		HTTPAddr:        ":8080",
		ShutdownTimeout: 15 * time.Second,
		LogLevel:        "info",
		LogFormat:       "text",
		Store:           StoreMemory,
		MongoDatabase:   "authcore",
		OutboxStream:    authcore.DefaultOutboxStream,
		JWTIssuer:       "railconnect",
		JWTAudience:     "railconnect-api",
		AccessTTL:       time.Hour,
		RefreshTTL:      7 * 24 * time.Hour,
		RememberTTL:     30 * 24 * time.Hour,
		DefaultRegion:   "IN",
		CookieSecure:    true,
		Metrics:         true,
		Audit:           true,
		OTelInterval:    time.Minute,
	}
}

// FlagSet binds every setting to a flag on a new set named name. Parsing
// the set writes straight into c.
func (c *Config) FlagSet(name string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.SortFlags = false

	flags.StringVar(&c.EnvFile, "env-file", c.EnvFile, "dotenv file to read; missing is fine")
	flags.StringVar(&c.HTTPAddr, "http-addr", c.HTTPAddr, "listen address")
	flags.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "graceful shutdown budget")
	flags.StringSliceVar(&c.TrustedProxies, "trusted-proxies", c.TrustedProxies, "CIDRs or IPs whose X-Forwarded-For is honored")
	flags.StringSliceVar(&c.CORSOrigins, "cors-origins", c.CORSOrigins, "exact origins allowed to call the API")
	flags.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	flags.StringVar(&c.LogFormat, "log-format", c.LogFormat, "text or json")
	flags.StringVar(&c.Store, "store", c.Store, "credential store: memory, postgres or mongo")
	flags.StringVar(&c.PostgresDSN, "postgres-dsn", c.PostgresDSN, "Postgres connection string")
	flags.StringVar(&c.MongoURI, "mongo-uri", c.MongoURI, "MongoDB connection URI")
	flags.StringVar(&c.MongoDatabase, "mongo-database", c.MongoDatabase, "MongoDB database name")
	flags.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "Redis address; empty keeps limiter and sessions in process")
	flags.IntVar(&c.RedisDB, "redis-db", c.RedisDB, "Redis database number")
	flags.StringVar(&c.OutboxStream, "outbox-stream", c.OutboxStream, "Redis stream receiving reset and verification deliveries")
	flags.StringVar(&c.JWTIssuer, "jwt-issuer", c.JWTIssuer, "access token issuer")
	flags.StringVar(&c.JWTAudience, "jwt-audience", c.JWTAudience, "access token audience")
	flags.DurationVar(&c.AccessTTL, "access-ttl", c.AccessTTL, "access token lifetime")
	flags.DurationVar(&c.RefreshTTL, "refresh-ttl", c.RefreshTTL, "refresh token lifetime")
	flags.DurationVar(&c.RememberTTL, "remember-ttl", c.RememberTTL, "refresh token lifetime with remember-me")
	flags.StringVar(&c.DefaultRegion, "default-region", c.DefaultRegion, "region for phone numbers without a country code")
	flags.StringVar(&c.CookieDomain, "cookie-domain", c.CookieDomain, "refresh cookie domain")
	flags.BoolVar(&c.CookieSecure, "cookie-secure", c.CookieSecure, "mark the refresh cookie Secure")
	flags.BoolVar(&c.Metrics, "metrics", c.Metrics, "enable engine counters and /metrics")
	flags.BoolVar(&c.Audit, "audit", c.Audit, "enable the audit log")
	flags.BoolVar(&c.OTel, "otel", c.OTel, "export metrics through an OpenTelemetry meter provider")
	flags.DurationVar(&c.OTelInterval, "otel-interval", c.OTelInterval, "OpenTelemetry export interval")
	flags.StringVar(&c.OTelOutput, "otel-output", c.OTelOutput, "file receiving OpenTelemetry metric batches; empty writes to stderr")
	return flags
}

// Load parses authd's args over Default, then fills every flag not given
// on the command line from the environment and the env file.
func Load(args []string) (Config, error) {
	cfg, rest, err := Parse("authd", args)
	if err != nil {
		return Config{}, err
	}
	if len(rest) > 0 {
		return Config{}, fmt.Errorf("unexpected argument %q", rest[0])
	}
	return cfg, nil
}

// Parse is Load for a program named name that takes positional arguments.
// It returns them after the settings.
func Parse(name string, args []string) (Config, []string, error) {
	cfg := Default()
	flags := cfg.FlagSet(name)
	if err := flags.Parse(args); err != nil {
		return Config{}, nil, err
	}

	dotenv, err := readEnvFile(cfg.EnvFile)
	if err != nil {
		return Config{}, nil, err
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}

	var setErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if setErr != nil || f.Changed || f.Name == "env-file" {
			return
		}
		if v, ok := lookup(EnvName(f.Name)); ok {
			if err := flags.Set(f.Name, v); err != nil {
				setErr = fmt.Errorf("%s: %w", EnvName(f.Name), err)
			}
		}
	})
	if setErr != nil {
		return Config{}, nil, setErr
	}

	cfg.JWTSecret, _ = lookup(envPrefix + "JWT_SECRET")
	cfg.RefreshSecret, _ = lookup(envPrefix + "REFRESH_SECRET")
	cfg.RedisPassword, _ = lookup(envPrefix + "REDIS_PASSWORD")

	if err := cfg.Validate(); err != nil {
		return Config{}, nil, err
	}
	return cfg, flags.Args(), nil
}

// EnvName returns the environment variable backing flag.
func EnvName(flag string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

func readEnvFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return values, nil
}

// Validate checks the settings authd cannot start without. Engine-level
// rules are enforced again by authcore.Config.Validate.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("http address is required")
	}
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.PostgresDSN == "" {
			return errors.New(EnvName("postgres-dsn") + " is required for the postgres store")
		}
	case StoreMongo:
		if c.MongoURI == "" {
			return errors.New(EnvName("mongo-uri") + " is required for the mongo store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.JWTSecret == "" {
		return errors.New(envPrefix + "JWT_SECRET is required")
	}
	if c.RefreshSecret == "" {
		return errors.New(envPrefix + "REFRESH_SECRET is required")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.OTel && c.OTelInterval <= 0 {
		return errors.New("otel interval must be positive")
	}
	return nil
}

// Engine maps the settings onto the engine configuration.
func (c Config) Engine() authcore.Config {
	cfg := authcore.DefaultConfig()
	cfg.JWT.PrivateKey = []byte(c.JWTSecret)
	cfg.JWT.Issuer = c.JWTIssuer
	cfg.JWT.Audience = c.JWTAudience
	cfg.JWT.AccessTTL = c.AccessTTL
	cfg.Refresh.Secret = []byte(c.RefreshSecret)
	cfg.Refresh.TTL = c.RefreshTTL
	cfg.Refresh.RememberTTL = c.RememberTTL
	cfg.Identity.DefaultRegion = c.DefaultRegion
	cfg.Cookie.Domain = c.CookieDomain
	cfg.Cookie.Secure = c.CookieSecure
	cfg.Metrics.Enabled = c.Metrics
	cfg.Metrics.EnableLatencyHistograms = c.Metrics
	cfg.Audit.Enabled = c.Audit
	return cfg
}
