package rate

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Class names an endpoint budget.
type Class string

const (
	ClassLogin    Class = "login"
	ClassRegister Class = "register"
	ClassForgot   Class = "forgot"
	ClassVerify   Class = "verify"
)

// Rule is a fixed-window budget: at most Limit hits per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Config maps each class to its rule. Classes without a rule are unlimited.
type Config struct {
	Rules map[Class]Rule
}

// DefaultConfig returns the stock budgets: login 5 per 15 minutes,
// registration, forgot-password and verification requests 3 per hour.
func DefaultConfig() Config {
	return Config{Rules: map[Class]Rule{
		ClassLogin:    {Limit: 5, Window: 15 * time.Minute},
		ClassRegister: {Limit: 3, Window: time.Hour},
		ClassForgot:   {Limit: 3, Window: time.Hour},
		ClassVerify:   {Limit: 3, Window: time.Hour},
	}}
}

// Validate rejects non-positive limits or windows.
func (c Config) Validate() error {
	for class, rule := range c.Rules {
		if rule.Limit <= 0 {
			return fmt.Errorf("rate %s: limit must be > 0", class)
		}
		if rule.Window <= 0 {
			return fmt.Errorf("rate %s: window must be > 0", class)
		}
	}
	return nil
}

// Decision is the outcome of one Hit.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Backend stores window counters.
type Backend interface {
	// Incr adds one to key, opening a window of the given length when the
	// key is absent, and returns the new count and the window's remaining
	// lifetime.
	Incr(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
	// Decr removes one from key if its window is still open and the count
	// is positive.
	Decr(ctx context.Context, key string) error
}

// Limiter applies per-class rules on top of a Backend.
type Limiter struct {
	backend Backend
	rules   map[Class]Rule
}

// New returns a Limiter enforcing cfg on backend.
func New(backend Backend, cfg Config) (*Limiter, error) {
	if backend == nil {
		return nil, errors.New("rate backend is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rules := make(map[Class]Rule, len(cfg.Rules))
	for k, v := range cfg.Rules {
		rules[k] = v
	}
	return &Limiter{backend: backend, rules: rules}, nil
}

// Hit counts one request from clientIP against class. A denied hit returns
// ErrRateLimited alongside the decision.
func (l *Limiter) Hit(ctx context.Context, class Class, clientIP string) (Decision, error) {
	rule, ok := l.rules[class]
	if !ok {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	count, ttl, err := l.backend.Incr(ctx, key(class, clientIP), rule.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	remaining := rule.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	if count > int64(rule.Limit) {
		if ttl <= 0 {
			ttl = rule.Window
		}
		return Decision{Allowed: false, Remaining: 0, RetryAfter: ttl}, ErrRateLimited
	}
	return Decision{Allowed: true, Remaining: remaining}, nil
}

// Undo refunds one hit from clientIP against class.
func (l *Limiter) Undo(ctx context.Context, class Class, clientIP string) error {
	if _, ok := l.rules[class]; !ok {
		return nil
	}
	if err := l.backend.Decr(ctx, key(class, clientIP)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Rule returns the configured rule for class.
func (l *Limiter) Rule(class Class) (Rule, bool) {
	r, ok := l.rules[class]
	return r, ok
}

func key(class Class, clientIP string) string {
	return "rl:" + string(class) + ":" + clientIP
}
