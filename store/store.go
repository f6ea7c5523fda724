// Package store holds the durable, per-session key/value data of the portal:
// the tokens and the decoded user claims written after a successful login.
//
// Values are addressed by a portal session ID plus a key. Every backend expires
// a session's values after a fixed lifetime, refreshed on each write.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Keys written by the auth flow.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUserInfo     = "user_info"
)

// DefaultTTL is the lifetime of a session's values when none is configured.
const DefaultTTL = 24 * time.Hour

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("store: not found")

// Store is a per-session key/value store.
type Store interface {
	// Get returns the value stored under key for session sid, or ErrNotFound.
	Get(ctx context.Context, sid, key string) (string, error)
	// Set stores value under key and refreshes the session's expiry.
	Set(ctx context.Context, sid, key, value string) error
	// Delete removes keys from session sid. Missing keys are not an error.
	Delete(ctx context.Context, sid string, keys ...string) error
	Close() error
}

// Purger is implemented by backends that keep expired values until they are
// swept. Purge drops them and reports how many values were removed.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// Config selects and configures a backend.
type Config struct {
	// Driver is one of "memory", "redis" or "sqlite".
	Driver string
	// Addr is the redis address (host:port).
	Addr     string
	Username string
	Password string
	DB       int
	// DSN is the sqlite database path.
	DSN string
	// Prefix namespaces redis keys.
	Prefix string
	TTL    time.Duration
}

// Open returns the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(cfg.TTL), nil
	case "redis":
		return NewRedis(ctx, cfg)
	case "sqlite":
		return NewSQLite(ctx, cfg.DSN, cfg.TTL)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
