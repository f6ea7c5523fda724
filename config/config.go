// Package config loads the portal configuration from flags, HUBDOC_*
// environment variables, an optional YAML file and .env files.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/BallaAicha/hubdoc-sub000/store"
)

// EnvPrefix prefixes every environment variable, e.g. HUBDOC_AUTH_CLIENT_ID.
const EnvPrefix = "HUBDOC"

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Cookies      CookieConfig       `mapstructure:"cookies"`
	Store        StoreConfig        `mapstructure:"store"`
	Collaborator CollaboratorConfig `mapstructure:"collaborators"`
	Guides       GuidesConfig       `mapstructure:"guides"`
	Log          LogConfig          `mapstructure:"log"`
	CORS         CORSConfig         `mapstructure:"cors"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// PublicURL is the externally visible base URL; the OAuth redirect URI is
	// derived from it.
	PublicURL       string        `mapstructure:"public_url"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// PageCSP replaces the Content-Security-Policy of HTML pages when set.
	PageCSP      string `mapstructure:"page_csp"`
	FrameOptions string `mapstructure:"frame_options"`
}

type AuthConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	Scopes       []string `mapstructure:"scopes"`
	// Issuer enables OIDC discovery. AuthorizeURL and TokenURL take precedence.
	Issuer          string        `mapstructure:"issuer"`
	AuthorizeURL    string        `mapstructure:"authorize_url"`
	TokenURL        string        `mapstructure:"token_url"`
	AuthIndexType   string        `mapstructure:"auth_index_type"`
	AuthIndexValue  string        `mapstructure:"auth_index_value"`
	ExchangeTimeout time.Duration `mapstructure:"exchange_timeout"`
}

type CookieConfig struct {
	KeyID string `mapstructure:"key_id"`
	// Keys are "id:base64" pairs. Older keys stay listed so existing cookies
	// still open after a rotation.
	Keys          []string      `mapstructure:"keys"`
	Secure        bool          `mapstructure:"secure"`
	SessionName   string        `mapstructure:"session_name"`
	SessionMaxAge time.Duration `mapstructure:"session_max_age"`
	// SessionExtend is the remaining lifetime under which the session cookie
	// is reissued with a fresh expiry.
	SessionExtend time.Duration `mapstructure:"session_extend"`
}

type StoreConfig struct {
	Driver        string        `mapstructure:"driver"`
	Addr          string        `mapstructure:"addr"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	DSN           string        `mapstructure:"dsn"`
	Prefix        string        `mapstructure:"prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
}

type CollaboratorConfig struct {
	DocumentsURL string        `mapstructure:"documents_url"`
	CatalogURL   string        `mapstructure:"catalog_url"`
	GeneratorURL string        `mapstructure:"generator_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxTries     uint          `mapstructure:"max_tries"`
	// IdleConns bounds the idle connections kept per collaborator host.
	IdleConns int `mapstructure:"idle_conns"`
}

type GuidesConfig struct {
	Dir string `mapstructure:"dir"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

var defaults = map[string]any{
	"server.addr":                 ":8080",
	"server.public_url":           "http://localhost:8080",
	"server.shutdown_timeout":     "10s",
	"server.page_csp":             "",
	"server.frame_options":        "DENY",
	"auth.client_id":              "",
	"auth.client_secret":          "",
	"auth.scopes":                 []string{"openid", "profile", "email"},
	"auth.issuer":                 "",
	"auth.authorize_url":          "",
	"auth.token_url":              "",
	"auth.auth_index_type":        "service",
	"auth.auth_index_value":       "L2",
	"auth.exchange_timeout":       "15s",
	"cookies.key_id":              "",
	"cookies.keys":                []string{},
	"cookies.secure":              true,
	"cookies.session_name":        "hds",
	"cookies.session_max_age":     "24h",
	"cookies.session_extend":      "6h",
	"store.driver":                "memory",
	"store.addr":                  "localhost:6379",
	"store.username":              "",
	"store.password":              "",
	"store.db":                    0,
	"store.dsn":                   "hubdoc.db",
	"store.prefix":                "hubdoc:session:",
	"store.ttl":                   "24h",
	"store.purge_interval":        "10m",
	"collaborators.documents_url": "",
	"collaborators.catalog_url":   "",
	"collaborators.generator_url": "",
	"collaborators.timeout":       "30s",
	"collaborators.max_tries":     3,
	"collaborators.idle_conns":    16,
	"guides.dir":                  "guides",
	"log.level":                   "info",
	"log.format":                  "text",
	"cors.allowed_origins":        []string{},
}

// SetDefaults registers the defaults and the environment binding on v.
func SetDefaults(v *viper.Viper) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// LoadDotEnv loads the given .env files, or ./.env when none are given. A
// missing default file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); errors.Is(err, os.ErrNotExist) {
			return nil
		}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("config: loading .env: %w", err)
	}
	return nil
}

// Load reads the configuration from v. When file is not empty it is merged
// below flags and environment variables.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", file, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every invalid or missing value at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if u, err := url.Parse(c.Server.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("server.public_url must be an absolute URL")
	}
	switch c.Server.FrameOptions {
	case "", "DENY", "SAMEORIGIN":
	default:
		add("server.frame_options %q is not one of DENY, SAMEORIGIN or empty", c.Server.FrameOptions)
	}

	if c.Auth.ClientID == "" {
		add("auth.client_id is required")
	}
	explicit := c.Auth.AuthorizeURL != "" || c.Auth.TokenURL != ""
	switch {
	case explicit && (c.Auth.AuthorizeURL == "" || c.Auth.TokenURL == ""):
		add("auth.authorize_url and auth.token_url must be set together")
	case !explicit && c.Auth.Issuer == "":
		add("auth.issuer or auth.authorize_url and auth.token_url are required")
	}
	if c.Auth.ExchangeTimeout <= 0 {
		add("auth.exchange_timeout must be positive")
	}

	if c.Cookies.KeyID == "" {
		add("cookies.key_id is required")
	}
	if c.Cookies.SessionName == "" {
		add("cookies.session_name is required")
	}
	if c.Cookies.SessionExtend < 0 || c.Cookies.SessionExtend >= c.Cookies.SessionMaxAge {
		add("cookies.session_extend must be between 0 and cookies.session_max_age")
	}
	if keys, err := c.Cookies.KeyMap(); err != nil {
		errs = append(errs, err)
	} else if _, ok := keys[c.Cookies.KeyID]; c.Cookies.KeyID != "" && !ok {
		add("cookies.keys has no key %q", c.Cookies.KeyID)
	}

	switch c.Store.Driver {
	case "memory":
	case "redis":
		if c.Store.Addr == "" {
			add("store.addr is required for the redis driver")
		}
	case "sqlite":
		if c.Store.DSN == "" {
			add("store.dsn is required for the sqlite driver")
		}
	default:
		add("store.driver %q is not one of memory, redis, sqlite", c.Store.Driver)
	}

	for _, u := range []struct{ name, raw string }{
		{"collaborators.documents_url", c.Collaborator.DocumentsURL},
		{"collaborators.catalog_url", c.Collaborator.CatalogURL},
		{"collaborators.generator_url", c.Collaborator.GeneratorURL},
	} {
		if u.raw == "" {
			add("%s is required", u.name)
			continue
		}
		if parsed, err := url.Parse(u.raw); err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			add("%s must be an http(s) URL", u.name)
		}
	}
	if c.Collaborator.IdleConns < 0 {
		add("collaborators.idle_conns must not be negative")
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		add("log.format %q is not one of json, text", c.Log.Format)
	}

	return errors.Join(errs...)
}

// RedirectURL is the callback URL registered with the identity provider.
func (c *Config) RedirectURL() string {
	return strings.TrimSuffix(c.Server.PublicURL, "/") + "/callback"
}

// StoreOptions converts the store section for store.Open.
func (c *Config) StoreOptions() store.Config {
	return store.Config{
		Driver:   c.Store.Driver,
		Addr:     c.Store.Addr,
		Username: c.Store.Username,
		Password: c.Store.Password,
		DB:       c.Store.DB,
		DSN:      c.Store.DSN,
		Prefix:   c.Store.Prefix,
		TTL:      c.Store.TTL,
	}
}

// KeyMap decodes the "id:base64" cookie keys.
func (c CookieConfig) KeyMap() (map[string][]byte, error) {
	keys := make(map[string][]byte, len(c.Keys))
	for _, entry := range c.Keys {
		id, enc, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok || id == "" {
			return nil, fmt.Errorf("cookies.keys: entry %q is not id:base64", entry)
		}
		k, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("cookies.keys: key %q: %w", id, err)
		}
		if len(k) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("cookies.keys: key %q must be %d bytes", id, chacha20poly1305.KeySize)
		}
		keys[id] = k
	}
	return keys, nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return l, fmt.Errorf("log.level %q is not one of debug, info, warn, error", s)
	}
	return l, nil
}

// NewLogger builds the process logger writing to w.
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch c.Format {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("log.format %q is not one of json, text", c.Format)
	}
	return slog.New(h), nil
}
