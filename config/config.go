package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all service configuration
type Config struct {
	ListenAddr string `toml:"listen_addr"` // e.g. ":9000"

	Log      LogConfig      `toml:"log"`
	Auth     AuthConfig     `toml:"auth"`
	Session  SessionConfig  `toml:"session"`
	Redis    RedisConfig    `toml:"redis"`
	Database DatabaseConfig `toml:"database"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
}

// AuthConfig holds the sign-in message parameters
type AuthConfig struct {
	Domain    string   `toml:"domain"` // e.g. "wallet.example.com"
	URI       string   `toml:"uri"`    // optional exact match on the message URI
	Statement string   `toml:"statement"`
	ChainIDs  []uint64 `toml:"chain_ids"` // empty accepts any chain
	ChainID   uint64   `toml:"chain_id"`  // chain for server-built messages

	NonceTTL  time.Duration `toml:"nonce_ttl"`
	NonceSize int           `toml:"nonce_size"` // random bytes, 16..64
}

type SessionConfig struct {
	TTL          time.Duration `toml:"ttl"`
	CookieName   string        `toml:"cookie_name"`
	CookieDomain string        `toml:"cookie_domain"`
	CookieSecure bool          `toml:"cookie_secure"`
	KeyFile      string        `toml:"key_file"` // PEM encoded P-256 key; empty generates an ephemeral key
	Issuer       string        `toml:"issuer"`
}

type RedisConfig struct {
	URL    string `toml:"url"` // empty selects the in-memory store
	Prefix string `toml:"prefix"`
}

type DatabaseConfig struct {
	DSN string `toml:"dsn"`
}

// DefaultConfig returns a config with sensible defaults for development
func DefaultConfig() *Config {
	return &Config{
		ListenAddr: ":9000",
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
		Auth: AuthConfig{
			Domain:    "localhost:9000",
			Statement: "Sign in with Ethereum to the wallet dashboard.",
			ChainID:   1,
			NonceTTL:  5 * time.Minute,
			NonceSize: 16,
		},
		Session: SessionConfig{
			TTL:        2 * time.Hour,
			CookieName: "vaultgate_session",
			Issuer:     "vaultgate",
		},
		Redis: RedisConfig{
			Prefix: "vaultgate:",
		},
		Database: DatabaseConfig{
			DSN: "file:vaultgate.db?cache=shared",
		},
	}
}

// Load reads the TOML file at path over the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv(os.LookupEnv)

	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("LISTEN_ADDR"); ok && v != "" {
		c.ListenAddr = v
	}
	if v, ok := lookup("REDIS_URL"); ok {
		c.Redis.URL = v
	}
	if v, ok := lookup("DATABASE_DSN"); ok && v != "" {
		c.Database.DSN = v
	}
	if v, ok := lookup("SESSION_KEY_FILE"); ok {
		c.Session.KeyFile = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
}

// Validate checks that required fields are set
func (c *Config) Validate() error {
	var errs []error

	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if c.Auth.Domain == "" || strings.ContainsAny(c.Auth.Domain, " \t\r\n/") {
		errs = append(errs, fmt.Errorf("auth.domain %q must be a bare host", c.Auth.Domain))
	}
	if c.Auth.URI != "" {
		if u, err := url.Parse(c.Auth.URI); err != nil || !u.IsAbs() {
			errs = append(errs, fmt.Errorf("auth.uri %q must be an absolute URI", c.Auth.URI))
		}
	}
	if strings.ContainsAny(c.Auth.Statement, "\r\n") {
		errs = append(errs, errors.New("auth.statement must be a single line"))
	}
	for _, id := range c.Auth.ChainIDs {
		if id == 0 {
			errs = append(errs, errors.New("auth.chain_ids must not contain 0"))
			break
		}
	}
	if c.Auth.NonceTTL <= 0 {
		errs = append(errs, errors.New("auth.nonce_ttl must be positive"))
	}
	if c.Auth.NonceSize < 16 || c.Auth.NonceSize > 64 {
		errs = append(errs, errors.New("auth.nonce_size must be between 16 and 64"))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session.ttl must be positive"))
	}
	if c.Session.CookieName == "" {
		errs = append(errs, errors.New("session.cookie_name is required"))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}

	return errors.Join(errs...)
}
