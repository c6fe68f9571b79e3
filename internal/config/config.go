// Package config loads the service configuration.
//
// SOURCES (later wins):
//  1. Defaults from setDefaults
//  2. config.yaml in ".", "./config" or "/etc/authcore", or the file
//     passed with --config
//  3. Environment variables: AUTHCORE_ + the key with "." replaced by "_",
//     e.g. AUTHCORE_SERVER_PORT=9000 or AUTHCORE_AUTH_GITHUB_CLIENT_SECRET=...
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Mail      MailConfig      `mapstructure:"mail"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// BaseURL is the public origin used in reset links and OAuth callbacks.
	BaseURL        string   `mapstructure:"base_url"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	CookieSecure   bool     `mapstructure:"cookie_secure"`
	// CookieSecret authenticates the short-lived OAuth nonce cookie.
	CookieSecret string `mapstructure:"cookie_secret"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type LogConfig struct {
	Format string `mapstructure:"format"` // "json" or "text"
	Level  string `mapstructure:"level"`
}

// StorageConfig selects the user directory backend.
type StorageConfig struct {
	Driver      string `mapstructure:"driver"` // "sqlite" or "postgres"
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresURL string `mapstructure:"postgres_url"`
}

// SessionsConfig selects the session store backend.
type SessionsConfig struct {
	Driver        string        `mapstructure:"driver"` // "sqlite", "postgres", "redis" or "memory"
	TTL           time.Duration `mapstructure:"ttl"`
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// OAuthClient holds one provider's registered credentials.
type OAuthClient struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	// CallbackURL defaults to <server.base_url>/auth/<provider>/callback.
	CallbackURL string `mapstructure:"callback_url"`
}

type AuthConfig struct {
	Hasher         string        `mapstructure:"hasher"` // "bcrypt", "argon2id" or "md5-legacy"
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	AllowLegacyMD5 bool          `mapstructure:"allow_legacy_md5"`
	ResetTokenTTL  time.Duration `mapstructure:"reset_token_ttl"`
	StateSecret    string        `mapstructure:"state_secret"`
	Google         OAuthClient   `mapstructure:"google"`
	GitHub         OAuthClient   `mapstructure:"github"`
}

// MailConfig selects how reset e-mails are delivered.
type MailConfig struct {
	Driver   string `mapstructure:"driver"` // "log" or "smtp"
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	TLS      bool   `mapstructure:"tls"`
}

type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute"`
	Burst     int `mapstructure:"burst"`
}

// Load reads configuration from the optional file at path (or the default
// search locations when path is empty) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/authcore")
	}

	// Every key has a default, so AutomaticEnv sees all of them during
	// Unmarshal, nested ones included.
	v.SetEnvPrefix("AUTHCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
		// No config file is fine; defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshalling: %w", err)
	}

	cfg.fillDerived()
	return &cfg, nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("server.cookie_secure", false)
	v.SetDefault("server.cookie_secret", "")

	// Logging defaults
	v.SetDefault("log.format", "json")
	v.SetDefault("log.level", "info")

	// Storage defaults
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "data/authcore.db")
	v.SetDefault("storage.postgres_url", "")

	// Session defaults
	v.SetDefault("sessions.driver", "sqlite")
	v.SetDefault("sessions.ttl", "168h") // 7 days
	v.SetDefault("sessions.prune_interval", "24h")

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Auth defaults
	v.SetDefault("auth.hasher", "bcrypt")
	v.SetDefault("auth.bcrypt_cost", 12)
	v.SetDefault("auth.allow_legacy_md5", false)
	v.SetDefault("auth.reset_token_ttl", "1h")
	v.SetDefault("auth.state_secret", "")
	for _, p := range []string{"google", "github"} {
		v.SetDefault("auth."+p+".client_id", "")
		v.SetDefault("auth."+p+".client_secret", "")
		v.SetDefault("auth."+p+".callback_url", "")
	}

	// Mail defaults
	v.SetDefault("mail.driver", "log")
	v.SetDefault("mail.host", "")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "no-reply@localhost")
	v.SetDefault("mail.tls", true)

	// Rate limit defaults
	v.SetDefault("ratelimit.per_minute", 20)
	v.SetDefault("ratelimit.burst", 5)
}

// fillDerived computes values that default from other settings.
func (c *Config) fillDerived() {
	c.Server.BaseURL = strings.TrimRight(c.Server.BaseURL, "/")
	if c.Auth.Google.CallbackURL == "" {
		c.Auth.Google.CallbackURL = c.Server.BaseURL + "/auth/google/callback"
	}
	if c.Auth.GitHub.CallbackURL == "" {
		c.Auth.GitHub.CallbackURL = c.Server.BaseURL + "/auth/github/callback"
	}
}

// OAuthEnabled reports whether any federated provider is configured.
func (c *Config) OAuthEnabled() bool {
	return c.Auth.Google.ClientID != "" || c.Auth.GitHub.ClientID != ""
}

// Validate checks cross-field constraints. All problems are reported at
// once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if u, err := url.Parse(c.Server.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("server.base_url %q must be an absolute URL", c.Server.BaseURL))
	}

	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for the sqlite driver"))
		}
	case "postgres":
		if c.Storage.PostgresURL == "" {
			errs = append(errs, errors.New("storage.postgres_url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q: want sqlite or postgres", c.Storage.Driver))
	}

	switch c.Sessions.Driver {
	case "memory", "redis":
	case "sqlite", "postgres":
		if c.Sessions.Driver != c.Storage.Driver {
			errs = append(errs, fmt.Errorf("sessions.driver %q needs storage.driver %q", c.Sessions.Driver, c.Sessions.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("sessions.driver %q: want sqlite, postgres, redis or memory", c.Sessions.Driver))
	}
	if c.Sessions.TTL <= 0 {
		errs = append(errs, errors.New("sessions.ttl must be positive"))
	}

	switch c.Auth.Hasher {
	case "bcrypt", "argon2id", "md5-legacy":
	default:
		errs = append(errs, fmt.Errorf("auth.hasher %q: want bcrypt, argon2id or md5-legacy", c.Auth.Hasher))
	}
	if c.Auth.ResetTokenTTL <= 0 {
		errs = append(errs, errors.New("auth.reset_token_ttl must be positive"))
	}
	if c.OAuthEnabled() {
		if len(c.Auth.StateSecret) < 16 {
			errs = append(errs, errors.New("auth.state_secret must be at least 16 characters when OAuth is enabled"))
		}
		if n := len(c.Server.CookieSecret); n != 32 && n != 64 {
			errs = append(errs, errors.New("server.cookie_secret must be 32 or 64 bytes when OAuth is enabled"))
		}
	}

	switch c.Mail.Driver {
	case "log":
	case "smtp":
		if c.Mail.Host == "" {
			errs = append(errs, errors.New("mail.host is required for the smtp driver"))
		}
		if c.Mail.From == "" {
			errs = append(errs, errors.New("mail.from is required for the smtp driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("mail.driver %q: want log or smtp", c.Mail.Driver))
	}

	if c.RateLimit.PerMinute < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("ratelimit values must not be negative"))
	}

	return errors.Join(errs...)
}
