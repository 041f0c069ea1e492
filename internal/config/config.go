// Package config provides configuration loading for micrologger.
//
// Configuration comes from an optional YAML file overlaid with
// MICROLOGGER_* environment variables. See LoadWithFile.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config holds the complete micrologger configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Session       SessionConfig       `koanf:"session"`
	Auth          AuthConfig          `koanf:"auth"`
	Products      ProductsConfig      `koanf:"products"`
	App           AppConfig           `koanf:"app"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// TrustProxy honours X-Forwarded-For and X-Forwarded-Proto.
	TrustProxy bool `koanf:"trust_proxy"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Driver       string `koanf:"driver"` // sqlite or postgres
	Path         string `koanf:"path"`   // sqlite file
	DSN          Secret `koanf:"dsn"`    // postgres connection string
	MaxOpenConns int    `koanf:"max_open_conns"`
}

// SessionConfig controls the login session cookie.
type SessionConfig struct {
	CookieName    string   `koanf:"cookie_name"`
	IdleTimeout   Duration `koanf:"idle_timeout"`
	SweepInterval Duration `koanf:"sweep_interval"`
	SecureCookie  bool     `koanf:"secure_cookie"`
}

// AuthConfig controls login throttling and the bootstrap account.
type AuthConfig struct {
	MaxFailures       int      `koanf:"max_failures"`
	LockoutDuration   Duration `koanf:"lockout_duration"`
	LoginRatePerSec   float64  `koanf:"login_rate_per_sec"`
	LoginBurst        int      `koanf:"login_burst"`
	BootstrapAdmin    string   `koanf:"bootstrap_admin"`
	BootstrapPassword Secret   `koanf:"bootstrap_password"`
}

// ProductsConfig controls the product catalog sync.
type ProductsConfig struct {
	APIURL       string   `koanf:"api_url"`
	Timeout      Duration `koanf:"timeout"`
	SyncInterval Duration `koanf:"sync_interval"`
}

// AppConfig holds lab-facing settings.
type AppConfig struct {
	// Timezone is the IANA zone used for "today" and calendar day keys.
	Timezone string `koanf:"timezone"`
	Debug    bool   `koanf:"debug"`
}

// ObservabilityConfig holds OpenTelemetry and logging configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	OTLPEndpoint    string `koanf:"otlp_endpoint"`
	OTLPProtocol    string `koanf:"otlp_protocol"`
	OTLPInsecure    bool   `koanf:"otlp_insecure"`
	LogLevel        string `koanf:"log_level"`
	LogFormat       string `koanf:"log_format"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.Path == "" {
		cfg.Database.Path = "micrologger.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}

	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = "MICAPPSESSID"
	}
	if cfg.Session.IdleTimeout == 0 {
		cfg.Session.IdleTimeout = Duration(30 * time.Minute)
	}
	if cfg.Session.SweepInterval == 0 {
		cfg.Session.SweepInterval = Duration(time.Minute)
	}

	if cfg.Auth.MaxFailures == 0 {
		cfg.Auth.MaxFailures = 5
	}
	if cfg.Auth.LockoutDuration == 0 {
		cfg.Auth.LockoutDuration = Duration(15 * time.Minute)
	}
	if cfg.Auth.LoginRatePerSec == 0 {
		cfg.Auth.LoginRatePerSec = 1
	}
	if cfg.Auth.LoginBurst == 0 {
		cfg.Auth.LoginBurst = 10
	}

	if cfg.Products.Timeout == 0 {
		cfg.Products.Timeout = Duration(6 * time.Second)
	}
	if cfg.Products.SyncInterval == 0 {
		cfg.Products.SyncInterval = Duration(time.Hour)
	}

	if cfg.App.Timezone == "" {
		cfg.App.Timezone = "Local"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "micrologger"
	}
	if cfg.Observability.OTLPEndpoint == "" {
		cfg.Observability.OTLPEndpoint = "localhost:4317"
	}
	if cfg.Observability.OTLPProtocol == "" {
		cfg.Observability.OTLPProtocol = "grpc"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.LogFormat == "" {
		cfg.Observability.LogFormat = "json"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case "postgres":
		if !c.Database.DSN.IsSet() {
			return errors.New("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver %q (want sqlite or postgres)", c.Database.Driver)
	}

	if c.Session.IdleTimeout.Duration() <= 0 {
		return errors.New("session idle timeout must be positive")
	}
	if c.Session.SweepInterval.Duration() <= 0 {
		return errors.New("session.sweep_interval must be positive")
	}
	if c.Auth.LockoutDuration.Duration() <= 0 {
		return errors.New("auth.lockout_duration must be positive")
	}
	if c.Auth.MaxFailures < 1 {
		return fmt.Errorf("auth.max_failures must be >= 1, got %d", c.Auth.MaxFailures)
	}
	if c.Auth.BootstrapAdmin != "" && len(c.Auth.BootstrapPassword.Value()) < 8 {
		return errors.New("auth.bootstrap_password must be at least 8 characters")
	}

	if c.Products.APIURL != "" {
		u, err := url.Parse(c.Products.APIURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("products.api_url must be an absolute http(s) URL, got %q", c.Products.APIURL)
		}
	}

	if _, err := c.App.Location(); err != nil {
		return err
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	if c.Observability.LogFormat != "json" && c.Observability.LogFormat != "console" {
		return fmt.Errorf("log_format must be 'json' or 'console', got %q", c.Observability.LogFormat)
	}

	return nil
}

// Location resolves the configured time zone.
func (a AppConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid app.timezone %q: %w", a.Timezone, err)
	}
	return loc, nil
}
