// Package config loads the service-wide configuration: the dynamics
// profile, governor tuning, risk weights, dialectic limits, database
// DSN, and HTTP bind address. Grounded on the teacher's
// pkg/config/loader.go (YAML + dario.cat/mergo default-merge +
// os.ExpandEnv) and pkg/config/validator.go (hand-rolled fail-fast
// Validator rather than struct-tag validation).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/sentinel-governance/sentinel/pkg/dialectic"
	"github.com/sentinel-governance/sentinel/pkg/governance"
	"github.com/sentinel-governance/sentinel/pkg/governor"
	"github.com/sentinel-governance/sentinel/pkg/profile"
	"github.com/sentinel-governance/sentinel/pkg/risk"
)

// ServerConfig is the HTTP bind configuration for sentineld.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// RequestTimeout is the outer per-RPC deadline (spec.md §5, default
	// per-tool range 10-60s).
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DatabaseConfig mirrors database.Config with YAML tags plus
// environment-variable indirection for the password.
type DatabaseConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	PasswordEnv string `yaml:"password_env"`
	Database    string `yaml:"database"`
	SSLMode     string `yaml:"ssl_mode"`
	MaxConns    int32  `yaml:"max_conns"`
	MinConns    int32  `yaml:"min_conns"`
}

// SessionConfig tunes session binding (spec.md §4.7).
type SessionConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	TokenSecretEnv string       `yaml:"token_secret_env"`
}

// LockConfig tunes agentstore locking (spec.md §4.6).
type LockConfig struct {
	StaleAfter      time.Duration `yaml:"stale_after"`
	BackoffBase     time.Duration `yaml:"backoff_base"`
	MaxRetries      int           `yaml:"max_retries"`
}

// LifecycleConfig tunes the archival sweep (SPEC_FULL.md §4).
type LifecycleConfig struct {
	ArchiveAfter time.Duration `yaml:"archive_after"`
	CronSchedule string        `yaml:"cron_schedule"`
}

// CollaboratorConfig configures the external model collaborator
// (spec.md §4.10). Empty BaseURL means "use the built-in deterministic
// fallback".
type CollaboratorConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Config is the fully merged, validated, ready-to-use configuration.
type Config struct {
	Server        ServerConfig         `yaml:"server"`
	Database      DatabaseConfig       `yaml:"database"`
	Session       SessionConfig        `yaml:"session"`
	Lock          LockConfig           `yaml:"lock"`
	Lifecycle     LifecycleConfig      `yaml:"lifecycle"`
	Collaborator  CollaboratorConfig   `yaml:"collaborator"`
	Profile       profile.Profile      `yaml:"profile"`
	Governor      governor.Config      `yaml:"governor"`
	RiskWeights   risk.Weights         `yaml:"risk_weights"`
	Dialectic     dialectic.Config     `yaml:"dialectic"`
	Governance    governance.Config    `yaml:"governance"`
	AuditSecretEnv string              `yaml:"audit_secret_env"`
}

// Defaults returns the built-in production configuration
// (spec.md §4.1/§4.4/§4.5 defaults plus ambient server/database/
// lifecycle settings).
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			RequestTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:        "localhost",
			Port:        5432,
			User:        "sentinel",
			PasswordEnv: "SENTINEL_DB_PASSWORD",
			Database:    "sentinel",
			SSLMode:     "disable",
			MaxConns:    10,
			MinConns:    2,
		},
		Session: SessionConfig{
			TTL:            30 * time.Minute,
			TokenTTL:       24 * time.Hour,
			TokenSecretEnv: "SENTINEL_TOKEN_SECRET",
		},
		Lock: LockConfig{
			StaleAfter:  10 * time.Second,
			BackoffBase: 200 * time.Millisecond,
			MaxRetries:  6,
		},
		Lifecycle: LifecycleConfig{
			ArchiveAfter: 30 * 24 * time.Hour,
			CronSchedule: "0 */15 * * * *",
		},
		Collaborator: CollaboratorConfig{
			Timeout: 20 * time.Second,
		},
		Profile:     *profile.Default(),
		Governor:    governor.DefaultConfig(),
		RiskWeights: risk.DefaultWeights(),
		Dialectic:   dialectic.DefaultConfig(),
		Governance:  governance.DefaultConfig(),
		AuditSecretEnv: "SENTINEL_AUDIT_HMAC_SECRET",
	}
}

// Load reads sentinel.yaml from configDir (if present), expands
// environment variables, merges it over Defaults(), and validates the
// result. A missing file is not an error: the defaults are used as-is,
// matching the teacher's "built-in + user-defined, user overrides
// built-in" merge philosophy.
func Load(configDir string) (*Config, error) {
	cfg := Defaults()

	path := filepath.Join(configDir, "sentinel.yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("sentinel.yaml not found, using built-in defaults", "path", path)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(raw))

	var loaded Config
	if err := yaml.Unmarshal([]byte(expanded), &loaded); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := mergo.Merge(&loaded, cfg); err != nil {
		return nil, fmt.Errorf("config: merge defaults: %w", err)
	}

	if err := Validate(&loaded); err != nil {
		return nil, err
	}
	return &loaded, nil
}

// Validate walks the loaded config and fails fast with an actionable
// message — the teacher's hand-rolled Validator pattern
// (pkg/config/validator.go), not struct-tag validation.
func Validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("config: server.port must be in 1..65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.RequestTimeout < 10*time.Second || cfg.Server.RequestTimeout > 60*time.Second {
		return fmt.Errorf("config: server.request_timeout must be within [10s, 60s], got %v", cfg.Server.RequestTimeout)
	}
	if cfg.Database.Host == "" {
		return fmt.Errorf("config: database.host must not be empty")
	}
	if cfg.Lock.MaxRetries <= 0 {
		return fmt.Errorf("config: lock.max_retries must be positive, got %d", cfg.Lock.MaxRetries)
	}
	if err := cfg.Profile.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Governor.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Dialectic.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Governance.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// DatabasePassword resolves the database password from its configured
// environment variable.
func (c *Config) DatabasePassword() string { return os.Getenv(c.Database.PasswordEnv) }

// TokenSecret resolves the session-token HMAC secret.
func (c *Config) TokenSecret() string { return os.Getenv(c.Session.TokenSecretEnv) }

// AuditSecret resolves the audit-log HMAC secret.
func (c *Config) AuditSecret() string { return os.Getenv(c.AuditSecretEnv) }
