// Package config provides configuration loading for the portal service.
// Configuration sources (in priority order): env vars > config file > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"sigs.k8s.io/yaml"
)

// Config holds all portal configuration.
type Config struct {
	// Listen address (default ":8080")
	ListenAddr string `json:"listen_addr"`
	// Data directory for persisted state (default "/var/lib/bnr-portal")
	DataDir string `json:"data_dir"`

	// Log level (debug, info, warn, error)
	LogLevel string `json:"log_level"`

	// IdentitiesFile is an optional YAML fixture replacing the built-in demo accounts.
	IdentitiesFile string `json:"identities_file,omitempty"`
	// PersistIdentities keeps identities in SQLite under DataDir so password
	// changes survive restarts.
	PersistIdentities bool `json:"persist_identities"`

	Storage StorageConfig `json:"storage"`
	Session SessionConfig `json:"session"`

	// OTLP gRPC endpoint for traces; empty disables tracing.
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"`
}

// StorageConfig selects the key-value backend for the session record and activity log.
type StorageConfig struct {
	// Backend is one of memory, file, sqlite, postgres, mysql (default file).
	Backend string `json:"backend"`
	// DSN is required by the postgres and mysql backends.
	DSN string `json:"dsn,omitempty"`
}

// SessionConfig configures the session manager.
type SessionConfig struct {
	Timeout            Duration `json:"timeout"`
	IdleCheckInterval  Duration `json:"idle_check_interval"`
	MaxLoginAttempts   int      `json:"max_login_attempts"`
	ChallengeRequired  bool     `json:"challenge_required"`
	ChallengeTTL       Duration `json:"challenge_ttl"`
	TempPasswordLength int      `json:"temp_password_length"`
	ActivityLogLimit   int      `json:"activity_log_limit"`
}

// Default returns configuration with sensible defaults.
func Default() Config {
	return Config{
		ListenAddr: ":8080",
		DataDir:    "/var/lib/bnr-portal",
		LogLevel:   "info",
		Storage: StorageConfig{
			Backend: "file",
		},
		Session: SessionConfig{
			Timeout:            Duration(30 * time.Minute),
			IdleCheckInterval:  Duration(60 * time.Second),
			MaxLoginAttempts:   5,
			ChallengeRequired:  true,
			ChallengeTTL:       Duration(5 * time.Minute),
			TempPasswordLength: 12,
			ActivityLogLimit:   1000,
		},
	}
}

// Load reads configuration from a JSON or YAML file (by extension), then
// overlays environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, &cfg)
		default:
			err = json.Unmarshal(data, &cfg)
		}
		if err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("BNR_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("BNR_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("BNR_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BNR_IDENTITIES_FILE"); v != "" {
		cfg.IdentitiesFile = v
	}
	if v := os.Getenv("BNR_PERSIST_IDENTITIES"); v != "" {
		cfg.PersistIdentities = v == "true" || v == "1"
	}
	if v := os.Getenv("BNR_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("BNR_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("BNR_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}
	if v := os.Getenv("BNR_SESSION_TIMEOUT"); v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("BNR_SESSION_TIMEOUT: %w", err)
		}
		cfg.Session.Timeout = Duration(d)
	}
	if v := os.Getenv("BNR_IDLE_CHECK_INTERVAL"); v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("BNR_IDLE_CHECK_INTERVAL: %w", err)
		}
		cfg.Session.IdleCheckInterval = Duration(d)
	}
	if v := os.Getenv("BNR_MAX_LOGIN_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BNR_MAX_LOGIN_ATTEMPTS: %w", err)
		}
		cfg.Session.MaxLoginAttempts = n
	}
	if v := os.Getenv("BNR_CHALLENGE_REQUIRED"); v != "" {
		cfg.Session.ChallengeRequired = v == "true" || v == "1"
	}
	return nil
}

// Validate reports configuration errors that would make the service misbehave.
func (c Config) Validate() error {
	var problems []string
	if c.Session.Timeout.Std() <= 0 {
		problems = append(problems, "session.timeout must be > 0")
	}
	if c.Session.IdleCheckInterval.Std() <= 0 {
		problems = append(problems, "session.idle_check_interval must be > 0")
	}
	if c.Session.MaxLoginAttempts <= 0 {
		problems = append(problems, "session.max_login_attempts must be > 0")
	}
	if c.Session.ActivityLogLimit <= 0 {
		problems = append(problems, "session.activity_log_limit must be > 0")
	}
	switch strings.ToLower(c.Storage.Backend) {
	case "", "memory", "file", "sqlite":
	case "postgres", "postgresql", "mysql":
		if c.Storage.DSN == "" {
			problems = append(problems, "storage.dsn is required for "+c.Storage.Backend)
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown storage.backend %q", c.Storage.Backend))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Save writes configuration to a file as JSON.
func (c Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}
