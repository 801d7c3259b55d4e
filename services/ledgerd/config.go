package ledgerd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"stakeledger/native/revenue"
	"stakeledger/native/staking"
)

// Storage drivers accepted by the daemon.
const (
	DriverMemory   = "memory"
	DriverLevelDB  = "leveldb"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for ledgerd.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	Environment   string          `yaml:"env"`
	PauseOnStart  bool            `yaml:"pause"`
	GenesisPath   string          `yaml:"genesis"`
	Storage       StorageConfig   `yaml:"storage"`
	Idempotency   StorageConfig   `yaml:"idempotency"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Ledger        LedgerConfig    `yaml:"ledger"`
	Logging       LoggingConfig   `yaml:"logging"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
}

// StorageConfig selects the ledger state backend.
type StorageConfig struct {
	Driver  string `yaml:"driver"`
	Path    string `yaml:"path"`
	DSN     string `yaml:"dsn"`
	DSNFile string `yaml:"dsn_file"`
	DSNEnv  string `yaml:"dsn_env"`
}

// AuthConfig configures JWT caller authentication.
type AuthConfig struct {
	HMACSecret     string   `yaml:"hmac_secret"`
	HMACSecretFile string   `yaml:"hmac_secret_file"`
	HMACSecretEnv  string   `yaml:"hmac_secret_env"`
	Issuer         string   `yaml:"issuer"`
	Audience       string   `yaml:"audience"`
	AdminScope     string   `yaml:"admin_scope"`
	ClockSkew      Duration `yaml:"clock_skew"`
}

// RateLimitConfig bounds requests per authenticated caller.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// LedgerConfig tunes engine policy.
type LedgerConfig struct {
	LockUnit       Duration            `yaml:"lock_unit"`
	CarryRemainder bool                `yaml:"carry_remainder"`
	Percentages    revenue.Percentages `yaml:"percentages"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	Headers  string `yaml:"headers"`
	Metrics  bool   `yaml:"metrics"`
	Traces   bool   `yaml:"traces"`
	// SampleRatio keeps this fraction of root spans; 0 keeps all.
	SampleRatio    float64  `yaml:"sample_ratio"`
	MetricInterval Duration `yaml:"metric_interval"`
}

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.prepare(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (cfg *Config) prepare() error {
	if err := cfg.Storage.normalise(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := cfg.Idempotency.normalise(); err != nil {
		return fmt.Errorf("idempotency: %w", err)
	}
	if err := cfg.Auth.normalise(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	applyDefaults(cfg)
	return validateConfig(*cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverMemory
	}
	if cfg.Idempotency.Driver == "" {
		cfg.Idempotency.Driver = DriverSQLite
	}
	if cfg.Idempotency.Driver == DriverSQLite && cfg.Idempotency.DSN == "" && cfg.Idempotency.DSNFile == "" && cfg.Idempotency.DSNEnv == "" {
		cfg.Idempotency.DSN = "file:ledgerd-idempotency?mode=memory&cache=shared"
	}
	if cfg.Auth.AdminScope == "" {
		cfg.Auth.AdminScope = "ledger.admin"
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 600
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 60
	}
	if cfg.Ledger.LockUnit.Duration == 0 {
		cfg.Ledger.LockUnit.Duration = time.Duration(staking.DefaultLockUnitSeconds) * time.Second
	}
	if cfg.Ledger.Percentages.IsZero() {
		cfg.Ledger.Percentages = revenue.DefaultPercentages
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
}

func validateConfig(cfg Config) error {
	switch cfg.Storage.Driver {
	case DriverMemory:
	case DriverLevelDB:
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return fmt.Errorf("storage path must be configured for leveldb")
		}
	case DriverSQLite, DriverPostgres:
		if cfg.Storage.DSN == "" {
			return fmt.Errorf("storage dsn must be configured for %s", cfg.Storage.Driver)
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
	switch cfg.Idempotency.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("idempotency driver must be sqlite or postgres")
	}
	if cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth hmac_secret must be configured")
	}
	if cfg.Ledger.LockUnit.Duration < time.Second {
		return fmt.Errorf("ledger lock_unit must be at least one second")
	}
	if err := cfg.Ledger.Percentages.Validate(); err != nil {
		return fmt.Errorf("ledger percentages: %w", err)
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry sample_ratio must be within [0,1]")
	}
	return nil
}

func (s *StorageConfig) normalise() error {
	s.Driver = strings.ToLower(strings.TrimSpace(s.Driver))
	s.DSN = strings.TrimSpace(s.DSN)
	s.DSNEnv = strings.TrimSpace(s.DSNEnv)
	s.DSNFile = strings.TrimSpace(s.DSNFile)
	if s.DSN != "" {
		return nil
	}
	switch {
	case s.DSNEnv != "":
		value := strings.TrimSpace(os.Getenv(s.DSNEnv))
		if value == "" {
			return fmt.Errorf("dsn_env %s is empty", s.DSNEnv)
		}
		s.DSN = value
	case s.DSNFile != "":
		contents, err := os.ReadFile(s.DSNFile)
		if err != nil {
			return fmt.Errorf("read dsn_file: %w", err)
		}
		s.DSN = strings.TrimSpace(string(contents))
	}
	return nil
}

func (a *AuthConfig) normalise() error {
	a.HMACSecret = strings.TrimSpace(a.HMACSecret)
	a.HMACSecretEnv = strings.TrimSpace(a.HMACSecretEnv)
	a.HMACSecretFile = strings.TrimSpace(a.HMACSecretFile)
	if a.HMACSecret != "" {
		return nil
	}
	switch {
	case a.HMACSecretEnv != "":
		value := strings.TrimSpace(os.Getenv(a.HMACSecretEnv))
		if value == "" {
			return fmt.Errorf("hmac_secret_env %s is empty", a.HMACSecretEnv)
		}
		a.HMACSecret = value
	case a.HMACSecretFile != "":
		contents, err := os.ReadFile(a.HMACSecretFile)
		if err != nil {
			return fmt.Errorf("read hmac_secret_file: %w", err)
		}
		a.HMACSecret = strings.TrimSpace(string(contents))
	}
	return nil
}

// LockUnitSeconds returns the configured lock unit in whole seconds.
func (l LedgerConfig) LockUnitSeconds() int64 {
	return int64(l.LockUnit.Duration / time.Second)
}
