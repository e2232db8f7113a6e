package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names recognized by the loader.
const (
	EnvConfigPath   = "CONFIG_PATH"
	EnvStorageMode  = "STORAGE_MODE"
	EnvDBConnection = "DB_CONNECTION"
	EnvJWTSecret    = "JWT_SECRET"
	EnvRedisAddr    = "REDIS_ADDR"
)

// Storage tiers. The credential store contract is identical across all three;
// only durability and horizontal scalability differ.
const (
	// StorageModeMemory keeps all state in an in-memory database (volatile).
	StorageModeMemory = "memory"
	// StorageModeSQLite persists to a local SQLite file (single-node durable).
	StorageModeSQLite = "sqlite"
	// StorageModePostgres persists to an external PostgreSQL (replicated).
	StorageModePostgres = "postgres"
)

// Connection pool defaults for the postgres tier.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 300
)

// StorageConfig selects the storage tier and its connection settings.
type StorageConfig struct {
	Mode            string `yaml:"mode"`              // memory, sqlite or postgres.
	Path            string `yaml:"path"`              // SQLite file path.
	DSN             string `yaml:"dsn"`               // PostgreSQL connection URL.
	MaxOpenConns    int    `yaml:"max-open-conns"`    // Pool: max open connections.
	MaxIdleConns    int    `yaml:"max-idle-conns"`    // Pool: max idle connections.
	ConnMaxLifetime int    `yaml:"conn-max-lifetime"` // Pool: connection lifetime seconds.
}

// IdentityConfig configures how caller identity is established.
type IdentityConfig struct {
	JWTSecret      string `yaml:"jwt-secret"`      // HS256 secret for identity-layer bearers.
	TrustedHeaders bool   `yaml:"trusted-headers"` // Accept forwarded identity headers.
	AdminGroup     string `yaml:"admin-group"`     // Group granted the declaration API.
}

// ProbeConfig bounds model liveness probes.
type ProbeConfig struct {
	Timeout     time.Duration `yaml:"timeout"`     // Per-probe timeout.
	Concurrency int           `yaml:"concurrency"` // Probe fan-out limit.
}

// RedisConfig enables the replicated limiter backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`     // host:port, empty disables Redis.
	Password string `yaml:"password"` // Optional password.
	DB       int    `yaml:"db"`       // Database index.
	Prefix   string `yaml:"prefix"`   // Key prefix.
}

// RegistryConfig configures backend resolution.
type RegistryConfig struct {
	SyncInterval time.Duration     `yaml:"sync-interval"` // Resolver loop interval.
	Endpoints    map[string]string `yaml:"endpoints"`     // Base endpoint per backend ref name.
}

// Config holds the full application configuration.
type Config struct {
	Port     int            `yaml:"port"`     // HTTP listen port.
	Storage  StorageConfig  `yaml:"storage"`  // Storage tier settings.
	Identity IdentityConfig `yaml:"identity"` // Identity boundary settings.
	Probe    ProbeConfig    `yaml:"probe"`    // Discovery probe settings.
	Redis    RedisConfig    `yaml:"redis"`    // Limiter backend settings.
	Registry RegistryConfig `yaml:"registry"` // Backend resolver settings.
}

// Defaults applied when the file or env omit values.
const (
	defaultPort             = 8443
	defaultProbeTimeout     = 5 * time.Second
	defaultProbeConcurrency = 10
	defaultSyncInterval     = 30 * time.Second
	defaultAdminGroup       = "modelgate-admins"
)

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// Load reads the YAML config file, applies env overrides, and fills defaults.
// A missing file is not an error; env and defaults still apply.
func Load(configPath string) (Config, error) {
	var cfg Config

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", configPath, errUnmarshal)
		}
	} else if !os.IsNotExist(errRead) {
		return Config{}, fmt.Errorf("config: read %s: %w", configPath, errRead)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if errValidate := cfg.Validate(); errValidate != nil {
		return Config{}, errValidate
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if mode := strings.TrimSpace(os.Getenv(EnvStorageMode)); mode != "" {
		cfg.Storage.Mode = mode
	}
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		cfg.Storage.DSN = dsn
		if cfg.Storage.Mode == "" {
			cfg.Storage.Mode = StorageModePostgres
		}
	}
	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		cfg.Identity.JWTSecret = secret
	}
	if addr := strings.TrimSpace(os.Getenv(EnvRedisAddr)); addr != "" {
		cfg.Redis.Addr = addr
	}
	if raw := strings.TrimSpace(os.Getenv("PORT")); raw != "" {
		if port, errParse := strconv.Atoi(raw); errParse == nil {
			cfg.Port = port
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Port <= 0 {
		cfg.Port = defaultPort
	}
	if cfg.Storage.Mode == "" {
		cfg.Storage.Mode = StorageModeMemory
	}
	if cfg.Probe.Timeout <= 0 {
		cfg.Probe.Timeout = defaultProbeTimeout
	}
	if cfg.Probe.Concurrency <= 0 {
		cfg.Probe.Concurrency = defaultProbeConcurrency
	}
	if cfg.Registry.SyncInterval <= 0 {
		cfg.Registry.SyncInterval = defaultSyncInterval
	}
	if strings.TrimSpace(cfg.Identity.AdminGroup) == "" {
		cfg.Identity.AdminGroup = defaultAdminGroup
	}
}

// Validate checks cross-field constraints after env and defaults applied.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port: %d", c.Port)
	}
	switch c.Storage.Mode {
	case StorageModeMemory, StorageModeSQLite:
	case StorageModePostgres:
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return fmt.Errorf("config: postgres storage requires a dsn (set `storage.dsn` or env %s)", EnvDBConnection)
		}
	default:
		return fmt.Errorf("config: unknown storage mode: %s (want memory, sqlite or postgres)", c.Storage.Mode)
	}
	return nil
}
