// Package config loads engine settings from defaults, an optional config
// file and PGRNSCAN_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Engine roles
const (
	RolePrimary   = "primary"
	RoleSecondary = "secondary"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "PGRNSCAN"

// Config stores all configuration of the engine.
type Config struct {
	Engine  EngineConfig  `mapstructure:"engine"`
	WAL     WALConfig     `mapstructure:"wal"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Build   BuildConfig   `mapstructure:"build"`
}

// EngineConfig configures the embedded engine database.
type EngineConfig struct {
	Path                   string        `mapstructure:"path"`
	Writable               bool          `mapstructure:"writable"`
	Role                   string        `mapstructure:"role"`
	CrashSaferPollInterval time.Duration `mapstructure:"crash_safer_poll_interval"`
	CrashSaferWaitTimeout  time.Duration `mapstructure:"crash_safer_wait_timeout"`
	// FTSSections is the number of sections a tokenized lexicon keeps for
	// array values. Elements past the last section share it.
	FTSSections int `mapstructure:"fts_sections"`
}

// WALConfig configures the engine write-ahead log.
type WALConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	Compress bool `mapstructure:"compress"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `mapstructure:"level"`
	Path  string `mapstructure:"path"`
}

// MetricsConfig configures the Prometheus listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// BuildConfig configures index builds.
type BuildConfig struct {
	Workers int `mapstructure:"workers"`
}

// DefaultPath is the database file used when engine.path isn't set.
var DefaultPath = filepath.Join(homeDir(), ".pgrnscan", "pgrn.db")

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return home
}

func defaults() map[string]any {
	return map[string]any{
		"engine.path":                      DefaultPath,
		"engine.writable":                  true,
		"engine.role":                      RolePrimary,
		"engine.crash_safer_poll_interval": 100 * time.Millisecond,
		"engine.crash_safer_wait_timeout":  10 * time.Second,
		"engine.fts_sections":              8,
		"wal.enabled":                      false,
		"wal.compress":                     false,
		"log.level":                        "info",
		"log.path":                         "",
		"metrics.addr":                     "",
		"build.workers":                    runtime.NumCPU(),
	}
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			Path:                   DefaultPath,
			Writable:               true,
			Role:                   RolePrimary,
			CrashSaferPollInterval: 100 * time.Millisecond,
			CrashSaferWaitTimeout:  10 * time.Second,
			FTSSections:            8,
		},
		Log:   LogConfig{Level: "info"},
		Build: BuildConfig{Workers: runtime.NumCPU()},
	}
}

// LoadConfig reads configuration from file or environment variables. An
// empty configPath searches pgrnscan.yaml in the working directory and in
// ~/.pgrnscan.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(homeDir(), ".pgrnscan"))
		v.SetConfigName("pgrnscan")
		v.SetConfigType("yaml")
	}

	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine can't run with.
func (c *Config) Validate() error {
	switch c.Engine.Role {
	case RolePrimary, RoleSecondary:
	default:
		return fmt.Errorf("invalid engine.role %q: must be %s or %s", c.Engine.Role, RolePrimary, RoleSecondary)
	}
	if c.Engine.FTSSections < 1 {
		return fmt.Errorf("invalid engine.fts_sections %d: must be >= 1", c.Engine.FTSSections)
	}
	if c.Engine.CrashSaferPollInterval <= 0 {
		return fmt.Errorf("invalid engine.crash_safer_poll_interval %s", c.Engine.CrashSaferPollInterval)
	}
	if c.Build.Workers < 1 {
		c.Build.Workers = 1
	}
	return nil
}
