package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePebble   = "pebble"
	StorePostgres = "postgres"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	Store         string
	PebbleDir     string
	PGDSN         string
	EventsOut     string
	ShareDecimals uint8
	MaxRetries    int
	RetryBackoff  time.Duration
	LogLevel      string
}

// RegisterFlags declares the flags understood by Load.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("store", StoreMemory, "state backend (memory, pebble, postgres)")
	fs.String("pebble-dir", "./data/pebble", "pebble database directory")
	fs.String("pg-dsn", "", "Postgres DSN")
	fs.String("events-out", "", "event journal JSONL path, empty disables")
	fs.Uint("share-decimals", 8, "decimals of newly deployed share assets")
	fs.Int("max-retries", 3, "maximum backend connect retries")
	fs.Duration("retry-backoff", 500*time.Millisecond, "initial backend connect backoff")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AMM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("store", StoreMemory)
	v.SetDefault("pebble-dir", "./data/pebble")
	v.SetDefault("share-decimals", 8)
	v.SetDefault("max-retries", 3)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	decimals := v.GetUint("share-decimals")
	if decimals > 255 {
		return Config{}, fmt.Errorf("share-decimals %d out of range", decimals)
	}

	cfg := Config{
		Store:         strings.ToLower(strings.TrimSpace(v.GetString("store"))),
		PebbleDir:     v.GetString("pebble-dir"),
		PGDSN:         v.GetString("pg-dsn"),
		EventsOut:     v.GetString("events-out"),
		ShareDecimals: uint8(decimals),
		MaxRetries:    v.GetInt("max-retries"),
		RetryBackoff:  v.GetDuration("retry-backoff"),
		LogLevel:      v.GetString("log-level"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePebble:
		if c.PebbleDir == "" {
			return fmt.Errorf("pebble-dir is required for store %q", c.Store)
		}
	case StorePostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("pg-dsn is required for store %q", c.Store)
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	return nil
}
