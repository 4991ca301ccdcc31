// Package config loads sqlsyncd/sqlsyncctl configuration from a YAML
// file, environment variables (SQLSYNC_ prefix), and defaults, the same
// precedence and viper setup dittofs's pkg/config uses.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/sqlsync/sqlsync/internal/bytesize"
)

// Config is the top-level configuration for either binary; a client only
// ever reads Client, a coordinator only ever reads Coordinator, but both
// share Logging and Database.
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator" yaml:"coordinator"`
	Client      ClientConfig      `mapstructure:"client" yaml:"client"`
}

// LoggingConfig controls internal/logger's structured output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// DatabaseConfig selects and configures the coordinator registry store
// (gorm over sqlite or postgres), mirroring dittofs's store.Config
// DatabaseType switch.
type DatabaseConfig struct {
	// Type is "sqlite" or "postgres".
	Type string `mapstructure:"type" yaml:"type"`
	// DSN is the sqlite file path or postgres connection string.
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// CoordinatorConfig configures sqlsyncd.
type CoordinatorConfig struct {
	// ListenAddr is the address the replication websocket listens on.
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	// DataDir holds the authoritative storage journal and per-client
	// timeline journals (BadgerDB).
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
	// ReducerPath is the filesystem path to the compiled reducer wasm
	// module run for every document.
	ReducerPath string `mapstructure:"reducer_path" yaml:"reducer_path"`
	// MaxMessageSize bounds one replication websocket message (a Frame
	// message carries one whole journal frame, and a storage frame holds
	// every page one commit wrote), rejecting larger reads outright.
	// Accepts human-readable sizes like "4Mi" as well as plain byte
	// counts.
	MaxMessageSize bytesize.ByteSize `mapstructure:"max_message_size" yaml:"max_message_size"`
}

// ClientConfig configures sqlsyncctl.
type ClientConfig struct {
	// CoordinatorURL is the websocket URL of the coordinator to
	// replicate against. Empty disables replication (Disabled state).
	CoordinatorURL string `mapstructure:"coordinator_url" yaml:"coordinator_url"`
	// DataDir holds the client's local storage and timeline journals.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
	// ReducerPath is the filesystem path to the compiled reducer wasm
	// module.
	ReducerPath string `mapstructure:"reducer_path" yaml:"reducer_path"`
	// MaxMessageSize bounds one replication websocket message read from
	// the coordinator. See CoordinatorConfig.MaxMessageSize.
	MaxMessageSize bytesize.ByteSize `mapstructure:"max_message_size" yaml:"max_message_size"`
}

// Default returns a Config with every field set to its default value.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stdout",
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			DSN:  "sqlsyncd.db",
		},
		Coordinator: CoordinatorConfig{
			ListenAddr:     ":7777",
			DataDir:        "./data/coordinator",
			MaxMessageSize: 16 * bytesize.MiB,
		},
		Client: ClientConfig{
			DataDir:        "./data/client",
			MaxMessageSize: 16 * bytesize.MiB,
		},
	}
}

// Load reads configuration from configPath (or, if empty, from
// $XDG_CONFIG_HOME/sqlsync/config.yaml) and fills in any unset fields with
// their defaults. A SQLSYNC_* environment variable overrides only a key
// that the config file itself sets; when no config file is found, Load
// returns Default() and environment variables are not consulted.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if found {
		if err := v.Unmarshal(cfg, viper.DecodeHook(byteSizeDecodeHook())); err != nil {
			return nil, fmt.Errorf("config: unmarshal: %w", err)
		}
	}
	return cfg, nil
}

// byteSizeDecodeHook lets config files and SQLSYNC_* environment
// variables express a max_message_size as a human-readable string
// ("16Mi", "4MB") or a plain byte count, the same convenience dittofs's
// pkg/config gives its own ByteSize-typed fields.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("SQLSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(defaultConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("config: read config file: %w", err)
	}
	return true, nil
}

func defaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "sqlsync")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "sqlsync")
}

// DefaultConfigPath returns the path Load checks when configPath is
// empty.
func DefaultConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.yaml")
}

// ReconnectBackoffMin and ReconnectBackoffMax mirror pkg/connstate's
// defaults, exposed here so CLI flags can override them without callers
// importing connstate just for its constants.
const (
	ReconnectBackoffMin = 10 * time.Millisecond
	ReconnectBackoffMax = 5 * time.Second
)
