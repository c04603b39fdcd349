// Package config loads node settings from compiled defaults, an optional
// coral.yaml, and CORAL_* environment variables, in rising precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/j-c-b-s-t-w-s-k/coral/internal/escrow"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/sra"
)

// Config carries every node-level knob.
type Config struct {
	// Name is the display name used at tables. Empty falls back to a
	// key-derived handle.
	Name string `mapstructure:"name"`

	// ListenWS is the websocket mesh listen address.
	ListenWS string `mapstructure:"listen_ws"`

	// ListenABCI is the socket address the chain app serves ABCI on.
	ListenABCI string `mapstructure:"listen_abci"`

	// Peers are websocket addresses dialed at startup.
	Peers []string `mapstructure:"peers"`

	// DataDir holds the node key, the hand archive and chain state.
	DataDir string `mapstructure:"data_dir"`

	// NodeKeyFile overrides the default key path under DataDir.
	NodeKeyFile string `mapstructure:"node_key_file"`

	// ModulusBits sizes the cipher sessions generated when hosting.
	ModulusBits int `mapstructure:"modulus_bits"`

	// ActionTimeoutSecs is the per-action deadline used when hosting.
	ActionTimeoutSecs uint64 `mapstructure:"action_timeout_secs"`

	// EscrowTimeoutBlocks is the refund delay requested when opening
	// escrows on chain.
	EscrowTimeoutBlocks int64 `mapstructure:"escrow_timeout_blocks"`

	// LogLevel is a level name ("info") or a module:level filter list
	// ("peer:debug,*:info").
	LogLevel string `mapstructure:"log_level"`
}

// NodeKeyPath resolves the node key location.
func (c Config) NodeKeyPath() string {
	if c.NodeKeyFile != "" {
		return c.NodeKeyFile
	}
	return filepath.Join(c.DataDir, "node_key.json")
}

// ArchivePath resolves the sqlite hand archive location.
func (c Config) ArchivePath() string {
	return filepath.Join(c.DataDir, "archive.db")
}

// ChainDir resolves the chain app's state directory.
func (c Config) ChainDir() string {
	return filepath.Join(c.DataDir, "chain")
}

// Load reads configuration. cfgFile names an explicit config file and must
// exist when given; otherwise coral.yaml is searched in the working
// directory and under ~/.coral, and missing is fine. Environment variables
// override the file: listen_ws becomes CORAL_LISTEN_WS.
func Load(cfgFile string) (Config, error) {
	v := viper.New()

	v.SetDefault("name", "")
	v.SetDefault("listen_ws", "0.0.0.0:9170")
	v.SetDefault("listen_abci", "tcp://127.0.0.1:26658")
	v.SetDefault("peers", []string{})
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("node_key_file", "")
	v.SetDefault("modulus_bits", sra.DefaultModulusBits)
	v.SetDefault("action_timeout_secs", 30)
	v.SetDefault("escrow_timeout_blocks", escrow.DefaultTimeoutBlocks)
	v.SetDefault("log_level", "info")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("coral")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".coral"))
		}
	}
	v.SetEnvPrefix("CORAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ListenWS == "" {
		return fmt.Errorf("config: listen_ws is required")
	}
	if c.ListenABCI == "" {
		return fmt.Errorf("config: listen_abci is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	if c.ModulusBits < sra.MinModulusBits {
		return fmt.Errorf("config: modulus_bits %d below minimum %d", c.ModulusBits, sra.MinModulusBits)
	}
	if c.ActionTimeoutSecs == 0 {
		return fmt.Errorf("config: action_timeout_secs must be positive")
	}
	if c.EscrowTimeoutBlocks <= 0 {
		return fmt.Errorf("config: escrow_timeout_blocks must be positive")
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".coral"
	}
	return filepath.Join(home, ".coral")
}
