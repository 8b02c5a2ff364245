package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

const (
	defaultConfigPath       = "/etc/sessionctl/sessionctl.toml"
	defaultDaemonConfigPath = "/etc/sessionctl/sessiond.toml"
	defaultTimeout          = 10 * time.Second
)

// cliConfig is the resolved client configuration.
type cliConfig struct {
	Bus          string
	Timeout      time.Duration
	Output       string
	DaemonConfig string
}

type fileConfig struct {
	Bus          string `toml:"bus"`
	Timeout      string `toml:"timeout"`
	Output       string `toml:"output"`
	DaemonConfig string `toml:"daemon_config"`
}

// envOverrides are read from SESSIONCTL_* variables.
type envOverrides struct {
	Bus          string        `envconfig:"BUS"`
	Timeout      time.Duration `envconfig:"TIMEOUT"`
	Output       string        `envconfig:"OUTPUT"`
	DaemonConfig string        `envconfig:"DAEMON_CONFIG"`
}

func defaultCLIConfig() cliConfig {
	return cliConfig{
		Bus:          "system",
		Timeout:      defaultTimeout,
		Output:       outputTable,
		DaemonConfig: defaultDaemonConfigPath,
	}
}

// loadCLIConfig layers the config file and the environment over defaults.
// A missing file is only an error when path was given explicitly.
func loadCLIConfig(path string, explicit bool) (cliConfig, error) {
	cfg := defaultCLIConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	switch {
	case err == nil:
		if err := applyFile(&cfg, raw, meta); err != nil {
			return cliConfig{}, err
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cliConfig{}, fmt.Errorf("load sessionctl config: %w", err)
	}

	var env envOverrides
	if err := envconfig.Process("SESSIONCTL", &env); err != nil {
		return cliConfig{}, fmt.Errorf("read SESSIONCTL environment: %w", err)
	}
	if v := strings.TrimSpace(env.Bus); v != "" {
		cfg.Bus = v
	}
	if env.Timeout > 0 {
		cfg.Timeout = env.Timeout
	}
	if v := strings.TrimSpace(env.Output); v != "" {
		cfg.Output = v
	}
	if v := strings.TrimSpace(env.DaemonConfig); v != "" {
		cfg.DaemonConfig = v
	}
	return cfg, validateCLIConfig(cfg)
}

func applyFile(cfg *cliConfig, raw fileConfig, meta toml.MetaData) error {
	if meta.IsDefined("bus") {
		cfg.Bus = strings.TrimSpace(raw.Bus)
	}
	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if meta.IsDefined("output") {
		cfg.Output = strings.TrimSpace(raw.Output)
	}
	if meta.IsDefined("daemon_config") {
		cfg.DaemonConfig = strings.TrimSpace(raw.DaemonConfig)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown config keys: %v", undecoded)
	}
	return nil
}

func validateCLIConfig(cfg cliConfig) error {
	switch cfg.Bus {
	case "system", "session":
	default:
		return fmt.Errorf("bus must be system or session, got %q", cfg.Bus)
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", cfg.Timeout)
	}
	switch cfg.Output {
	case outputTable, outputJSON, outputYAML:
	default:
		return fmt.Errorf("output must be table, json or yaml, got %q", cfg.Output)
	}
	return nil
}
