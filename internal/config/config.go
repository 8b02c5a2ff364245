package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/sessionctl/internal/bus"
	"github.com/danmuck/sessionctl/internal/registry"
	"github.com/danmuck/sessionctl/internal/server"
	"github.com/danmuck/sessionctl/internal/session"
	"github.com/pelletier/go-toml/v2"
)

// DaemonConfig is the on-disk configuration of a session daemon.
type DaemonConfig struct {
	Slug               string   `toml:"slug"`
	Type               string   `toml:"type"`
	TransactionTimeout string   `toml:"transaction_timeout"`
	CreatePolicy       string   `toml:"create_policy"`
	UnknownOwnerPolicy string   `toml:"unknown_owner_policy"`
	Bus                string   `toml:"bus"`
	AdminAddr          string   `toml:"admin_addr"`
	AdminToken         string   `toml:"admin_token"`
	AdminTLSCert       string   `toml:"admin_tls_cert"`
	AdminTLSKey        string   `toml:"admin_tls_key"`
	AdminClientCA      string   `toml:"admin_client_ca"`
	CorsOrigins        []string `toml:"cors_origins"`
}

const (
	defaultSlug      = "Generic"
	defaultType      = "ManagerConsole"
	defaultBus       = "system"
	defaultAdminAddr = "127.0.0.1:9180"
)

func LoadDaemonConfig(path string) (DaemonConfig, error) {
	var cfg DaemonConfig
	if err := loadToml(path, &cfg); err != nil {
		return DaemonConfig{}, err
	}
	cfg = cfg.WithDefaults()
	if err := ValidateDaemonConfig(cfg); err != nil {
		return DaemonConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

// WithDefaults fills every empty field except AdminToken and CorsOrigins.
func (c DaemonConfig) WithDefaults() DaemonConfig {
	if strings.TrimSpace(c.Slug) == "" {
		c.Slug = defaultSlug
	}
	if strings.TrimSpace(c.Type) == "" {
		c.Type = defaultType
	}
	if strings.TrimSpace(c.TransactionTimeout) == "" {
		c.TransactionTimeout = registry.DefaultTransactionTimeout.String()
	}
	if strings.TrimSpace(c.Bus) == "" {
		c.Bus = defaultBus
	}
	if strings.TrimSpace(c.AdminAddr) == "" {
		c.AdminAddr = defaultAdminAddr
	}
	return c
}

func ValidateDaemonConfig(cfg DaemonConfig) error {
	if _, err := cfg.Registry(); err != nil {
		return fmt.Errorf("daemon config invalid: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Bus)) {
	case "system", "session":
	default:
		return fmt.Errorf("daemon config invalid: bus must be system or session, got %q", cfg.Bus)
	}
	if strings.TrimSpace(cfg.AdminAddr) == "" {
		return fmt.Errorf("daemon config missing admin_addr")
	}
	if (cfg.AdminTLSCert == "") != (cfg.AdminTLSKey == "") {
		return fmt.Errorf("daemon config invalid: admin_tls_cert and admin_tls_key must be set together")
	}
	if cfg.AdminClientCA != "" && cfg.AdminTLSCert == "" {
		return fmt.Errorf("daemon config invalid: admin_client_ca requires admin_tls_cert")
	}
	return nil
}

// Registry converts the file form into a registry configuration.
func (c DaemonConfig) Registry() (registry.Config, error) {
	slug := strings.TrimSpace(c.Slug)
	if !bus.ValidSlug(slug) {
		return registry.Config{}, fmt.Errorf("%w: slug %q", session.ErrInvalidArgument, c.Slug)
	}
	typ, err := session.ParseType(c.Type)
	if err != nil {
		return registry.Config{}, err
	}
	out := registry.DefaultConfig(slug, typ)
	if raw := strings.TrimSpace(c.TransactionTimeout); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return registry.Config{}, fmt.Errorf("%w: transaction_timeout %q", session.ErrInvalidArgument, c.TransactionTimeout)
		}
		out.TransactionTimeout = d
	}
	if out.CreatePolicy, err = registry.ParseCreatePolicy(c.CreatePolicy); err != nil {
		return registry.Config{}, err
	}
	if out.UnknownOwnerPolicy, err = registry.ParseUnknownOwnerPolicy(c.UnknownOwnerPolicy); err != nil {
		return registry.Config{}, err
	}
	return out, out.Validate()
}

// Admin returns the admin server options.
func (c DaemonConfig) Admin() server.Options {
	return server.Options{
		Addr:         strings.TrimSpace(c.AdminAddr),
		CorsOrigins:  c.CorsOrigins,
		Token:        c.AdminToken,
		TLSCertFile:  c.AdminTLSCert,
		TLSKeyFile:   c.AdminTLSKey,
		ClientCAFile: c.AdminClientCA,
	}
}
