package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/sessionctl/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessionctl.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadCLIConfigMissingFile(t *testing.T) {
	testlog.Start(t)
	missing := filepath.Join(t.TempDir(), "none.toml")
	cfg, err := loadCLIConfig(missing, false)
	if err != nil {
		t.Fatalf("implicit missing file should fall back to defaults: %v", err)
	}
	if cfg != defaultCLIConfig() {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if _, err := loadCLIConfig(missing, true); err == nil {
		t.Fatalf("explicit missing file must fail")
	}
}

func TestLoadCLIConfigOverlaysDefinedKeys(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `bus = "session"
timeout = "3s"
`)
	cfg, err := loadCLIConfig(path, true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Bus != "session" || cfg.Timeout != 3*time.Second {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Output != outputTable || cfg.DaemonConfig != defaultDaemonConfigPath {
		t.Fatalf("undefined keys must keep defaults: %+v", cfg)
	}
}

func TestLoadCLIConfigEnvironmentWins(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `output = "yaml"`+"\n")
	t.Setenv("SESSIONCTL_OUTPUT", "json")
	t.Setenv("SESSIONCTL_TIMEOUT", "750ms")
	cfg, err := loadCLIConfig(path, true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Output != outputJSON || cfg.Timeout != 750*time.Millisecond {
		t.Fatalf("environment not applied: %+v", cfg)
	}
}

func TestLoadCLIConfigRejects(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad timeout", `timeout = "later"`, "parse timeout"},
		{"zero timeout", `timeout = "0s"`, "timeout must be positive"},
		{"bad bus", `bus = "tcp"`, "bus must be"},
		{"bad output", `output = "xml"`, "output must be"},
		{"unknown key", `colour = true`, "unknown config keys"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadCLIConfig(writeConfig(t, tc.body+"\n"), true)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q, got %v", tc.want, err)
			}
		})
	}
}
