package main

import (
	"os"
	"strings"

	"github.com/danmuck/sessionctl/internal/config"
	logs "github.com/danmuck/sessionctl/internal/logging"
	flag "github.com/spf13/pflag"
)

var defaultTargets = map[string]string{
	"sessiond":    "/etc/sessionctl/sessiond.toml",
	"sshsessiond": "/etc/sessionctl/sshsessiond.toml",
}

func main() {
	kind := flag.String("kind", "sessiond", "config kind: sessiond|sshsessiond")
	output := flag.String("output", "", "output path for config template (defaults to per-kind /etc path)")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind /etc path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	logs.ConfigureRuntime()
	os.Exit(run(*kind, *output, *input, *validate, *force))
}

func run(kind, output, input string, validate, force bool) int {
	if _, err := config.Template(kind); err != nil {
		logs.Errorf("%v", err)
		return 2
	}
	if validate {
		path := pick(input, kind)
		cfg, err := config.LoadDaemonConfig(path)
		if err != nil {
			logs.Errorf("configgen validate path=%s err=%v", path, err)
			return 1
		}
		logs.Infof("configgen validated kind=%s path=%s slug=%s", kind, path, cfg.Slug)
		return 0
	}

	target := pick(output, kind)
	if err := config.WriteTemplate(target, kind, force); err != nil {
		logs.Errorf("configgen write path=%s err=%v", target, err)
		return 1
	}
	logs.Infof("configgen wrote kind=%s path=%s", kind, target)
	return 0
}

func pick(path, kind string) string {
	if path != "" {
		return path
	}
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "ssh" {
		kind = "sshsessiond"
	}
	return defaultTargets[kind]
}
