package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/danmuck/sessionctl/internal/bus/dbusconn"
	logs "github.com/danmuck/sessionctl/internal/logging"
	"github.com/spf13/pflag"
)

const usage = `usage: sessionctl [global flags] <command> [args]

commands:
  list                         list every session on the bus
  info <id>                    describe one session
  close <id>                   close one session
  close-all <selector>         close sessions by --owner, --address, --type or --all
  commit <slug> <owner> <addr> commit the pending build of a registry
  serve                        run a session registry with its admin server
`

var errUsage = errors.New("usage")

func main() {
	logs.ConfigureRuntime()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("sessionctl", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(stderr)
	configPath := fs.String("config", defaultConfigPath, "client config file")
	busKind := fs.String("bus", "", "bus to use: system|session")
	output := fs.StringP("output", "o", "", "output format: table|json|yaml")
	timeout := fs.Duration("timeout", 0, "per command bus timeout")
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := loadCLIConfig(*configPath, fs.Changed("config"))
	if err != nil {
		fmt.Fprintf(stderr, "sessionctl: %v\n", err)
		return 1
	}
	if fs.Changed("bus") {
		cfg.Bus = strings.TrimSpace(*busKind)
	}
	if fs.Changed("output") {
		cfg.Output = strings.TrimSpace(*output)
	}
	if fs.Changed("timeout") {
		cfg.Timeout = *timeout
	}
	if err := validateCLIConfig(cfg); err != nil {
		fmt.Fprintf(stderr, "sessionctl: %v\n", err)
		return 2
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	a := &app{
		cfg:    cfg,
		stdout: stdout,
		stderr: stderr,
		dial: func(kind string) (busClient, error) {
			return dbusconn.Connect(kind)
		},
	}
	if err := a.dispatch(rest[0], rest[1:]); err != nil {
		fmt.Fprintf(stderr, "sessionctl %s: %v\n", rest[0], err)
		if errors.Is(err, errUsage) {
			return 2
		}
		return 1
	}
	return 0
}
