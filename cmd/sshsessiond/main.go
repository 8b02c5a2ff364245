package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/sessionctl/internal/api"
	"github.com/danmuck/sessionctl/internal/bus/dbusconn"
	"github.com/danmuck/sessionctl/internal/config"
	logs "github.com/danmuck/sessionctl/internal/logging"
	"github.com/danmuck/sessionctl/internal/observability"
	"github.com/danmuck/sessionctl/internal/registry"
	"github.com/danmuck/sessionctl/internal/server"
	"github.com/danmuck/sessionctl/internal/sources/ssh"
	"github.com/spf13/pflag"
)

const defaultConfigPath = "/etc/sessionctl/sshsessiond.toml"

func main() {
	logs.ConfigureRuntime()
	path := pflag.String("config", defaultConfigPath, "daemon config file")
	noAdmin := pflag.Bool("no-admin", false, "do not start the admin HTTP server")
	pflag.Parse()

	if err := run(*path, !*noAdmin); err != nil {
		fmt.Fprintf(os.Stderr, "sshsessiond: %v\n", err)
		os.Exit(1)
	}
}

func run(path string, admin bool) error {
	cfg, err := config.LoadDaemonConfig(path)
	if err != nil {
		return err
	}
	rcfg, err := cfg.Registry()
	if err != nil {
		return err
	}
	observability.InitLogger("sshsessiond", rcfg.Slug)

	conn, err := dbusconn.Connect(cfg.Bus)
	if err != nil {
		return err
	}
	defer conn.Close()

	var proc api.Process
	if st := proc.Init(rcfg, registry.Deps{Publisher: conn, Mapper: conn, Properties: conn, Caller: conn}); !st.OK() {
		return fmt.Errorf("init session registry: %s: %w", st, proc.LastError())
	}
	defer proc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	watcher := ssh.NewWatcher(dbusconn.NewSystemd(conn), &proc)
	go func() { errCh <- watcher.Run(ctx) }()
	workers := 1
	if admin {
		srv, err := server.New(proc.Registry(), cfg.Admin())
		if err != nil {
			stop()
			<-errCh
			return err
		}
		go func() { errCh <- srv.Serve(ctx) }()
		workers++
	}

	var errs []error
	for i := 0; i < workers; i++ {
		if err := <-errCh; err != nil {
			errs = append(errs, err)
		}
		// the first worker to return ends the others
		stop()
	}
	logs.Infof("sshsessiond.run stopped slug=%s", rcfg.Slug)
	return errors.Join(errs...)
}
