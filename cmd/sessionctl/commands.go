package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/sessionctl/internal/bus"
	"github.com/danmuck/sessionctl/internal/bus/dbusconn"
	"github.com/danmuck/sessionctl/internal/config"
	logs "github.com/danmuck/sessionctl/internal/logging"
	"github.com/danmuck/sessionctl/internal/lookup"
	"github.com/danmuck/sessionctl/internal/observability"
	"github.com/danmuck/sessionctl/internal/registry"
	"github.com/danmuck/sessionctl/internal/server"
	"github.com/danmuck/sessionctl/internal/session"
	"github.com/spf13/pflag"
)

// busClient is what the client commands need from a bus connection.
type busClient interface {
	bus.Mapper
	bus.PropertyReader
	bus.Caller
	Close() error
}

type app struct {
	cfg    cliConfig
	stdout io.Writer
	stderr io.Writer
	dial   func(kind string) (busClient, error)
}

func (a *app) dispatch(name string, args []string) error {
	switch name {
	case "list":
		return a.list(args)
	case "info":
		return a.info(args)
	case "close":
		return a.closeOne(args)
	case "close-all":
		return a.closeAll(args)
	case "commit":
		return a.commit(args)
	case "serve":
		return a.serve(args)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}
}

func (a *app) flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

// withBus runs fn against a fresh connection bounded by the configured timeout.
func (a *app) withBus(fn func(ctx context.Context, c busClient) error) error {
	c, err := a.dial(a.cfg.Bus)
	if err != nil {
		return err
	}
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Timeout)
	defer cancel()
	return fn(ctx, c)
}

func scanner(c busClient) lookup.Scanner {
	return lookup.Scanner{Mapper: c, Properties: c}
}

func (a *app) list(args []string) error {
	fs := a.flags("list")
	typeName := fs.String("type", "", "only list sessions of this type")
	owner := fs.String("owner", "", "only list sessions of this owner")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	match, err := selector(*owner, "", *typeName, false)
	if err != nil {
		return err
	}
	return a.withBus(func(ctx context.Context, c busClient) error {
		all, err := scanner(c).Find(ctx, nil)
		if err != nil {
			return err
		}
		out := make([]session.Info, 0, len(all))
		for _, info := range all {
			if match(info) {
				out = append(out, info)
			}
		}
		return printSessions(a.stdout, a.cfg.Output, out)
	})
}

func (a *app) info(args []string) error {
	fs := a.flags("info")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	id, err := singleID(fs.Args())
	if err != nil {
		return err
	}
	return a.withBus(func(ctx context.Context, c busClient) error {
		found, err := scanner(c).Find(ctx, nil, id)
		if err != nil {
			return err
		}
		for _, info := range found {
			if info.ID == id {
				return printSession(a.stdout, a.cfg.Output, info)
			}
		}
		return fmt.Errorf("%w: session %s", session.ErrNotFound, id)
	})
}

func (a *app) closeOne(args []string) error {
	fs := a.flags("close")
	noCleanup := fs.Bool("no-cleanup", false, "skip the owner's cleanup callback")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	id, err := singleID(fs.Args())
	if err != nil {
		return err
	}
	return a.withBus(func(ctx context.Context, c busClient) error {
		candidates, err := scanner(c).Candidates(ctx, nil)
		if err != nil {
			return err
		}
		for _, cand := range candidates {
			if cand.ID != id {
				continue
			}
			if err := c.CloseSession(ctx, cand.Service, cand.Path, !*noCleanup); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "closed %s on %s\n", id, cand.Service)
			return nil
		}
		return fmt.Errorf("%w: session %s", session.ErrNotFound, id)
	})
}

func (a *app) closeAll(args []string) error {
	fs := a.flags("close-all")
	owner := fs.String("owner", "", "close sessions of this owner")
	address := fs.String("address", "", "close sessions from this remote address")
	typeName := fs.String("type", "", "close sessions of this type")
	all := fs.Bool("all", false, "close every session")
	noCleanup := fs.Bool("no-cleanup", false, "skip the owners' cleanup callbacks")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	selectors := 0
	for _, set := range []bool{*owner != "", *address != "", *typeName != "", *all} {
		if set {
			selectors++
		}
	}
	if selectors != 1 {
		return fmt.Errorf("%w: exactly one of --owner, --address, --type or --all is required", errUsage)
	}
	match, err := selector(*owner, *address, *typeName, *all)
	if err != nil {
		return err
	}
	return a.withBus(func(ctx context.Context, c busClient) error {
		infos, err := scanner(c).Find(ctx, nil)
		if err != nil {
			return err
		}
		closed := 0
		for _, info := range infos {
			if !match(info) {
				continue
			}
			if err := c.CloseSession(ctx, info.ServiceName, info.ObjectPath, !*noCleanup); err != nil {
				logs.Warnf("sessionctl.closeAll id=%s service=%s err=%v", info.ID, info.ServiceName, err)
				continue
			}
			closed++
		}
		fmt.Fprintf(a.stdout, "closed %d session(s)\n", closed)
		return nil
	})
}

func (a *app) commit(args []string) error {
	fs := a.flags("commit")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	rest := fs.Args()
	if len(rest) != 3 {
		return fmt.Errorf("%w: commit <slug> <owner> <address>", errUsage)
	}
	return a.withBus(func(ctx context.Context, c busClient) error {
		if err := registry.CommitRemote(ctx, c, rest[0], rest[1], rest[2]); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "committed %s build for %s from %s\n", rest[0], rest[1], rest[2])
		return nil
	})
}

func (a *app) serve(args []string) error {
	fs := a.flags("serve")
	path := fs.String("daemon-config", a.cfg.DaemonConfig, "daemon config file")
	addr := fs.String("addr", "", "override admin_addr")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	dcfg, err := config.LoadDaemonConfig(*path)
	if err != nil {
		return err
	}
	if fs.Changed("addr") {
		dcfg.AdminAddr = strings.TrimSpace(*addr)
	}
	rcfg, err := dcfg.Registry()
	if err != nil {
		return err
	}
	observability.InitLogger("sessionctl", rcfg.Slug)

	conn, err := dbusconn.Connect(dcfg.Bus)
	if err != nil {
		return err
	}
	defer conn.Close()
	reg, err := registry.New(rcfg, registry.Deps{Publisher: conn, Mapper: conn, Properties: conn, Caller: conn})
	if err != nil {
		return err
	}
	defer reg.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	srv, err := server.New(reg, dcfg.Admin())
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// selector builds the session filter for the close-all and list flags.
// Empty criteria match everything.
func selector(owner, address, typeName string, all bool) (func(session.Info) bool, error) {
	var (
		typ    session.Type
		byType bool
	)
	if strings.TrimSpace(typeName) != "" {
		t, err := session.ParseType(typeName)
		if err != nil {
			return nil, err
		}
		typ, byType = t, true
	}
	return func(info session.Info) bool {
		switch {
		case all:
			return true
		case owner != "" && info.Owner != owner:
			return false
		case address != "" && info.RemoteAddress != address:
			return false
		case byType && info.Type != typ:
			return false
		}
		return true
	}, nil
}

func singleID(args []string) (session.ID, error) {
	if len(args) != 1 {
		return session.InvalidID, fmt.Errorf("%w: exactly one session id is required", errUsage)
	}
	return session.ParseID(args[0])
}
