package dbusconn

import (
	"context"
	"fmt"

	logs "github.com/danmuck/sessionctl/internal/logging"
	"github.com/danmuck/sessionctl/internal/sources/ssh"
	"github.com/godbus/dbus/v5"
)

const (
	systemdService   = "org.freedesktop.systemd1"
	systemdPath      = "/org/freedesktop/systemd1"
	systemdInterface = "org.freedesktop.systemd1.Manager"

	// stopMode leaves the socket unit and other dependencies running.
	stopMode = "ignore-dependencies"
)

// unitStatus is one entry of the systemd ListUnits reply.
type unitStatus struct {
	Name        string
	Description string
	LoadState   string
	ActiveState string
	SubState    string
	Followed    string
	Path        dbus.ObjectPath
	JobID       uint32
	JobType     string
	JobPath     dbus.ObjectPath
}

// Systemd drives the systemd manager over the bus.
type Systemd struct {
	conn *dbus.Conn
}

var _ ssh.Units = (*Systemd)(nil)

func NewSystemd(c *Conn) *Systemd {
	return &Systemd{conn: c.conn}
}

func (s *Systemd) manager() dbus.BusObject {
	return s.conn.Object(systemdService, dbus.ObjectPath(systemdPath))
}

func (s *Systemd) ListUnits(ctx context.Context) ([]string, error) {
	var units []unitStatus
	if err := s.manager().CallWithContext(ctx, systemdInterface+".ListUnits", 0).Store(&units); err != nil {
		return nil, fmt.Errorf("systemd ListUnits: %w", fromDBusError(err))
	}
	names := make([]string, 0, len(units))
	for _, u := range units {
		names = append(names, u.Name)
	}
	return names, nil
}

func (s *Systemd) StopUnit(ctx context.Context, name string) error {
	call := s.manager().CallWithContext(ctx, systemdInterface+".StopUnit", 0, name, stopMode)
	if call.Err != nil {
		return fmt.Errorf("systemd StopUnit %s: %w", name, fromDBusError(call.Err))
	}
	return nil
}

// Events subscribes to manager signals and forwards UnitNew and
// UnitRemoved until ctx ends.
func (s *Systemd) Events(ctx context.Context) (<-chan ssh.UnitEvent, error) {
	if call := s.manager().CallWithContext(ctx, systemdInterface+".Subscribe", 0); call.Err != nil {
		return nil, fmt.Errorf("systemd Subscribe: %w", fromDBusError(call.Err))
	}
	opts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(dbus.ObjectPath(systemdPath)),
		dbus.WithMatchInterface(systemdInterface),
	}
	if err := s.conn.AddMatchSignalContext(ctx, opts...); err != nil {
		return nil, fmt.Errorf("systemd add match: %w", err)
	}
	signals := make(chan *dbus.Signal, 32)
	s.conn.Signal(signals)

	out := make(chan ssh.UnitEvent, 32)
	go func() {
		defer close(out)
		defer func() {
			s.conn.RemoveSignal(signals)
			if err := s.conn.RemoveMatchSignal(opts...); err != nil {
				logs.Debugf("dbusconn.Systemd.Events remove match err=%v", err)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				ev, ok := unitEvent(sig)
				if !ok {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// unitEvent decodes a UnitNew or UnitRemoved signal; both carry (so).
func unitEvent(sig *dbus.Signal) (ssh.UnitEvent, bool) {
	if sig == nil || sig.Path != dbus.ObjectPath(systemdPath) || len(sig.Body) == 0 {
		return ssh.UnitEvent{}, false
	}
	var kind ssh.EventKind
	switch sig.Name {
	case systemdInterface + ".UnitNew":
		kind = ssh.UnitNew
	case systemdInterface + ".UnitRemoved":
		kind = ssh.UnitRemoved
	default:
		return ssh.UnitEvent{}, false
	}
	name, ok := sig.Body[0].(string)
	if !ok {
		logs.Warnf("dbusconn.Systemd unexpected signal body name=%s", sig.Name)
		return ssh.UnitEvent{}, false
	}
	return ssh.UnitEvent{Kind: kind, Name: name}, true
}
