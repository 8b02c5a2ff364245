package ssh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/sessionctl/internal/api"
	logs "github.com/danmuck/sessionctl/internal/logging"
	"github.com/danmuck/sessionctl/internal/session"
)

// UnitPrefix marks the per-connection units spawned by dropbear socket activation.
const UnitPrefix = "dropbear@"

// DefaultStopTimeout bounds one StopUnit call issued by a cleanup.
const DefaultStopTimeout = 5 * time.Second

type EventKind int

const (
	UnitNew EventKind = iota + 1
	UnitRemoved
)

func (k EventKind) String() string {
	switch k {
	case UnitNew:
		return "new"
	case UnitRemoved:
		return "removed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

type UnitEvent struct {
	Kind EventKind
	Name string
}

// Units is the slice of the systemd manager the watcher needs.
type Units interface {
	ListUnits(ctx context.Context) ([]string, error)
	StopUnit(ctx context.Context, name string) error
	// Events streams unit appearance and removal until ctx ends.
	Events(ctx context.Context) (<-chan UnitEvent, error)
}

// Sessions is the process session API the watcher drives.
type Sessions interface {
	CreateTransactionWithCleanup(ctx context.Context, cleanup session.CleanupFunc) (session.ID, api.Status)
	RemoveWithoutCleanup(ctx context.Context, id session.ID) bool
}

var _ Sessions = (*api.Process)(nil)

// IsConnectionUnit reports whether name is a dropbear connection unit.
func IsConnectionUnit(name string) bool {
	return strings.HasPrefix(name, UnitPrefix) && len(name) > len(UnitPrefix)
}

type Watcher struct {
	units       Units
	sessions    Sessions
	StopTimeout time.Duration

	mu     sync.Mutex
	byID   map[session.ID]string
	byUnit map[string]session.ID
}

func NewWatcher(units Units, sessions Sessions) *Watcher {
	return &Watcher{
		units:       units,
		sessions:    sessions,
		StopTimeout: DefaultStopTimeout,
		byID:        make(map[session.ID]string),
		byUnit:      make(map[string]session.ID),
	}
}

// Run stops stale connection units, then tracks unit events until ctx ends
// or the event stream closes.
func (w *Watcher) Run(ctx context.Context) error {
	if w.units == nil || w.sessions == nil {
		return errors.New("ssh: watcher requires units and sessions")
	}
	events, err := w.units.Events(ctx)
	if err != nil {
		return fmt.Errorf("ssh: subscribe unit events: %w", err)
	}
	if _, err := w.StopStale(ctx); err != nil {
		logs.Warnf("ssh.Watcher.Run stale sweep err=%v", err)
	}
	logs.Infof("ssh.Watcher.Run listening prefix=%s", UnitPrefix)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			w.Handle(ctx, ev)
		}
	}
}

// StopStale stops every connection unit left over from a previous run and
// returns how many stop requests succeeded.
func (w *Watcher) StopStale(ctx context.Context) (int, error) {
	names, err := w.units.ListUnits(ctx)
	if err != nil {
		return 0, fmt.Errorf("ssh: list units: %w", err)
	}
	stopped := 0
	for _, name := range names {
		if !IsConnectionUnit(name) {
			continue
		}
		logs.Infof("ssh.Watcher.StopStale unit=%s", name)
		if w.stop(name) {
			stopped++
		}
	}
	return stopped, nil
}

func (w *Watcher) Handle(ctx context.Context, ev UnitEvent) {
	if !IsConnectionUnit(ev.Name) {
		return
	}
	switch ev.Kind {
	case UnitNew:
		w.opened(ctx, ev.Name)
	case UnitRemoved:
		w.closed(ctx, ev.Name)
	default:
		logs.Debugf("ssh.Watcher.Handle ignored kind=%s unit=%s", ev.Kind, ev.Name)
	}
}

func (w *Watcher) opened(ctx context.Context, unit string) {
	w.mu.Lock()
	_, known := w.byUnit[unit]
	w.mu.Unlock()
	if known {
		logs.Debugf("ssh.Watcher.opened duplicate unit=%s", unit)
		return
	}

	id, st := w.sessions.CreateTransactionWithCleanup(ctx, w.cleanup)
	if !st.OK() {
		logs.Warnf("ssh.Watcher.opened unit=%s status=%s", unit, st)
		return
	}
	w.mu.Lock()
	w.byID[id] = unit
	w.byUnit[unit] = id
	w.mu.Unlock()
	logs.Infof("ssh.Watcher.opened unit=%s id=%s", unit, id)
}

func (w *Watcher) closed(ctx context.Context, unit string) {
	w.mu.Lock()
	id, ok := w.byUnit[unit]
	if ok {
		delete(w.byUnit, unit)
		delete(w.byID, id)
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	if !w.sessions.RemoveWithoutCleanup(ctx, id) {
		logs.Warnf("ssh.Watcher.closed remove failed unit=%s id=%s", unit, id)
		return
	}
	logs.Infof("ssh.Watcher.closed unit=%s id=%s", unit, id)
}

// cleanup is the session callback: it forgets the mapping and stops the unit.
func (w *Watcher) cleanup(id session.ID) bool {
	w.mu.Lock()
	unit, ok := w.byID[id]
	if ok {
		delete(w.byID, id)
		delete(w.byUnit, unit)
	}
	w.mu.Unlock()
	if !ok {
		return false
	}
	return w.stop(unit)
}

func (w *Watcher) stop(unit string) bool {
	timeout := w.StopTimeout
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := w.units.StopUnit(ctx, unit); err != nil {
		logs.Errorf("ssh.Watcher.stop unit=%s err=%v", unit, err)
		return false
	}
	return true
}

// Tracked returns a copy of the unit to session mapping.
func (w *Watcher) Tracked() map[string]session.ID {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]session.ID, len(w.byUnit))
	for unit, id := range w.byUnit {
		out[unit] = id
	}
	return out
}
