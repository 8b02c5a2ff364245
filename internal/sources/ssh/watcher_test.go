package ssh

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/sessionctl/internal/api"
	"github.com/danmuck/sessionctl/internal/bus/membus"
	"github.com/danmuck/sessionctl/internal/clock"
	"github.com/danmuck/sessionctl/internal/registry"
	"github.com/danmuck/sessionctl/internal/session"
	"github.com/danmuck/sessionctl/internal/testutil/testlog"
)

type fakeUnits struct {
	mu      sync.Mutex
	listed  []string
	listErr error
	stopErr error
	stopped []string
	events  chan UnitEvent
}

func newFakeUnits(listed ...string) *fakeUnits {
	return &fakeUnits{listed: listed, events: make(chan UnitEvent, 8)}
}

func (u *fakeUnits) ListUnits(context.Context) ([]string, error) {
	if u.listErr != nil {
		return nil, u.listErr
	}
	return append([]string(nil), u.listed...), nil
}

func (u *fakeUnits) StopUnit(_ context.Context, name string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stopErr != nil {
		return u.stopErr
	}
	u.stopped = append(u.stopped, name)
	return nil
}

func (u *fakeUnits) Events(context.Context) (<-chan UnitEvent, error) {
	return u.events, nil
}

func (u *fakeUnits) Stopped() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.stopped...)
}

func newSSHProcess(t *testing.T) (*api.Process, *membus.Hub, *clock.Fake) {
	t.Helper()
	hub := membus.NewHub()
	if err := hub.AddUser("alice"); err != nil {
		t.Fatalf("add user: %v", err)
	}
	conn := hub.Connect()
	fake := clock.NewFake(time.Unix(1700000000, 0))
	p := &api.Process{}
	st := p.Init(registry.DefaultConfig("SSH", session.TypeManagerConsole), registry.Deps{
		Publisher: conn, Mapper: conn, Properties: conn, Caller: conn, Clock: fake,
	})
	if !st.OK() {
		t.Fatalf("init: %v err=%v", st, p.LastError())
	}
	t.Cleanup(p.Close)
	return p, hub, fake
}

func TestIsConnectionUnit(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name string
		want bool
	}{
		{"dropbear@0-10.0.0.1:22-10.0.0.5:50022.service", true},
		{"dropbear@", false},
		{"dropbear.socket", false},
		{"sshd.service", false},
		{"xdropbear@1.service", false},
	}
	for _, tc := range tests {
		if got := IsConnectionUnit(tc.name); got != tc.want {
			t.Fatalf("IsConnectionUnit(%q)=%v want %v", tc.name, got, tc.want)
		}
	}
}

func TestStopStale(t *testing.T) {
	testlog.Start(t)
	p, _, _ := newSSHProcess(t)
	units := newFakeUnits("dropbear@1.service", "sshd.service", "dropbear@2.service", "dropbear.socket")
	w := NewWatcher(units, p)

	stopped, err := w.StopStale(context.Background())
	if err != nil {
		t.Fatalf("stop stale: %v", err)
	}
	if stopped != 2 {
		t.Fatalf("stopped=%d", stopped)
	}
	want := []string{"dropbear@1.service", "dropbear@2.service"}
	if got := units.Stopped(); !reflect.DeepEqual(got, want) {
		t.Fatalf("stopped units=%v want %v", got, want)
	}

	units.listErr = errors.New("systemd gone")
	if _, err := w.StopStale(context.Background()); err == nil {
		t.Fatalf("expected list failure")
	}
}

func TestUnitLifecycleCommitAndRemove(t *testing.T) {
	testlog.Start(t)
	p, _, _ := newSSHProcess(t)
	units := newFakeUnits()
	w := NewWatcher(units, p)
	ctx := context.Background()
	const unit = "dropbear@3.service"

	w.Handle(ctx, UnitEvent{Kind: UnitNew, Name: unit})
	if !p.IsTransactionPending() {
		t.Fatalf("new unit should start a transaction")
	}
	id, ok := w.Tracked()[unit]
	if !ok {
		t.Fatalf("unit not tracked")
	}
	if st := p.CommitSessionBuild(ctx, "alice", "10.0.0.5"); !st.OK() {
		t.Fatalf("commit: %v err=%v", st, p.LastError())
	}
	info, st := p.GetSessionInfo(ctx, id)
	if !st.OK() || info.Owner != "alice" || info.RemoteAddress != "10.0.0.5" {
		t.Fatalf("unexpected info: %+v status=%v", info, st)
	}

	w.Handle(ctx, UnitEvent{Kind: UnitRemoved, Name: unit})
	if len(w.Tracked()) != 0 {
		t.Fatalf("unit still tracked after removal")
	}
	if _, st := p.GetSessionInfo(ctx, id); st != api.StatusNotFound {
		t.Fatalf("session should be gone, status=%v", st)
	}
	if got := units.Stopped(); len(got) != 0 {
		t.Fatalf("removed unit must not be stopped again: %v", got)
	}
}

func TestExpiredTransactionStopsUnit(t *testing.T) {
	testlog.Start(t)
	p, _, fake := newSSHProcess(t)
	units := newFakeUnits()
	w := NewWatcher(units, p)
	const unit = "dropbear@4.service"

	w.Handle(context.Background(), UnitEvent{Kind: UnitNew, Name: unit})
	fake.Advance(registry.DefaultTransactionTimeout)

	if p.IsTransactionPending() {
		t.Fatalf("transaction should have expired")
	}
	if got := units.Stopped(); !reflect.DeepEqual(got, []string{unit}) {
		t.Fatalf("stopped=%v", got)
	}
	if len(w.Tracked()) != 0 {
		t.Fatalf("expired unit still tracked")
	}
}

func TestSecondUnitWhilePendingIsNotTracked(t *testing.T) {
	testlog.Start(t)
	p, _, _ := newSSHProcess(t)
	w := NewWatcher(newFakeUnits(), p)
	ctx := context.Background()

	w.Handle(ctx, UnitEvent{Kind: UnitNew, Name: "dropbear@5.service"})
	w.Handle(ctx, UnitEvent{Kind: UnitNew, Name: "dropbear@6.service"})
	tracked := w.Tracked()
	if len(tracked) != 1 {
		t.Fatalf("tracked=%v", tracked)
	}
	if _, ok := tracked["dropbear@5.service"]; !ok {
		t.Fatalf("first unit lost: %v", tracked)
	}
	if !errors.Is(p.LastError(), session.ErrTransactionLocked) {
		t.Fatalf("expected locked error, got %v", p.LastError())
	}
	if !p.IsTransactionPending() {
		t.Fatalf("locked start must not reset the first transaction")
	}
}

func TestRunIgnoresOtherUnits(t *testing.T) {
	testlog.Start(t)
	p, _, _ := newSSHProcess(t)
	units := newFakeUnits("dropbear@stale.service")
	w := NewWatcher(units, p)

	units.events <- UnitEvent{Kind: UnitNew, Name: "nginx.service"}
	units.events <- UnitEvent{Kind: UnitNew, Name: "dropbear@7.service"}
	close(units.events)
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := units.Stopped(); !reflect.DeepEqual(got, []string{"dropbear@stale.service"}) {
		t.Fatalf("stopped=%v", got)
	}
	tracked := w.Tracked()
	if len(tracked) != 1 {
		t.Fatalf("tracked=%v", tracked)
	}
	if _, ok := tracked["dropbear@7.service"]; !ok {
		t.Fatalf("connection unit not tracked: %v", tracked)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	testlog.Start(t)
	p, _, _ := newSSHProcess(t)
	w := NewWatcher(newFakeUnits(), p)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
}

func TestFailedStopForgetsUnit(t *testing.T) {
	testlog.Start(t)
	p, _, fake := newSSHProcess(t)
	units := newFakeUnits()
	units.stopErr = errors.New("access denied")
	w := NewWatcher(units, p)

	w.Handle(context.Background(), UnitEvent{Kind: UnitNew, Name: "dropbear@8.service"})
	id := w.Tracked()["dropbear@8.service"]
	fake.Advance(registry.DefaultTransactionTimeout)
	if len(w.Tracked()) != 0 {
		t.Fatalf("unit still tracked after failed stop")
	}
	if w.cleanup(id) {
		t.Fatalf("cleanup of an untracked id must report failure")
	}
}
