package api

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/sessionctl/internal/bus"
	logs "github.com/danmuck/sessionctl/internal/logging"
	"github.com/danmuck/sessionctl/internal/registry"
	"github.com/danmuck/sessionctl/internal/session"
)

var (
	ErrNotInitialized     = fmt.Errorf("%w: registry not initialized", session.ErrNotFound)
	ErrAlreadyInitialized = errors.New("api: registry already initialized")
)

// Process holds the one registry of a process behind status-returning
// calls. The zero value is ready for Init. Every failing call records its
// error for LastError.
type Process struct {
	mu      sync.Mutex
	reg     *registry.Registry
	lastErr error
}

// Init builds the process registry. A second Init without Close fails with
// StatusExists.
func (p *Process) Init(cfg registry.Config, deps registry.Deps) Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reg != nil {
		p.lastErr = ErrAlreadyInitialized
		return StatusExists
	}
	if deps.Publisher == nil {
		p.lastErr = fmt.Errorf("%w: no bus connection", session.ErrInvalidArgument)
		return StatusInvalid
	}
	reg, err := registry.New(cfg, deps)
	if err != nil {
		p.lastErr = err
		logs.Errorf("api.Process.Init slug=%s err=%v", cfg.Slug, err)
		return StatusNoResources
	}
	p.reg = reg
	p.lastErr = nil
	return StatusOK
}

// Close tears the registry down. It is a no-op when not initialized.
func (p *Process) Close() {
	p.mu.Lock()
	reg := p.reg
	p.reg = nil
	p.mu.Unlock()
	if reg == nil {
		return
	}
	if err := reg.Close(); err != nil {
		p.record(err)
		logs.Warnf("api.Process.Close err=%v", err)
	}
}

// Registry returns the process registry, or nil before Init.
func (p *Process) Registry() *registry.Registry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reg
}

// LastError returns the error of the most recent failing call.
func (p *Process) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *Process) record(err error) {
	if err == nil {
		return
	}
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}

func (p *Process) registry() (*registry.Registry, Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reg == nil {
		p.lastErr = ErrNotInitialized
		return nil, StatusNotFound
	}
	return p.reg, StatusOK
}

func (p *Process) fail(err error) Status {
	p.record(err)
	return StatusOf(err)
}

func (p *Process) Create(ctx context.Context, owner, remoteAddress string) (session.ID, Status) {
	return p.create(ctx, owner, remoteAddress, nil)
}

func (p *Process) CreateWithCleanup(ctx context.Context, owner, remoteAddress string, cleanup session.CleanupFunc) (session.ID, Status) {
	if cleanup == nil {
		return session.InvalidID, p.fail(fmt.Errorf("%w: nil cleanup", session.ErrInvalidArgument))
	}
	return p.create(ctx, owner, remoteAddress, cleanup)
}

func (p *Process) create(ctx context.Context, owner, remoteAddress string, cleanup session.CleanupFunc) (session.ID, Status) {
	reg, st := p.registry()
	if !st.OK() {
		return session.InvalidID, st
	}
	id, err := reg.Create(ctx, owner, remoteAddress, cleanup)
	if err != nil {
		return session.InvalidID, p.fail(err)
	}
	return id, StatusOK
}

func (p *Process) CreateTransaction(ctx context.Context) (session.ID, Status) {
	return p.startTransaction(ctx, nil)
}

func (p *Process) CreateTransactionWithCleanup(ctx context.Context, cleanup session.CleanupFunc) (session.ID, Status) {
	if cleanup == nil {
		return session.InvalidID, p.fail(fmt.Errorf("%w: nil cleanup", session.ErrInvalidArgument))
	}
	return p.startTransaction(ctx, cleanup)
}

// startTransaction resets the pending build after a failure, unless the
// failure was another caller's transaction holding the lock.
func (p *Process) startTransaction(ctx context.Context, cleanup session.CleanupFunc) (session.ID, Status) {
	reg, st := p.registry()
	if !st.OK() {
		return session.InvalidID, st
	}
	id, err := reg.StartTransaction(ctx, cleanup)
	if err != nil {
		if !errors.Is(err, session.ErrTransactionLocked) {
			reg.ResetTransaction()
		}
		return session.InvalidID, p.fail(err)
	}
	return id, StatusOK
}

// CommitSessionBuild finalizes the local pending transaction. Any failure
// resets it.
func (p *Process) CommitSessionBuild(ctx context.Context, owner, remoteAddress string) Status {
	reg, st := p.registry()
	if !st.OK() {
		return st
	}
	if err := reg.CommitTransaction(ctx, owner, remoteAddress); err != nil {
		reg.ResetTransaction()
		logs.Warnf("api.Process.CommitSessionBuild reset err=%v", err)
		return p.fail(err)
	}
	return StatusOK
}

// CommitSessionBuildRemote finalizes the pending transaction of the
// registry published under slug. It does not need Init.
func (p *Process) CommitSessionBuildRemote(ctx context.Context, caller bus.Caller, slug, owner, remoteAddress string) Status {
	if caller == nil {
		return p.fail(fmt.Errorf("%w: no bus connection", session.ErrInvalidArgument))
	}
	if err := registry.CommitRemote(ctx, caller, slug, owner, remoteAddress); err != nil {
		return p.fail(err)
	}
	return StatusOK
}

func (p *Process) Remove(ctx context.Context, id session.ID) bool {
	return p.remove(ctx, id, registry.RemoveOptions{})
}

func (p *Process) RemoveWithoutCleanup(ctx context.Context, id session.ID) bool {
	return p.remove(ctx, id, registry.RemoveOptions{SkipCleanup: true})
}

func (p *Process) remove(ctx context.Context, id session.ID, opts registry.RemoveOptions) bool {
	reg, st := p.registry()
	if !st.OK() {
		return false
	}
	removed, err := reg.Remove(ctx, id, opts)
	if err != nil {
		p.record(err)
		return false
	}
	return removed
}

func (p *Process) RemoveAllByOwner(ctx context.Context, owner string) int {
	return p.removeAll(func(reg *registry.Registry) (int, error) {
		return reg.RemoveAllByOwner(ctx, owner)
	})
}

func (p *Process) RemoveAllByRemoteAddress(ctx context.Context, remoteAddress string) int {
	return p.removeAll(func(reg *registry.Registry) (int, error) {
		return reg.RemoveAllByRemoteAddress(ctx, remoteAddress)
	})
}

func (p *Process) RemoveAllByType(ctx context.Context, typ session.Type) int {
	return p.removeAll(func(reg *registry.Registry) (int, error) {
		return reg.RemoveAllByType(ctx, typ)
	})
}

func (p *Process) RemoveAll(ctx context.Context) int {
	return p.removeAll(func(reg *registry.Registry) (int, error) {
		return reg.RemoveAll(ctx)
	})
}

// removeAll reports the sessions closed before any failure.
func (p *Process) removeAll(fn func(*registry.Registry) (int, error)) int {
	reg, st := p.registry()
	if !st.OK() {
		return 0
	}
	n, err := fn(reg)
	p.record(err)
	return n
}

func (p *Process) IsTransactionPending() bool {
	reg, st := p.registry()
	if !st.OK() {
		return false
	}
	return reg.IsTransactionPending()
}

func (p *Process) ResetTransaction() {
	if reg, st := p.registry(); st.OK() {
		reg.ResetTransaction()
	}
}

func (p *Process) GetSessionInfo(ctx context.Context, id session.ID) (session.Info, Status) {
	reg, st := p.registry()
	if !st.OK() {
		return session.Info{}, st
	}
	info, err := reg.GetSessionInfo(ctx, id)
	if err != nil {
		return session.Info{}, p.fail(err)
	}
	return info, StatusOK
}

func (p *Process) GetAllSessions(ctx context.Context) ([]session.Info, Status) {
	reg, st := p.registry()
	if !st.OK() {
		return nil, st
	}
	list, err := reg.GetAllSessions(ctx)
	if err != nil {
		return nil, p.fail(err)
	}
	return list, StatusOK
}
