package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/sessionctl/internal/bus"
	logs "github.com/danmuck/sessionctl/internal/logging"
	"github.com/danmuck/sessionctl/internal/observability"
	"github.com/danmuck/sessionctl/internal/session"
)

// StartTransaction publishes a placeholder session and arms the watchdog.
// The session is discarded unless CommitTransaction succeeds before the
// configured timeout.
func (r *Registry) StartTransaction(ctx context.Context, cleanup session.CleanupFunc) (session.ID, error) {
	if err := ctx.Err(); err != nil {
		return session.InvalidID, err
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return session.InvalidID, ErrRegistryClosed
	}
	if r.pending != nil {
		pendingID := r.pending.id
		r.mu.Unlock()
		return session.InvalidID, fmt.Errorf("%w: transaction %s pending", session.ErrTransactionLocked, pendingID)
	}
	rec := r.reserveLocked(session.PlaceholderAddress)
	rec.SetCleanup(cleanup)
	r.gen++
	tx := &transaction{id: rec.ID(), gen: r.gen}
	r.pending = tx
	r.mu.Unlock()

	if err := r.publish(rec); err != nil {
		return session.InvalidID, err
	}

	r.mu.Lock()
	if r.pending == tx {
		tx.deadline = r.clock.Now().Add(r.cfg.TransactionTimeout)
		gen := tx.gen
		tx.timer = r.clock.AfterFunc(r.cfg.TransactionTimeout, func() { r.expire(gen) })
	}
	r.mu.Unlock()

	observability.RecordTransaction(r.cfg.Slug, observability.OutcomeStarted)
	logs.Infof("registry.Registry.StartTransaction id=%s timeout=%s", rec.ID(), r.cfg.TransactionTimeout)
	return rec.ID(), nil
}

// CommitTransaction finalizes the pending session with its owner and remote
// address. An owner that cannot be resolved discards the session without
// running its cleanup and still reports success. Any other failure leaves
// the transaction pending.
func (r *Registry) CommitTransaction(ctx context.Context, owner, remoteAddress string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	tx := r.pending
	if tx == nil {
		r.mu.Unlock()
		return ErrNoTransaction
	}
	rec := r.sessions[tx.id]
	gen := tx.gen
	r.mu.Unlock()
	if rec == nil {
		return ErrNoTransaction
	}

	err := rec.SetMetadata(ctx, r.dir, owner, remoteAddress)
	switch {
	case err == nil:
		r.mu.Lock()
		current := r.pending != nil && r.pending.gen == gen
		if current {
			r.clearPendingLocked()
		}
		r.mu.Unlock()
		if !current {
			return fmt.Errorf("%w: transaction %s expired during commit", ErrNoTransaction, tx.id)
		}
		observability.RecordTransaction(r.cfg.Slug, observability.OutcomeCommitted)
		logs.Infof("registry.Registry.CommitTransaction id=%s owner=%q addr=%s", tx.id, owner, remoteAddress)
		return nil
	case errors.Is(err, session.ErrUnknownOwner):
		r.mu.Lock()
		current := r.pending != nil && r.pending.gen == gen
		attached := current && r.detachLocked(rec)
		r.mu.Unlock()
		if !current {
			return fmt.Errorf("%w: transaction %s ended during commit", ErrNoTransaction, tx.id)
		}
		if attached {
			r.unpublish(rec)
		}
		rec.Discard()
		observability.RecordTransaction(r.cfg.Slug, observability.OutcomeDiscarded)
		logs.Warnf("registry.Registry.CommitTransaction discarded id=%s owner=%q err=%v", tx.id, owner, err)
		return nil
	default:
		logs.Warnf("registry.Registry.CommitTransaction failed id=%s err=%v", tx.id, err)
		return err
	}
}

// ResetTransaction clears the pending transaction and disarms the watchdog.
// The session itself stays published.
func (r *Registry) ResetTransaction() {
	r.mu.Lock()
	tx := r.pending
	r.clearPendingLocked()
	r.mu.Unlock()
	if tx != nil {
		observability.RecordTransaction(r.cfg.Slug, observability.OutcomeReset)
		logs.Infof("registry.Registry.ResetTransaction id=%s", tx.id)
	}
}

func (r *Registry) IsTransactionPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending != nil
}

// PendingTransaction returns the pending session id and its deadline.
func (r *Registry) PendingTransaction() (session.ID, time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return session.InvalidID, time.Time{}, false
	}
	return r.pending.id, r.pending.deadline, true
}

func (r *Registry) clearPendingLocked() {
	if r.pending == nil {
		return
	}
	if r.pending.timer != nil {
		r.pending.timer.Stop()
	}
	r.pending = nil
}

// expire is the watchdog body. It only acts when the transaction of
// generation gen is still the pending one.
func (r *Registry) expire(gen uint64) {
	r.mu.Lock()
	tx := r.pending
	if r.closed || tx == nil || tx.gen != gen {
		r.mu.Unlock()
		return
	}
	r.pending = nil
	rec := r.sessions[tx.id]
	if rec != nil {
		delete(r.sessions, tx.id)
		observability.SetActiveSessions(r.cfg.Slug, len(r.sessions))
	}
	r.mu.Unlock()

	observability.RecordTransaction(r.cfg.Slug, observability.OutcomeExpired)
	logs.Warnf("registry.Registry.expire id=%s timeout=%s", tx.id, r.cfg.TransactionTimeout)
	if rec == nil {
		return
	}
	r.unpublish(rec)
	rec.RunCleanup()
}

// CommitRemote finalizes the pending transaction of the registry published
// under slug.
func CommitRemote(ctx context.Context, caller bus.Caller, slug, owner, remoteAddress string) error {
	if !bus.ValidSlug(slug) {
		return fmt.Errorf("%w: slug %q", session.ErrInvalidArgument, slug)
	}
	if caller == nil {
		return fmt.Errorf("%w: no bus caller", session.ErrInternalFailure)
	}
	err := caller.CommitSessionBuild(ctx, bus.ServiceName(slug), owner, remoteAddress)
	observability.RecordRemoteCall(slug, "commit", err)
	if err != nil {
		return fmt.Errorf("%w: commit on %s: %v", session.ErrInternalFailure, bus.ServiceName(slug), err)
	}
	return nil
}
