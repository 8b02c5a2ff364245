package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/sessionctl/internal/bus"
	"github.com/danmuck/sessionctl/internal/clock"
	logs "github.com/danmuck/sessionctl/internal/logging"
	"github.com/danmuck/sessionctl/internal/lookup"
	"github.com/danmuck/sessionctl/internal/observability"
	"github.com/danmuck/sessionctl/internal/session"
)

var (
	ErrNoTransaction  = fmt.Errorf("%w: no transaction pending", session.ErrInternalFailure)
	ErrRegistryClosed = fmt.Errorf("%w: registry closed", session.ErrNotFound)
)

// Registry owns the local sessions of one bus identity and the single
// in-flight build transaction.
type Registry struct {
	cfg     Config
	service string
	pub     bus.Publisher
	caller  bus.Caller
	dir     session.Directory
	scan    lookup.Scanner
	ids     *session.Generator
	clock   clock.Clock

	// mu guards everything below. It is never held across a bus round trip
	// or a cleanup callback.
	mu       sync.Mutex
	sessions map[session.ID]*session.Record
	pending  *transaction
	gen      uint64
	closed   bool
}

type transaction struct {
	id       session.ID
	deadline time.Time
	gen      uint64
	timer    clock.Timer
}

// New claims the registry's service name and publishes its build object.
func New(cfg Config, deps Deps) (*Registry, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Publisher == nil || deps.Mapper == nil || deps.Properties == nil || deps.Caller == nil {
		return nil, fmt.Errorf("%w: missing bus collaborator", session.ErrInvalidArgument)
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Directory == nil {
		deps.Directory = bus.UserDirectory{Mapper: deps.Mapper}
	}

	service := bus.ServiceName(cfg.Slug)
	r := &Registry{
		cfg:     cfg,
		service: service,
		pub:     deps.Publisher,
		caller:  deps.Caller,
		dir:     deps.Directory,
		scan: lookup.Scanner{
			Mapper:     deps.Mapper,
			Properties: deps.Properties,
			Self:       service,
		},
		ids:      session.NewGenerator(service, deps.Clock.Now),
		clock:    deps.Clock,
		sessions: make(map[session.ID]*session.Record),
	}

	if err := r.pub.RequestName(service); err != nil {
		return nil, fmt.Errorf("%w: request name %s: %v", session.ErrInternalFailure, service, err)
	}
	if err := r.pub.Publish(bus.ManagerPath, registryObject{r: r}); err != nil {
		_ = r.pub.ReleaseName(service)
		return nil, fmt.Errorf("%w: publish %s: %v", session.ErrInternalFailure, bus.ManagerPath, err)
	}
	observability.SetActiveSessions(cfg.Slug, 0)
	logs.Infof("registry.New service=%s type=%s timeout=%s", service, cfg.Type.Name(), cfg.TransactionTimeout)
	return r, nil
}

func (r *Registry) Slug() string        { return r.cfg.Slug }
func (r *Registry) ServiceName() string { return r.service }
func (r *Registry) Config() Config      { return r.cfg }

// Len returns the number of local sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Create publishes a complete session. An empty remoteAddress publishes the
// placeholder address; an empty owner leaves the session unowned.
func (r *Registry) Create(ctx context.Context, owner, remoteAddress string, cleanup session.CleanupFunc) (session.ID, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return session.InvalidID, ErrRegistryClosed
	}
	if r.pending != nil && r.cfg.CreatePolicy == CreateRejectedWhilePending {
		pendingID := r.pending.id
		r.mu.Unlock()
		return session.InvalidID, fmt.Errorf("%w: transaction %s pending", session.ErrTransactionLocked, pendingID)
	}
	rec := r.reserveLocked(remoteAddress)
	rec.SetCleanup(cleanup)
	r.mu.Unlock()

	if err := r.publish(rec); err != nil {
		return session.InvalidID, err
	}

	if strings.TrimSpace(owner) != "" {
		if err := rec.AdjustOwner(ctx, r.dir, owner); err != nil {
			r.drop(rec)
			if errors.Is(err, session.ErrUnknownOwner) && r.cfg.UnknownOwnerPolicy == UnknownOwnerDrop {
				logs.Warnf("registry.Registry.Create dropped id=%s owner=%q err=%v", rec.ID(), owner, err)
				return session.InvalidID, nil
			}
			return session.InvalidID, err
		}
	}
	logs.Infof("registry.Registry.Create id=%s owner=%q addr=%s", rec.ID(), owner, rec.RemoteAddress())
	return rec.ID(), nil
}

// reserveLocked allocates a fresh id and inserts its record.
func (r *Registry) reserveLocked(remoteAddress string) *session.Record {
	id := r.ids.Next()
	for {
		if _, taken := r.sessions[id]; !taken {
			break
		}
		id = r.ids.Next()
	}
	if strings.TrimSpace(remoteAddress) == "" {
		remoteAddress = session.PlaceholderAddress
	}
	rec := session.NewRecord(id, r.cfg.Type, bus.SessionPath(r.cfg.Slug, id.Hex()), remoteAddress)
	r.sessions[id] = rec
	observability.SetActiveSessions(r.cfg.Slug, len(r.sessions))
	return rec
}

func (r *Registry) publish(rec *session.Record) error {
	if err := r.pub.Publish(rec.Path(), sessionObject{r: r, id: rec.ID()}); err != nil {
		r.mu.Lock()
		r.detachLocked(rec)
		r.mu.Unlock()
		rec.Discard()
		return fmt.Errorf("%w: publish %s: %v", session.ErrInternalFailure, rec.Path(), err)
	}
	return nil
}

// drop withdraws a half-created session without running its cleanup.
func (r *Registry) drop(rec *session.Record) {
	r.mu.Lock()
	attached := r.detachLocked(rec)
	r.mu.Unlock()
	if attached {
		r.unpublish(rec)
	}
	rec.Discard()
}

// detachLocked removes rec from the table and clears the pending
// transaction that refers to it. It reports whether rec was present.
func (r *Registry) detachLocked(rec *session.Record) bool {
	if r.sessions[rec.ID()] != rec {
		return false
	}
	delete(r.sessions, rec.ID())
	if r.pending != nil && r.pending.id == rec.ID() {
		r.clearPendingLocked()
	}
	observability.SetActiveSessions(r.cfg.Slug, len(r.sessions))
	return true
}

func (r *Registry) unpublish(rec *session.Record) {
	if err := r.pub.Unpublish(rec.Path()); err != nil {
		logs.Warnf("registry.Registry.unpublish id=%s path=%s err=%v", rec.ID(), rec.Path(), err)
	}
}

func (r *Registry) record(id session.ID) (*session.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	rec, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", session.ErrNotFound, id)
	}
	return rec, nil
}

// localRecords returns a snapshot of the table sorted by id.
func (r *Registry) localRecords() ([]*session.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	out := make([]*session.Record, 0, len(r.sessions))
	for _, rec := range r.sessions {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID() < out[j].ID()
	})
	return out, nil
}

// SetSessionMetadata assigns owner and remote address of a local session.
func (r *Registry) SetSessionMetadata(ctx context.Context, id session.ID, owner, remoteAddress string) error {
	rec, err := r.record(id)
	if err != nil {
		return err
	}
	return rec.SetMetadata(ctx, r.dir, owner, remoteAddress)
}

// CloseSession removes a local session. With invokeCleanup false the
// callback is withheld, and put back if the removal does not happen.
func (r *Registry) CloseSession(id session.ID, invokeCleanup bool) error {
	rec, err := r.record(id)
	if err != nil {
		return err
	}
	var withheld session.CleanupFunc
	if !invokeCleanup {
		withheld = rec.TakeCleanup()
	}
	if !r.removeRecord(rec, invokeCleanup) {
		if withheld != nil {
			rec.RestoreCleanup(withheld)
		}
		return fmt.Errorf("%w: close session %s", session.ErrInternalFailure, id)
	}
	return nil
}

// removeRecord detaches rec, unpublishes it and settles its cleanup.
func (r *Registry) removeRecord(rec *session.Record, invokeCleanup bool) bool {
	r.mu.Lock()
	attached := r.detachLocked(rec)
	r.mu.Unlock()
	if !attached {
		return false
	}
	r.unpublish(rec)
	if invokeCleanup {
		rec.RunCleanup()
	} else {
		rec.Discard()
	}
	logs.Infof("registry.Registry.remove id=%s cleanup=%t", rec.ID(), invokeCleanup)
	return true
}

// Close tears the registry down. Every remaining session is removed with
// its cleanup invoked, then the build object and the service name are
// released.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.clearPendingLocked()
	recs := make([]*session.Record, 0, len(r.sessions))
	for _, rec := range r.sessions {
		recs = append(recs, rec)
	}
	r.sessions = make(map[session.ID]*session.Record)
	r.mu.Unlock()

	for _, rec := range recs {
		r.unpublish(rec)
		rec.RunCleanup()
	}
	var errs []error
	if err := r.pub.Unpublish(bus.ManagerPath); err != nil {
		errs = append(errs, fmt.Errorf("unpublish %s: %w", bus.ManagerPath, err))
	}
	if err := r.pub.ReleaseName(r.service); err != nil {
		errs = append(errs, fmt.Errorf("release %s: %w", r.service, err))
	}
	observability.SetActiveSessions(r.cfg.Slug, 0)
	logs.Infof("registry.Registry.Close service=%s removed=%d", r.service, len(recs))
	return errors.Join(errs...)
}
