package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/danmuck/sessionctl/internal/bus"
	logs "github.com/danmuck/sessionctl/internal/logging"
)

// PlaceholderAddress is published for sessions whose metadata is not committed yet.
const PlaceholderAddress = "0.0.0.0"

// CleanupFunc runs custom teardown for a session, e.g. dropping the
// underlying connection. It reports whether the teardown succeeded.
type CleanupFunc func(id ID) bool

// Directory resolves session owners.
type Directory interface {
	Exists(ctx context.Context, owner string) (bool, error)
}

// Record is the local state of one published session. It is owned by
// exactly one registry and refers back to it only by id.
type Record struct {
	id   ID
	typ  Type
	path string

	mu           sync.Mutex
	remoteAddr   string
	associations []bus.Association
	cleanup      CleanupFunc
	cleanedUp    bool
}

func NewRecord(id ID, typ Type, path, remoteAddr string) *Record {
	return &Record{
		id:         id,
		typ:        typ,
		path:       path,
		remoteAddr: remoteAddr,
	}
}

func (r *Record) ID() ID       { return r.id }
func (r *Record) Type() Type   { return r.typ }
func (r *Record) Path() string { return r.path }

func (r *Record) RemoteAddress() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remoteAddr
}

func (r *Record) Associations() []bus.Association {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bus.Association(nil), r.associations...)
}

// Owner returns the user named by the first "user" association.
func (r *Record) Owner() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return OwnerFromAssociations(r.associations)
}

// OwnerFromAssociations extracts the owner name from an association list.
func OwnerFromAssociations(list []bus.Association) (string, bool) {
	for _, a := range list {
		if a.Forward != bus.RelationUser {
			continue
		}
		name := bus.LastSegment(a.Endpoint)
		if name == "" {
			continue
		}
		return name, true
	}
	return "", false
}

// AdjustOwner associates the record with owner after checking it exists.
// The record is left untouched on failure.
func (r *Record) AdjustOwner(ctx context.Context, dir Directory, owner string) error {
	assoc, err := ResolveOwner(ctx, dir, owner)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.associations = []bus.Association{assoc}
	r.mu.Unlock()
	return nil
}

// ResolveOwner builds the owner association for name.
func ResolveOwner(ctx context.Context, dir Directory, owner string) (bus.Association, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return bus.Association{}, fmt.Errorf("%w: empty owner", ErrUnknownOwner)
	}
	if dir == nil {
		return bus.Association{}, fmt.Errorf("%w: no owner directory", ErrInternalFailure)
	}
	ok, err := dir.Exists(ctx, owner)
	if err != nil {
		return bus.Association{}, fmt.Errorf("%w: resolve owner %q: %v", ErrInternalFailure, owner, err)
	}
	if !ok {
		return bus.Association{}, fmt.Errorf("%w: %q", ErrUnknownOwner, owner)
	}
	return bus.Association{
		Forward:  bus.RelationUser,
		Reverse:  bus.RelationSession,
		Endpoint: bus.UserPath(owner),
	}, nil
}

// SetMetadata assigns owner and remote address.
func (r *Record) SetMetadata(ctx context.Context, dir Directory, owner, remoteAddr string) error {
	if strings.TrimSpace(remoteAddr) == "" {
		return fmt.Errorf("%w: empty remote address", ErrInvalidArgument)
	}
	if err := r.AdjustOwner(ctx, dir, owner); err != nil {
		return err
	}
	r.mu.Lock()
	r.remoteAddr = remoteAddr
	r.mu.Unlock()
	return nil
}

func (r *Record) setAssociations(list []bus.Association) {
	r.mu.Lock()
	r.associations = list
	r.mu.Unlock()
}

// WithOwner applies an association resolved ahead of publication.
func (r *Record) WithOwner(assoc bus.Association) *Record {
	r.setAssociations([]bus.Association{assoc})
	return r
}

// SetCleanup replaces the cleanup callback.
func (r *Record) SetCleanup(fn CleanupFunc) {
	r.mu.Lock()
	r.cleanup = fn
	r.mu.Unlock()
}

// TakeCleanup clears the callback and hands it to the caller.
func (r *Record) TakeCleanup() CleanupFunc {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn := r.cleanup
	r.cleanup = nil
	return fn
}

// RestoreCleanup reinstates a callback taken by TakeCleanup, unless the
// record was already cleaned up.
func (r *Record) RestoreCleanup(fn CleanupFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cleanedUp {
		return
	}
	r.cleanup = fn
}

// Discard marks the record finished without invoking its callback.
func (r *Record) Discard() {
	r.mu.Lock()
	r.cleanup = nil
	r.cleanedUp = true
	r.mu.Unlock()
}

func (r *Record) HasCleanup() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cleanup != nil
}

// RunCleanup invokes the callback at most once over the record lifetime.
// Failures are logged.
func (r *Record) RunCleanup() {
	r.mu.Lock()
	fn := r.cleanup
	r.cleanup = nil
	already := r.cleanedUp
	r.cleanedUp = true
	r.mu.Unlock()
	if fn == nil || already {
		return
	}
	defer func() {
		if v := recover(); v != nil {
			logs.Errorf("session.Record.RunCleanup panic id=%s err=%v", r.id, v)
		}
	}()
	if !fn(r.id) {
		logs.Warnf("session.Record.RunCleanup failed id=%s", r.id)
		return
	}
	logs.Debugf("session.Record.RunCleanup ok id=%s", r.id)
}

// Properties returns the bus-visible property snapshot.
func (r *Record) Properties() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]any{
		bus.PropSessionID:    r.id.Hex(),
		bus.PropSessionType:  r.typ.String(),
		bus.PropRemoteIPAddr: r.remoteAddr,
		bus.PropAssociations: append([]bus.Association(nil), r.associations...),
	}
}

// Info returns the descriptor of a locally owned record.
func (r *Record) Info(serviceName string) Info {
	owner, _ := r.Owner()
	return Info{
		ID:            r.id,
		Owner:         owner,
		RemoteAddress: r.RemoteAddress(),
		Type:          r.typ,
		ServiceName:   serviceName,
		ObjectPath:    r.path,
		Local:         true,
	}
}
