package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	logs "github.com/danmuck/sessionctl/internal/logging"
	"github.com/danmuck/sessionctl/internal/lookup"
	"github.com/danmuck/sessionctl/internal/observability"
	"github.com/danmuck/sessionctl/internal/session"
)

type RemoveOptions struct {
	// SkipCleanup removes the session without running its cleanup callback.
	SkipCleanup bool
	// LocalOnly never consults peer registries.
	LocalOnly bool
}

// Remove closes id locally, or on the peer registry that owns it. It
// reports whether a session was removed.
func (r *Registry) Remove(ctx context.Context, id session.ID, opts RemoveOptions) (bool, error) {
	if id == session.InvalidID {
		return false, fmt.Errorf("%w: invalid session id", session.ErrInvalidArgument)
	}
	rec, err := r.record(id)
	switch {
	case err == nil:
		return r.removeRecord(rec, !opts.SkipCleanup), nil
	case errors.Is(err, ErrRegistryClosed):
		return false, err
	}
	if opts.LocalOnly {
		return false, nil
	}

	exclude, err := r.localIDs()
	if err != nil {
		return false, err
	}
	candidates, err := r.scan.Candidates(ctx, exclude)
	if err != nil {
		return false, err
	}
	for _, c := range candidates {
		if c.ID != id {
			continue
		}
		err := r.caller.CloseSession(ctx, c.Service, c.Path, !opts.SkipCleanup)
		observability.RecordRemoteCall(r.cfg.Slug, "close", err)
		if err != nil {
			return false, fmt.Errorf("%w: close %s on %s: %v", session.ErrInternalFailure, id, c.Service, err)
		}
		logs.Infof("registry.Registry.Remove remote id=%s service=%s", id, c.Service)
		return true, nil
	}
	return false, nil
}

func (r *Registry) RemoveAllByOwner(ctx context.Context, owner string) (int, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return 0, fmt.Errorf("%w: empty owner", session.ErrInvalidArgument)
	}
	return r.removeAll(ctx, "owner", func(info session.Info) bool {
		return info.Owner == owner
	})
}

func (r *Registry) RemoveAllByRemoteAddress(ctx context.Context, remoteAddress string) (int, error) {
	remoteAddress = strings.TrimSpace(remoteAddress)
	if remoteAddress == "" {
		return 0, fmt.Errorf("%w: empty remote address", session.ErrInvalidArgument)
	}
	return r.removeAll(ctx, "address", func(info session.Info) bool {
		return info.RemoteAddress == remoteAddress
	})
}

func (r *Registry) RemoveAllByType(ctx context.Context, typ session.Type) (int, error) {
	if !typ.Valid() {
		return 0, fmt.Errorf("%w: session type %d", session.ErrInvalidArgument, int(typ))
	}
	return r.removeAll(ctx, "type", func(info session.Info) bool {
		return info.Type == typ
	})
}

// RemoveAll closes every session visible on the bus.
func (r *Registry) RemoveAll(ctx context.Context) (int, error) {
	return r.removeAll(ctx, "all", func(session.Info) bool { return true })
}

// removeAll closes every local match, then every peer match not already
// closed here. A failing peer is logged and not counted.
func (r *Registry) removeAll(ctx context.Context, by string, match func(session.Info) bool) (int, error) {
	recs, err := r.localRecords()
	if err != nil {
		return 0, err
	}
	closed := lookup.NewSet()
	for _, rec := range recs {
		if !match(rec.Info(r.service)) {
			continue
		}
		if r.removeRecord(rec, true) {
			closed.Add(rec.ID())
		}
	}
	count := len(closed)

	exclude, err := r.localIDs()
	if err != nil {
		return count, err
	}
	for id := range closed {
		exclude.Add(id)
	}
	remote, err := r.scan.Find(ctx, exclude)
	if err != nil {
		return count, err
	}
	for _, info := range remote {
		if !match(info) {
			continue
		}
		err := r.caller.CloseSession(ctx, info.ServiceName, info.ObjectPath, true)
		observability.RecordRemoteCall(r.cfg.Slug, "close", err)
		if err != nil {
			logs.Warnf("registry.Registry.removeAll skip id=%s service=%s err=%v", info.ID, info.ServiceName, err)
			continue
		}
		count++
	}
	logs.Infof("registry.Registry.removeAll by=%s local=%d total=%d", by, len(closed), count)
	return count, nil
}

// GetSessionInfo describes id, preferring the local record.
func (r *Registry) GetSessionInfo(ctx context.Context, id session.ID) (session.Info, error) {
	if id == session.InvalidID {
		return session.Info{}, fmt.Errorf("%w: invalid session id", session.ErrInvalidArgument)
	}
	rec, err := r.record(id)
	switch {
	case err == nil:
		return rec.Info(r.service), nil
	case errors.Is(err, ErrRegistryClosed):
		return session.Info{}, err
	}
	exclude, err := r.localIDs()
	if err != nil {
		return session.Info{}, err
	}
	remote, err := r.scan.Find(ctx, exclude, id)
	if err != nil {
		return session.Info{}, err
	}
	for _, info := range remote {
		if info.ID == id {
			return info, nil
		}
	}
	return session.Info{}, fmt.Errorf("%w: session %s", session.ErrNotFound, id)
}

// GetAllSessions returns local and peer sessions sorted by id.
func (r *Registry) GetAllSessions(ctx context.Context) ([]session.Info, error) {
	recs, err := r.localRecords()
	if err != nil {
		return nil, err
	}
	local := make([]session.Info, 0, len(recs))
	exclude := lookup.NewSet()
	for _, rec := range recs {
		local = append(local, rec.Info(r.service))
		exclude.Add(rec.ID())
	}
	remote, err := r.scan.Find(ctx, exclude)
	if err != nil {
		return nil, err
	}
	return lookup.Merge(local, remote), nil
}

func (r *Registry) localIDs() (lookup.Set, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	out := make(lookup.Set, len(r.sessions))
	for id := range r.sessions {
		out.Add(id)
	}
	return out, nil
}
