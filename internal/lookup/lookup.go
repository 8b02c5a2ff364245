package lookup

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/sessionctl/internal/bus"
	logs "github.com/danmuck/sessionctl/internal/logging"
	"github.com/danmuck/sessionctl/internal/session"
)

// Candidate is a session object published by a peer registry.
type Candidate struct {
	ID      session.ID
	Service string
	Path    string
}

// Scanner locates sessions owned by other registries on the bus. It holds
// no state between calls.
type Scanner struct {
	Mapper     bus.Mapper
	Properties bus.PropertyReader
	// Self is the service name of the calling registry. Objects owned only
	// by Self are never reported.
	Self string
}

// Set is a collection of session ids.
type Set map[session.ID]struct{}

func NewSet(ids ...session.ID) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s Set) Has(id session.ID) bool {
	_, ok := s[id]
	return ok
}

func (s Set) Add(id session.ID) { s[id] = struct{}{} }

// Candidates scans the session namespace for peer session objects whose id
// is not in exclude. The result is sorted by id.
func (s Scanner) Candidates(ctx context.Context, exclude Set) ([]Candidate, error) {
	if s.Mapper == nil {
		return nil, fmt.Errorf("%w: no object directory", session.ErrInternalFailure)
	}
	tree, err := s.Mapper.GetSubTree(ctx, bus.ManagerPath, 0, []string{bus.SessionItemInterface})
	if err != nil {
		return nil, fmt.Errorf("%w: scan sessions: %v", session.ErrInternalFailure, err)
	}
	out := make([]Candidate, 0, len(tree))
	for path, owners := range tree {
		id, ok := sessionIDFromPath(path)
		if !ok || exclude.Has(id) {
			continue
		}
		service, ok := s.pickOwner(owners)
		if !ok {
			continue
		}
		out = append(out, Candidate{ID: id, Service: service, Path: path})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	logs.Debugf("lookup.Scanner.Candidates self=%s found=%d", s.Self, len(out))
	return out, nil
}

func (s Scanner) pickOwner(owners bus.ObjectMap) (string, bool) {
	names := make([]string, 0, len(owners))
	for name := range owners {
		if name == s.Self {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return "", false
	}
	sort.Strings(names)
	return names[0], true
}

// sessionIDFromPath accepts <manager>/<slug>/<hex id> exactly.
func sessionIDFromPath(path string) (session.ID, bool) {
	rest, ok := strings.CutPrefix(path, bus.ManagerPath+"/")
	if !ok {
		return session.InvalidID, false
	}
	slug, hex, ok := strings.Cut(rest, "/")
	if !ok || !bus.ValidSlug(slug) || len(hex) != len(session.InvalidID.Hex()) {
		return session.InvalidID, false
	}
	id, err := session.ParseID(hex)
	if err != nil || id == session.InvalidID {
		return session.InvalidID, false
	}
	return id, true
}

// Describe fetches and normalizes the properties of each candidate. When
// targets is non-empty only candidates in targets are fetched. Candidates
// that fail to load or parse are logged and skipped.
func (s Scanner) Describe(ctx context.Context, candidates []Candidate, targets Set) []session.Info {
	out := make([]session.Info, 0, len(candidates))
	if s.Properties == nil {
		logs.Warnf("lookup.Scanner.Describe no property reader self=%s", s.Self)
		return out
	}
	for _, c := range candidates {
		if len(targets) > 0 && !targets.Has(c.ID) {
			continue
		}
		props, err := s.Properties.GetAll(ctx, c.Service, c.Path)
		if err != nil {
			logs.Warnf("lookup.Scanner.Describe fetch failed service=%s path=%s err=%v", c.Service, c.Path, err)
			continue
		}
		info, err := infoFromProperties(c, props)
		if err != nil {
			logs.Warnf("lookup.Scanner.Describe malformed service=%s path=%s err=%v", c.Service, c.Path, err)
			continue
		}
		out = append(out, info)
	}
	return out
}

// Find combines Candidates and Describe.
func (s Scanner) Find(ctx context.Context, exclude Set, targets ...session.ID) ([]session.Info, error) {
	candidates, err := s.Candidates(ctx, exclude)
	if err != nil {
		return nil, err
	}
	return s.Describe(ctx, candidates, NewSet(targets...)), nil
}

// Merge folds remote descriptors into local ones; local entries win.
func Merge(local, remote []session.Info) []session.Info {
	return session.Merge(local, remote)
}

func infoFromProperties(c Candidate, props map[string]any) (session.Info, error) {
	info := session.Info{
		ID:          c.ID,
		ServiceName: c.Service,
		ObjectPath:  c.Path,
	}
	if raw, ok := props[bus.PropSessionID]; ok {
		hex, isString := raw.(string)
		if !isString {
			return session.Info{}, fmt.Errorf("%w: %s is %T", session.ErrFormat, bus.PropSessionID, raw)
		}
		id, err := session.ParseID(hex)
		if err != nil {
			return session.Info{}, err
		}
		if id != c.ID {
			return session.Info{}, fmt.Errorf("%w: %s %s does not match path", session.ErrFormat, bus.PropSessionID, hex)
		}
	}

	rawType, ok := props[bus.PropSessionType].(string)
	if !ok {
		return session.Info{}, fmt.Errorf("%w: missing %s", session.ErrFormat, bus.PropSessionType)
	}
	typ, err := session.ParseType(rawType)
	if err != nil {
		return session.Info{}, err
	}
	info.Type = typ

	rawAddr, ok := props[bus.PropRemoteIPAddr]
	if !ok {
		return session.Info{}, fmt.Errorf("%w: missing %s", session.ErrFormat, bus.PropRemoteIPAddr)
	}
	addr, err := bus.AddressFromValue(rawAddr)
	if err != nil {
		return session.Info{}, err
	}
	info.RemoteAddress = addr

	if rawAssoc, ok := props[bus.PropAssociations]; ok {
		list, err := bus.AssociationsFromValue(rawAssoc)
		if err != nil {
			return session.Info{}, err
		}
		info.Owner, _ = session.OwnerFromAssociations(list)
	}
	return info, nil
}
