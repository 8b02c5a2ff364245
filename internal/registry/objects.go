package registry

import (
	"context"

	"github.com/danmuck/sessionctl/internal/bus"
	"github.com/danmuck/sessionctl/internal/session"
)

// sessionObject is the bus face of one local session. It holds the id
// only and resolves the record through its registry on every access.
type sessionObject struct {
	r  *Registry
	id session.ID
}

var _ bus.Object = sessionObject{}

func (o sessionObject) Interfaces() []string {
	return []string{bus.SessionItemInterface, bus.AssociationInterface, bus.DeleteInterface}
}

func (o sessionObject) Properties() map[string]any {
	rec, err := o.r.record(o.id)
	if err != nil {
		return map[string]any{}
	}
	return rec.Properties()
}

func (o sessionObject) Methods() map[string]bus.Method {
	return map[string]bus.Method{
		bus.MethodSetSessionMetadata: {
			Interface: bus.SessionItemInterface,
			Signature: "ss",
			Call: func(ctx context.Context, args []any) error {
				return o.r.SetSessionMetadata(ctx, o.id, args[0].(string), args[1].(string))
			},
		},
		bus.MethodClose: {
			Interface: bus.SessionItemInterface,
			Signature: "b",
			Call: func(_ context.Context, args []any) error {
				return o.r.CloseSession(o.id, args[0].(bool))
			},
		},
		bus.MethodDelete: {
			Interface: bus.DeleteInterface,
			Call: func(context.Context, []any) error {
				return o.r.CloseSession(o.id, true)
			},
		},
	}
}

// registryObject exposes the build transaction at the manager path.
type registryObject struct {
	r *Registry
}

var _ bus.Object = registryObject{}

func (o registryObject) Interfaces() []string {
	return []string{bus.SessionBuildInterface}
}

func (o registryObject) Properties() map[string]any {
	return map[string]any{}
}

func (o registryObject) Methods() map[string]bus.Method {
	return map[string]bus.Method{
		bus.MethodCommitSessionBuild: {
			Interface: bus.SessionBuildInterface,
			Signature: "ss",
			Call: func(ctx context.Context, args []any) error {
				return o.r.CommitTransaction(ctx, args[0].(string), args[1].(string))
			},
		},
		bus.MethodResetSessionBuild: {
			Interface: bus.SessionBuildInterface,
			Call: func(context.Context, []any) error {
				o.r.ResetTransaction()
				return nil
			},
		},
	}
}
