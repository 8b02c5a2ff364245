package dbusconn

import (
	"errors"

	"github.com/danmuck/sessionctl/internal/bus"
	"github.com/danmuck/sessionctl/internal/session"
	"github.com/godbus/dbus/v5"
)

// Bus error names exchanged with peer registries.
const (
	ErrNameInvalidArgument  = "xyz.openbmc_project.Common.Error.InvalidArgument"
	ErrNameResourceNotFound = "xyz.openbmc_project.Common.Error.ResourceNotFound"
	ErrNameInternalFailure  = "xyz.openbmc_project.Common.Error.InternalFailure"
	ErrNameNotAllowed       = "xyz.openbmc_project.Common.Error.NotAllowed"
	ErrNameUnknownOwner     = "xyz.openbmc_project.Session.Error.UnknownOwner"
	ErrNameUnknownMethod    = "org.freedesktop.DBus.Error.UnknownMethod"
	ErrNameUnknownProperty  = "org.freedesktop.DBus.Error.UnknownProperty"
	ErrNamePropertyReadOnly = "org.freedesktop.DBus.Error.PropertyReadOnly"
)

// toDBusError encodes a method failure for the wire.
func toDBusError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	name := ErrNameInternalFailure
	switch {
	case errors.Is(err, session.ErrInvalidArgument), errors.Is(err, session.ErrFormat), errors.Is(err, bus.ErrBadArguments):
		name = ErrNameInvalidArgument
	case errors.Is(err, session.ErrUnknownOwner):
		name = ErrNameUnknownOwner
	case errors.Is(err, session.ErrTransactionLocked):
		name = ErrNameNotAllowed
	case errors.Is(err, session.ErrNotFound):
		name = ErrNameResourceNotFound
	case errors.Is(err, bus.ErrNoSuchMethod):
		name = ErrNameUnknownMethod
	}
	return dbus.NewError(name, []any{err.Error()})
}

// remoteError is a decoded bus error that keeps the matching session sentinel
// in its chain.
type remoteError struct {
	name   string
	detail string
	kind   error
}

func (e *remoteError) Error() string {
	if e.detail == "" {
		return e.name
	}
	return e.name + ": " + e.detail
}

func (e *remoteError) Unwrap() []error {
	if e.kind == nil {
		return []error{bus.ErrRemoteFailure}
	}
	return []error{bus.ErrRemoteFailure, e.kind}
}

// fromDBusError decodes a call failure into an error matching the session
// taxonomy where the name is known.
func fromDBusError(err error) error {
	if err == nil {
		return nil
	}
	var dErr dbus.Error
	if !errors.As(err, &dErr) {
		var ptr *dbus.Error
		if !errors.As(err, &ptr) || ptr == nil {
			return err
		}
		dErr = *ptr
	}
	out := &remoteError{name: dErr.Name}
	if len(dErr.Body) > 0 {
		if s, ok := dErr.Body[0].(string); ok {
			out.detail = s
		}
	}
	switch dErr.Name {
	case ErrNameInvalidArgument:
		out.kind = session.ErrInvalidArgument
	case ErrNameResourceNotFound:
		out.kind = session.ErrNotFound
	case ErrNameUnknownOwner:
		out.kind = session.ErrUnknownOwner
	case ErrNameNotAllowed:
		out.kind = session.ErrTransactionLocked
	case ErrNameInternalFailure:
		out.kind = session.ErrInternalFailure
	case ErrNameUnknownMethod:
		out.kind = bus.ErrNoSuchMethod
	case "org.freedesktop.DBus.Error.ServiceUnknown", "org.freedesktop.DBus.Error.UnknownObject":
		out.kind = bus.ErrNoSuchObject
	}
	return out
}

func isResourceNotFound(err error) bool {
	var re *remoteError
	return errors.As(err, &re) && re.name == ErrNameResourceNotFound
}
