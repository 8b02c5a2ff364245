package bus

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNameTaken      = errors.New("bus: name already owned")
	ErrPathInUse      = errors.New("bus: object path already published")
	ErrNoSuchObject   = errors.New("bus: no such object")
	ErrNoSuchMethod   = errors.New("bus: unknown method")
	ErrBadArguments   = errors.New("bus: bad method arguments")
	ErrNotConnected   = errors.New("bus: connection closed")
	ErrRemoteFailure  = errors.New("bus: remote call failed")
	ErrUnexpectedType = errors.New("bus: unexpected value type")
)

// Association is one (forward, reverse, endpoint) triple of the
// Association.Definitions interface.
type Association struct {
	Forward  string
	Reverse  string
	Endpoint string
}

// ObjectMap maps an owning service name to the interfaces it implements on one path.
type ObjectMap map[string][]string

// Subtree maps object paths to their owners.
type Subtree map[string]ObjectMap

// Mapper is the object directory collaborator.
type Mapper interface {
	GetSubTree(ctx context.Context, root string, depth int32, interfaces []string) (Subtree, error)
	// GetObject returns an empty map when nothing implementing interfaces lives at path.
	GetObject(ctx context.Context, path string, interfaces []string) (ObjectMap, error)
}

// PropertyReader fetches every property of an object in one round trip.
type PropertyReader interface {
	GetAll(ctx context.Context, service, path string) (map[string]any, error)
}

// Caller issues the session protocol method calls against peer services.
type Caller interface {
	CloseSession(ctx context.Context, service, path string, invokeCleanup bool) error
	CommitSessionBuild(ctx context.Context, service, owner, remoteAddress string) error
}

// Publisher owns a service name and the objects exported under it.
type Publisher interface {
	RequestName(name string) error
	ReleaseName(name string) error
	Publish(path string, obj Object) error
	Unpublish(path string) error
}

// Method is one callable exposed by an Object. Signature uses the bus type
// codes of the input arguments ("", "b", "ss").
type Method struct {
	Interface string
	Signature string
	Call      func(ctx context.Context, args []any) error
}

// Object is a published bus object with a fixed capability set.
type Object interface {
	Interfaces() []string
	// Properties returns a snapshot keyed by property name.
	Properties() map[string]any
	// Methods is keyed by method name.
	Methods() map[string]Method
}

// Invoke dispatches name on obj after checking the argument signature.
func Invoke(ctx context.Context, obj Object, name string, args ...any) error {
	m, ok := obj.Methods()[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchMethod, name)
	}
	if err := checkSignature(m.Signature, args); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return m.Call(ctx, args)
}

func checkSignature(sig string, args []any) error {
	if len(sig) != len(args) {
		return fmt.Errorf("%w: want %d arguments, got %d", ErrBadArguments, len(sig), len(args))
	}
	for i := 0; i < len(sig); i++ {
		var ok bool
		switch sig[i] {
		case 's':
			_, ok = args[i].(string)
		case 'b':
			_, ok = args[i].(bool)
		default:
			return fmt.Errorf("%w: unsupported signature %q", ErrBadArguments, sig)
		}
		if !ok {
			return fmt.Errorf("%w: argument %d is %T, want %c", ErrBadArguments, i, args[i], sig[i])
		}
	}
	return nil
}
