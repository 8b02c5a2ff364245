package membus

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/danmuck/sessionctl/internal/bus"
)

// Conn is one client of a Hub. It implements every bus collaborator
// interface the registry consumes.
type Conn struct {
	hub    *Hub
	unique string
	names  []string
	closed bool
	calls  atomic.Int64
}

var (
	_ bus.Publisher      = (*Conn)(nil)
	_ bus.Mapper         = (*Conn)(nil)
	_ bus.PropertyReader = (*Conn)(nil)
	_ bus.Caller         = (*Conn)(nil)
)

// UniqueName returns the connection's bus-assigned name.
func (c *Conn) UniqueName() string { return c.unique }

// Calls counts the directory queries, property reads and method calls this
// connection has issued.
func (c *Conn) Calls() int64 { return c.calls.Load() }

func (c *Conn) RequestName(name string) error {
	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return bus.ErrNotConnected
	}
	if owner, ok := h.names[name]; ok {
		if owner == c {
			return nil
		}
		return fmt.Errorf("%w: %s", bus.ErrNameTaken, name)
	}
	h.names[name] = c
	c.names = append(c.names, name)
	return nil
}

func (c *Conn) ReleaseName(name string) error {
	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.names[name] != c {
		return nil
	}
	delete(h.names, name)
	for i, n := range c.names {
		if n == name {
			c.names = append(c.names[:i], c.names[i+1:]...)
			break
		}
	}
	return nil
}

func (c *Conn) Publish(path string, obj bus.Object) error {
	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return bus.ErrNotConnected
	}
	owners := h.objects[path]
	if owners == nil {
		owners = make(map[*Conn]bus.Object)
		h.objects[path] = owners
	}
	if _, ok := owners[c]; ok {
		return fmt.Errorf("%w: %s", bus.ErrPathInUse, path)
	}
	owners[c] = obj
	return nil
}

func (c *Conn) Unpublish(path string) error {
	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	owners := h.objects[path]
	if _, ok := owners[c]; !ok {
		return fmt.Errorf("%w: %s", bus.ErrNoSuchObject, path)
	}
	delete(owners, c)
	if len(owners) == 0 {
		delete(h.objects, path)
	}
	return nil
}

func (c *Conn) GetSubTree(_ context.Context, root string, depth int32, interfaces []string) (bus.Subtree, error) {
	c.calls.Add(1)
	return c.hub.subtree(root, depth, interfaces)
}

func (c *Conn) GetObject(_ context.Context, path string, interfaces []string) (bus.ObjectMap, error) {
	c.calls.Add(1)
	return c.hub.object(path, interfaces)
}

func (c *Conn) GetAll(_ context.Context, service, path string) (map[string]any, error) {
	c.calls.Add(1)
	obj, err := c.hub.lookup(service, path)
	if err != nil {
		return nil, err
	}
	return obj.Properties(), nil
}

// Call invokes method on the object at path owned by service.
func (c *Conn) Call(ctx context.Context, service, path, method string, args ...any) error {
	c.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	obj, err := c.hub.lookup(service, path)
	if err != nil {
		return err
	}
	if err := bus.Invoke(ctx, obj, method, args...); err != nil {
		return fmt.Errorf("%w: %s.%s: %w", bus.ErrRemoteFailure, service, method, err)
	}
	return nil
}

func (c *Conn) CloseSession(ctx context.Context, service, path string, invokeCleanup bool) error {
	return c.Call(ctx, service, path, bus.MethodClose, invokeCleanup)
}

func (c *Conn) CommitSessionBuild(ctx context.Context, service, owner, remoteAddress string) error {
	return c.Call(ctx, service, bus.ManagerPath, bus.MethodCommitSessionBuild, owner, remoteAddress)
}

// Close drops every name and object owned by the connection.
func (c *Conn) Close() error {
	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, name := range c.names {
		delete(h.names, name)
	}
	c.names = nil
	for path, owners := range h.objects {
		delete(owners, c)
		if len(owners) == 0 {
			delete(h.objects, path)
		}
	}
	return nil
}
