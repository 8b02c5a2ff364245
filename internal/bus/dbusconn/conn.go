package dbusconn

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/danmuck/sessionctl/internal/bus"
	logs "github.com/danmuck/sessionctl/internal/logging"
	"github.com/godbus/dbus/v5"
)

// Bus kinds accepted by Connect.
const (
	SystemBus  = "system"
	SessionBus = "session"
)

const introspectInterface = "org.freedesktop.DBus.Introspectable"

// Conn adapts a godbus connection to the bus collaborator interfaces.
type Conn struct {
	conn *dbus.Conn

	mu       sync.Mutex
	exported map[string][]string
}

var (
	_ bus.Publisher      = (*Conn)(nil)
	_ bus.Mapper         = (*Conn)(nil)
	_ bus.PropertyReader = (*Conn)(nil)
	_ bus.Caller         = (*Conn)(nil)
)

// Connect opens a private connection to the system or session bus.
func Connect(kind string) (*Conn, error) {
	var (
		c   *dbus.Conn
		err error
	)
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", SystemBus:
		c, err = dbus.ConnectSystemBus()
	case SessionBus:
		c, err = dbus.ConnectSessionBus()
	default:
		return nil, fmt.Errorf("dbusconn: unknown bus kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s bus: %v", bus.ErrNotConnected, kind, err)
	}
	return New(c), nil
}

// New wraps an established connection.
func New(c *dbus.Conn) *Conn {
	return &Conn{conn: c, exported: make(map[string][]string)}
}

// Raw returns the underlying connection.
func (c *Conn) Raw() *dbus.Conn { return c.conn }

func (c *Conn) Close() error { return c.conn.Close() }

func (c *Conn) RequestName(name string) error {
	reply, err := c.conn.RequestName(name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("request name %s: %w", name, fromDBusError(err))
	}
	switch reply {
	case dbus.RequestNameReplyPrimaryOwner, dbus.RequestNameReplyAlreadyOwner:
		return nil
	default:
		return fmt.Errorf("%w: %s", bus.ErrNameTaken, name)
	}
}

func (c *Conn) ReleaseName(name string) error {
	if _, err := c.conn.ReleaseName(name); err != nil {
		return fmt.Errorf("release name %s: %w", name, fromDBusError(err))
	}
	return nil
}

// Publish exports every interface of obj at path, plus a Properties
// interface reading obj's live snapshot.
func (c *Conn) Publish(path string, obj bus.Object) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.exported[path]; ok {
		return fmt.Errorf("%w: %s", bus.ErrPathInUse, path)
	}
	objPath := dbus.ObjectPath(path)
	if !objPath.IsValid() {
		return fmt.Errorf("%w: invalid object path %q", bus.ErrBadArguments, path)
	}

	ifaces := append([]string(nil), obj.Interfaces()...)
	methods := obj.Methods()
	for _, iface := range ifaces {
		table := make(map[string]any)
		for name, m := range methods {
			if m.Interface != iface {
				continue
			}
			fn, err := methodFunc(m)
			if err != nil {
				c.unexportLocked(objPath, ifaces)
				return fmt.Errorf("export %s.%s: %w", iface, name, err)
			}
			table[name] = fn
		}
		if err := c.conn.ExportMethodTable(table, objPath, iface); err != nil {
			c.unexportLocked(objPath, ifaces)
			return fmt.Errorf("export %s on %s: %w", iface, path, err)
		}
	}
	if err := c.conn.ExportMethodTable(propertiesTable(obj), objPath, bus.PropertiesInterface); err != nil {
		c.unexportLocked(objPath, ifaces)
		return fmt.Errorf("export properties on %s: %w", path, err)
	}
	introspectable := map[string]any{
		"Introspect": func() (string, *dbus.Error) {
			c.mu.Lock()
			paths := make([]string, 0, len(c.exported))
			for p := range c.exported {
				paths = append(paths, p)
			}
			c.mu.Unlock()
			out, err := introspectXML(describe(obj, childNames(path, paths)))
			if err != nil {
				return "", toDBusError(err)
			}
			return out, nil
		},
	}
	if err := c.conn.ExportMethodTable(introspectable, objPath, introspectInterface); err != nil {
		c.unexportLocked(objPath, ifaces)
		return fmt.Errorf("export introspection on %s: %w", path, err)
	}
	c.exported[path] = ifaces
	if err := c.conn.Emit(dbus.ObjectPath(bus.ManagerPath), objectManagerInterface+".InterfacesAdded", objPath, interfacesAdded(obj)); err != nil {
		logs.Warnf("dbusconn.Conn.Publish announce path=%s err=%v", path, err)
	}
	logs.Debugf("dbusconn.Conn.Publish path=%s ifaces=%d", path, len(ifaces))
	return nil
}

func (c *Conn) Unpublish(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ifaces, ok := c.exported[path]
	if !ok {
		return fmt.Errorf("%w: %s", bus.ErrNoSuchObject, path)
	}
	c.unexportLocked(dbus.ObjectPath(path), ifaces)
	delete(c.exported, path)
	if err := c.conn.Emit(dbus.ObjectPath(bus.ManagerPath), objectManagerInterface+".InterfacesRemoved", dbus.ObjectPath(path), ifaces); err != nil {
		logs.Warnf("dbusconn.Conn.Unpublish announce path=%s err=%v", path, err)
	}
	return nil
}

func (c *Conn) unexportLocked(path dbus.ObjectPath, ifaces []string) {
	for _, iface := range ifaces {
		if err := c.conn.Export(nil, path, iface); err != nil {
			logs.Warnf("dbusconn.Conn.unexport path=%s iface=%s err=%v", path, iface, err)
		}
	}
	_ = c.conn.Export(nil, path, bus.PropertiesInterface)
	_ = c.conn.Export(nil, path, introspectInterface)
}

// methodFunc adapts m to a function godbus can dispatch.
func methodFunc(m bus.Method) (any, error) {
	call := m.Call
	switch m.Signature {
	case "":
		return func() *dbus.Error {
			return toDBusError(call(context.Background(), nil))
		}, nil
	case "b":
		return func(b bool) *dbus.Error {
			return toDBusError(call(context.Background(), []any{b}))
		}, nil
	case "ss":
		return func(a, b string) *dbus.Error {
			return toDBusError(call(context.Background(), []any{a, b}))
		}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported signature %q", bus.ErrBadArguments, m.Signature)
	}
}

func propertiesTable(obj bus.Object) map[string]any {
	return map[string]any{
		"Get": func(_ string, name string) (dbus.Variant, *dbus.Error) {
			v, ok := obj.Properties()[name]
			if !ok {
				return dbus.Variant{}, dbus.NewError(ErrNameUnknownProperty, []any{name})
			}
			return toWire(v), nil
		},
		"GetAll": func(string) (map[string]dbus.Variant, *dbus.Error) {
			return wireProperties(obj.Properties()), nil
		},
		"Set": func(_ string, name string, _ dbus.Variant) *dbus.Error {
			return dbus.NewError(ErrNamePropertyReadOnly, []any{name})
		},
	}
}

func (c *Conn) mapper() dbus.BusObject {
	return c.conn.Object(bus.MapperService, dbus.ObjectPath(bus.MapperPath))
}

func (c *Conn) GetSubTree(ctx context.Context, root string, depth int32, interfaces []string) (bus.Subtree, error) {
	var raw map[string]map[string][]string
	call := c.mapper().CallWithContext(ctx, bus.MapperInterface+".GetSubTree", 0, root, depth, nonNil(interfaces))
	if err := call.Store(&raw); err != nil {
		err = fromDBusError(err)
		if isResourceNotFound(err) {
			return bus.Subtree{}, nil
		}
		return nil, fmt.Errorf("mapper GetSubTree %s: %w", root, err)
	}
	out := make(bus.Subtree, len(raw))
	for path, owners := range raw {
		out[path] = bus.ObjectMap(owners)
	}
	return out, nil
}

// GetObject maps the mapper's not-found error to an empty result.
func (c *Conn) GetObject(ctx context.Context, path string, interfaces []string) (bus.ObjectMap, error) {
	var raw map[string][]string
	call := c.mapper().CallWithContext(ctx, bus.MapperInterface+".GetObject", 0, path, nonNil(interfaces))
	if err := call.Store(&raw); err != nil {
		err = fromDBusError(err)
		if isResourceNotFound(err) {
			return bus.ObjectMap{}, nil
		}
		return nil, fmt.Errorf("mapper GetObject %s: %w", path, err)
	}
	return bus.ObjectMap(raw), nil
}

func (c *Conn) GetAll(ctx context.Context, service, path string) (map[string]any, error) {
	var raw map[string]dbus.Variant
	call := c.conn.Object(service, dbus.ObjectPath(path)).
		CallWithContext(ctx, bus.PropertiesInterface+".GetAll", 0, "")
	if err := call.Store(&raw); err != nil {
		return nil, fmt.Errorf("GetAll %s %s: %w", service, path, fromDBusError(err))
	}
	return fromWire(raw), nil
}

func (c *Conn) CloseSession(ctx context.Context, service, path string, invokeCleanup bool) error {
	call := c.conn.Object(service, dbus.ObjectPath(path)).
		CallWithContext(ctx, bus.SessionItemInterface+"."+bus.MethodClose, 0, invokeCleanup)
	if call.Err != nil {
		return fmt.Errorf("Close %s %s: %w", service, path, fromDBusError(call.Err))
	}
	return nil
}

func (c *Conn) CommitSessionBuild(ctx context.Context, service, owner, remoteAddress string) error {
	call := c.conn.Object(service, dbus.ObjectPath(bus.ManagerPath)).
		CallWithContext(ctx, bus.SessionBuildInterface+"."+bus.MethodCommitSessionBuild, 0, owner, remoteAddress)
	if call.Err != nil {
		return fmt.Errorf("CommitSessionBuild %s: %w", service, fromDBusError(call.Err))
	}
	return nil
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
