package membus

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/sessionctl/internal/bus"
)

// UserManagerService owns the user objects added through Hub.AddUser.
const UserManagerService = "xyz.openbmc_project.User.Manager"

// Hub is an in-process bus shared by every Conn connected to it. Method
// calls are dispatched synchronously on the caller's goroutine.
type Hub struct {
	mu      sync.Mutex
	nextID  int
	names   map[string]*Conn
	objects map[string]map[*Conn]bus.Object
	faults  map[string]error
	mapper  error
	users   *Conn
}

func NewHub() *Hub {
	h := &Hub{
		names:   make(map[string]*Conn),
		objects: make(map[string]map[*Conn]bus.Object),
		faults:  make(map[string]error),
	}
	h.users = h.Connect()
	_ = h.users.RequestName(UserManagerService)
	return h
}

// Connect opens a new connection with a unique name and no owned names.
func (h *Hub) Connect() *Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	return &Conn{hub: h, unique: fmt.Sprintf(":1.%d", h.nextID)}
}

// AddUser publishes a user account object resolvable by the owner directory.
func (h *Hub) AddUser(name string) error {
	return h.users.Publish(bus.UserPath(name), staticObject{ifaces: []string{bus.UserInterface}})
}

func (h *Hub) RemoveUser(name string) error {
	return h.users.Unpublish(bus.UserPath(name))
}

// FailService makes every property read and method call addressed to service
// fail with err. A nil err clears the fault.
func (h *Hub) FailService(service string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		delete(h.faults, service)
		return
	}
	h.faults[service] = err
}

// FailMapper makes every directory query fail with err. A nil err clears the fault.
func (h *Hub) FailMapper(err error) {
	h.mu.Lock()
	h.mapper = err
	h.mu.Unlock()
}

func (h *Hub) serviceOf(c *Conn) string {
	if len(c.names) > 0 {
		return c.names[0]
	}
	return c.unique
}

func (h *Hub) lookup(service, path string) (bus.Object, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.faults[service]; err != nil {
		return nil, fmt.Errorf("%w: %s: %w", bus.ErrRemoteFailure, service, err)
	}
	owner, ok := h.names[service]
	if !ok {
		return nil, fmt.Errorf("%w: service %s", bus.ErrNoSuchObject, service)
	}
	obj, ok := h.objects[path][owner]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", bus.ErrNoSuchObject, service, path)
	}
	return obj, nil
}

func (h *Hub) subtree(root string, depth int32, ifaces []string) (bus.Subtree, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.mapper != nil {
		return nil, h.mapper
	}
	prefix := strings.TrimRight(root, "/") + "/"
	out := make(bus.Subtree)
	for path, owners := range h.objects {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		if depth > 0 && int32(strings.Count(path[len(prefix):], "/")+1) > depth {
			continue
		}
		if m := h.objectMapLocked(owners, ifaces); len(m) > 0 {
			out[path] = m
		}
	}
	return out, nil
}

func (h *Hub) object(path string, ifaces []string) (bus.ObjectMap, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.mapper != nil {
		return nil, h.mapper
	}
	return h.objectMapLocked(h.objects[path], ifaces), nil
}

func (h *Hub) objectMapLocked(owners map[*Conn]bus.Object, ifaces []string) bus.ObjectMap {
	out := make(bus.ObjectMap)
	for c, obj := range owners {
		have := obj.Interfaces()
		if len(ifaces) > 0 && !intersects(have, ifaces) {
			continue
		}
		list := append([]string(nil), have...)
		sort.Strings(list)
		out[h.serviceOf(c)] = list
	}
	return out
}

func intersects(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

type staticObject struct {
	ifaces []string
}

func (o staticObject) Interfaces() []string           { return o.ifaces }
func (o staticObject) Properties() map[string]any     { return map[string]any{} }
func (o staticObject) Methods() map[string]bus.Method { return nil }
