package dbusconn

import (
	"encoding/xml"
	"sort"
	"strings"

	"github.com/danmuck/sessionctl/internal/bus"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

const objectManagerInterface = "org.freedesktop.DBus.ObjectManager"

// propertyInterface names the interface a published property belongs to.
func propertyInterface(name string) string {
	if name == bus.PropAssociations {
		return bus.AssociationInterface
	}
	return bus.SessionItemInterface
}

// describe builds the introspection node of obj. children are the direct
// child node names under the object's path.
func describe(obj bus.Object, children []string) introspect.Node {
	props := obj.Properties()
	methods := obj.Methods()
	node := introspect.Node{}
	for _, iface := range obj.Interfaces() {
		desc := introspect.Interface{Name: iface}
		names := make([]string, 0, len(methods))
		for name, m := range methods {
			if m.Interface == iface {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			desc.Methods = append(desc.Methods, introspect.Method{Name: name, Args: methodArgs(methods[name].Signature)})
		}
		propNames := make([]string, 0, len(props))
		for name := range props {
			if propertyInterface(name) == iface {
				propNames = append(propNames, name)
			}
		}
		sort.Strings(propNames)
		for _, name := range propNames {
			desc.Properties = append(desc.Properties, introspect.Property{
				Name:   name,
				Type:   toWire(props[name]).Signature().String(),
				Access: "read",
			})
		}
		node.Interfaces = append(node.Interfaces, desc)
	}
	node.Interfaces = append(node.Interfaces, introspect.IntrospectData, introspect.Interface{
		Name: bus.PropertiesInterface,
		Methods: []introspect.Method{
			{Name: "Get", Args: []introspect.Arg{{Name: "interface", Type: "s", Direction: "in"}, {Name: "name", Type: "s", Direction: "in"}, {Name: "value", Type: "v", Direction: "out"}}},
			{Name: "GetAll", Args: []introspect.Arg{{Name: "interface", Type: "s", Direction: "in"}, {Name: "props", Type: "a{sv}", Direction: "out"}}},
			{Name: "Set", Args: []introspect.Arg{{Name: "interface", Type: "s", Direction: "in"}, {Name: "name", Type: "s", Direction: "in"}, {Name: "value", Type: "v", Direction: "in"}}},
		},
	})
	for _, child := range children {
		node.Children = append(node.Children, introspect.Node{Name: child})
	}
	return node
}

func methodArgs(sig string) []introspect.Arg {
	args := make([]introspect.Arg, 0, len(sig))
	for i := 0; i < len(sig); i++ {
		args = append(args, introspect.Arg{Type: string(sig[i]), Direction: "in"})
	}
	return args
}

// childNames lists the first path element below parent of every path.
func childNames(parent string, paths []string) []string {
	prefix := strings.TrimRight(parent, "/") + "/"
	seen := make(map[string]struct{})
	for _, p := range paths {
		rest, ok := strings.CutPrefix(p, prefix)
		if !ok || rest == "" {
			continue
		}
		name, _, _ := strings.Cut(rest, "/")
		seen[name] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func introspectXML(node introspect.Node) (string, error) {
	raw, err := xml.Marshal(node)
	if err != nil {
		return "", err
	}
	return introspect.IntrospectDeclarationString + string(raw), nil
}

// interfacesAdded is the ObjectManager payload announcing obj.
func interfacesAdded(obj bus.Object) map[string]map[string]dbus.Variant {
	props := obj.Properties()
	out := make(map[string]map[string]dbus.Variant)
	for _, iface := range obj.Interfaces() {
		vals := make(map[string]dbus.Variant)
		for name, v := range props {
			if propertyInterface(name) == iface {
				vals[name] = toWire(v)
			}
		}
		out[iface] = vals
	}
	return out
}
