package dbusconn

import (
	"github.com/danmuck/sessionctl/internal/bus"
	"github.com/godbus/dbus/v5"
)

// assocTuple encodes as the (sss) struct of Association.Definitions.
type assocTuple struct {
	Forward  string
	Reverse  string
	Endpoint string
}

// toWire converts a property value into its bus encoding.
func toWire(v any) dbus.Variant {
	switch val := v.(type) {
	case []bus.Association:
		out := make([]assocTuple, 0, len(val))
		for _, a := range val {
			out = append(out, assocTuple{Forward: a.Forward, Reverse: a.Reverse, Endpoint: a.Endpoint})
		}
		return dbus.MakeVariant(out)
	case dbus.Variant:
		return val
	default:
		return dbus.MakeVariant(v)
	}
}

// fromWire unwraps decoded variants into plain values.
func fromWire(props map[string]dbus.Variant) map[string]any {
	out := make(map[string]any, len(props))
	for name, v := range props {
		out[name] = v.Value()
	}
	return out
}

func wireProperties(props map[string]any) map[string]dbus.Variant {
	out := make(map[string]dbus.Variant, len(props))
	for name, v := range props {
		out[name] = toWire(v)
	}
	return out
}
