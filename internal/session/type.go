package session

import (
	"fmt"
	"strings"
)

// Type is the kind of interactive session.
type Type int

const (
	TypeHostConsole Type = iota
	TypeIPMI
	TypeKVMIP
	TypeManagerConsole
	TypeRedfish
	TypeVirtualMedia
	TypeWebUI
	TypeNBD
)

// TypePrefix is the bus enumeration namespace for Type values.
const TypePrefix = "xyz.openbmc_project.Session.Item.Type."

var typeNames = [...]string{
	TypeHostConsole:    "HostConsole",
	TypeIPMI:           "IPMI",
	TypeKVMIP:          "KVMIP",
	TypeManagerConsole: "ManagerConsole",
	TypeRedfish:        "Redfish",
	TypeVirtualMedia:   "VirtualMedia",
	TypeWebUI:          "WebUI",
	TypeNBD:            "NBD",
}

// Name returns the bare enumerator, e.g. "Redfish".
func (t Type) Name() string {
	if !t.Valid() {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

// String returns the canonical bus form.
func (t Type) String() string {
	return TypePrefix + t.Name()
}

func (t Type) Valid() bool {
	return t >= TypeHostConsole && int(t) < len(typeNames)
}

// ParseType accepts the canonical bus form or a bare enumerator name.
func ParseType(raw string) (Type, error) {
	raw = strings.TrimSpace(raw)
	if name, ok := strings.CutPrefix(raw, TypePrefix); ok {
		for i, n := range typeNames {
			if n == name {
				return Type(i), nil
			}
		}
		return 0, fmt.Errorf("%w: session type %q", ErrInvalidArgument, raw)
	}
	for i, n := range typeNames {
		if strings.EqualFold(n, raw) {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("%w: session type %q", ErrInvalidArgument, raw)
}

// Types lists every valid Type in enumeration order.
func Types() []Type {
	out := make([]Type, 0, len(typeNames))
	for i := range typeNames {
		out = append(out, Type(i))
	}
	return out
}

func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: session type %d", ErrInvalidArgument, int(t))
	}
	return []byte(t.Name()), nil
}

func (t *Type) UnmarshalText(text []byte) error {
	v, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
