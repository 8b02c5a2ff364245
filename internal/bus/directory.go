package bus

import (
	"context"
	"fmt"
	"strings"
)

// UserDirectory checks whether an owner account exists by resolving its
// object path through the mapper.
type UserDirectory struct {
	Mapper Mapper
}

// Exists reports whether name resolves to a user object.
func (d UserDirectory) Exists(ctx context.Context, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, "/") {
		return false, nil
	}
	if d.Mapper == nil {
		return false, ErrNotConnected
	}
	owners, err := d.Mapper.GetObject(ctx, UserPath(name), []string{UserInterface})
	if err != nil {
		return false, fmt.Errorf("resolve user %q: %w", name, err)
	}
	return len(owners) > 0, nil
}
