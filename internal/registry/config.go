package registry

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/sessionctl/internal/bus"
	"github.com/danmuck/sessionctl/internal/clock"
	"github.com/danmuck/sessionctl/internal/session"
)

// DefaultTransactionTimeout bounds how long a started build may stay
// uncommitted before the watchdog discards it.
const DefaultTransactionTimeout = 20 * time.Second

// CreatePolicy decides whether Create is accepted while a build
// transaction is pending.
type CreatePolicy int

const (
	CreateAllowedWhilePending CreatePolicy = iota
	CreateRejectedWhilePending
)

func (p CreatePolicy) String() string {
	switch p {
	case CreateAllowedWhilePending:
		return "allow"
	case CreateRejectedWhilePending:
		return "reject"
	default:
		return fmt.Sprintf("CreatePolicy(%d)", int(p))
	}
}

func ParseCreatePolicy(raw string) (CreatePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "allow":
		return CreateAllowedWhilePending, nil
	case "reject":
		return CreateRejectedWhilePending, nil
	default:
		return 0, fmt.Errorf("%w: create policy %q", session.ErrInvalidArgument, raw)
	}
}

// UnknownOwnerPolicy decides what Create reports when the owner cannot be
// resolved. The half-created session is unpublished either way.
type UnknownOwnerPolicy int

const (
	UnknownOwnerPropagate UnknownOwnerPolicy = iota
	UnknownOwnerDrop
)

func (p UnknownOwnerPolicy) String() string {
	switch p {
	case UnknownOwnerPropagate:
		return "propagate"
	case UnknownOwnerDrop:
		return "drop"
	default:
		return fmt.Sprintf("UnknownOwnerPolicy(%d)", int(p))
	}
}

func ParseUnknownOwnerPolicy(raw string) (UnknownOwnerPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "propagate":
		return UnknownOwnerPropagate, nil
	case "drop":
		return UnknownOwnerDrop, nil
	default:
		return 0, fmt.Errorf("%w: unknown owner policy %q", session.ErrInvalidArgument, raw)
	}
}

type Config struct {
	Slug               string
	Type               session.Type
	TransactionTimeout time.Duration
	CreatePolicy       CreatePolicy
	UnknownOwnerPolicy UnknownOwnerPolicy
}

func DefaultConfig(slug string, typ session.Type) Config {
	return Config{
		Slug:               slug,
		Type:               typ,
		TransactionTimeout: DefaultTransactionTimeout,
	}
}

func (c Config) WithDefaults() Config {
	c.Slug = strings.TrimSpace(c.Slug)
	if c.TransactionTimeout <= 0 {
		c.TransactionTimeout = DefaultTransactionTimeout
	}
	return c
}

func (c Config) Validate() error {
	if !bus.ValidSlug(c.Slug) {
		return fmt.Errorf("%w: slug %q", session.ErrInvalidArgument, c.Slug)
	}
	if !c.Type.Valid() {
		return fmt.Errorf("%w: session type %d", session.ErrInvalidArgument, int(c.Type))
	}
	if c.TransactionTimeout <= 0 {
		return fmt.Errorf("%w: transaction timeout %s", session.ErrInvalidArgument, c.TransactionTimeout)
	}
	switch c.CreatePolicy {
	case CreateAllowedWhilePending, CreateRejectedWhilePending:
	default:
		return fmt.Errorf("%w: %s", session.ErrInvalidArgument, c.CreatePolicy)
	}
	switch c.UnknownOwnerPolicy {
	case UnknownOwnerPropagate, UnknownOwnerDrop:
	default:
		return fmt.Errorf("%w: %s", session.ErrInvalidArgument, c.UnknownOwnerPolicy)
	}
	return nil
}

// Deps are the bus collaborators a registry consumes.
type Deps struct {
	Publisher  bus.Publisher
	Mapper     bus.Mapper
	Properties bus.PropertyReader
	Caller     bus.Caller
	// Directory defaults to a bus.UserDirectory over Mapper.
	Directory session.Directory
	// Clock defaults to the wall clock.
	Clock clock.Clock
}
