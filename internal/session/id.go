package session

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// ID identifies one session on the bus. Zero is reserved.
type ID uint64

const InvalidID ID = 0

// hexWidth is two characters per byte of ID.
const hexWidth = 16

// Hex renders the id as fixed-width, zero-padded lower-case hex.
func (id ID) Hex() string {
	return fmt.Sprintf("%0*x", hexWidth, uint64(id))
}

func (id ID) String() string {
	return id.Hex()
}

// ParseID is the exact inverse of ID.Hex.
func ParseID(raw string) (ID, error) {
	if raw == "" || len(raw) > hexWidth {
		return InvalidID, fmt.Errorf("%w: %q", ErrFormat, raw)
	}
	v, err := strconv.ParseUint(raw, 16, 64)
	if err != nil {
		return InvalidID, fmt.Errorf("%w: %q", ErrFormat, raw)
	}
	return ID(v), nil
}

// Generator derives ids from a timestamp hash mixed with the hash of the
// owning service name.
type Generator struct {
	nameHash uint64
	now      func() time.Time
	seq      atomic.Uint64
}

// NewGenerator builds a generator for serviceName. now defaults to time.Now.
func NewGenerator(serviceName string, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{
		nameHash: xxhash.Sum64String(serviceName),
		now:      now,
	}
}

// Next returns a non-zero id.
func (g *Generator) Next() ID {
	for {
		if id := g.next(); id != InvalidID {
			return id
		}
	}
}

func (g *Generator) next() ID {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(g.now().UnixNano()))
	// the sequence keeps ids distinct within a single clock tick
	binary.LittleEndian.PutUint64(buf[8:], g.seq.Add(1))
	timeHash := xxhash.Sum64(buf[:])
	return ID(timeHash ^ (g.nameHash << 1))
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

func (id *ID) UnmarshalText(text []byte) error {
	v, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = v
	return nil
}
