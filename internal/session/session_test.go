package session

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/danmuck/sessionctl/internal/bus"
	"github.com/danmuck/sessionctl/internal/testutil/testlog"
)

type stubDirectory struct {
	users map[string]bool
	err   error
}

func (d stubDirectory) Exists(_ context.Context, owner string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	return d.users[owner], nil
}

func TestHexRoundTrip(t *testing.T) {
	testlog.Start(t)
	g := NewGenerator(bus.ServiceName("SSH"), nil)
	for i := 0; i < 1000; i++ {
		id := g.Next()
		if id == InvalidID {
			t.Fatalf("generated reserved id")
		}
		hex := id.Hex()
		if len(hex) != 16 {
			t.Fatalf("hex width=%d for %q", len(hex), hex)
		}
		got, err := ParseID(hex)
		if err != nil {
			t.Fatalf("parse %q: %v", hex, err)
		}
		if got != id {
			t.Fatalf("round trip mismatch: got=%v want=%v", got, id)
		}
	}
}

func TestHexFixedWidth(t *testing.T) {
	testlog.Start(t)
	if got := ID(0xff).Hex(); got != "00000000000000ff" {
		t.Fatalf("unexpected hex: %q", got)
	}
	if got := ID(^uint64(0)).Hex(); got != "ffffffffffffffff" {
		t.Fatalf("unexpected hex: %q", got)
	}
}

func TestParseIDRejectsMalformed(t *testing.T) {
	testlog.Start(t)
	for _, raw := range []string{"", "xyz", "0x1f", "-1", "+1", "1_0", "10000000000000000", "00000000000000zz"} {
		if _, err := ParseID(raw); !errors.Is(err, ErrFormat) {
			t.Fatalf("ParseID(%q) expected ErrFormat, got %v", raw, err)
		}
	}
}

func TestGeneratorDistinctWithinOneTick(t *testing.T) {
	testlog.Start(t)
	frozen := time.Unix(1700000000, 0)
	g := NewGenerator(bus.ServiceName("SSH"), func() time.Time { return frozen })
	seen := make(map[ID]struct{})
	for i := 0; i < 256; i++ {
		id := g.Next()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %v at %d", id, i)
		}
		seen[id] = struct{}{}
	}
}

func TestGeneratorMixesServiceName(t *testing.T) {
	testlog.Start(t)
	frozen := time.Unix(1700000000, 0)
	now := func() time.Time { return frozen }
	a := NewGenerator(bus.ServiceName("SSH"), now).Next()
	b := NewGenerator(bus.ServiceName("Redfish"), now).Next()
	if a == b {
		t.Fatalf("expected distinct ids for distinct services")
	}
}

func TestParseType(t *testing.T) {
	testlog.Start(t)
	for _, typ := range Types() {
		got, err := ParseType(typ.String())
		if err != nil || got != typ {
			t.Fatalf("ParseType(%q) = %v,%v", typ.String(), got, err)
		}
		got, err = ParseType(typ.Name())
		if err != nil || got != typ {
			t.Fatalf("ParseType(%q) = %v,%v", typ.Name(), got, err)
		}
	}
	if got, err := ParseType("redfish"); err != nil || got != TypeRedfish {
		t.Fatalf("expected case-insensitive bare name, got %v,%v", got, err)
	}
	for _, raw := range []string{"", "Telnet", TypePrefix + "redfish", TypePrefix} {
		if _, err := ParseType(raw); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("ParseType(%q) expected ErrInvalidArgument, got %v", raw, err)
		}
	}
}

func TestAdjustOwner(t *testing.T) {
	testlog.Start(t)
	dir := stubDirectory{users: map[string]bool{"alice": true}}
	r := NewRecord(1, TypeManagerConsole, "/p/1", "10.0.0.5")

	if err := r.AdjustOwner(context.Background(), dir, "alice"); err != nil {
		t.Fatalf("adjust owner: %v", err)
	}
	owner, ok := r.Owner()
	if !ok || owner != "alice" {
		t.Fatalf("unexpected owner: %q,%v", owner, ok)
	}
	want := []bus.Association{{Forward: "user", Reverse: "session", Endpoint: "/xyz/openbmc_project/user/alice"}}
	if !reflect.DeepEqual(r.Associations(), want) {
		t.Fatalf("unexpected associations: %+v", r.Associations())
	}

	if err := r.AdjustOwner(context.Background(), dir, "mallory"); !errors.Is(err, ErrUnknownOwner) {
		t.Fatalf("expected ErrUnknownOwner, got %v", err)
	}
	if owner, _ := r.Owner(); owner != "alice" {
		t.Fatalf("failed adjust mutated owner: %q", owner)
	}

	broken := stubDirectory{err: errors.New("mapper down")}
	if err := r.AdjustOwner(context.Background(), broken, "alice"); !errors.Is(err, ErrInternalFailure) {
		t.Fatalf("expected ErrInternalFailure, got %v", err)
	}
}

func TestSetMetadata(t *testing.T) {
	testlog.Start(t)
	dir := stubDirectory{users: map[string]bool{"bob": true}}
	r := NewRecord(2, TypeManagerConsole, "/p/2", PlaceholderAddress)

	if err := r.SetMetadata(context.Background(), dir, "bob", ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, ok := r.Owner(); ok {
		t.Fatalf("invalid metadata must not set owner")
	}
	if err := r.SetMetadata(context.Background(), dir, "bob", "10.0.0.9"); err != nil {
		t.Fatalf("set metadata: %v", err)
	}
	props := r.Properties()
	if props[bus.PropRemoteIPAddr] != "10.0.0.9" {
		t.Fatalf("unexpected address property: %v", props[bus.PropRemoteIPAddr])
	}
	if props[bus.PropSessionID] != "0000000000000002" {
		t.Fatalf("unexpected id property: %v", props[bus.PropSessionID])
	}
	if props[bus.PropSessionType] != "xyz.openbmc_project.Session.Item.Type.ManagerConsole" {
		t.Fatalf("unexpected type property: %v", props[bus.PropSessionType])
	}
}

func TestCleanupRunsAtMostOnce(t *testing.T) {
	testlog.Start(t)
	calls := 0
	r := NewRecord(3, TypeIPMI, "/p/3", PlaceholderAddress)
	r.SetCleanup(func(id ID) bool {
		calls++
		if id != 3 {
			t.Fatalf("cleanup got id %v", id)
		}
		return true
	})
	r.RunCleanup()
	r.RunCleanup()
	if calls != 1 {
		t.Fatalf("cleanup calls=%d", calls)
	}
}

func TestCleanupTakeRestoreAndDiscard(t *testing.T) {
	testlog.Start(t)
	calls := 0
	fn := func(ID) bool { calls++; return false }

	r := NewRecord(4, TypeIPMI, "/p/4", PlaceholderAddress)
	r.SetCleanup(fn)
	taken := r.TakeCleanup()
	if taken == nil || r.HasCleanup() {
		t.Fatalf("take should clear the callback")
	}
	r.RestoreCleanup(taken)
	if !r.HasCleanup() {
		t.Fatalf("restore should reinstate the callback")
	}
	r.Discard()
	r.RestoreCleanup(taken)
	r.RunCleanup()
	if calls != 0 {
		t.Fatalf("discarded record ran cleanup %d times", calls)
	}
}

func TestCleanupPanicIsContained(t *testing.T) {
	testlog.Start(t)
	r := NewRecord(5, TypeIPMI, "/p/5", PlaceholderAddress)
	r.SetCleanup(func(ID) bool { panic("boom") })
	r.RunCleanup()
}

func TestMergePrefersLocal(t *testing.T) {
	testlog.Start(t)
	local := []Info{{ID: 2, Owner: "local", Local: true}}
	remote := []Info{{ID: 2, Owner: "remote"}, {ID: 1, Owner: "peer"}}
	got := Merge(local, remote)
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 2 {
		t.Fatalf("unexpected merge order: %+v", got)
	}
	if got[1].Owner != "local" || !got[1].Local {
		t.Fatalf("local entry must win: %+v", got[1])
	}
}

func TestInfoJSON(t *testing.T) {
	testlog.Start(t)
	raw, err := json.Marshal(Info{ID: 0xab, Owner: "alice", Type: TypeRedfish})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["id"] != "00000000000000ab" || decoded["type"] != "Redfish" {
		t.Fatalf("unexpected json: %s", raw)
	}
	var back Info
	if err := json.Unmarshal(raw, &back); err != nil || back.ID != 0xab || back.Type != TypeRedfish {
		t.Fatalf("decode back: %+v err=%v", back, err)
	}
}
