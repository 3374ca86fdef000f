package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/cryguy/tickrun/internal/core"
	"github.com/cryguy/tickrun/internal/worlddata"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: Memory})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *Store, tenants ...core.Tenant) {
	t.Helper()
	ctx := context.Background()
	for _, tn := range tenants {
		if err := s.PutTenant(ctx, tn); err != nil {
			t.Fatalf("PutTenant: %v", err)
		}
	}
}

func TestLoadTick(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s,
		core.Tenant{ID: "u1", Username: "alice", CPU: 100, Bucket: 500, Active: true},
		core.Tenant{ID: "u2", Username: "bob", CPU: 100, Active: true},
	)
	if _, err := s.PutCode(ctx, "u1", map[string]string{"main": "module.exports.loop = function () {};"}); err != nil {
		t.Fatalf("PutCode: %v", err)
	}
	s.PutMemory(ctx, "u1", `{"a":1}`)
	s.PutObject(ctx, "c1", "u1", "W1N1", map[string]any{"type": "creep"})
	s.PutObject(ctx, "c2", "u2", "W1N1", map[string]any{"type": "creep"})
	s.PutObject(ctx, "c3", "u2", "W5N5", map[string]any{"type": "creep"})
	s.PutRoom(ctx, "W1N1", map[string]any{"controller": 1})
	s.SetGameTime(ctx, 42)
	s.QueueConsoleCommand(ctx, "u1", "1+1")

	td, err := s.LoadTick(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("LoadTick: %v", err)
	}
	if td.Tenant.Username != "alice" || td.Tenant.Bucket != 500 || td.Code.Version != 1 {
		t.Fatalf("tenant = %+v, version = %d", td.Tenant, td.Code.Version)
	}
	if td.Memory != `{"a":1}` || td.Time != 42 {
		t.Fatalf("memory = %q, time = %d", td.Memory, td.Time)
	}
	if len(td.AccessibleRooms) != 1 || td.AccessibleRooms[0] != "W1N1" {
		t.Fatalf("rooms = %v", td.AccessibleRooms)
	}
	var objects map[string]json.RawMessage
	if err := json.Unmarshal(td.Objects, &objects); err != nil {
		t.Fatal(err)
	}
	if len(objects) != 2 {
		t.Fatalf("objects = %s", td.Objects)
	}
	var users map[string]map[string]string
	if err := json.Unmarshal(td.Users, &users); err != nil {
		t.Fatal(err)
	}
	if users["u2"]["username"] != "bob" {
		t.Fatalf("users = %s", td.Users)
	}
	if len(td.ConsoleCommands) != 1 || td.ConsoleCommands[0] != "1+1" {
		t.Fatalf("console = %v", td.ConsoleCommands)
	}

	td, err = s.LoadTick(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("LoadTick: %v", err)
	}
	if len(td.ConsoleCommands) != 0 {
		t.Fatal("console commands should be consumed")
	}
}

func TestLoadTickNoLiveObjects(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, core.Tenant{ID: "u1", Username: "alice", Active: true})
	_, err := s.LoadTick(context.Background(), "u1", nil)
	if !errors.Is(err, core.ErrNoLiveObjects) {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadTickUnknownTenant(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadTick(context.Background(), "nobody", nil)
	if !errors.Is(err, ErrUnknownTenant) {
		t.Fatalf("err = %v", err)
	}
}

func TestCommitPersistsTick(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s,
		core.Tenant{ID: "u1", Username: "alice", CPU: 100, Bucket: 500, Active: true},
		core.Tenant{ID: "u2", Username: "bob", Active: true},
	)

	public := "1,2"
	fid := 2
	res := core.NewRunResult("run", "u1")
	res.Metered = true
	res.Bucket = 580
	res.UsedTime = 20
	res.Memory.Data = `{"b":2}`
	res.MemorySegments = map[int]string{3: "three"}
	res.ActiveSegments = []int{3, 4}
	res.PublicSegments = &public
	res.DefaultPublicSegment = &core.DefaultPublicUpdate{ID: 1}
	res.ActiveForeignSegment = &core.ForeignSegmentUpdate{Username: "bob", ID: &fid}
	res.Console.Log = []string{"hello"}
	res.Intents = map[string]any{"c1": map[string]any{"move": 1}}
	res.Visual = map[string]string{"W1N1": "{}"}

	if err := s.Commit(ctx, res); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	tn, err := s.Tenant(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if tn.Bucket != 580 || tn.ActiveSegments != "3,4" || tn.PublicSegments != "1,2" {
		t.Fatalf("tenant = %+v", tn)
	}
	if tn.DefaultPublicSegment == nil || *tn.DefaultPublicSegment != 1 {
		t.Fatalf("default public = %v", tn.DefaultPublicSegment)
	}
	if tn.ForeignTenantID != "u2" || tn.ForeignSegmentID == nil || *tn.ForeignSegmentID != 2 {
		t.Fatalf("foreign = %q %v", tn.ForeignTenantID, tn.ForeignSegmentID)
	}
	if mem, _ := s.Memory(ctx, "u1"); mem != `{"b":2}` {
		t.Fatalf("memory = %q", mem)
	}
	if seg, _ := s.Segment(ctx, "u1", 3); seg != "three" {
		t.Fatalf("segment = %q", seg)
	}
	if intents, _ := s.Intents(ctx, "u1"); !strings.Contains(intents, `"move":1`) {
		t.Fatalf("intents = %q", intents)
	}
	msgs, err := s.Notifications(ctx, ConsoleChannel("u1"))
	if err != nil || len(msgs) != 1 || !strings.Contains(msgs[0], "hello") {
		t.Fatalf("console = %v, %v", msgs, err)
	}
}

func TestCommitTimeoutOnlyChargesCPU(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s, core.Tenant{ID: "u1", Username: "alice", CPU: 100, Bucket: 500, Active: true})
	s.PutMemory(ctx, "u1", "kept")

	res := core.NewRunResult("run", "u1")
	res.Kind = core.KindTimeout
	res.Metered = true
	res.Bucket = 0
	res.Memory.Data = "lost"
	if err := s.Commit(ctx, res); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	tn, _ := s.Tenant(ctx, "u1")
	if tn.Bucket != 0 {
		t.Fatalf("bucket = %d", tn.Bucket)
	}
	if mem, _ := s.Memory(ctx, "u1"); mem != "kept" {
		t.Fatalf("memory = %q", mem)
	}
}

func TestCommitRefusesSecurityRun(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, core.Tenant{ID: "u1", Username: "alice", Active: true})
	res := core.NewRunResult("run", "u1")
	res.Kind = core.KindSecurity
	if err := s.Commit(context.Background(), res); err == nil {
		t.Fatal("Commit should refuse a security violation")
	}
}

func TestForeignSegmentVisibility(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s,
		core.Tenant{ID: "u1", Username: "alice", Active: true},
		core.Tenant{ID: "u2", Username: "bob", Active: true},
	)
	s.PutObject(ctx, "c1", "u1", "W1N1", map[string]any{})
	s.PutSegment(ctx, "u2", 7, "secret")
	s.PutSegment(ctx, "u2", 8, "shared")

	bob := core.NewRunResult("r", "u2")
	public := "8"
	bob.PublicSegments = &public
	bob.DefaultPublicSegment = &core.DefaultPublicUpdate{ID: 8}
	if err := s.Commit(ctx, bob); err != nil {
		t.Fatal(err)
	}

	alice := core.NewRunResult("r", "u1")
	alice.ActiveForeignSegment = &core.ForeignSegmentUpdate{Username: "bob"}
	if err := s.Commit(ctx, alice); err != nil {
		t.Fatal(err)
	}
	td, err := s.LoadTick(ctx, "u1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if td.ForeignSegment == nil || td.ForeignSegment.ID != 8 || td.ForeignSegment.Data != "shared" || td.ForeignSegment.Username != "bob" {
		t.Fatalf("foreign = %+v", td.ForeignSegment)
	}

	seven := 7
	alice.ActiveForeignSegment = &core.ForeignSegmentUpdate{Username: "bob", ID: &seven}
	if err := s.Commit(ctx, alice); err != nil {
		t.Fatal(err)
	}
	td, _ = s.LoadTick(ctx, "u1", nil)
	if td.ForeignSegment != nil {
		t.Fatalf("private segment leaked: %+v", td.ForeignSegment)
	}
}

func TestDeactivateAndSkipPenalty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s, core.Tenant{ID: "u1", Username: "alice", Active: true, SkipTicksPenalty: 1})

	if err := s.ConsumeSkipPenalty(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if err := s.ConsumeSkipPenalty(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	tn, _ := s.Tenant(ctx, "u1")
	if tn.SkipTicksPenalty != 0 {
		t.Fatalf("penalty = %d", tn.SkipTicksPenalty)
	}

	if err := s.Deactivate(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	ids, err := s.ActiveTenants(ctx)
	if err != nil || len(ids) != 0 {
		t.Fatalf("active = %v, %v", ids, err)
	}
}

func TestWorldRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	blob, err := s.LoadWorld(ctx)
	if err != nil || blob != nil {
		t.Fatalf("empty world = %v, %v", blob, err)
	}

	raw := make([]byte, 2*worlddata.RoomSize)
	raw[worlddata.RoomSize+3] = worlddata.TerrainSwamp
	if err := s.PutWorld(ctx, []string{"W1N1", "W2N1"}, raw); err != nil {
		t.Fatalf("PutWorld: %v", err)
	}
	blob, err = s.LoadWorld(ctx)
	if err != nil {
		t.Fatal(err)
	}
	w, err := worlddata.Decode(blob)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if w.At("W2N1", 3, 0) != worlddata.TerrainSwamp || w.At("W1N1", 3, 0) != worlddata.TerrainPlain {
		t.Fatal("terrain did not round trip")
	}

	if err := s.PutWorld(ctx, []string{"W1N1"}, raw); err == nil {
		t.Fatal("PutWorld should reject a size mismatch")
	}
}

func TestPutCodeBumpsVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s, core.Tenant{ID: "u1", Username: "alice", Active: true})
	v1, _ := s.PutCode(ctx, "u1", map[string]string{"main": "a"})
	v2, _ := s.PutCode(ctx, "u1", map[string]string{"main": "b", "util": "c"})
	if v1 != 1 || v2 != 2 {
		t.Fatalf("versions = %d, %d", v1, v2)
	}
}
