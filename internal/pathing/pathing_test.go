package pathing

import (
	"encoding/json"
	"testing"

	"github.com/cryguy/tickrun/internal/core"
)

func TestRoomNameRoundTrip(t *testing.T) {
	for _, name := range []string{"W0N0", "E0S0", "E1N1", "W127N127", "E127S127", "W10S3"} {
		rx, ry, err := ParseRoomName(name)
		if err != nil {
			t.Fatalf("ParseRoomName(%s): %v", name, err)
		}
		if got := RoomName(rx, ry); got != name {
			t.Errorf("RoomName(ParseRoomName(%s)) = %s", name, got)
		}
	}
	rx, ry, _ := ParseRoomName("E1N1")
	if rx != 129 || ry != 126 {
		t.Errorf("E1N1 = %d,%d want 129,126", rx, ry)
	}
}

func TestParseRoomNameRejects(t *testing.T) {
	for _, name := range []string{"", "sim", "X1N1", "W1N", "W200N0", "w1n1"} {
		if _, _, err := ParseRoomName(name); err == nil {
			t.Errorf("ParseRoomName(%q) accepted", name)
		}
	}
}

func TestToWorld(t *testing.T) {
	p, err := ToWorld(10, 20, "E1N1")
	if err != nil {
		t.Fatal(err)
	}
	if p.X != 129*50+10 || p.Y != 126*50+20 {
		t.Errorf("ToWorld = %+v", p)
	}
	x, y, room := FromWorld(p)
	if x != 10 || y != 20 || room != "E1N1" {
		t.Errorf("FromWorld = %d,%d,%s", x, y, room)
	}
	if _, err := ToWorld(50, 0, "E1N1"); err == nil {
		t.Error("x=50 accepted")
	}
}

func TestNormalizeOptions(t *testing.T) {
	o := NormalizeOptions(RawOptions{})
	want := core.PathOptions{PlainCost: 1, SwampCost: 5, HeuristicWeight: 1, MaxOps: 2000, MaxCost: 0xffffffff, MaxRooms: 16}
	if o != want {
		t.Errorf("defaults = %+v, want %+v", o, want)
	}

	o = NormalizeOptions(RawOptions{PlainCost: 1000, SwampCost: -3, HeuristicWeight: 20, MaxOps: -5, MaxRooms: 100, Flee: true})
	if o.PlainCost != 254 || o.SwampCost != 1 || o.HeuristicWeight != 9 || o.MaxOps != 1 || o.MaxRooms != 64 || !o.Flee {
		t.Errorf("clamped = %+v", o)
	}
	if o := NormalizeOptions(RawOptions{PlainCost: 2.9}); o.PlainCost != 2 {
		t.Errorf("fractional plainCost = %d, want 2", o.PlainCost)
	}
}

type fakeFinder struct {
	got core.PathRequest
}

func (f *fakeFinder) Search(req core.PathRequest) (core.PathResult, error) {
	f.got = req
	return core.PathResult{Path: []core.WorldPos{req.Origin, req.Goals[0].Pos}, Ops: 7, Cost: 2}, nil
}

func TestSearch(t *testing.T) {
	pf := &fakeFinder{}
	out, err := Search(pf, `{"origin":{"x":1,"y":2,"roomName":"W1N1"},"goals":[{"pos":{"x":3,"y":4,"roomName":"W1N2"},"range":1}],"options":{"maxRooms":2}}`)
	if err != nil {
		t.Fatal(err)
	}
	if pf.got.Options.MaxRooms != 2 || pf.got.Goals[0].Range != 1 {
		t.Errorf("request = %+v", pf.got)
	}
	var reply SearchReply
	if err := json.Unmarshal([]byte(out), &reply); err != nil {
		t.Fatal(err)
	}
	if len(reply.Path) != 2 || reply.Path[1].RoomName != "W1N2" || reply.Path[1].X != 3 || reply.Ops != 7 {
		t.Errorf("reply = %+v", reply)
	}

	if _, err := Search(nil, `{}`); err != ErrUnavailable {
		t.Errorf("nil finder err = %v", err)
	}
	if _, err := Search(pf, `{"origin":{"x":1,"y":2,"roomName":"nowhere"}}`); err == nil {
		t.Error("bad origin accepted")
	}
}
