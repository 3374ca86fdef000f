package sandboxapi

import (
	"strings"
	"testing"

	"github.com/cryguy/tickrun/internal/core"
)

func TestDefaultPublicDistinguishesNullFromAbsent(t *testing.T) {
	absent, err := DecodeCollected(`{"status":"done"}`)
	if err != nil {
		t.Fatal(err)
	}
	if called, _, _ := absent.DefaultPublic(); called {
		t.Fatal("absent field reported as called")
	}

	cleared, err := DecodeCollected(`{"status":"done","defaultPublicSegment":null}`)
	if err != nil {
		t.Fatal(err)
	}
	called, id, err := cleared.DefaultPublic()
	if !called || id != nil || err != nil {
		t.Fatalf("cleared = %v %v %v", called, id, err)
	}

	set, err := DecodeCollected(`{"status":"done","defaultPublicSegment":12}`)
	if err != nil {
		t.Fatal(err)
	}
	called, id, err = set.DefaultPublic()
	if !called || id == nil || *id != 12 || err != nil {
		t.Fatalf("set = %v %v %v", called, id, err)
	}
}

func TestForeignSegmentRequest(t *testing.T) {
	c, err := DecodeCollected(`{"activeForeignSegment":{"username":"alice"}}`)
	if err != nil {
		t.Fatal(err)
	}
	called, req, err := c.ForeignSegment()
	if !called || err != nil || req == nil || req.Username != "alice" || req.ID != nil {
		t.Fatalf("got %v %+v %v", called, req, err)
	}
}

func TestDecodeUnfinishedTick(t *testing.T) {
	if _, err := DecodeCollected(""); err == nil {
		t.Fatal("expected error for empty outcome")
	}
}

func TestTickInputCarriesSegmentsAsObject(t *testing.T) {
	in := NewTickInput(&core.TickData{
		Time:     5,
		Memory:   "{}",
		Segments: map[int]string{3: "x"},
	}, CPUInfo{Limit: -1})
	s, err := in.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(s, `"segments":{"3":"x"}`) || !strings.Contains(s, `"limit":-1`) {
		t.Fatalf("encoded = %s", s)
	}
}
