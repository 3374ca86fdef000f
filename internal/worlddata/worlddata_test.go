package worlddata

import (
	"testing"

	"github.com/cryguy/tickrun/internal/core"
)

func terrain(rooms int) []byte {
	raw := make([]byte, rooms*RoomSize)
	for r := 0; r < rooms; r++ {
		raw[r*RoomSize] = TerrainWall
		raw[r*RoomSize+50*3+2] = TerrainSwamp
	}
	return raw
}

func TestDecodeIndexesRooms(t *testing.T) {
	w, err := Decode(&core.WorldBlob{Rooms: []string{"W1N1", "E2S3"}, Terrain: terrain(2)})
	if err != nil {
		t.Fatal(err)
	}
	if w.Size() != 2*RoomSize {
		t.Errorf("Size = %d", w.Size())
	}
	if got := w.At("E2S3", 0, 0); got != TerrainWall {
		t.Errorf("At(0,0) = %d, want wall", got)
	}
	if got := w.At("E2S3", 2, 3); got != TerrainSwamp {
		t.Errorf("At(2,3) = %d, want swamp", got)
	}
	if got := w.At("W9N9", 0, 0); got != -1 {
		t.Errorf("unknown room = %d, want -1", got)
	}
	if got := w.At("W1N1", 50, 0); got != -1 {
		t.Errorf("off grid = %d, want -1", got)
	}
}

func TestDecodeCompressed(t *testing.T) {
	packed, err := Compress(terrain(3))
	if err != nil {
		t.Fatal(err)
	}
	w, err := Decode(&core.WorldBlob{Rooms: []string{"W0N0", "W0N1", "W0N2"}, Terrain: packed, Compressed: true})
	if err != nil {
		t.Fatal(err)
	}
	room, ok := w.Room("W0N2")
	if !ok || len(room) != RoomSize || room[0] != TerrainWall {
		t.Errorf("Room(W0N2) = %d bytes, ok=%v", len(room), ok)
	}
}

func TestDecodeRejectsBadSize(t *testing.T) {
	if _, err := Decode(&core.WorldBlob{Rooms: []string{"W1N1"}, Terrain: make([]byte, 10)}); err == nil {
		t.Error("short terrain accepted")
	}
	if _, err := Decode(&core.WorldBlob{Rooms: []string{"W1N1", "W1N1"}, Terrain: terrain(2)}); err == nil {
		t.Error("duplicate room accepted")
	}
}
