// Package worlddata holds the static terrain shared read-only by every
// context in a process.
package worlddata

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/cryguy/tickrun/internal/core"
)

// RoomSize is the number of terrain cells per room (50x50).
const RoomSize = 2500

// Terrain masks.
const (
	TerrainPlain = 0
	TerrainWall  = 1
	TerrainSwamp = 2
)

// World is an immutable terrain buffer with a room name to offset index.
type World struct {
	buf     []byte
	offsets map[string]int
	rooms   []string
}

// Decode builds a World from a blob, decompressing it when needed.
func Decode(blob *core.WorldBlob) (*World, error) {
	if blob == nil {
		return Empty(), nil
	}
	data := blob.Terrain
	if blob.Compressed {
		var err error
		data, err = io.ReadAll(brotli.NewReader(bytes.NewReader(blob.Terrain)))
		if err != nil {
			return nil, fmt.Errorf("decompressing world terrain: %w", err)
		}
	}
	if len(data) != len(blob.Rooms)*RoomSize {
		return nil, fmt.Errorf("world terrain is %d bytes, want %d for %d rooms", len(data), len(blob.Rooms)*RoomSize, len(blob.Rooms))
	}
	w := &World{
		buf:     data,
		offsets: make(map[string]int, len(blob.Rooms)),
		rooms:   append([]string(nil), blob.Rooms...),
	}
	for i, room := range blob.Rooms {
		if _, dup := w.offsets[room]; dup {
			return nil, fmt.Errorf("room %s listed twice in world terrain", room)
		}
		w.offsets[room] = i * RoomSize
	}
	return w, nil
}

// Empty returns a world with no rooms.
func Empty() *World {
	return &World{offsets: map[string]int{}}
}

// Compress brotli-encodes raw terrain for storage.
func Compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.BestCompression)
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Size is the number of bytes the world adds to each context's heap.
func (w *World) Size() int { return len(w.buf) }

// Rooms lists the rooms with terrain.
func (w *World) Rooms() []string { return w.rooms }

// Has reports whether room has terrain.
func (w *World) Has(room string) bool {
	_, ok := w.offsets[room]
	return ok
}

// At returns the terrain mask at x,y in room, or -1 when room is unknown or
// the position is off the grid.
func (w *World) At(room string, x, y int) int {
	off, ok := w.offsets[room]
	if !ok || x < 0 || x > 49 || y < 0 || y > 49 {
		return -1
	}
	return int(w.buf[off+y*50+x])
}

// Room returns the terrain of one room. The slice aliases the shared buffer
// and must not be modified.
func (w *World) Room(room string) ([]byte, bool) {
	off, ok := w.offsets[room]
	if !ok {
		return nil, false
	}
	return w.buf[off : off+RoomSize : off+RoomSize], true
}
