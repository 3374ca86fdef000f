// Package pathing binds the external path finder into the sandbox: room
// name and world coordinate conversion plus option normalization.
package pathing

import (
	"errors"
	"regexp"
	"strconv"

	"github.com/cryguy/tickrun/internal/core"
)

// WorldSize is the number of rooms along each world axis.
const WorldSize = 255

const half = WorldSize >> 1

var (
	roomNameRE = regexp.MustCompile(`^([WE])([0-9]+)([NS])([0-9]+)$`)

	ErrInvalidRoomName = errors.New("Invalid room name")
	ErrInvalidPosition = errors.New("Invalid room position")
)

// ParseRoomName converts "E1N1" style names to room grid coordinates.
func ParseRoomName(name string) (int, int, error) {
	m := roomNameRE.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, ErrInvalidRoomName
	}
	h, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, ErrInvalidRoomName
	}
	v, err := strconv.Atoi(m[4])
	if err != nil {
		return 0, 0, ErrInvalidRoomName
	}
	rx := half + h + 1
	if m[1] == "W" {
		rx = half - h
	}
	ry := half + v + 1
	if m[3] == "N" {
		ry = half - v
	}
	if rx < 0 || rx > WorldSize || ry < 0 || ry > WorldSize {
		return 0, 0, ErrInvalidRoomName
	}
	return rx, ry, nil
}

// RoomName is the inverse of ParseRoomName.
func RoomName(rx, ry int) string {
	var name string
	if rx <= half {
		name = "W" + strconv.Itoa(half-rx)
	} else {
		name = "E" + strconv.Itoa(rx-half-1)
	}
	if ry <= half {
		name += "N" + strconv.Itoa(half-ry)
	} else {
		name += "S" + strconv.Itoa(ry-half-1)
	}
	return name
}

// ToWorld converts a position inside a room to global coordinates.
func ToWorld(x, y int, room string) (core.WorldPos, error) {
	if x < 0 || x >= 50 || y < 0 || y >= 50 {
		return core.WorldPos{}, ErrInvalidPosition
	}
	rx, ry, err := ParseRoomName(room)
	if err != nil {
		return core.WorldPos{}, err
	}
	return core.WorldPos{X: x + rx*50, Y: y + ry*50}, nil
}

// FromWorld converts global coordinates back to a room position.
func FromWorld(p core.WorldPos) (int, int, string) {
	return p.X % 50, p.Y % 50, RoomName(p.X/50, p.Y/50)
}
