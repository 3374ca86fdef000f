package pathing

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/cryguy/tickrun/internal/core"
)

// ErrUnavailable is returned when no path finder is bound.
var ErrUnavailable = errors.New("path finder is not available")

// RoomPos is a position as tenant code spells it.
type RoomPos struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	RoomName string  `json:"roomName"`
}

// RawGoal is one goal after the sandbox glue normalized the one-or-many
// argument.
type RawGoal struct {
	Pos   RoomPos `json:"pos"`
	Range float64 `json:"range"`
}

// RawOptions are the options exactly as tenant code passed them.
type RawOptions struct {
	PlainCost       float64 `json:"plainCost"`
	SwampCost       float64 `json:"swampCost"`
	HeuristicWeight float64 `json:"heuristicWeight"`
	MaxOps          float64 `json:"maxOps"`
	MaxCost         float64 `json:"maxCost"`
	MaxRooms        float64 `json:"maxRooms"`
	Flee            bool    `json:"flee"`
}

// SearchArgs is the payload the sandbox sends for one search.
type SearchArgs struct {
	Origin  RoomPos    `json:"origin"`
	Goals   []RawGoal  `json:"goals"`
	Options RawOptions `json:"options"`
}

// SearchReply is the payload returned to the sandbox.
type SearchReply struct {
	Path       []RoomPos `json:"path"`
	Ops        int       `json:"ops"`
	Cost       int64     `json:"cost"`
	Incomplete bool      `json:"incomplete"`
}

// NormalizeOptions clamps raw options into the ranges the finder accepts.
func NormalizeOptions(o RawOptions) core.PathOptions {
	hw := o.HeuristicWeight
	if hw == 0 || math.IsNaN(hw) {
		hw = 1
	}
	maxCost := int64(toInt32(o.MaxCost))
	if maxCost == 0 {
		maxCost = 0xffffffff
	}
	return core.PathOptions{
		PlainCost:       clampInt(orDefault(toInt32(o.PlainCost), 1), 1, 254),
		SwampCost:       clampInt(orDefault(toInt32(o.SwampCost), 5), 1, 254),
		HeuristicWeight: math.Min(9, math.Max(1, hw)),
		MaxOps:          max(1, orDefault(toInt32(o.MaxOps), 2000)),
		MaxCost:         max(1, maxCost),
		MaxRooms:        clampInt(orDefault(toInt32(o.MaxRooms), 16), 1, 64),
		Flee:            o.Flee,
	}
}

// Build converts sandbox arguments into a finder request.
func Build(args SearchArgs) (core.PathRequest, error) {
	origin, err := toWorld(args.Origin)
	if err != nil {
		return core.PathRequest{}, err
	}
	req := core.PathRequest{Origin: origin, Options: NormalizeOptions(args.Options)}
	for _, g := range args.Goals {
		pos, err := toWorld(g.Pos)
		if err != nil {
			return core.PathRequest{}, err
		}
		req.Goals = append(req.Goals, core.PathGoal{Pos: pos, Range: max(0, toInt32(g.Range))})
	}
	return req, nil
}

// Search runs one search for the sandbox. argsJSON is a SearchArgs.
func Search(pf core.PathFinder, argsJSON string) (string, error) {
	if pf == nil {
		return "", ErrUnavailable
	}
	var args SearchArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("decoding search arguments: %w", err)
	}
	req, err := Build(args)
	if err != nil {
		return "", err
	}
	res, err := pf.Search(req)
	if err != nil {
		return "", err
	}
	reply := SearchReply{Path: make([]RoomPos, 0, len(res.Path)), Ops: res.Ops, Cost: res.Cost, Incomplete: res.Incomplete}
	for _, p := range res.Path {
		x, y, room := FromWorld(p)
		reply.Path = append(reply.Path, RoomPos{X: float64(x), Y: float64(y), RoomName: room})
	}
	out, err := json.Marshal(reply)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func toWorld(p RoomPos) (core.WorldPos, error) {
	return ToWorld(toInt32(p.X), toInt32(p.Y), p.RoomName)
}

// toInt32 mirrors the `v | 0` coercion tenant code expects.
func toInt32(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int(int32(uint32(int64(math.Trunc(v)))))
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func clampInt(v, lo, hi int) int {
	return min(hi, max(lo, v))
}
