package core

import (
	"encoding/json"
	"strconv"
	"time"
)

// Tenant is the persisted record of one script owner.
type Tenant struct {
	ID               string `json:"_id"`
	Username         string `json:"username"`
	CPU              int    `json:"cpu"`    // per-tick allotment in ms; 0 means unmetered
	Bucket           int    `json:"bucket"` // banked CPU credit
	Active           bool   `json:"active"`
	SkipTicksPenalty int    `json:"skipTicksPenalty,omitempty"`
}

// CodeBundle is the tenant's module set at one version.
type CodeBundle struct {
	Version int64             `json:"version"`
	Modules map[string]string `json:"modules"` // encoded name -> source
}

// ForeignSegment is another tenant's public segment made visible this tick.
type ForeignSegment struct {
	Username string `json:"username"`
	ID       int    `json:"id"`
	Data     string `json:"data"`
}

// TickData is everything loaded for one tenant before a tick runs.
type TickData struct {
	Tenant          Tenant          `json:"user"`
	Code            CodeBundle      `json:"code"`
	Memory          string          `json:"memory"`
	Segments        map[int]string  `json:"segments,omitempty"`
	ForeignSegment  *ForeignSegment `json:"foreignSegment,omitempty"`
	ConsoleCommands []string        `json:"consoleCommands,omitempty"`
	AccessibleRooms []string        `json:"accessibleRooms,omitempty"`
	Rooms           json.RawMessage `json:"rooms,omitempty"`
	Objects         json.RawMessage `json:"objects,omitempty"`
	Users           json.RawMessage `json:"users,omitempty"`
	Market          json.RawMessage `json:"market,omitempty"`
	Time            int64           `json:"time"`
}

// RunRequest asks for one tick of one tenant.
type RunRequest struct {
	TenantID  string
	RoomScope []string
	Snapshot  *TickData     // skips the data source when set
	Timeout   time.Duration // overrides the configured wall-clock ceiling
}

// Status is the outcome reported for a tick.
type Status string

const (
	StatusDone  Status = "done"
	StatusError Status = "error"
)

// MemoryPayload carries the tenant's raw memory string.
type MemoryPayload struct {
	Data string `json:"data"`
}

// ConsoleOutput is what the tenant printed and the results of console
// commands.
type ConsoleOutput struct {
	Log     []string `json:"log"`
	Results []string `json:"results"`
}

// ForeignSegmentUpdate is a request to watch another tenant's segment.
// Clear marshals as null.
type ForeignSegmentUpdate struct {
	Clear    bool
	Username string
	ID       *int
	UserID   string
}

func (u ForeignSegmentUpdate) MarshalJSON() ([]byte, error) {
	if u.Clear {
		return []byte("null"), nil
	}
	out := struct {
		Username string `json:"username"`
		ID       *int   `json:"id,omitempty"`
		UserID   string `json:"userId,omitempty"`
	}{u.Username, u.ID, u.UserID}
	return json.Marshal(out)
}

// DefaultPublicUpdate sets or clears the default public segment.
type DefaultPublicUpdate struct {
	Clear bool
	ID    int
}

func (u DefaultPublicUpdate) MarshalJSON() ([]byte, error) {
	if u.Clear {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(u.ID)), nil
}

// RunResult is the outcome of one tick.
type RunResult struct {
	Status               Status                `json:"status"`
	UsedTime             int                   `json:"usedTime"`
	UsedDirtyTime        int                   `json:"usedDirtyTime"`
	Memory               MemoryPayload         `json:"memory"`
	MemorySegments       map[int]string        `json:"memorySegments,omitempty"`
	ActiveSegments       []int                 `json:"activeSegments,omitempty"`
	ActiveForeignSegment *ForeignSegmentUpdate `json:"activeForeignSegment,omitempty"`
	DefaultPublicSegment *DefaultPublicUpdate  `json:"defaultPublicSegment,omitempty"`
	PublicSegments       *string               `json:"publicSegments,omitempty"`
	Console              ConsoleOutput         `json:"console"`
	Visual               map[string]string     `json:"visual,omitempty"`
	Intents              map[string]any        `json:"intents"`
	IntentsCPU           float64               `json:"intentsCpu"`
	Error                string                `json:"error,omitempty"`

	RunID    string    `json:"-"`
	TenantID string    `json:"-"`
	Kind     ErrorKind `json:"-"`
	Err      error     `json:"-"`
	Bucket   int       `json:"-"` // bucket after settlement
	Metered  bool      `json:"-"`
}

// NewRunResult returns an empty result with non-nil collections.
func NewRunResult(runID, tenantID string) *RunResult {
	return &RunResult{
		Status:   StatusDone,
		RunID:    runID,
		TenantID: tenantID,
		Console:  ConsoleOutput{Log: []string{}, Results: []string{}},
		Intents:  map[string]any{},
	}
}

// CPUNotice is published on a tenant's cpu channel after every tick.
type CPUNotice struct {
	CPU    int
	Failed bool // marshals cpu as "error"
	Memory int
}

func (n CPUNotice) MarshalJSON() ([]byte, error) {
	var cpu any = n.CPU
	if n.Failed {
		cpu = "error"
	}
	return json.Marshal(struct {
		CPU    any `json:"cpu"`
		Memory int `json:"memory"`
	}{cpu, n.Memory})
}

// CPUChannel names the notification channel for a tenant's CPU usage.
func CPUChannel(tenantID string) string {
	return "user:" + tenantID + "/cpu"
}

// WorldBlob is the raw terrain of every room, 2500 bytes per room in Rooms
// order. Compressed blobs are brotli encoded.
type WorldBlob struct {
	Rooms      []string
	Terrain    []byte
	Compressed bool
}

// WorldPos is a position in global world coordinates.
type WorldPos struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// PathGoal is a target the search tries to reach within Range.
type PathGoal struct {
	Pos   WorldPos `json:"pos"`
	Range int      `json:"range"`
}

// PathOptions are normalized search options.
type PathOptions struct {
	PlainCost       int     `json:"plainCost"`
	SwampCost       int     `json:"swampCost"`
	HeuristicWeight float64 `json:"heuristicWeight"`
	MaxOps          int     `json:"maxOps"`
	MaxCost         int64   `json:"maxCost"`
	MaxRooms        int     `json:"maxRooms"`
	Flee            bool    `json:"flee"`
}

// PathRequest is one search handed to the path finder.
type PathRequest struct {
	Origin  WorldPos
	Goals   []PathGoal
	Options PathOptions
}

// PathResult is what the path finder found.
type PathResult struct {
	Path       []WorldPos
	Ops        int
	Cost       int64
	Incomplete bool
}
