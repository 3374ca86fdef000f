package sqlite

import "time"

// TenantModel maps to the "tenants" table.
type TenantModel struct {
	ID               string `gorm:"primaryKey"`
	Username         string `gorm:"not null;uniqueIndex"`
	CPU              int    `gorm:"not null"`
	Bucket           int    `gorm:"not null"`
	Active           bool   `gorm:"not null;index"`
	SkipTicksPenalty int    `gorm:"not null"`
	CodeVersion      int64  `gorm:"not null"`

	ActiveSegments       string // comma separated ids
	PublicSegments       string // comma separated ids
	DefaultPublicSegment *int
	ForeignTenantID      string
	ForeignSegmentID     *int

	LastUsedTime      int
	LastUsedDirtyTime int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (TenantModel) TableName() string { return "tenants" }

// CodeModuleModel maps to the "code_modules" table.
type CodeModuleModel struct {
	TenantID string `gorm:"primaryKey"`
	Name     string `gorm:"primaryKey"`
	Source   string `gorm:"not null"`
}

func (CodeModuleModel) TableName() string { return "code_modules" }

// MemoryModel maps to the "memories" table.
type MemoryModel struct {
	TenantID  string `gorm:"primaryKey"`
	Data      string `gorm:"not null"`
	UpdatedAt time.Time
}

func (MemoryModel) TableName() string { return "memories" }

// SegmentModel maps to the "memory_segments" table.
type SegmentModel struct {
	TenantID  string `gorm:"primaryKey"`
	SegmentID int    `gorm:"primaryKey;autoIncrement:false"`
	Data      string `gorm:"not null"`
	UpdatedAt time.Time
}

func (SegmentModel) TableName() string { return "memory_segments" }

// ConsoleCommandModel maps to the "console_commands" table.
type ConsoleCommandModel struct {
	ID         uint   `gorm:"primaryKey"`
	TenantID   string `gorm:"not null;index"`
	Expression string `gorm:"not null"`
	CreatedAt  time.Time
}

func (ConsoleCommandModel) TableName() string { return "console_commands" }

// ObjectModel maps to the "objects" table. Data is the object as JSON.
type ObjectModel struct {
	ID       string `gorm:"primaryKey"`
	TenantID string `gorm:"index"`
	Room     string `gorm:"not null;index"`
	Data     string `gorm:"not null"`
}

func (ObjectModel) TableName() string { return "objects" }

// RoomModel maps to the "rooms" table.
type RoomModel struct {
	Name string `gorm:"primaryKey"`
	Data string `gorm:"not null"`
}

func (RoomModel) TableName() string { return "rooms" }

// GameStateModel maps to the single row "game_state" table.
type GameStateModel struct {
	ID     uint  `gorm:"primaryKey"`
	Time   int64 `gorm:"not null"`
	Market string
}

func (GameStateModel) TableName() string { return "game_state" }

// IntentModel maps to the "intents" table and holds the last committed
// intents of each tenant.
type IntentModel struct {
	TenantID string `gorm:"primaryKey"`
	Time     int64  `gorm:"not null"`
	Data     string `gorm:"not null"`
}

func (IntentModel) TableName() string { return "intents" }

// VisualModel maps to the "room_visuals" table.
type VisualModel struct {
	TenantID string `gorm:"primaryKey"`
	Room     string `gorm:"primaryKey"`
	Data     string `gorm:"not null"`
}

func (VisualModel) TableName() string { return "room_visuals" }

// NotificationModel maps to the "notifications" table.
type NotificationModel struct {
	ID        uint   `gorm:"primaryKey"`
	Channel   string `gorm:"not null;index"`
	Payload   string `gorm:"not null"`
	CreatedAt time.Time
}

func (NotificationModel) TableName() string { return "notifications" }

// WorldModel maps to the single row "world" table.
type WorldModel struct {
	ID         uint   `gorm:"primaryKey"`
	Rooms      string `gorm:"not null"` // comma separated, in terrain order
	Terrain    []byte `gorm:"not null"`
	Compressed bool   `gorm:"not null"`
	UpdatedAt  time.Time
}

func (WorldModel) TableName() string { return "world" }
