package core

import "context"

// DataSource loads what a tenant needs for one tick.
type DataSource interface {
	// LoadTick returns ErrNoLiveObjects when the tenant has nothing to run.
	LoadTick(ctx context.Context, tenantID string, roomScope []string) (*TickData, error)
}

// Persister stores the outcome of a tick.
type Persister interface {
	Commit(ctx context.Context, res *RunResult) error
	Deactivate(ctx context.Context, tenantID string) error
	ConsumeSkipPenalty(ctx context.Context, tenantID string) error
}

// Notifier delivers messages to tenant-facing channels.
type Notifier interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// WorldSource loads the static world data shared by every context.
type WorldSource interface {
	LoadWorld(ctx context.Context) (*WorldBlob, error)
}

// PathFinder searches paths across the world grid.
type PathFinder interface {
	Search(req PathRequest) (PathResult, error)
}
