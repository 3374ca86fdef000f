package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"

	"github.com/cryguy/tickrun/internal/core"
	"github.com/cryguy/tickrun/internal/segments"
)

// ErrUnknownTenant is returned for a tenant id with no record.
var ErrUnknownTenant = errors.New("unknown tenant")

// LoadTick gathers everything one tick of tenantID needs. Console commands
// queued for the tenant are consumed. When roomScope is empty the tenant
// sees the rooms its objects are in.
func (s *Store) LoadTick(ctx context.Context, tenantID string, roomScope []string) (*core.TickData, error) {
	var td *core.TickData
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t TenantModel
		if err := tx.First(&t, "id = ?", tenantID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrUnknownTenant, tenantID)
			}
			return fmt.Errorf("loading tenant: %w", err)
		}
		if !t.Active {
			return core.ErrNoLiveObjects
		}
		var owned int64
		if err := tx.Model(&ObjectModel{}).Where("tenant_id = ?", tenantID).Count(&owned).Error; err != nil {
			return fmt.Errorf("counting objects: %w", err)
		}
		if owned == 0 {
			return core.ErrNoLiveObjects
		}

		td = &core.TickData{Tenant: t.toCore()}
		var err error
		if td.Code, err = loadCode(tx, t); err != nil {
			return err
		}
		if td.Memory, err = loadMemory(tx, tenantID); err != nil {
			return err
		}
		if td.Segments, err = loadSegments(tx, tenantID, t.ActiveSegments); err != nil {
			return err
		}
		if td.ForeignSegment, err = loadForeign(tx, t); err != nil {
			return err
		}
		if td.ConsoleCommands, err = drainConsole(tx, tenantID); err != nil {
			return err
		}
		return loadWorldState(tx, td, tenantID, roomScope)
	})
	if err != nil {
		return nil, err
	}
	return td, nil
}

func (t TenantModel) toCore() core.Tenant {
	return core.Tenant{
		ID:               t.ID,
		Username:         t.Username,
		CPU:              t.CPU,
		Bucket:           t.Bucket,
		Active:           t.Active,
		SkipTicksPenalty: t.SkipTicksPenalty,
	}
}

func loadCode(tx *gorm.DB, t TenantModel) (core.CodeBundle, error) {
	var rows []CodeModuleModel
	if err := tx.Where("tenant_id = ?", t.ID).Find(&rows).Error; err != nil {
		return core.CodeBundle{}, fmt.Errorf("loading code: %w", err)
	}
	b := core.CodeBundle{Version: t.CodeVersion, Modules: make(map[string]string, len(rows))}
	for _, r := range rows {
		b.Modules[r.Name] = r.Source
	}
	return b, nil
}

func loadMemory(tx *gorm.DB, tenantID string) (string, error) {
	var m MemoryModel
	err := tx.First(&m, "tenant_id = ?", tenantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading memory: %w", err)
	}
	return m.Data, nil
}

func loadSegments(tx *gorm.DB, tenantID, active string) (map[int]string, error) {
	ids := parseIDs(active)
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []SegmentModel
	if err := tx.Where("tenant_id = ? AND segment_id IN ?", tenantID, ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("loading segments: %w", err)
	}
	out := make(map[int]string, len(ids))
	for _, id := range ids {
		out[id] = ""
	}
	for _, r := range rows {
		out[r.SegmentID] = r.Data
	}
	return out, nil
}

// loadForeign resolves the tenant's foreign segment request. The segment
// is visible only when the owner made it public.
func loadForeign(tx *gorm.DB, t TenantModel) (*core.ForeignSegment, error) {
	if t.ForeignTenantID == "" {
		return nil, nil
	}
	var owner TenantModel
	err := tx.First(&owner, "id = ?", t.ForeignTenantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading foreign tenant: %w", err)
	}
	id := owner.DefaultPublicSegment
	if t.ForeignSegmentID != nil {
		id = t.ForeignSegmentID
	}
	if id == nil || !containsID(parseIDs(owner.PublicSegments), *id) {
		return nil, nil
	}
	var seg SegmentModel
	err = tx.First(&seg, "tenant_id = ? AND segment_id = ?", owner.ID, *id).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("loading foreign segment: %w", err)
	}
	return &core.ForeignSegment{Username: owner.Username, ID: *id, Data: seg.Data}, nil
}

func drainConsole(tx *gorm.DB, tenantID string) ([]string, error) {
	var rows []ConsoleCommandModel
	if err := tx.Where("tenant_id = ?", tenantID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("loading console commands: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]string, len(rows))
	ids := make([]uint, len(rows))
	for i, r := range rows {
		out[i] = r.Expression
		ids[i] = r.ID
	}
	if err := tx.Delete(&ConsoleCommandModel{}, ids).Error; err != nil {
		return nil, fmt.Errorf("consuming console commands: %w", err)
	}
	return out, nil
}

func loadWorldState(tx *gorm.DB, td *core.TickData, tenantID string, roomScope []string) error {
	var gs GameStateModel
	if err := tx.Limit(1).Find(&gs).Error; err != nil {
		return fmt.Errorf("loading game state: %w", err)
	}
	td.Time = gs.Time
	if gs.Market != "" {
		td.Market = json.RawMessage(gs.Market)
	}

	rooms := roomScope
	if len(rooms) == 0 {
		if err := tx.Model(&ObjectModel{}).Where("tenant_id = ?", tenantID).Distinct().Pluck("room", &rooms).Error; err != nil {
			return fmt.Errorf("listing rooms: %w", err)
		}
		sort.Strings(rooms)
	}
	td.AccessibleRooms = rooms

	var roomRows []RoomModel
	if err := tx.Where("name IN ?", rooms).Find(&roomRows).Error; err != nil {
		return fmt.Errorf("loading rooms: %w", err)
	}
	roomMap := make(map[string]json.RawMessage, len(roomRows))
	for _, r := range roomRows {
		roomMap[r.Name] = json.RawMessage(r.Data)
	}

	var objects []ObjectModel
	if err := tx.Where("room IN ?", rooms).Find(&objects).Error; err != nil {
		return fmt.Errorf("loading objects: %w", err)
	}
	objectMap := make(map[string]json.RawMessage, len(objects))
	owners := map[string]bool{}
	for _, o := range objects {
		objectMap[o.ID] = json.RawMessage(o.Data)
		if o.TenantID != "" {
			owners[o.TenantID] = true
		}
	}
	owners[tenantID] = true

	ids := make([]string, 0, len(owners))
	for id := range owners {
		ids = append(ids, id)
	}
	var tenants []TenantModel
	if err := tx.Where("id IN ?", ids).Find(&tenants).Error; err != nil {
		return fmt.Errorf("loading users: %w", err)
	}
	users := make(map[string]map[string]string, len(tenants))
	for _, t := range tenants {
		users[t.ID] = map[string]string{"_id": t.ID, "username": t.Username}
	}

	var err error
	if td.Rooms, err = json.Marshal(roomMap); err != nil {
		return err
	}
	if td.Objects, err = json.Marshal(objectMap); err != nil {
		return err
	}
	if td.Users, err = json.Marshal(users); err != nil {
		return err
	}
	return nil
}

// parseIDs reads a stored comma separated id list, skipping bad entries.
func parseIDs(s string) []int {
	if s == "" {
		return nil
	}
	var ids []int
	for _, part := range strings.Split(s, ",") {
		id, err := segments.ParseID(part)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func containsID(ids []int, id int) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
