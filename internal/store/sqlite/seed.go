package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cryguy/tickrun/internal/core"
)

// PutTenant creates or replaces a tenant's account fields.
func (s *Store) PutTenant(ctx context.Context, t core.Tenant) error {
	m := TenantModel{
		ID:               t.ID,
		Username:         t.Username,
		CPU:              t.CPU,
		Bucket:           t.Bucket,
		Active:           t.Active,
		SkipTicksPenalty: t.SkipTicksPenalty,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "cpu", "bucket", "active", "skip_ticks_penalty", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("saving tenant %s: %w", t.ID, err)
	}
	return nil
}

// Tenant returns the stored account of tenantID.
func (s *Store) Tenant(ctx context.Context, tenantID string) (*TenantModel, error) {
	var t TenantModel
	if err := s.db.WithContext(ctx).First(&t, "id = ?", tenantID).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// ActiveTenants lists the ids of tenants to schedule.
func (s *Store) ActiveTenants(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&TenantModel{}).Where("active = ?", true).Order("id").Pluck("id", &ids).Error
	return ids, err
}

// PutCode replaces the tenant's modules and returns the new code version.
func (s *Store) PutCode(ctx context.Context, tenantID string, modules map[string]string) (int64, error) {
	var version int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t TenantModel
		if err := tx.First(&t, "id = ?", tenantID).Error; err != nil {
			return fmt.Errorf("loading tenant: %w", err)
		}
		if err := tx.Where("tenant_id = ?", tenantID).Delete(&CodeModuleModel{}).Error; err != nil {
			return err
		}
		for name, src := range modules {
			if err := tx.Create(&CodeModuleModel{TenantID: tenantID, Name: name, Source: src}).Error; err != nil {
				return fmt.Errorf("saving module %s: %w", name, err)
			}
		}
		version = t.CodeVersion + 1
		return tx.Model(&TenantModel{}).Where("id = ?", tenantID).Update("code_version", version).Error
	})
	return version, err
}

// PutMemory replaces the tenant's raw memory.
func (s *Store) PutMemory(ctx context.Context, tenantID, data string) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&MemoryModel{TenantID: tenantID, Data: data}).Error
}

// PutSegment replaces one memory segment.
func (s *Store) PutSegment(ctx context.Context, tenantID string, id int, data string) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&SegmentModel{TenantID: tenantID, SegmentID: id, Data: data}).Error
}

// Segment returns one stored memory segment.
func (s *Store) Segment(ctx context.Context, tenantID string, id int) (string, error) {
	var seg SegmentModel
	if err := s.db.WithContext(ctx).First(&seg, "tenant_id = ? AND segment_id = ?", tenantID, id).Error; err != nil {
		return "", err
	}
	return seg.Data, nil
}

// Memory returns the tenant's stored raw memory.
func (s *Store) Memory(ctx context.Context, tenantID string) (string, error) {
	return loadMemory(s.db.WithContext(ctx), tenantID)
}

// QueueConsoleCommand queues an expression for the tenant's next tick.
func (s *Store) QueueConsoleCommand(ctx context.Context, tenantID, expr string) error {
	return s.db.WithContext(ctx).Create(&ConsoleCommandModel{TenantID: tenantID, Expression: expr}).Error
}

// PutObject creates or replaces a world object. An empty tenantID makes it
// unowned.
func (s *Store) PutObject(ctx context.Context, id, tenantID, room string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&ObjectModel{ID: id, TenantID: tenantID, Room: room, Data: string(raw)}).Error
}

// RemoveObject deletes a world object.
func (s *Store) RemoveObject(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&ObjectModel{}, "id = ?", id).Error
}

// PutRoom creates or replaces a room's state.
func (s *Store) PutRoom(ctx context.Context, name string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&RoomModel{Name: name, Data: string(raw)}).Error
}

// SetGameTime sets the game tick counter.
func (s *Store) SetGameTime(ctx context.Context, t int64) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"time"}),
	}).Create(&GameStateModel{ID: 1, Time: t}).Error
}

// AdvanceGameTime increments the game tick counter and returns it.
func (s *Store) AdvanceGameTime(ctx context.Context) (int64, error) {
	var now int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var gs GameStateModel
		if err := tx.Limit(1).Find(&gs).Error; err != nil {
			return err
		}
		now = gs.Time + 1
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"time"}),
		}).Create(&GameStateModel{ID: 1, Time: now}).Error
	})
	return now, err
}

// Intents returns the last committed intents of the tenant as JSON.
func (s *Store) Intents(ctx context.Context, tenantID string) (string, error) {
	var m IntentModel
	if err := s.db.WithContext(ctx).First(&m, "tenant_id = ?", tenantID).Error; err != nil {
		return "", err
	}
	return m.Data, nil
}
