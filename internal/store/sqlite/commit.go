package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cryguy/tickrun/internal/core"
	"github.com/cryguy/tickrun/internal/segments"
)

// ConsoleChannel names the notification channel for a tenant's console.
func ConsoleChannel(tenantID string) string {
	return "user:" + tenantID + "/console"
}

type consoleMessage struct {
	Messages core.ConsoleOutput `json:"messages"`
	Error    string             `json:"error,omitempty"`
}

// Commit persists a tick. Timed out and halted ticks only charge the CPU;
// their memory and requests are discarded.
func (s *Store) Commit(ctx context.Context, res *core.RunResult) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"last_used_time":       res.UsedTime,
			"last_used_dirty_time": res.UsedDirtyTime,
		}
		if res.Metered {
			updates["bucket"] = res.Bucket
		}

		switch res.Kind {
		case core.KindTimeout, core.KindHalted:
			return updateTenant(tx, res.TenantID, updates)
		case core.KindNone, core.KindScript, core.KindValidation:
		default:
			return fmt.Errorf("refusing to commit a %s run", res.Kind)
		}

		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).
			Create(&MemoryModel{TenantID: res.TenantID, Data: res.Memory.Data}).Error; err != nil {
			return fmt.Errorf("saving memory: %w", err)
		}
		for id, data := range res.MemorySegments {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).
				Create(&SegmentModel{TenantID: res.TenantID, SegmentID: id, Data: data}).Error; err != nil {
				return fmt.Errorf("saving segment %d: %w", id, err)
			}
		}

		if res.ActiveSegments != nil {
			updates["active_segments"] = segments.JoinPublic(res.ActiveSegments)
		}
		if res.PublicSegments != nil {
			updates["public_segments"] = *res.PublicSegments
		}
		if u := res.DefaultPublicSegment; u != nil {
			if u.Clear {
				updates["default_public_segment"] = nil
			} else {
				updates["default_public_segment"] = u.ID
			}
		}
		if u := res.ActiveForeignSegment; u != nil {
			if err := resolveForeign(tx, u, updates); err != nil {
				return err
			}
		}
		if err := updateTenant(tx, res.TenantID, updates); err != nil {
			return err
		}

		intents, err := json.Marshal(res.Intents)
		if err != nil {
			return fmt.Errorf("encoding intents: %w", err)
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).
			Create(&IntentModel{TenantID: res.TenantID, Time: currentTime(tx), Data: string(intents)}).Error; err != nil {
			return fmt.Errorf("saving intents: %w", err)
		}

		if err := tx.Where("tenant_id = ?", res.TenantID).Delete(&VisualModel{}).Error; err != nil {
			return fmt.Errorf("clearing visuals: %w", err)
		}
		for room, data := range res.Visual {
			if err := tx.Create(&VisualModel{TenantID: res.TenantID, Room: room, Data: data}).Error; err != nil {
				return fmt.Errorf("saving visual of %s: %w", room, err)
			}
		}

		if len(res.Console.Log) > 0 || len(res.Console.Results) > 0 || res.Error != "" {
			payload, err := json.Marshal(consoleMessage{Messages: res.Console, Error: res.Error})
			if err != nil {
				return err
			}
			if err := publish(tx, ConsoleChannel(res.TenantID), payload); err != nil {
				return err
			}
		}
		return nil
	})
}

// resolveForeign turns a username into the tenant id stored with the
// request. Requests naming an unknown user are dropped.
func resolveForeign(tx *gorm.DB, u *core.ForeignSegmentUpdate, updates map[string]any) error {
	if u.Clear {
		updates["foreign_tenant_id"] = ""
		updates["foreign_segment_id"] = nil
		return nil
	}
	var owner TenantModel
	err := tx.Select("id").First(&owner, "username = ?", u.Username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("tickrun: foreign segment request for unknown user %q ignored", u.Username)
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolving foreign user: %w", err)
	}
	u.UserID = owner.ID
	updates["foreign_tenant_id"] = owner.ID
	if u.ID != nil {
		updates["foreign_segment_id"] = *u.ID
	} else {
		updates["foreign_segment_id"] = nil
	}
	return nil
}

func updateTenant(tx *gorm.DB, tenantID string, updates map[string]any) error {
	if err := tx.Model(&TenantModel{}).Where("id = ?", tenantID).Updates(updates).Error; err != nil {
		return fmt.Errorf("updating tenant: %w", err)
	}
	return nil
}

func currentTime(tx *gorm.DB) int64 {
	var gs GameStateModel
	if err := tx.Limit(1).Find(&gs).Error; err != nil {
		return 0
	}
	return gs.Time
}

// Deactivate marks the tenant inactive so it is no longer scheduled.
func (s *Store) Deactivate(ctx context.Context, tenantID string) error {
	return updateTenant(s.db.WithContext(ctx), tenantID, map[string]any{"active": false})
}

// ConsumeSkipPenalty counts down one skipped tick.
func (s *Store) ConsumeSkipPenalty(ctx context.Context, tenantID string) error {
	err := s.db.WithContext(ctx).Model(&TenantModel{}).
		Where("id = ? AND skip_ticks_penalty > 0", tenantID).
		Update("skip_ticks_penalty", gorm.Expr("skip_ticks_penalty - 1")).Error
	if err != nil {
		return fmt.Errorf("consuming skip penalty: %w", err)
	}
	return nil
}

// Publish appends payload to channel.
func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	return publish(s.db.WithContext(ctx), channel, payload)
}

func publish(tx *gorm.DB, channel string, payload []byte) error {
	if err := tx.Create(&NotificationModel{Channel: channel, Payload: string(payload)}).Error; err != nil {
		return fmt.Errorf("publishing to %s: %w", channel, err)
	}
	return nil
}

// Notifications returns the payloads published to channel, oldest first.
func (s *Store) Notifications(ctx context.Context, channel string) ([]string, error) {
	var out []string
	err := s.db.WithContext(ctx).Model(&NotificationModel{}).
		Where("channel = ?", channel).Order("id").Pluck("payload", &out).Error
	return out, err
}
