package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cryguy/tickrun/internal/core"
	"github.com/cryguy/tickrun/internal/worlddata"
)

// LoadWorld returns the stored terrain, or nil when none was saved.
func (s *Store) LoadWorld(ctx context.Context) (*core.WorldBlob, error) {
	var w WorldModel
	err := s.db.WithContext(ctx).First(&w, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading world: %w", err)
	}
	var rooms []string
	if w.Rooms != "" {
		rooms = strings.Split(w.Rooms, ",")
	}
	return &core.WorldBlob{Rooms: rooms, Terrain: w.Terrain, Compressed: w.Compressed}, nil
}

// PutWorld stores raw terrain for rooms, 2500 bytes per room, compressed.
func (s *Store) PutWorld(ctx context.Context, rooms []string, raw []byte) error {
	if len(raw) != len(rooms)*worlddata.RoomSize {
		return fmt.Errorf("terrain is %d bytes, want %d for %d rooms", len(raw), len(rooms)*worlddata.RoomSize, len(rooms))
	}
	packed, err := worlddata.Compress(raw)
	if err != nil {
		return fmt.Errorf("compressing terrain: %w", err)
	}
	w := WorldModel{ID: 1, Rooms: strings.Join(rooms, ","), Terrain: packed, Compressed: true}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&w).Error; err != nil {
		return fmt.Errorf("saving world: %w", err)
	}
	return nil
}
