// Package store archives resolved map-ban sessions so the match service
// and audit tooling can read the ban history after the lobby is gone.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/lobby-mapban/internal/lobby"
)

var ErrArchiveDisabled = errors.New("store: archive disabled")

// Archive persists lobby results.
type Archive interface {
	SaveResult(ctx context.Context, r lobby.Result) error
	ListResults(ctx context.Context, lobbyCode string) ([]MapBanResult, error)
	Close() error
}

type MapBanResult struct {
	ID          uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	LobbyCode   string        `gorm:"index;not null" json:"lobby_code"`
	Pool        []string      `gorm:"serializer:json" json:"pool"`
	SelectedMap string        `gorm:"not null" json:"selected_map"`
	ResolvedAt  time.Time     `json:"resolved_at"`
	Bans        []MapBanEntry `gorm:"foreignKey:ResultID;constraint:OnDelete:CASCADE" json:"bans"`
	CreatedAt   time.Time     `json:"created_at"`
}

type MapBanEntry struct {
	ID       uint      `gorm:"primaryKey" json:"-"`
	ResultID uuid.UUID `gorm:"type:uuid;index;not null" json:"-"`
	Seq      int       `gorm:"not null" json:"seq"`
	Side     string    `gorm:"not null" json:"side"`
	MapID    string    `gorm:"not null" json:"map_id"`
	UserID   string    `json:"user_id,omitempty"`
	BannedAt time.Time `json:"banned_at"`
}

// NewRecord converts a lobby result into its archived form.
func NewRecord(r lobby.Result) MapBanResult {
	rec := MapBanResult{
		ID:          uuid.New(),
		LobbyCode:   r.LobbyCode,
		Pool:        r.Pool,
		SelectedMap: r.SelectedMap,
		ResolvedAt:  r.ResolvedAt,
		Bans:        make([]MapBanEntry, 0, len(r.Bans)),
	}
	for i, b := range r.Bans {
		rec.Bans = append(rec.Bans, MapBanEntry{
			ResultID: rec.ID,
			Seq:      i,
			Side:     b.Side.String(),
			MapID:    b.MapID,
			UserID:   b.UserID,
			BannedAt: b.At,
		})
	}
	return rec
}

type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open connects to Postgres and migrates the archive tables.
func Open(dsn string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	s := &Store{db: db, log: log.Named("store")}
	if err := s.migrate(); err != nil {
		return nil, multierr.Append(err, s.Close())
	}
	return s, nil
}

func (s *Store) migrate() error {
	if err := s.db.AutoMigrate(&MapBanResult{}, &MapBanEntry{}); err != nil {
		return fmt.Errorf("migrate archive: %w", err)
	}
	return nil
}

func (s *Store) SaveResult(ctx context.Context, r lobby.Result) error {
	rec := NewRecord(r)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("save result for %s: %w", r.LobbyCode, err)
	}
	s.log.Debug("result archived", zap.String("lobby", r.LobbyCode), zap.Stringer("id", rec.ID))
	return nil
}

// ListResults returns the archived results of a lobby, newest first, with
// bans in the order they were made.
func (s *Store) ListResults(ctx context.Context, lobbyCode string) ([]MapBanResult, error) {
	var out []MapBanResult
	err := s.db.WithContext(ctx).
		Preload("Bans", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Where("lobby_code = ?", lobbyCode).
		Order("resolved_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list results for %s: %w", lobbyCode, err)
	}
	return out, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Nop is the archive used when no database is configured.
type Nop struct{}

func (Nop) SaveResult(context.Context, lobby.Result) error { return nil }

func (Nop) ListResults(context.Context, string) ([]MapBanResult, error) {
	return nil, ErrArchiveDisabled
}

func (Nop) Close() error { return nil }
