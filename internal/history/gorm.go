package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrNoDSN = errors.New("history: empty dsn")

type matchRecord struct {
	gorm.Model
	RoomID         string     `gorm:"size:64;not null;index"`
	RoomName       string     `gorm:"size:255"`
	PlayerID       string     `gorm:"size:64;not null;index"`
	HostID         string     `gorm:"size:64;not null"`
	HostName       string     `gorm:"size:255"`
	HostCharacter  string     `gorm:"size:64"`
	GuestID        string     `gorm:"size:64"`
	GuestName      string     `gorm:"size:255"`
	GuestCharacter string     `gorm:"size:64"`
	WinnerID       string     `gorm:"size:64"`
	Turns          int        `gorm:"not null;default:0"`
	StartedAt      *time.Time `gorm:"index"`
	EndedAt        time.Time  `gorm:"not null;index"`
	BattleLog      []string   `gorm:"serializer:json"`
}

func (matchRecord) TableName() string { return "match_history" }

func toRecord(m Match) matchRecord {
	return matchRecord{
		RoomID:         m.RoomID,
		RoomName:       m.RoomName,
		PlayerID:       m.PlayerID,
		HostID:         m.HostID,
		HostName:       m.HostName,
		HostCharacter:  m.HostCharacter,
		GuestID:        m.GuestID,
		GuestName:      m.GuestName,
		GuestCharacter: m.GuestCharacter,
		WinnerID:       m.WinnerID,
		Turns:          m.Turns,
		StartedAt:      m.StartedAt,
		EndedAt:        m.EndedAt,
		BattleLog:      m.BattleLog,
	}
}

func (r matchRecord) match() Match {
	return Match{
		RoomID:         r.RoomID,
		RoomName:       r.RoomName,
		PlayerID:       r.PlayerID,
		HostID:         r.HostID,
		HostName:       r.HostName,
		HostCharacter:  r.HostCharacter,
		GuestID:        r.GuestID,
		GuestName:      r.GuestName,
		GuestCharacter: r.GuestCharacter,
		WinnerID:       r.WinnerID,
		Turns:          r.Turns,
		StartedAt:      r.StartedAt,
		EndedAt:        r.EndedAt,
		BattleLog:      r.BattleLog,
	}
}

// Store persists matches in postgres through gorm.
type Store struct {
	db *gorm.DB
}

// Open connects to dsn and migrates the history table.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, ErrNoDSN
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	return NewStore(db)
}

// NewStore wraps an existing gorm handle.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&matchRecord{}); err != nil {
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Record(ctx context.Context, m Match) error {
	rec := toRecord(m)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("record match %s: %w", m.RoomID, err)
	}
	return nil
}

// Recent returns up to limit matches, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []matchRecord
	err := s.db.WithContext(ctx).Order("ended_at desc").Limit(limit).Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	out := make([]Match, len(recs))
	for i, r := range recs {
		out[i] = r.match()
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
