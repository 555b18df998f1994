package sandboxapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrSessionNotFound is returned when a record names an unknown session.
var ErrSessionNotFound = errors.New("session not found")

// GameSession is one test run of an embedded game.
type GameSession struct {
	SessionID     string    `json:"sessionId" gorm:"primaryKey;size:64"`
	UserID        string    `json:"userId"`
	GameID        string    `json:"gameId" gorm:"index;not null"`
	GameName      string    `json:"gameName,omitempty"`
	StartTime     time.Time `json:"startTime"`
	IsTestSession bool      `json:"isTestSession" gorm:"not null;default:true"`
}

// GameData is one round recorded during a session.
type GameData struct {
	DataID      string          `json:"dataId" gorm:"primaryKey;size:64"`
	SessionID   string          `json:"sessionId" gorm:"index;not null"`
	GameID      string          `json:"gameId" gorm:"not null"`
	UserID      string          `json:"userId"`
	RoundNumber *float64        `json:"roundNumber,omitempty"`
	RoundData   json.RawMessage `json:"roundData,omitempty" gorm:"serializer:json"`
	Timestamp   time.Time       `json:"timestamp" gorm:"index"`
	IsTestData  bool            `json:"isTestData" gorm:"not null;default:true"`
}

// Store persists sessions and their records.
type Store struct {
	db *gorm.DB
}

// Open opens (and migrates) the sqlite database at path. ":memory:" keeps
// everything in process.
func Open(path string) (*Store, error) {
	memory := path == ":memory:" || strings.Contains(path, "mode=memory")
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// every pooled connection would otherwise see its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return NewStore(db)
}

// NewStore wraps an open gorm handle and migrates the schema.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&GameSession{}, &GameData{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateSession stores a new session.
func (s *Store) CreateSession(ctx context.Context, session *GameSession) error {
	return s.db.WithContext(ctx).Create(session).Error
}

// GetSession looks a session up by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*GameSession, error) {
	var session GameSession
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// AddData stores a record.
func (s *Store) AddData(ctx context.Context, data *GameData) error {
	return s.db.WithContext(ctx).Create(data).Error
}

// ListData returns a session's records, oldest first.
func (s *Store) ListData(ctx context.Context, sessionID string) ([]GameData, error) {
	data := make([]GameData, 0)
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp asc").
		Order("data_id asc").
		Find(&data).Error
	return data, err
}
