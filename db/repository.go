package db

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionRepository defines decoupled operations for credential persistence.
type SessionRepository interface {
	Get(ctx context.Context) (*Session, error)
	Upsert(ctx context.Context, s *Session) error
	Clear(ctx context.Context) error
}

// SettingsRepository defines decoupled operations for key/value settings.
type SettingsRepository interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// gormSessionRepo is a GORM-backed implementation of SessionRepository.
// Use constructor NewSessionRepository to obtain an instance.
type gormSessionRepo struct{ db *gorm.DB }

// gormSettingsRepo is a GORM-backed implementation of SettingsRepository.
type gormSettingsRepo struct{ db *gorm.DB }

// NewSessionRepository creates a SessionRepository. Accepts *gorm.DB to avoid global access.
func NewSessionRepository(db *gorm.DB) SessionRepository { return &gormSessionRepo{db: db} }

// NewSettingsRepository creates a SettingsRepository.
func NewSettingsRepository(db *gorm.DB) SettingsRepository { return &gormSettingsRepo{db: db} }

func (r *gormSessionRepo) Get(ctx context.Context) (*Session, error) {
	if r.db == nil {
		return nil, fmt.Errorf("repository not initialized")
	}
	var s Session
	err := r.db.WithContext(ctx).First(&s, "id = ?", 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormSessionRepo) Upsert(ctx context.Context, s *Session) error {
	if r.db == nil {
		return fmt.Errorf("repository not initialized")
	}
	s.ID = 1
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_token", "refresh_token", "expires_at", "user_json", "updated_at"}),
	}).Create(s).Error
}

func (r *gormSessionRepo) Clear(ctx context.Context) error {
	if r.db == nil {
		return fmt.Errorf("repository not initialized")
	}
	return r.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(&Session{}).Error
}

func (r *gormSettingsRepo) Get(ctx context.Context, key string) (string, bool, error) {
	if r.db == nil {
		return "", false, fmt.Errorf("repository not initialized")
	}
	var s Setting
	err := r.db.WithContext(ctx).First(&s, "name = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return s.Value, true, nil
}

func (r *gormSettingsRepo) Put(ctx context.Context, key, value string) error {
	if r.db == nil {
		return fmt.Errorf("repository not initialized")
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&Setting{Name: key, Value: value}).Error
}

func (r *gormSettingsRepo) Delete(ctx context.Context, key string) error {
	if r.db == nil {
		return fmt.Errorf("repository not initialized")
	}
	return r.db.WithContext(ctx).Delete(&Setting{}, "name = ?", key).Error
}
