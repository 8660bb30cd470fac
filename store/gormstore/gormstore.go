// Package gormstore is the default Storage implementation: a GORM-backed
// key/value table with TTL, in the same spirit as the teacher's
// OauthRequest/OauthSession GORM models, generalized to the spec's generic
// key->value+TTL contract so both PKCE records and sessions live in one
// table.
package gormstore

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atproto-go/oauth-client/store"
)

// kvRow is the backing GORM model. ExpiresAt is nil for entries with no
// TTL (sessions); set for PKCE records.
type kvRow struct {
	Key       string `gorm:"primaryKey"`
	Value     string
	ExpiresAt *time.Time
}

// Store is a gorm.DB-backed Storage.
type Store struct {
	db *gorm.DB
}

// New wraps db, running the auto-migration for the kv table. Callers
// typically open db with gorm.io/driver/sqlite, exactly as the teacher's
// demo apps do.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&kvRow{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

var _ store.Storage = (*Store)(nil)

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var row kvRow
	err := s.db.WithContext(ctx).First(&row, "key = ?", key).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", false, nil
		}
		return "", false, err
	}

	if row.ExpiresAt != nil && !row.ExpiresAt.After(time.Now()) {
		_ = s.Delete(ctx, key)
		return "", false, nil
	}

	return row.Value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	row := kvRow{Key: key, Value: value}
	if ttl > 0 {
		exp := time.Now().Add(ttl)
		row.ExpiresAt = &exp
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&kvRow{}, "key = ?", key).Error
}
