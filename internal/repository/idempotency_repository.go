package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/citestack/citestack-worker/internal/models"
)

type IdempotencyRepository struct {
	db *gorm.DB
}

func NewIdempotencyRepository(db *gorm.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// Get returns the cached response for (user, key), or nil on a miss
func (r *IdempotencyRepository) Get(ctx context.Context, userID, key string) (*models.IdempotencyRecord, error) {
	var rec models.IdempotencyRecord
	result := r.db.WithContext(ctx).First(&rec, "user_id = ? AND key = ?", userID, key)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up idempotency key: %w", result.Error)
	}
	return &rec, nil
}

// Put caches a response under (user, key). The record is immutable: a
// concurrent writer that loses the unique-index race leaves the first
// response in place.
func (r *IdempotencyRepository) Put(ctx context.Context, userID, key string, status int, body []byte) error {
	rec := models.IdempotencyRecord{
		ID:     uuid.New().String(),
		UserID: userID,
		Key:    key,
		Status: status,
		Body:   body,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to store idempotency record: %w", err)
	}
	return nil
}
