package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/citestack/citestack-worker/internal/models"
)

var ErrComparisonNotFound = errors.New("comparison not found")

type ComparisonRepository struct {
	db *gorm.DB
}

func NewComparisonRepository(db *gorm.DB) *ComparisonRepository {
	return &ComparisonRepository{db: db}
}

// Create inserts a new comparison request
func (r *ComparisonRepository) Create(ctx context.Context, c *models.Comparison) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("failed to create comparison: %w", err)
	}
	return nil
}

// GetOwned retrieves a comparison by ID scoped to its owner
func (r *ComparisonRepository) GetOwned(ctx context.Context, userID, id string) (*models.Comparison, error) {
	var c models.Comparison
	result := r.db.WithContext(ctx).First(&c, "id = ? AND user_id = ?", id, userID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrComparisonNotFound
		}
		return nil, fmt.Errorf("failed to get comparison: %w", result.Error)
	}
	return &c, nil
}

// MarkRunning transitions a queued comparison to running
func (r *ComparisonRepository) MarkRunning(ctx context.Context, id string) error {
	return r.updateStatus(ctx, id, models.ComparisonStatusRunning, nil, nil)
}

// MarkSucceeded stores the comparison result
func (r *ComparisonRepository) MarkSucceeded(ctx context.Context, id string, result models.JSONB) error {
	return r.updateStatus(ctx, id, models.ComparisonStatusSucceeded, result, nil)
}

// MarkFailed records the failure reason
func (r *ComparisonRepository) MarkFailed(ctx context.Context, id, errMsg string) error {
	return r.updateStatus(ctx, id, models.ComparisonStatusFailed, nil, &errMsg)
}

func (r *ComparisonRepository) updateStatus(ctx context.Context, id string, status models.ComparisonStatus, result models.JSONB, errMsg *string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if result != nil {
		updates["result"] = result
	}
	if errMsg != nil {
		updates["error"] = *errMsg
	}
	res := r.db.WithContext(ctx).Model(&models.Comparison{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update comparison: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrComparisonNotFound
	}
	return nil
}
