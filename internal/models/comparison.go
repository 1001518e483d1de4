package models

import "time"

// ComparisonStatus mirrors the job lifecycle for a comparison request
type ComparisonStatus string

// Comparison lifecycle states
const (
	ComparisonStatusQueued    ComparisonStatus = "queued"
	ComparisonStatusRunning   ComparisonStatus = "running"
	ComparisonStatusSucceeded ComparisonStatus = "succeeded"
	ComparisonStatusFailed    ComparisonStatus = "failed"
)

// Comparison is a cross-item analysis request over 2-5 enriched items
type Comparison struct {
	ID        string           `gorm:"column:id;primaryKey"`
	UserID    string           `gorm:"column:user_id;index"`
	ItemIDs   StringList       `gorm:"column:item_ids;type:jsonb"`
	Status    ComparisonStatus `gorm:"column:status"`
	Result    JSONB            `gorm:"column:result;type:jsonb"`
	Error     *string          `gorm:"column:error"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (Comparison) TableName() string {
	return "comparisons"
}
