package models

import "time"

// IdempotencyRecord caches the response produced for a client-supplied
// idempotency key so retried capture requests replay the original
// response instead of re-executing side effects. Records are permanent
// once written; lookup is exact match on (user_id, key).
type IdempotencyRecord struct {
	ID        string    `gorm:"column:id;primaryKey"`
	UserID    string    `gorm:"column:user_id;uniqueIndex:idx_idem_user_key"`
	Key       string    `gorm:"column:key;uniqueIndex:idx_idem_user_key"`
	Status    int       `gorm:"column:status"`
	Body      []byte    `gorm:"column:body"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM
func (IdempotencyRecord) TableName() string {
	return "idempotency_keys"
}
