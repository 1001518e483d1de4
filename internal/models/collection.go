package models

import "time"

// Collection is a user-defined grouping of items. Collection management
// lives in the CRUD layer; the pipeline only attaches items on capture
// and on dedup hits.
type Collection struct {
	ID        string    `gorm:"column:id;primaryKey"`
	UserID    string    `gorm:"column:user_id;index"`
	Name      string    `gorm:"column:name"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM
func (Collection) TableName() string {
	return "collections"
}

// CollectionItem links an item to a collection
type CollectionItem struct {
	CollectionID string    `gorm:"column:collection_id;primaryKey"`
	ItemID       string    `gorm:"column:item_id;primaryKey"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM
func (CollectionItem) TableName() string {
	return "collection_items"
}
