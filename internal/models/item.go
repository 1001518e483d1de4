package models

import (
	"time"
	"unicode/utf8"
)

// ItemStatus tracks a captured item through the pipeline
type ItemStatus string

// Item lifecycle states
const (
	ItemStatusCaptured  ItemStatus = "captured"
	ItemStatusExtracted ItemStatus = "extracted"
	ItemStatusEnriched  ItemStatus = "enriched"
	ItemStatusFailed    ItemStatus = "failed"
)

// SourceType identifies how an item entered the library
type SourceType string

// Item source types
const (
	SourceTypeURL   SourceType = "url"
	SourceTypePaste SourceType = "paste"
	SourceTypeFile  SourceType = "file"
)

// Content size caps applied before writing item text fields
const (
	MaxRawTextLen     = 500_000
	MaxCleanedTextLen = 500_000
	MaxTitleLen       = 500
)

// Truncate cuts s to at most max bytes, backing up so a multi-byte rune
// is never split. Postgres rejects invalid UTF-8 in text columns.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// itemTransitions is the allowed state transition table. Failed items can
// re-enter the pipeline through a manual retry, which is why failed maps
// back to extracted and enriched. Re-running enrichment on an already
// enriched item replaces its outputs, so enriched -> enriched is legal.
var itemTransitions = map[ItemStatus][]ItemStatus{
	ItemStatusCaptured:  {ItemStatusExtracted, ItemStatusEnriched, ItemStatusFailed},
	ItemStatusExtracted: {ItemStatusEnriched, ItemStatusFailed},
	ItemStatusEnriched:  {ItemStatusEnriched, ItemStatusFailed},
	ItemStatusFailed:    {ItemStatusExtracted, ItemStatusEnriched, ItemStatusFailed},
}

// CanTransition reports whether an item may move from one status to another
func CanTransition(from, to ItemStatus) bool {
	for _, allowed := range itemTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Item represents one captured unit of content
type Item struct {
	ID               string     `gorm:"column:id;primaryKey"`
	UserID           string     `gorm:"column:user_id;index"`
	SourceType       SourceType `gorm:"column:source_type"`
	Status           ItemStatus `gorm:"column:status;index"`
	Fingerprint      string     `gorm:"column:fingerprint"`
	URL              *string    `gorm:"column:url"`
	Domain           *string    `gorm:"column:domain"`
	Title            *string    `gorm:"column:title"`
	OriginalFilename *string    `gorm:"column:original_filename"`
	MimeType         *string    `gorm:"column:mime_type"`
	FilePath         *string    `gorm:"column:file_path"`
	RawText          *string    `gorm:"column:raw_text"`
	CleanedText      *string    `gorm:"column:cleaned_text"`
	Abstract         *string    `gorm:"column:abstract"`
	Bullets          StringList `gorm:"column:bullets;type:jsonb"`
	Quotes           QuoteList  `gorm:"column:quotes;type:jsonb"`
	Tags             StringList `gorm:"column:tags;type:jsonb"`
	SuggestedTitle   *string    `gorm:"column:suggested_title"`
	Error            *string    `gorm:"column:error"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	ExtractedAt      *time.Time `gorm:"column:extracted_at"`
	EnrichedAt       *time.Time `gorm:"column:enriched_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
	LastSavedAt      time.Time  `gorm:"column:last_saved_at"`
}

// TableName specifies the table name for GORM
func (Item) TableName() string {
	return "items"
}
