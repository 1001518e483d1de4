package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/citestack/citestack-worker/internal/models"
)

var (
	ErrItemNotFound = errors.New("item not found")

	// ErrDuplicateItem signals that the (user, source type, fingerprint)
	// uniqueness constraint rejected an insert: another capture of the
	// same content won the race.
	ErrDuplicateItem = errors.New("duplicate item fingerprint")
)

type ItemRepository struct {
	db *gorm.DB
}

func NewItemRepository(db *gorm.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// Create inserts a new item. A unique-constraint violation on the dedup
// index is reported as ErrDuplicateItem so the caller can re-query the
// winning item instead of surfacing an error.
func (r *ItemRepository) Create(ctx context.Context, item *models.Item) error {
	err := r.db.WithContext(ctx).Create(item).Error
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.Is(err, gorm.ErrDuplicatedKey) || (errors.As(err, &pgErr) && pgErr.Code == "23505") {
		return ErrDuplicateItem
	}
	return fmt.Errorf("failed to create item: %w", err)
}

// GetByID retrieves an item by ID
func (r *ItemRepository) GetByID(ctx context.Context, itemID string) (*models.Item, error) {
	var item models.Item
	result := r.db.WithContext(ctx).First(&item, "id = ?", itemID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get item: %w", result.Error)
	}
	return &item, nil
}

// GetOwned retrieves an item by ID scoped to its owner
func (r *ItemRepository) GetOwned(ctx context.Context, userID, itemID string) (*models.Item, error) {
	var item models.Item
	result := r.db.WithContext(ctx).First(&item, "id = ? AND user_id = ?", itemID, userID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get item: %w", result.Error)
	}
	return &item, nil
}

// FindByFingerprint looks up an existing item with the same dedup identity
func (r *ItemRepository) FindByFingerprint(ctx context.Context, userID string, sourceType models.SourceType, fp string) (*models.Item, error) {
	var item models.Item
	result := r.db.WithContext(ctx).
		First(&item, "user_id = ? AND source_type = ? AND fingerprint = ?", userID, sourceType, fp)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to find item by fingerprint: %w", result.Error)
	}
	return &item, nil
}

// TouchLastSaved bumps last_saved_at on a dedup hit
func (r *ItemRepository) TouchLastSaved(ctx context.Context, itemID string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.Item{}).
		Where("id = ?", itemID).
		Updates(map[string]interface{}{
			"last_saved_at": now,
			"updated_at":    now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to touch item: %w", result.Error)
	}
	return nil
}

// ExtractedContent carries the extraction runner's output into the item row
type ExtractedContent struct {
	RawText     *string
	CleanedText string
	Title       *string
	Domain      *string
}

// MarkExtracted transitions an item to extracted and stores the cleaned
// text. The update is guarded by the allowed from-statuses so a stale
// runner cannot regress an already enriched item.
func (r *ItemRepository) MarkExtracted(ctx context.Context, itemID string, content ExtractedContent) error {
	now := time.Now()
	updates := map[string]interface{}{
		"cleaned_text": models.Truncate(content.CleanedText, models.MaxCleanedTextLen),
		"status":       models.ItemStatusExtracted,
		"error":        nil,
		"extracted_at": now,
		"updated_at":   now,
	}
	if content.RawText != nil {
		updates["raw_text"] = models.Truncate(*content.RawText, models.MaxRawTextLen)
	}
	if content.Title != nil && *content.Title != "" {
		updates["title"] = models.Truncate(*content.Title, models.MaxTitleLen)
	}
	if content.Domain != nil && *content.Domain != "" {
		updates["domain"] = *content.Domain
	}

	result := r.db.WithContext(ctx).Model(&models.Item{}).
		Where("id = ? AND status IN ?", itemID, []models.ItemStatus{models.ItemStatusCaptured, models.ItemStatusFailed}).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to mark item extracted: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("item %s not in an extractable state", itemID)
	}
	return nil
}

// EnrichmentOutput carries validated enrichment results into the item row.
// Bullets, quotes and tags replace any prior values wholesale, which makes
// re-running enrichment idempotent.
type EnrichmentOutput struct {
	Abstract       string
	Bullets        models.StringList
	Quotes         models.QuoteList
	Tags           models.StringList
	SuggestedTitle *string

	// Notice carries the non-fatal degraded-enrichment message; nil for a
	// full enrichment.
	Notice *string
}

// MarkEnriched transitions an item to enriched and replaces its
// enrichment outputs.
func (r *ItemRepository) MarkEnriched(ctx context.Context, itemID string, out EnrichmentOutput) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":      models.ItemStatusEnriched,
		"abstract":    out.Abstract,
		"bullets":     out.Bullets,
		"quotes":      out.Quotes,
		"tags":        out.Tags,
		"error":       out.Notice,
		"enriched_at": now,
		"updated_at":  now,
	}
	if out.SuggestedTitle != nil && *out.SuggestedTitle != "" {
		updates["suggested_title"] = models.Truncate(*out.SuggestedTitle, models.MaxTitleLen)
	}

	result := r.db.WithContext(ctx).Model(&models.Item{}).
		Where("id = ?", itemID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to mark item enriched: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrItemNotFound
	}
	return nil
}

// SetSuggestedTitleAsTitle promotes the model's suggested title for items
// that have none of their own.
func (r *ItemRepository) SetSuggestedTitleAsTitle(ctx context.Context, itemID, title string) error {
	result := r.db.WithContext(ctx).Model(&models.Item{}).
		Where("id = ? AND (title IS NULL OR title = '')", itemID).
		Updates(map[string]interface{}{
			"title":      models.Truncate(title, models.MaxTitleLen),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to set title: %w", result.Error)
	}
	return nil
}

// MarkFailed transitions an item to failed with a user-facing message
func (r *ItemRepository) MarkFailed(ctx context.Context, itemID, msg string) error {
	result := r.db.WithContext(ctx).Model(&models.Item{}).
		Where("id = ?", itemID).
		Updates(map[string]interface{}{
			"status":     models.ItemStatusFailed,
			"error":      msg,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark item failed: %w", result.Error)
	}
	return nil
}

// ClearError clears the last failure reason ahead of a manual retry
func (r *ItemRepository) ClearError(ctx context.Context, itemID string) error {
	result := r.db.WithContext(ctx).Model(&models.Item{}).
		Where("id = ?", itemID).
		Updates(map[string]interface{}{
			"error":      nil,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to clear item error: %w", result.Error)
	}
	return nil
}

// SetFilePath records the content-store key after a file upload
func (r *ItemRepository) SetFilePath(ctx context.Context, itemID, path string) error {
	result := r.db.WithContext(ctx).Model(&models.Item{}).
		Where("id = ?", itemID).
		Updates(map[string]interface{}{
			"file_path":  path,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to set file path: %w", result.Error)
	}
	return nil
}

// Delete removes an item (compensation for a failed file upload)
func (r *ItemRepository) Delete(ctx context.Context, itemID string) error {
	result := r.db.WithContext(ctx).Delete(&models.Item{}, "id = ?", itemID)
	if result.Error != nil {
		return fmt.Errorf("failed to delete item: %w", result.Error)
	}
	return nil
}

// AttachToCollection links an item to one of the owner's collections.
// A missing collection or a pre-existing link is not an error.
func (r *ItemRepository) AttachToCollection(ctx context.Context, userID, collectionID, itemID string) error {
	var collection models.Collection
	result := r.db.WithContext(ctx).First(&collection, "id = ? AND user_id = ?", collectionID, userID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("failed to look up collection: %w", result.Error)
	}

	link := models.CollectionItem{CollectionID: collectionID, ItemID: itemID}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error
	if err != nil {
		return fmt.Errorf("failed to attach item to collection: %w", err)
	}
	return nil
}
