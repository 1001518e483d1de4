package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/citestack/citestack-worker/internal/extract"
	"github.com/citestack/citestack-worker/internal/fingerprint"
	"github.com/citestack/citestack-worker/internal/models"
	"github.com/citestack/citestack-worker/internal/repository"
)

// ItemStore is the item persistence surface used by the capture service
type ItemStore interface {
	Create(ctx context.Context, item *models.Item) error
	GetOwned(ctx context.Context, userID, itemID string) (*models.Item, error)
	FindByFingerprint(ctx context.Context, userID string, sourceType models.SourceType, fp string) (*models.Item, error)
	TouchLastSaved(ctx context.Context, itemID string) error
	SetFilePath(ctx context.Context, itemID, path string) error
	ClearError(ctx context.Context, itemID string) error
	Delete(ctx context.Context, itemID string) error
	AttachToCollection(ctx context.Context, userID, collectionID, itemID string) error
}

// FileStore is the blob storage surface used for file captures
type FileStore interface {
	ObjectKey(userID, itemID, filename string) string
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
}

// ComparisonStore is the comparison persistence surface
type ComparisonStore interface {
	Create(ctx context.Context, c *models.Comparison) error
}

// CaptureResult is the synchronous outcome of a capture request. A
// credit shortfall is not an error: the item is saved and extracted,
// only the enrichment step is withheld.
type CaptureResult struct {
	Item            *models.Item
	Deduped         bool
	JobID           string
	CreditShortfall *repository.InsufficientCreditsError
}

// CaptureService handles the synchronous half of the pipeline: saving
// items, deduplicating against prior captures, and enqueueing the async
// extraction and enrichment work.
type CaptureService struct {
	items       ItemStore
	comparisons ComparisonStore
	jobs        JobQueue
	credits     CreditGate
	enrichGate  *EnrichGate
	files       FileStore
}

func NewCaptureService(
	items ItemStore,
	comparisons ComparisonStore,
	jobs JobQueue,
	credits CreditGate,
	enrichGate *EnrichGate,
	files FileStore,
) *CaptureService {
	return &CaptureService{
		items:       items,
		comparisons: comparisons,
		jobs:        jobs,
		credits:     credits,
		enrichGate:  enrichGate,
		files:       files,
	}
}

// CaptureURL saves a URL capture and enqueues extraction. Saving the
// same canonical URL twice bumps last_saved_at on the existing item
// instead of creating a duplicate.
func (s *CaptureService) CaptureURL(ctx context.Context, userID, rawURL string, collectionID *string) (*CaptureResult, error) {
	canonical, err := fingerprint.CanonicalURL(rawURL)
	if err != nil {
		return nil, validationf("invalid URL: %v", err)
	}

	if result, err := s.dedup(ctx, userID, models.SourceTypeURL, canonical, collectionID); result != nil || err != nil {
		return result, err
	}

	domain := fingerprint.Domain(canonical)
	item := &models.Item{
		ID:          uuid.New().String(),
		UserID:      userID,
		SourceType:  models.SourceTypeURL,
		Status:      models.ItemStatusCaptured,
		Fingerprint: canonical,
		URL:         &canonical,
		Domain:      &domain,
		LastSavedAt: time.Now(),
	}

	winner, err := s.createOrAdopt(ctx, item, collectionID)
	if err != nil {
		return nil, err
	}
	if winner != nil {
		return winner, nil
	}

	jobID, err := s.jobs.Enqueue(ctx, userID, &item.ID, models.JobTypeExtractURL, models.JSONB{"url": canonical}, nil)
	if err != nil {
		s.discardItem(ctx, item.ID)
		return nil, fmt.Errorf("failed to enqueue extraction: %w", err)
	}

	log.Printf("Captured URL for user %s: item %s (%s), extract job %s", userID, item.ID, domain, jobID)
	return &CaptureResult{Item: item, JobID: jobID}, nil
}

// CapturePaste saves pasted text. Pastes need no extraction step: the
// text is already clean, so the item starts extracted and enrichment is
// scheduled immediately.
func (s *CaptureService) CapturePaste(ctx context.Context, userID, text string, title, collectionID *string) (*CaptureResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, validationf("paste text is empty")
	}
	text = models.Truncate(text, models.MaxCleanedTextLen)

	fp := fingerprint.ContentHash([]byte(text))
	if result, err := s.dedup(ctx, userID, models.SourceTypePaste, fp, collectionID); result != nil || err != nil {
		return result, err
	}

	now := time.Now()
	item := &models.Item{
		ID:          uuid.New().String(),
		UserID:      userID,
		SourceType:  models.SourceTypePaste,
		Status:      models.ItemStatusExtracted,
		Fingerprint: fp,
		CleanedText: &text,
		ExtractedAt: &now,
		LastSavedAt: now,
	}
	if title != nil && strings.TrimSpace(*title) != "" {
		trimmed := models.Truncate(strings.TrimSpace(*title), models.MaxTitleLen)
		item.Title = &trimmed
	}

	winner, err := s.createOrAdopt(ctx, item, collectionID)
	if err != nil {
		return nil, err
	}
	if winner != nil {
		return winner, nil
	}

	result := &CaptureResult{Item: item}
	jobID, err := s.enrichGate.Schedule(ctx, userID, item.ID, text, false)
	if err != nil {
		var shortfall *repository.InsufficientCreditsError
		if errors.As(err, &shortfall) {
			// Item stays extracted; the user can re-enrich after a grant.
			result.CreditShortfall = shortfall
			log.Printf("Paste %s captured but not enriched: %v", item.ID, shortfall)
			return result, nil
		}
		return nil, err
	}
	result.JobID = jobID
	return result, nil
}

// CaptureFile uploads a file to blob storage and enqueues extraction
func (s *CaptureService) CaptureFile(ctx context.Context, userID, filename, mimeType string, data []byte, collectionID *string) (*CaptureResult, error) {
	if len(data) == 0 {
		return nil, validationf("file is empty")
	}
	if !extract.SupportedMimeType(mimeType) {
		return nil, &extract.ErrUnsupportedType{MimeType: mimeType}
	}

	fp := fingerprint.ContentHash(data)
	if result, err := s.dedup(ctx, userID, models.SourceTypeFile, fp, collectionID); result != nil || err != nil {
		return result, err
	}

	item := &models.Item{
		ID:               uuid.New().String(),
		UserID:           userID,
		SourceType:       models.SourceTypeFile,
		Status:           models.ItemStatusCaptured,
		Fingerprint:      fp,
		OriginalFilename: &filename,
		MimeType:         &mimeType,
		LastSavedAt:      time.Now(),
	}

	winner, err := s.createOrAdopt(ctx, item, collectionID)
	if err != nil {
		return nil, err
	}
	if winner != nil {
		return winner, nil
	}

	// A partial capture must not leave the item row behind: the dedup
	// index would route every retry of the same content onto an orphan
	// that has no stored file and no extraction job.
	key := s.files.ObjectKey(userID, item.ID, filename)
	if err := s.files.Upload(ctx, key, data, mimeType); err != nil {
		s.discardItem(ctx, item.ID)
		return nil, fmt.Errorf("failed to upload file: %w", err)
	}
	if err := s.items.SetFilePath(ctx, item.ID, key); err != nil {
		s.discardObject(ctx, key)
		s.discardItem(ctx, item.ID)
		return nil, err
	}
	item.FilePath = &key

	payload := models.JSONB{"file_path": key, "mime_type": mimeType}
	jobID, err := s.jobs.Enqueue(ctx, userID, &item.ID, models.JobTypeExtractFile, payload, nil)
	if err != nil {
		s.discardObject(ctx, key)
		s.discardItem(ctx, item.ID)
		return nil, fmt.Errorf("failed to enqueue extraction: %w", err)
	}

	log.Printf("Captured file for user %s: item %s (%s), extract job %s", userID, item.ID, mimeType, jobID)
	return &CaptureResult{Item: item, JobID: jobID}, nil
}

// ReEnrich forces a fresh enrichment run for an item that already has
// cleaned text. Used to retry failed items and to refresh outputs.
func (s *CaptureService) ReEnrich(ctx context.Context, userID, itemID string) (*CaptureResult, error) {
	item, err := s.items.GetOwned(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}
	if item.CleanedText == nil || *item.CleanedText == "" {
		return nil, validationf("item %s has no extracted text to enrich", itemID)
	}

	if item.Status == models.ItemStatusFailed {
		if err := s.items.ClearError(ctx, itemID); err != nil {
			return nil, err
		}
	}

	result := &CaptureResult{Item: item}
	jobID, err := s.enrichGate.Schedule(ctx, userID, itemID, *item.CleanedText, true)
	if err != nil {
		var shortfall *repository.InsufficientCreditsError
		if errors.As(err, &shortfall) {
			result.CreditShortfall = shortfall
			return result, nil
		}
		return nil, err
	}
	result.JobID = jobID
	return result, nil
}

// Compare validates and queues a cross-item comparison over 2-5
// enriched items owned by the user.
func (s *CaptureService) Compare(ctx context.Context, userID string, itemIDs []string) (*models.Comparison, *repository.InsufficientCreditsError, error) {
	unique := make([]string, 0, len(itemIDs))
	seen := make(map[string]bool)
	for _, id := range itemIDs {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	if len(unique) < 2 || len(unique) > 5 {
		return nil, nil, validationf("comparison needs 2-5 distinct items, got %d", len(unique))
	}

	for _, id := range unique {
		item, err := s.items.GetOwned(ctx, userID, id)
		if err != nil {
			return nil, nil, err
		}
		if item.Status != models.ItemStatusEnriched || item.Abstract == nil {
			return nil, nil, validationf("item %s is not enriched yet", id)
		}
	}

	comparisonID := uuid.New().String()
	err := s.credits.TryDebit(ctx, userID, models.CostCompareItems, models.ReasonCompareItems,
		repository.EntryRefs{ComparisonID: &comparisonID})
	if err != nil {
		var shortfall *repository.InsufficientCreditsError
		if errors.As(err, &shortfall) {
			return nil, shortfall, nil
		}
		return nil, nil, err
	}

	comparison := &models.Comparison{
		ID:      comparisonID,
		UserID:  userID,
		ItemIDs: models.StringList(unique),
		Status:  models.ComparisonStatusQueued,
	}
	if err := s.comparisons.Create(ctx, comparison); err != nil {
		s.refund(ctx, userID, models.CostCompareItems, repository.EntryRefs{ComparisonID: &comparisonID})
		return nil, nil, err
	}

	payload := models.JSONB{"comparison_id": comparisonID}
	if _, err := s.jobs.Enqueue(ctx, userID, nil, models.JobTypeCompareItems, payload, nil); err != nil {
		s.refund(ctx, userID, models.CostCompareItems, repository.EntryRefs{ComparisonID: &comparisonID})
		return nil, nil, fmt.Errorf("failed to enqueue comparison: %w", err)
	}

	log.Printf("Queued comparison %s over %d items for user %s", comparisonID, len(unique), userID)
	return comparison, nil, nil
}

// dedup looks up an existing item with the same fingerprint. A hit
// bumps last_saved_at (the "save again" gesture) and returns it.
func (s *CaptureService) dedup(ctx context.Context, userID string, sourceType models.SourceType, fp string, collectionID *string) (*CaptureResult, error) {
	existing, err := s.items.FindByFingerprint(ctx, userID, sourceType, fp)
	if err != nil {
		if errors.Is(err, repository.ErrItemNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if err := s.items.TouchLastSaved(ctx, existing.ID); err != nil {
		return nil, err
	}
	if err := s.attach(ctx, userID, collectionID, existing.ID); err != nil {
		return nil, err
	}
	log.Printf("Deduplicated capture for user %s onto item %s", userID, existing.ID)
	return &CaptureResult{Item: existing, Deduped: true}, nil
}

// createOrAdopt inserts the item, falling back to the concurrent winner
// when another request captured the same fingerprint in between the
// dedup check and the insert. Returns a non-nil result only on the
// adopt path.
func (s *CaptureService) createOrAdopt(ctx context.Context, item *models.Item, collectionID *string) (*CaptureResult, error) {
	err := s.items.Create(ctx, item)
	if err == nil {
		return nil, s.attach(ctx, item.UserID, collectionID, item.ID)
	}
	if !errors.Is(err, repository.ErrDuplicateItem) {
		return nil, err
	}

	winner, err := s.items.FindByFingerprint(ctx, item.UserID, item.SourceType, item.Fingerprint)
	if err != nil {
		return nil, err
	}
	if err := s.items.TouchLastSaved(ctx, winner.ID); err != nil {
		return nil, err
	}
	if err := s.attach(ctx, item.UserID, collectionID, winner.ID); err != nil {
		return nil, err
	}
	return &CaptureResult{Item: winner, Deduped: true}, nil
}

func (s *CaptureService) attach(ctx context.Context, userID string, collectionID *string, itemID string) error {
	if collectionID == nil || *collectionID == "" {
		return nil
	}
	return s.items.AttachToCollection(ctx, userID, *collectionID, itemID)
}

func (s *CaptureService) discardItem(ctx context.Context, itemID string) {
	if err := s.items.Delete(ctx, itemID); err != nil {
		log.Printf("Failed to delete item %s after failed capture: %v", itemID, err)
	}
}

func (s *CaptureService) discardObject(ctx context.Context, key string) {
	if err := s.files.Delete(ctx, key); err != nil {
		log.Printf("Failed to delete stored object %s after failed capture: %v", key, err)
	}
}

func (s *CaptureService) refund(ctx context.Context, userID string, amount int64, refs repository.EntryRefs) {
	if err := s.credits.Grant(ctx, userID, amount, models.ReasonRefund, refs); err != nil {
		log.Printf("Failed to refund %d credits for user %s: %v", amount, userID, err)
	}
}
