package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"path"
	"strings"

	"github.com/citestack/citestack-worker/internal/extract"
	"github.com/citestack/citestack-worker/internal/models"
	"github.com/citestack/citestack-worker/internal/repository"
)

// ExtractItemStore is the item surface used by the extraction runner
type ExtractItemStore interface {
	GetByID(ctx context.Context, itemID string) (*models.Item, error)
	MarkExtracted(ctx context.Context, itemID string, content repository.ExtractedContent) error
	MarkFailed(ctx context.Context, itemID, msg string) error
}

// PageFetcher fetches a web page body
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) ([]byte, error)
}

// FileFetcher reads a captured file back from blob storage
type FileFetcher interface {
	Download(ctx context.Context, key string) ([]byte, error)
}

// ExtractProcessor runs extract_url and extract_file jobs: it turns a
// captured item into cleaned text and hands it to the enrichment gate.
type ExtractProcessor struct {
	items      ExtractItemStore
	fetcher    PageFetcher
	files      FileFetcher
	enrichGate *EnrichGate
}

func NewExtractProcessor(items ExtractItemStore, fetcher PageFetcher, files FileFetcher, enrichGate *EnrichGate) *ExtractProcessor {
	return &ExtractProcessor{
		items:      items,
		fetcher:    fetcher,
		files:      files,
		enrichGate: enrichGate,
	}
}

// ProcessURL fetches the item's page, strips boilerplate, and stores
// the cleaned text. A fetch or extraction failure marks the item failed
// and fails the job; a credit shortfall when scheduling enrichment does
// not, the item simply stays extracted.
func (p *ExtractProcessor) ProcessURL(ctx context.Context, job models.Job) (models.JSONB, error) {
	if job.ItemID == nil {
		return nil, fmt.Errorf("extract_url job %s has no item", job.ID)
	}
	item, err := p.items.GetByID(ctx, *job.ItemID)
	if err != nil {
		return nil, err
	}

	pageURL := payloadString(job.Payload, "url")
	if pageURL == "" && item.URL != nil {
		pageURL = *item.URL
	}
	if pageURL == "" {
		return nil, p.failItem(ctx, item.ID, "item has no URL to fetch")
	}

	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil, p.failItem(ctx, item.ID, fmt.Sprintf("invalid URL: %v", err))
	}

	raw, err := p.fetcher.FetchPage(ctx, pageURL)
	if err != nil {
		return nil, p.failItem(ctx, item.ID, fmt.Sprintf("fetch failed: %v", err))
	}

	extracted, err := extract.FromHTML(raw, parsed)
	if err != nil {
		return nil, p.failItem(ctx, item.ID, fmt.Sprintf("extraction failed: %v", err))
	}

	rawText := string(raw)
	content := repository.ExtractedContent{
		RawText:     &rawText,
		CleanedText: extracted.CleanedText,
	}
	if extracted.Title != "" {
		content.Title = &extracted.Title
	}
	if err := p.items.MarkExtracted(ctx, item.ID, content); err != nil {
		return nil, err
	}
	log.Printf("Extracted item %s: %d chars of cleaned text", item.ID, len(extracted.CleanedText))

	return p.scheduleEnrich(ctx, job.UserID, item.ID, extracted.CleanedText)
}

// ProcessFile downloads the captured file and extracts its text
func (p *ExtractProcessor) ProcessFile(ctx context.Context, job models.Job) (models.JSONB, error) {
	if job.ItemID == nil {
		return nil, fmt.Errorf("extract_file job %s has no item", job.ID)
	}
	item, err := p.items.GetByID(ctx, *job.ItemID)
	if err != nil {
		return nil, err
	}

	filePath := payloadString(job.Payload, "file_path")
	if filePath == "" && item.FilePath != nil {
		filePath = *item.FilePath
	}
	if filePath == "" {
		return nil, p.failItem(ctx, item.ID, "item has no stored file")
	}

	mimeType := payloadString(job.Payload, "mime_type")
	if mimeType == "" && item.MimeType != nil {
		mimeType = *item.MimeType
	}

	data, err := p.files.Download(ctx, filePath)
	if err != nil {
		return nil, p.failItem(ctx, item.ID, fmt.Sprintf("failed to read stored file: %v", err))
	}

	text, err := extract.FromFile(data, mimeType)
	if err != nil {
		return nil, p.failItem(ctx, item.ID, fmt.Sprintf("extraction failed: %v", err))
	}

	content := repository.ExtractedContent{CleanedText: text}
	if item.Title == nil && item.OriginalFilename != nil {
		title := titleFromFilename(*item.OriginalFilename)
		if title != "" {
			content.Title = &title
		}
	}
	if err := p.items.MarkExtracted(ctx, item.ID, content); err != nil {
		return nil, err
	}
	log.Printf("Extracted file item %s (%s): %d chars of cleaned text", item.ID, mimeType, len(text))

	return p.scheduleEnrich(ctx, job.UserID, item.ID, text)
}

// scheduleEnrich hands the extracted item to the enrichment gate. The
// extraction already succeeded, so a shortfall or enqueue failure here
// completes the job with the outcome recorded in the result.
func (p *ExtractProcessor) scheduleEnrich(ctx context.Context, userID, itemID, cleanedText string) (models.JSONB, error) {
	jobID, err := p.enrichGate.Schedule(ctx, userID, itemID, cleanedText, false)
	if err != nil {
		var shortfall *repository.InsufficientCreditsError
		if errors.As(err, &shortfall) {
			log.Printf("Item %s extracted but not enriched: %v", itemID, shortfall)
			return models.JSONB{"enriched": false, "reason": "insufficient_credits"}, nil
		}
		log.Printf("Item %s extracted but enrichment enqueue failed: %v", itemID, err)
		return models.JSONB{"enriched": false, "reason": "enqueue_failed"}, nil
	}
	if jobID == "" {
		return models.JSONB{"enriched": false, "reason": "already_pending"}, nil
	}
	return models.JSONB{"enriched": true, "enrich_job_id": jobID}, nil
}

// failItem marks the item failed and returns the same message as the
// job failure.
func (p *ExtractProcessor) failItem(ctx context.Context, itemID, msg string) error {
	if err := p.items.MarkFailed(ctx, itemID, msg); err != nil {
		log.Printf("Failed to mark item %s failed: %v", itemID, err)
	}
	return fmt.Errorf("%s", msg)
}

// payloadString reads a string field out of a job payload
func payloadString(payload models.JSONB, key string) string {
	if payload == nil {
		return ""
	}
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}

// titleFromFilename turns "Q3 report.pdf" into "Q3 report"
func titleFromFilename(name string) string {
	base := strings.TrimSuffix(name, path.Ext(name))
	return strings.TrimSpace(base)
}
