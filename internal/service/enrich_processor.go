package service

import (
	"context"
	"fmt"
	"log"

	"github.com/citestack/citestack-worker/internal/models"
	"github.com/citestack/citestack-worker/internal/openrouter"
	"github.com/citestack/citestack-worker/internal/repository"
)

// DegradedNotice is stored on the item when only the tags-only pass ran
const DegradedNotice = "Source text too short for full analysis; generated abstract and tags only."

// EnrichItemStore is the item surface used by the enrichment runner
type EnrichItemStore interface {
	GetByID(ctx context.Context, itemID string) (*models.Item, error)
	MarkEnriched(ctx context.Context, itemID string, out repository.EnrichmentOutput) error
	SetSuggestedTitleAsTitle(ctx context.Context, itemID, title string) error
	MarkFailed(ctx context.Context, itemID, msg string) error
}

// Enricher produces enrichment output for cleaned text
type Enricher interface {
	EnrichText(ctx context.Context, text string, mode openrouter.EnrichMode) (*openrouter.EnrichResult, error)
}

// EnrichProcessor runs enrich_item jobs. Credits were debited when the
// job was enqueued; a hard failure here refunds them.
type EnrichProcessor struct {
	items    EnrichItemStore
	enricher Enricher
	credits  CreditGate
}

func NewEnrichProcessor(items EnrichItemStore, enricher Enricher, credits CreditGate) *EnrichProcessor {
	return &EnrichProcessor{
		items:    items,
		enricher: enricher,
		credits:  credits,
	}
}

// Process enriches one item and stores the validated outputs. The job
// was paid for at enqueue time, so every failure exit refunds the debit:
// the deferred handler covers error returns and panics alike.
func (p *EnrichProcessor) Process(ctx context.Context, job models.Job) (_ models.JSONB, err error) {
	mode, cost := jobEnrichMode(job, "")
	defer func() {
		if r := recover(); r != nil {
			p.refund(ctx, job, cost)
			panic(r)
		}
		if err != nil {
			p.refund(ctx, job, cost)
		}
	}()

	if job.ItemID == nil {
		return nil, fmt.Errorf("enrich_item job %s has no item", job.ID)
	}
	item, err := p.items.GetByID(ctx, *job.ItemID)
	if err != nil {
		return nil, err
	}
	if item.CleanedText == nil || *item.CleanedText == "" {
		msg := "item has no extracted text to enrich"
		if markErr := p.items.MarkFailed(ctx, item.ID, msg); markErr != nil {
			log.Printf("Failed to mark item %s failed: %v", item.ID, markErr)
		}
		return nil, fmt.Errorf("%s", msg)
	}

	mode, cost = jobEnrichMode(job, *item.CleanedText)

	result, err := p.enricher.EnrichText(ctx, *item.CleanedText, mode)
	if err != nil {
		msg := fmt.Sprintf("enrichment failed: %v", err)
		if markErr := p.items.MarkFailed(ctx, item.ID, msg); markErr != nil {
			log.Printf("Failed to mark item %s failed: %v", item.ID, markErr)
		}
		return nil, fmt.Errorf("%s", msg)
	}

	out := repository.EnrichmentOutput{
		Abstract: result.Abstract,
		Bullets:  models.StringList(result.Bullets),
		Tags:     models.StringList(result.Tags),
	}
	quotes := make(models.QuoteList, 0, len(result.Quotes))
	for _, q := range result.Quotes {
		quotes = append(quotes, models.Quote{Quote: q.Quote, WhyItMatters: q.WhyItMatters})
	}
	out.Quotes = quotes
	if result.SuggestedTitle != "" {
		out.SuggestedTitle = &result.SuggestedTitle
	}
	if mode == openrouter.ModeTagsOnly {
		notice := DegradedNotice
		out.Notice = &notice
	}

	if err := p.items.MarkEnriched(ctx, item.ID, out); err != nil {
		return nil, err
	}
	if result.SuggestedTitle != "" {
		if err := p.items.SetSuggestedTitleAsTitle(ctx, item.ID, result.SuggestedTitle); err != nil {
			log.Printf("Failed to apply suggested title for item %s: %v", item.ID, err)
		}
	}

	log.Printf("Enriched item %s (%s): %d bullets, %d quotes, %d tags",
		item.ID, mode, len(out.Bullets), len(out.Quotes), len(out.Tags))
	return models.JSONB{
		"mode":    string(mode),
		"bullets": len(out.Bullets),
		"quotes":  len(out.Quotes),
		"tags":    len(out.Tags),
	}, nil
}

// refund hands the enqueue-time debit back after a hard failure
func (p *EnrichProcessor) refund(ctx context.Context, job models.Job, cost int64) {
	refs := repository.EntryRefs{JobID: &job.ID, ItemID: job.ItemID}
	if err := p.credits.Grant(ctx, job.UserID, cost, models.ReasonRefund, refs); err != nil {
		log.Printf("Failed to refund %d credits for job %s: %v", cost, job.ID, err)
	}
}

// jobEnrichMode reads the mode and cost recorded at enqueue time,
// falling back to recomputing them from the cleaned text.
func jobEnrichMode(job models.Job, cleanedText string) (openrouter.EnrichMode, int64) {
	mode, cost, _ := ModeFor(cleanedText)
	if s := payloadString(job.Payload, "mode"); s != "" {
		mode = openrouter.EnrichMode(s)
	}
	if job.Payload != nil {
		if v, ok := job.Payload["cost"].(float64); ok {
			cost = int64(v)
		} else if v, ok := job.Payload["cost"].(int64); ok {
			cost = v
		}
	}
	return mode, cost
}
