package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/citestack/citestack-worker/internal/models"
	"github.com/citestack/citestack-worker/internal/openrouter"
	"github.com/citestack/citestack-worker/internal/repository"
)

// ComparisonRunStore is the comparison surface used by the runner
type ComparisonRunStore interface {
	GetOwned(ctx context.Context, userID, id string) (*models.Comparison, error)
	MarkRunning(ctx context.Context, id string) error
	MarkSucceeded(ctx context.Context, id string, result models.JSONB) error
	MarkFailed(ctx context.Context, id, errMsg string) error
}

// ItemReader loads items for a comparison
type ItemReader interface {
	GetByID(ctx context.Context, itemID string) (*models.Item, error)
}

// Comparer produces a cross-item comparison
type Comparer interface {
	CompareItems(ctx context.Context, sources []openrouter.CompareSource) (*openrouter.CompareResult, error)
}

// CompareProcessor runs compare_items jobs over enriched items
type CompareProcessor struct {
	comparisons ComparisonRunStore
	items       ItemReader
	comparer    Comparer
	credits     CreditGate
}

func NewCompareProcessor(comparisons ComparisonRunStore, items ItemReader, comparer Comparer, credits CreditGate) *CompareProcessor {
	return &CompareProcessor{
		comparisons: comparisons,
		items:       items,
		comparer:    comparer,
		credits:     credits,
	}
}

// Process runs one comparison and stores the result on its row. The
// debit landed when the comparison was queued, so every failure exit
// refunds it: the deferred handler covers error returns and panics alike.
func (p *CompareProcessor) Process(ctx context.Context, job models.Job) (_ models.JSONB, err error) {
	comparisonID := payloadString(job.Payload, "comparison_id")
	defer func() {
		if r := recover(); r != nil {
			p.refund(ctx, job, comparisonID)
			panic(r)
		}
		if err != nil {
			p.refund(ctx, job, comparisonID)
		}
	}()

	if comparisonID == "" {
		return nil, fmt.Errorf("compare_items job %s has no comparison", job.ID)
	}

	comparison, err := p.comparisons.GetOwned(ctx, job.UserID, comparisonID)
	if err != nil {
		return nil, err
	}
	if err := p.comparisons.MarkRunning(ctx, comparisonID); err != nil {
		return nil, err
	}

	sources := make([]openrouter.CompareSource, 0, len(comparison.ItemIDs))
	for _, itemID := range comparison.ItemIDs {
		item, err := p.items.GetByID(ctx, itemID)
		if err != nil {
			return nil, p.fail(ctx, job, comparisonID, fmt.Sprintf("failed to load item %s: %v", itemID, err))
		}
		source := openrouter.CompareSource{
			ItemID:  item.ID,
			Bullets: item.Bullets,
		}
		if item.Title != nil {
			source.Title = *item.Title
		}
		if item.Abstract != nil {
			source.Abstract = *item.Abstract
		}
		for _, q := range item.Quotes {
			source.Quotes = append(source.Quotes, q.Quote)
		}
		sources = append(sources, source)
	}

	result, err := p.comparer.CompareItems(ctx, sources)
	if err != nil {
		return nil, p.fail(ctx, job, comparisonID, fmt.Sprintf("comparison failed: %v", err))
	}

	resultJSON, err := toJSONB(result)
	if err != nil {
		return nil, p.fail(ctx, job, comparisonID, fmt.Sprintf("failed to encode result: %v", err))
	}
	if err := p.comparisons.MarkSucceeded(ctx, comparisonID, resultJSON); err != nil {
		return nil, err
	}

	log.Printf("Comparison %s succeeded: %d themes, %d differences",
		comparisonID, len(result.CommonThemes), len(result.Differences))
	return resultJSON, nil
}

// fail marks the comparison failed; the refund happens in Process's
// deferred handler when the error propagates.
func (p *CompareProcessor) fail(ctx context.Context, job models.Job, comparisonID, msg string) error {
	if err := p.comparisons.MarkFailed(ctx, comparisonID, msg); err != nil {
		log.Printf("Failed to mark comparison %s failed: %v", comparisonID, err)
	}
	return fmt.Errorf("%s", msg)
}

// refund hands the queue-time debit back after a failed run
func (p *CompareProcessor) refund(ctx context.Context, job models.Job, comparisonID string) {
	refs := repository.EntryRefs{JobID: &job.ID}
	if comparisonID != "" {
		refs.ComparisonID = &comparisonID
	}
	if err := p.credits.Grant(ctx, job.UserID, models.CostCompareItems, models.ReasonRefund, refs); err != nil {
		log.Printf("Failed to refund credits for comparison job %s: %v", job.ID, err)
	}
}

// toJSONB round-trips a struct through JSON into the generic map form
func toJSONB(v interface{}) (models.JSONB, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out models.JSONB
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
