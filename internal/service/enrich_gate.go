package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/citestack/citestack-worker/internal/models"
	"github.com/citestack/citestack-worker/internal/openrouter"
	"github.com/citestack/citestack-worker/internal/repository"
)

// TagsOnlyThreshold is the cleaned-text length below which enrichment
// runs in the cheaper tags-only mode.
const TagsOnlyThreshold = 600

// JobQueue is the job enqueue surface used by services
type JobQueue interface {
	Enqueue(ctx context.Context, userID string, itemID *string, jobType models.JobType, payload models.JSONB, runAfter *time.Time) (string, error)
	HasActiveEnrich(ctx context.Context, itemID string) (bool, error)
}

// CreditGate is the balance mutation surface used by services
type CreditGate interface {
	TryDebit(ctx context.Context, userID string, amount int64, reason string, refs repository.EntryRefs) error
	Grant(ctx context.Context, userID string, amount int64, reason string, refs repository.EntryRefs) error
}

// EnrichGate decides the enrichment mode for an item, debits the user's
// credits, and enqueues the enrichment job. The debit happens at enqueue
// time, when the cleaned text (and therefore the cost) is known; a job
// that later fails hard is refunded by the enrich processor.
type EnrichGate struct {
	jobs    JobQueue
	credits CreditGate
}

func NewEnrichGate(jobs JobQueue, credits CreditGate) *EnrichGate {
	return &EnrichGate{jobs: jobs, credits: credits}
}

// ModeFor picks the enrichment mode, cost, and ledger reason for the
// given cleaned text.
func ModeFor(cleanedText string) (openrouter.EnrichMode, int64, string) {
	if len(cleanedText) < TagsOnlyThreshold {
		return openrouter.ModeTagsOnly, models.CostEnrichTagsOnly, models.ReasonEnrichTagsOnly
	}
	return openrouter.ModeFull, models.CostEnrichFull, models.ReasonEnrichFull
}

// Schedule debits the user and enqueues one enrichment job for the item.
// When force is false, an already queued or running enrichment job for
// the same item suppresses the new one (and nothing is debited). A
// credit shortfall is returned as *repository.InsufficientCreditsError;
// the item is left untouched so the user can retry after a grant.
func (g *EnrichGate) Schedule(ctx context.Context, userID, itemID, cleanedText string, force bool) (string, error) {
	if !force {
		active, err := g.jobs.HasActiveEnrich(ctx, itemID)
		if err != nil {
			return "", fmt.Errorf("failed to check active enrichment: %w", err)
		}
		if active {
			log.Printf("Enrichment already pending for item %s, skipping enqueue", itemID)
			return "", nil
		}
	}

	mode, cost, reason := ModeFor(cleanedText)
	if err := g.credits.TryDebit(ctx, userID, cost, reason, repository.EntryRefs{ItemID: &itemID}); err != nil {
		return "", err
	}

	payload := models.JSONB{"mode": string(mode), "cost": cost}
	jobID, err := g.jobs.Enqueue(ctx, userID, &itemID, models.JobTypeEnrichItem, payload, nil)
	if err != nil {
		// The debit landed but the job did not; hand the credits back.
		if refundErr := g.credits.Grant(ctx, userID, cost, models.ReasonRefund, repository.EntryRefs{ItemID: &itemID}); refundErr != nil {
			log.Printf("Failed to refund %d credits for item %s: %v", cost, itemID, refundErr)
		}
		return "", fmt.Errorf("failed to enqueue enrichment: %w", err)
	}

	log.Printf("Scheduled %s enrichment for item %s (job %s, %d credits)", mode, itemID, jobID, cost)
	return jobID, nil
}
