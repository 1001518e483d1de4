package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/citestack/citestack-worker/internal/models"
	"github.com/citestack/citestack-worker/internal/repository"
)

func TestEnrichGate_Schedule_FullMode(t *testing.T) {
	jobs := &mockJobQueue{}
	credits := &mockCreditGate{}
	gate := NewEnrichGate(jobs, credits)

	longText := strings.Repeat("a", TagsOnlyThreshold+1)
	jobID, err := gate.Schedule(context.Background(), "user-1", "item-1", longText, false)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if jobID == "" {
		t.Fatal("expected a job ID")
	}
	if len(credits.debits) != 1 || credits.debits[0] != models.CostEnrichFull {
		t.Errorf("expected one debit of %d, got %v", models.CostEnrichFull, credits.debits)
	}
	if len(jobs.enqueued) != 1 || jobs.enqueued[0] != models.JobTypeEnrichItem {
		t.Errorf("expected one enrich_item job, got %v", jobs.enqueued)
	}
}

func TestEnrichGate_Schedule_TagsOnlyMode(t *testing.T) {
	jobs := &mockJobQueue{}
	credits := &mockCreditGate{}
	gate := NewEnrichGate(jobs, credits)

	_, err := gate.Schedule(context.Background(), "user-1", "item-1", "short text", false)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(credits.debits) != 1 || credits.debits[0] != models.CostEnrichTagsOnly {
		t.Errorf("expected one debit of %d, got %v", models.CostEnrichTagsOnly, credits.debits)
	}
}

func TestEnrichGate_Schedule_SkipsWhenAlreadyPending(t *testing.T) {
	jobs := &mockJobQueue{
		hasActiveEnrichFunc: func(ctx context.Context, itemID string) (bool, error) {
			return true, nil
		},
	}
	credits := &mockCreditGate{}
	gate := NewEnrichGate(jobs, credits)

	jobID, err := gate.Schedule(context.Background(), "user-1", "item-1", "text", false)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if jobID != "" {
		t.Errorf("expected no job, got %s", jobID)
	}
	if len(credits.debits) != 0 {
		t.Errorf("expected no debit, got %v", credits.debits)
	}
}

func TestEnrichGate_Schedule_ForceBypassesPendingCheck(t *testing.T) {
	jobs := &mockJobQueue{
		hasActiveEnrichFunc: func(ctx context.Context, itemID string) (bool, error) {
			return true, nil
		},
	}
	credits := &mockCreditGate{}
	gate := NewEnrichGate(jobs, credits)

	jobID, err := gate.Schedule(context.Background(), "user-1", "item-1", "text", true)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if jobID == "" {
		t.Fatal("expected a job ID when forced")
	}
}

func TestEnrichGate_Schedule_InsufficientCredits(t *testing.T) {
	jobs := &mockJobQueue{}
	credits := &mockCreditGate{
		tryDebitFunc: func(ctx context.Context, userID string, amount int64, reason string, refs repository.EntryRefs) error {
			return &repository.InsufficientCreditsError{Required: amount, Balance: 0}
		},
	}
	gate := NewEnrichGate(jobs, credits)

	_, err := gate.Schedule(context.Background(), "user-1", "item-1", "text", false)
	var shortfall *repository.InsufficientCreditsError
	if !errors.As(err, &shortfall) {
		t.Fatalf("expected InsufficientCreditsError, got %v", err)
	}
	if len(jobs.enqueued) != 0 {
		t.Errorf("expected no job enqueued, got %v", jobs.enqueued)
	}
}

func TestEnrichGate_Schedule_RefundsOnEnqueueFailure(t *testing.T) {
	jobs := &mockJobQueue{
		enqueueFunc: func(ctx context.Context, userID string, itemID *string, jobType models.JobType, payload models.JSONB, runAfter *time.Time) (string, error) {
			return "", errors.New("db down")
		},
	}
	credits := &mockCreditGate{}
	gate := NewEnrichGate(jobs, credits)

	_, err := gate.Schedule(context.Background(), "user-1", "item-1", "text", false)
	if err == nil {
		t.Fatal("expected error when enqueue fails")
	}
	if len(credits.grants) != 1 || credits.grants[0] != models.CostEnrichTagsOnly {
		t.Errorf("expected one refund of %d, got %v", models.CostEnrichTagsOnly, credits.grants)
	}
}
