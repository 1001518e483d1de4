package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/citestack/citestack-worker/internal/models"
)

// InsufficientCreditsError is the typed rejection returned when a debit
// would take the balance below zero. It is a synchronous accounting
// outcome, never a job failure: the job is simply not created.
type InsufficientCreditsError struct {
	Required int64
	Balance  int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: need %d, have %d", e.Required, e.Balance)
}

// EntryRefs are the optional audit back-references on a ledger entry
type EntryRefs struct {
	JobID        *string
	ItemID       *string
	ComparisonID *string
}

// Balance is the read view of a credit account
type Balance struct {
	Balance      int64
	MonthlyGrant int64
	Plan         string
	ResetAt      time.Time
}

// CreditRepository is the single mutation entry point for the per-user
// credit balance. Every balance change is a conditional UPDATE paired
// with a ledger insert in the same transaction, so the running sum of
// ledger deltas always equals the stored balance.
type CreditRepository struct {
	db *sql.DB
}

func NewCreditRepository(db *sql.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

// Ensure lazily creates the credit account on first access. A new
// account starts at the free-tier monthly grant with a matching ledger
// entry; concurrent callers race on ON CONFLICT DO NOTHING and only the
// winner writes the entry.
func (r *CreditRepository) Ensure(ctx context.Context, userID string) error {
	now := time.Now()
	resetAt := models.FirstOfNextMonthUTC(now)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO user_credits (user_id, plan, balance, monthly_grant, reset_at, created_at, updated_at)
		VALUES ($1, $2, $3, $3, $4, $5, $5)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, models.PlanFree, models.DefaultMonthlyGrantFree, resetAt, now)
	if err != nil {
		return fmt.Errorf("failed to ensure credit account: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 1 {
		if err := insertLedgerEntry(ctx, tx, userID, models.DefaultMonthlyGrantFree, models.ReasonMonthlyGrant, EntryRefs{}); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// resetIfDue applies the monthly grant exactly once per period. The
// balance is set (not added) to monthly_grant and reset_at advances to
// the first instant of the next month. The reset_at predicate makes the
// update a no-op for every caller but the first, even under concurrent
// reads; the FROM subquery locks the row so the ledger delta reflects
// the pre-reset balance.
func (r *CreditRepository) resetIfDue(ctx context.Context, userID string) error {
	now := time.Now()
	next := models.FirstOfNextMonthUTC(now)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var delta int64
	err = tx.QueryRowContext(ctx, `
		UPDATE user_credits c
		SET balance = c.monthly_grant, reset_at = $2, updated_at = $3
		FROM (
			SELECT user_id, balance AS old_balance
			FROM user_credits WHERE user_id = $1 FOR UPDATE
		) o
		WHERE c.user_id = o.user_id AND c.reset_at <= $3
		RETURNING c.monthly_grant - o.old_balance
	`, userID, next, now).Scan(&delta)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Not due, or another caller already reset
			return nil
		}
		return fmt.Errorf("failed to apply monthly grant: %w", err)
	}

	if err := insertLedgerEntry(ctx, tx, userID, delta, models.ReasonMonthlyGrant, EntryRefs{}); err != nil {
		return err
	}
	return tx.Commit()
}

// GetBalance ensures the account exists, applies the monthly grant if
// due, and returns the current balance view.
func (r *CreditRepository) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	if err := r.Ensure(ctx, userID); err != nil {
		return nil, err
	}
	if err := r.resetIfDue(ctx, userID); err != nil {
		return nil, err
	}

	var b Balance
	err := r.db.QueryRowContext(ctx, `
		SELECT balance, monthly_grant, plan, reset_at
		FROM user_credits WHERE user_id = $1
	`, userID).Scan(&b.Balance, &b.MonthlyGrant, &b.Plan, &b.ResetAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}
	return &b, nil
}

// TryDebit atomically deducts amount if the balance covers it. The
// decrement is a single conditional UPDATE guarded by balance >= amount,
// so concurrent debits can never drive the balance negative. On
// insufficient balance it returns InsufficientCreditsError carrying the
// deficit and mutates nothing.
func (r *CreditRepository) TryDebit(ctx context.Context, userID string, amount int64, reason string, refs EntryRefs) error {
	if amount <= 0 {
		return fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	if err := r.Ensure(ctx, userID); err != nil {
		return err
	}
	if err := r.resetIfDue(ctx, userID); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var remaining int64
	err = tx.QueryRowContext(ctx, `
		UPDATE user_credits
		SET balance = balance - $2, updated_at = $3
		WHERE user_id = $1 AND balance >= $2
		RETURNING balance
	`, userID, amount, time.Now()).Scan(&remaining)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			var balance int64
			if err := r.db.QueryRowContext(ctx,
				`SELECT balance FROM user_credits WHERE user_id = $1`, userID,
			).Scan(&balance); err != nil {
				return fmt.Errorf("failed to read balance after rejected debit: %w", err)
			}
			return &InsufficientCreditsError{Required: amount, Balance: balance}
		}
		return fmt.Errorf("failed to debit credits: %w", err)
	}

	if err := insertLedgerEntry(ctx, tx, userID, -amount, reason, refs); err != nil {
		return err
	}
	return tx.Commit()
}

// Grant credits the account: admin grants, credit packs, and the
// compensating refund a runner issues when a paid operation fails.
func (r *CreditRepository) Grant(ctx context.Context, userID string, amount int64, reason string, refs EntryRefs) error {
	if amount <= 0 {
		return fmt.Errorf("grant amount must be positive, got %d", amount)
	}
	if err := r.Ensure(ctx, userID); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		UPDATE user_credits SET balance = balance + $2, updated_at = $3
		WHERE user_id = $1
	`, userID, amount, time.Now())
	if err != nil {
		return fmt.Errorf("failed to grant credits: %w", err)
	}

	if err := insertLedgerEntry(ctx, tx, userID, amount, reason, refs); err != nil {
		return err
	}
	return tx.Commit()
}

// ListLedger returns the latest ledger entries for a user
func (r *CreditRepository) ListLedger(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, delta, reason, job_id, item_id, comparison_id, created_at
		FROM credit_ledger
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger: %w", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		err := rows.Scan(&e.ID, &e.UserID, &e.Delta, &e.Reason, &e.JobID, &e.ItemID, &e.ComparisonID, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func insertLedgerEntry(ctx context.Context, tx *sql.Tx, userID string, delta int64, reason string, refs EntryRefs) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_ledger (id, user_id, delta, reason, job_id, item_id, comparison_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.New().String(), userID, delta, reason, refs.JobID, refs.ItemID, refs.ComparisonID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}
