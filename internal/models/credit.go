package models

import "time"

// Ledger entry reasons
const (
	ReasonEnrichFull     = "enrich_item_full"
	ReasonEnrichTagsOnly = "enrich_item_tags_only"
	ReasonCompareItems   = "compare_items"
	ReasonMonthlyGrant   = "monthly_grant"
	ReasonAdminGrant     = "admin_grant"
	ReasonCreditPack     = "credit_pack"
	ReasonRefund         = "refund"
)

// Credit costs per operation
const (
	CostEnrichFull     = 2
	CostEnrichTagsOnly = 1
	CostCompareItems   = 1
)

// DefaultMonthlyGrantFree is the free-tier monthly credit grant
const DefaultMonthlyGrantFree = 50

// PlanFree is the only self-serve plan
const PlanFree = "free"

// CreditAccount is the per-user balance row. The balance is mutated only
// through conditional updates in the credit repository; every mutation
// writes a matching ledger entry in the same transaction, so the running
// sum of ledger deltas always equals the balance.
type CreditAccount struct {
	UserID       string    `gorm:"column:user_id;primaryKey"`
	Plan         string    `gorm:"column:plan"`
	Balance      int64     `gorm:"column:balance"`
	MonthlyGrant int64     `gorm:"column:monthly_grant"`
	ResetAt      time.Time `gorm:"column:reset_at"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (CreditAccount) TableName() string {
	return "user_credits"
}

// LedgerEntry is one immutable accounting record. Negative delta is a
// debit, positive is a grant or refund.
type LedgerEntry struct {
	ID           string    `gorm:"column:id;primaryKey"`
	UserID       string    `gorm:"column:user_id;index"`
	Delta        int64     `gorm:"column:delta"`
	Reason       string    `gorm:"column:reason"`
	JobID        *string   `gorm:"column:job_id"`
	ItemID       *string   `gorm:"column:item_id"`
	ComparisonID *string   `gorm:"column:comparison_id"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM
func (LedgerEntry) TableName() string {
	return "credit_ledger"
}

// FirstOfNextMonthUTC returns the first instant of the month after t
func FirstOfNextMonthUTC(t time.Time) time.Time {
	t = t.UTC()
	year, month := t.Year(), t.Month()
	if month == time.December {
		return time.Date(year+1, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
}
