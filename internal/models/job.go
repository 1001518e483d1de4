package models

import "time"

// JobStatus tracks one unit of queued work. Statuses are monotonic:
// queued -> running -> succeeded | failed, never backwards.
type JobStatus string

// Job lifecycle states
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// JobType identifies which runner handles a job
type JobType string

// Job types
const (
	JobTypeExtractURL   JobType = "extract_url"
	JobTypeExtractFile  JobType = "extract_file"
	JobTypeEnrichItem   JobType = "enrich_item"
	JobTypeCompareItems JobType = "compare_items"
)

// jobTransitions is the allowed job state transition table
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:  {JobStatusRunning},
	JobStatusRunning: {JobStatusSucceeded, JobStatusFailed},
}

// CanTransitionJob reports whether a job may move from one status to another
func CanTransitionJob(from, to JobStatus) bool {
	for _, allowed := range jobTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Job represents one unit of queued work. Payload is an immutable input
// snapshot captured at enqueue time so the runner never re-derives inputs.
type Job struct {
	ID         string     `gorm:"column:id;primaryKey"`
	UserID     string     `gorm:"column:user_id;index"`
	ItemID     *string    `gorm:"column:item_id;index"`
	Type       JobType    `gorm:"column:type"`
	Status     JobStatus  `gorm:"column:status;index"`
	Payload    JSONB      `gorm:"column:payload;type:jsonb"`
	Result     JSONB      `gorm:"column:result;type:jsonb"`
	Error      *string    `gorm:"column:error"`
	RunAfter   *time.Time `gorm:"column:run_after"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	StartedAt  *time.Time `gorm:"column:started_at"`
	FinishedAt *time.Time `gorm:"column:finished_at"`
}

// TableName specifies the table name for GORM
func (Job) TableName() string {
	return "jobs"
}
