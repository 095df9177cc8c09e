// Package jobstore implements the durable FIFO-by-run_at job queue every
// component in this module uses to hand work between the Scheduler and the
// worker pool: Enqueue, Claim, Complete, Fail, CancelWalletJobs, and
// RecoverStuck, all parameterized SQL against the jobs table. Fail reads and
// updates the job row in one transaction; the others are single statements.
package jobstore

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobType names the three handlers the worker pool dispatches to.
type JobType string

const (
	JobTypeIngestWallet     JobType = "ingest_wallet"
	JobTypeRollupWalletDay  JobType = "rollup_wallet_day"
	JobTypeRollupGlobalDay  JobType = "rollup_global_day"
)

// Status is a job's lifecycle state. Succeeded, Failed, and Canceled are
// absorbing: no operation ever transitions a job out of them.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

const DefaultMaxAttempts = 10

const DefaultLeaseSeconds = 300

// Job is one row of the jobs table.
type Job struct {
	ID            int64
	OrgID         uuid.UUID
	Type          JobType
	Payload       json.RawMessage
	RunAt         time.Time
	Status        Status
	Attempts      int
	MaxAttempts   int
	LockedBy      *string
	LockedAt      *time.Time
	LockExpiresAt *time.Time
	LastError     *string
	CreatedAt     time.Time
}

// IngestWalletPayload is the payload of an ingest_wallet job.
type IngestWalletPayload struct {
	WalletID int64  `json:"wallet_id" validate:"required"`
	Address  string `json:"address" validate:"required"`
}

// RollupWalletDayPayload is the payload of a rollup_wallet_day job.
type RollupWalletDayPayload struct {
	WalletID int64     `json:"wallet_id" validate:"required"`
	Days     []string  `json:"days" validate:"required,min=1,dive,required"`
}

// RollupGlobalDayPayload is the payload of a rollup_global_day job.
type RollupGlobalDayPayload struct {
	Days []string `json:"days" validate:"required,min=1,dive,required"`
}
