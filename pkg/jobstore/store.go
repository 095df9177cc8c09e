package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fillsync/ingestor/pkg/db/postgres"
	"github.com/fillsync/ingestor/pkg/ingesterr"
	"github.com/fillsync/ingestor/pkg/retry"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Store is the Job Store. Claim performs its select-and-lock-and-update in
// one statement so there is no read-then-write race window between workers;
// Fail reads and updates the job row inside one transaction.
type Store struct {
	db     *postgres.Client
	logger *zap.Logger
}

func New(db *postgres.Client, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Enqueue inserts one queued job. runAt defaults to now when zero.
func (s *Store) Enqueue(ctx context.Context, orgID uuid.UUID, jobType JobType, payload any, runAt time.Time) (int64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal job payload: %w", err)
	}
	if runAt.IsZero() {
		runAt = time.Now()
	}

	var id int64
	err = s.db.QueryRow(ctx, `
		INSERT INTO jobs (org_id, type, payload, run_at, status, attempts, max_attempts)
		VALUES ($1, $2, $3, $4, 'queued', 0, $5)
		RETURNING id`,
		orgID, string(jobType), raw, runAt, DefaultMaxAttempts,
	).Scan(&id)
	if err != nil {
		return 0, classifyWriteErr(err)
	}
	return id, nil
}

// Claim atomically selects up to limit claimable jobs for org, transitions
// them to running under the given lease, and returns them. "Claimable"
// means run_at <= now and either queued, or running with an expired lease.
func (s *Store) Claim(ctx context.Context, orgID uuid.UUID, workerID string, limit int, leaseSeconds int) ([]Job, error) {
	if leaseSeconds <= 0 {
		leaseSeconds = DefaultLeaseSeconds
	}

	rows, err := s.db.Query(ctx, `
		UPDATE jobs SET
			status = 'running',
			locked_by = $1,
			locked_at = now(),
			lock_expires_at = now() + ($2 || ' seconds')::interval,
			attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM jobs
			WHERE org_id = $3
			  AND run_at <= now()
			  AND (status = 'queued' OR (status = 'running' AND lock_expires_at < now()))
			ORDER BY run_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, org_id, type, payload, run_at, status, attempts, max_attempts,
		          locked_by, locked_at, lock_expires_at, last_error, created_at`,
		workerID, leaseSeconds, orgID, limit,
	)
	if err != nil {
		return nil, classifyReadErr(err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan claimed job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyReadErr(err)
	}
	return jobs, nil
}

// Complete marks a job succeeded and clears its lock fields.
func (s *Store) Complete(ctx context.Context, id int64) error {
	err := s.db.Exec(ctx, `
		UPDATE jobs SET status = 'succeeded', locked_by = NULL, locked_at = NULL, lock_expires_at = NULL
		WHERE id = $1`, id)
	if err != nil {
		return classifyWriteErr(err)
	}
	return nil
}

// Fail records a handler error. If the job has exhausted max_attempts, or the
// error is fail-fast (ingesterr.FailFast), it is marked failed (terminal,
// operator inspects last_error); otherwise it is
// re-queued with run_at pushed out by the deterministic job backoff ladder.
func (s *Store) Fail(ctx context.Context, id int64, jobErr error) error {
	msg := jobErr.Error()

	return s.db.BeginFunc(ctx, func(tx pgx.Tx) error {
		var attempts, maxAttempts int
		err := tx.QueryRow(ctx, `SELECT attempts, max_attempts FROM jobs WHERE id = $1 FOR UPDATE`, id).
			Scan(&attempts, &maxAttempts)
		if err != nil {
			return classifyReadErr(err)
		}

		if attempts >= maxAttempts || ingesterr.FailFast(jobErr) {
			_, err = tx.Exec(ctx, `
				UPDATE jobs SET status = 'failed', last_error = $1,
					locked_by = NULL, locked_at = NULL, lock_expires_at = NULL
				WHERE id = $2`, msg, id)
			return classifyWriteErr(err)
		}

		nextRunAt := time.Now().Add(retry.JobBackoff(attempts))
		_, err = tx.Exec(ctx, `
			UPDATE jobs SET status = 'queued', run_at = $1, last_error = $2,
				locked_by = NULL, locked_at = NULL, lock_expires_at = NULL
			WHERE id = $3`, nextRunAt, msg, id)
		return classifyWriteErr(err)
	})
}

// CancelWalletJobs marks every queued ingest_wallet job for walletId in org
// canceled. Called on wallet unregistration.
func (s *Store) CancelWalletJobs(ctx context.Context, orgID uuid.UUID, walletID int64) (int64, error) {
	tag, err := s.db.GetExecutor(ctx).Exec(ctx, `
		UPDATE jobs SET status = 'canceled'
		WHERE org_id = $1 AND type = 'ingest_wallet' AND status = 'queued'
		  AND (payload->>'wallet_id')::bigint = $2`,
		orgID, walletID)
	if err != nil {
		return 0, classifyWriteErr(err)
	}
	return tag.RowsAffected(), nil
}

// RecoverStuck transitions running jobs with expired leases back to queued.
// A belt-and-braces measure run at worker startup; Claim already reclaims
// these on its own, so this only matters when no worker is currently polling.
func (s *Store) RecoverStuck(ctx context.Context, orgID uuid.UUID) (int64, error) {
	tag, err := s.db.GetExecutor(ctx).Exec(ctx, `
		UPDATE jobs SET status = 'queued', locked_by = NULL, locked_at = NULL, lock_expires_at = NULL
		WHERE org_id = $1 AND status = 'running' AND lock_expires_at < now()`,
		orgID)
	if err != nil {
		return 0, classifyWriteErr(err)
	}
	return tag.RowsAffected(), nil
}

// HasPendingIngestJob reports whether org already has a queued or running
// ingest_wallet job for walletID, the Scheduler's authoritative dedup check
// when the cache cannot answer.
func (s *Store) HasPendingIngestJob(ctx context.Context, orgID uuid.UUID, walletID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM jobs
			WHERE org_id = $1 AND type = 'ingest_wallet' AND status IN ('queued', 'running')
			  AND (payload->>'wallet_id')::bigint = $2
		)`, orgID, walletID).Scan(&exists)
	if err != nil {
		return false, classifyReadErr(err)
	}
	return exists, nil
}

// CountByStatus reports the number of jobs per status for org, plus the
// count of running jobs whose lease has already expired, for cmd/admin
// monitor.
func (s *Store) CountByStatus(ctx context.Context, orgID uuid.UUID) (map[Status]int64, int64, error) {
	rows, err := s.db.Query(ctx, `
		SELECT status, count(*) FROM jobs WHERE org_id = $1 GROUP BY status`, orgID)
	if err != nil {
		return nil, 0, classifyReadErr(err)
	}
	defer rows.Close()

	counts := make(map[Status]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, 0, fmt.Errorf("scan status count: %w", err)
		}
		counts[Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classifyReadErr(err)
	}

	var expired int64
	err = s.db.QueryRow(ctx, `
		SELECT count(*) FROM jobs WHERE org_id = $1 AND status = 'running' AND lock_expires_at < now()`,
		orgID).Scan(&expired)
	if err != nil {
		return nil, 0, classifyReadErr(err)
	}

	return counts, expired, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var j Job
	var jobType, status string
	err := row.Scan(&j.ID, &j.OrgID, &jobType, &j.Payload, &j.RunAt, &status, &j.Attempts,
		&j.MaxAttempts, &j.LockedBy, &j.LockedAt, &j.LockExpiresAt, &j.LastError, &j.CreatedAt)
	j.Type = JobType(jobType)
	j.Status = Status(status)
	return j, err
}

func classifyWriteErr(err error) error {
	if err == nil {
		return nil
	}
	if postgres.IsCheckViolation(err) {
		return &ingesterr.ConstraintViolation{Cause: err}
	}
	return &ingesterr.DatabaseTransient{Cause: err}
}

func classifyReadErr(err error) error {
	if err == nil {
		return nil
	}
	if postgres.IsNoRows(err) {
		return err
	}
	return &ingesterr.DatabaseTransient{Cause: err}
}
