// Package ingesterr defines the error taxonomy handlers classify failures
// into, per the error handling design: each kind carries its own retry
// policy, decided by the Job Store rather than baked into the error itself.
package ingesterr

import "fmt"

// RateLimited is returned when the upstream signals it is rate-limiting this
// client. The Governor has already been told via ReportRateLimited by the
// time this is returned.
type RateLimited struct {
	Message string
}

func (e *RateLimited) Error() string {
	return fmt.Sprintf("upstream rate limited: %s", e.Message)
}

// UpstreamTransient covers network errors and HTTP 5xx from the upstream.
// Retried via backoff.
type UpstreamTransient struct {
	Cause error
}

func (e *UpstreamTransient) Error() string {
	return fmt.Sprintf("upstream transient error: %v", e.Cause)
}

func (e *UpstreamTransient) Unwrap() error { return e.Cause }

// UpstreamMalformed covers upstream responses that fail to parse. Retried
// until max_attempts, then left failed for operator inspection.
type UpstreamMalformed struct {
	Cause error
}

func (e *UpstreamMalformed) Error() string {
	return fmt.Sprintf("upstream response malformed: %v", e.Cause)
}

func (e *UpstreamMalformed) Unwrap() error { return e.Cause }

// PartitionMissing is returned when a bulk insert into hl_fills_raw fails
// because no monthly partition exists for the incoming timestamps. Retried;
// an operator must create the partition (see cmd/admin ensure-partition).
type PartitionMissing struct {
	Cause error
}

func (e *PartitionMissing) Error() string {
	return fmt.Sprintf("missing raw-fills partition: %v", e.Cause)
}

func (e *PartitionMissing) Unwrap() error { return e.Cause }

// ConstraintViolation covers CHECK/foreign-key violations. No retry would
// succeed; the job is failed fast.
type ConstraintViolation struct {
	Cause error
}

func (e *ConstraintViolation) Error() string {
	return fmt.Sprintf("constraint violation: %v", e.Cause)
}

func (e *ConstraintViolation) Unwrap() error { return e.Cause }

// DatabaseTransient covers connection loss and similar retryable database
// errors. The cursor is left untouched.
type DatabaseTransient struct {
	Cause error
}

func (e *DatabaseTransient) Error() string {
	return fmt.Sprintf("database transient error: %v", e.Cause)
}

func (e *DatabaseTransient) Unwrap() error { return e.Cause }

// LeaseExpired marks a job whose lease ended mid-work. Not normally returned
// by a handler — the Job Store's Claim predicate makes the expired job
// reclaimable by another worker without any signal from the first.
type LeaseExpired struct {
	JobID int64
}

func (e *LeaseExpired) Error() string {
	return fmt.Sprintf("job %d: lease expired", e.JobID)
}

// FailFast reports whether a handler error should skip the backoff ladder
// entirely and go straight to the job store's terminal failed state. Per the
// error handling design, only ConstraintViolation is fail-fast — a
// CHECK/foreign-key violation will not resolve itself on retry.
// UpstreamMalformed still rides the normal backoff ladder to max_attempts,
// since a later retry may hit a well-formed response.
func FailFast(err error) bool {
	_, ok := err.(*ConstraintViolation)
	return ok
}
