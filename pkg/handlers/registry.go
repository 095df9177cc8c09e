package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fillsync/ingestor/pkg/jobstore"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

func parseOrgID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("invalid org_id %q: %w", raw, err)
	}
	return id, nil
}

// decodePayload unmarshals and validates a job payload into dst.
func decodePayload(raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("validate payload: %w", err)
	}
	return nil
}

// Registry dispatches a claimed job to the handler for its type.
type Registry struct {
	IngestWallet    *IngestWallet
	RollupWalletDay *RollupWalletDay
	RollupGlobalDay *RollupGlobalDay
}

// Dispatch runs the handler registered for job.Type. A payload that fails to
// decode or validate is wrapped as ingesterr.ConstraintViolation — no retry
// would fix a malformed payload this job was enqueued with.
func (r *Registry) Dispatch(ctx context.Context, job jobstore.Job) error {
	switch job.Type {
	case jobstore.JobTypeIngestWallet:
		var p jobstore.IngestWalletPayload
		if err := decodePayload(job.Payload, &p); err != nil {
			return constraintErr(err)
		}
		return r.IngestWallet.Run(ctx, job.OrgID.String(), p.Address, p.WalletID)
	case jobstore.JobTypeRollupWalletDay:
		var p jobstore.RollupWalletDayPayload
		if err := decodePayload(job.Payload, &p); err != nil {
			return constraintErr(err)
		}
		return r.RollupWalletDay.Run(ctx, job.OrgID, p.WalletID, p.Days)
	case jobstore.JobTypeRollupGlobalDay:
		var p jobstore.RollupGlobalDayPayload
		if err := decodePayload(job.Payload, &p); err != nil {
			return constraintErr(err)
		}
		return r.RollupGlobalDay.Run(ctx, job.OrgID, p.Days)
	default:
		return constraintErr(fmt.Errorf("unknown job type %q", job.Type))
	}
}
