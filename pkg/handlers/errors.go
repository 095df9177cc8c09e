package handlers

import "github.com/fillsync/ingestor/pkg/ingesterr"

func constraintErr(err error) error {
	return &ingesterr.ConstraintViolation{Cause: err}
}
