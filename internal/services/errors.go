package services

import (
	"fmt"

	"github.com/google/uuid"
)

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return "Validation error" }

type ConflictError struct{ Message string }

func (e *ConflictError) Error() string { return e.Message }

type NotFoundError struct{ Message string }

func (e *NotFoundError) Error() string { return e.Message }

type UnauthorizedError struct{ Message string }

func (e *UnauthorizedError) Error() string { return e.Message }

type ForbiddenError struct{ Message string }

func (e *ForbiddenError) Error() string { return e.Message }

// StorageError means a store read or write failed. When returned from
// RecordAttempt nothing was recorded.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage failure: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// AggregationError means the attempt is durable but the aggregates were not
// updated. The attempt can be replayed with Reaggregate.
type AggregationError struct {
	AttemptID uuid.UUID
	Err       error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregation failure for attempt %s: %v", e.AttemptID, e.Err)
}
func (e *AggregationError) Unwrap() error { return e.Err }
