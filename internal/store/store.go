// Package store persists DispatchRecords: the durable link between a
// target's submission and its correlation id. Records are append-only. The
// only permitted update fills a missing run id hint, once.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrRecordExists   = errors.New("dispatch record already exists")
	ErrRecordNotFound = errors.New("dispatch record not found")
	ErrHintAlreadySet = errors.New("run id hint already set")
	ErrInvalidRecord  = errors.New("invalid dispatch record")
)

// Record is written once, at submission time.
type Record struct {
	TargetID      string    `json:"target_id"`
	CorrelationID string    `json:"correlation_id"`
	RunIDHint     *int64    `json:"run_id_hint"`
	DispatchedAt  time.Time `json:"dispatched_at"`
}

func (r Record) Validate() error {
	switch {
	case strings.TrimSpace(r.TargetID) == "":
		return fmt.Errorf("%w: target_id is empty", ErrInvalidRecord)
	case strings.TrimSpace(r.CorrelationID) == "":
		return fmt.Errorf("%w: correlation_id is empty for %s", ErrInvalidRecord, r.TargetID)
	case r.DispatchedAt.IsZero():
		return fmt.Errorf("%w: dispatched_at is zero for %s", ErrInvalidRecord, r.TargetID)
	case r.RunIDHint != nil && *r.RunIDHint <= 0:
		return fmt.Errorf("%w: run_id_hint must be positive for %s", ErrInvalidRecord, r.TargetID)
	}
	return nil
}

// Store is scoped to one invocation.
type Store interface {
	// Save appends rec. A second Save for the same target fails with
	// ErrRecordExists and leaves the first record untouched.
	Save(ctx context.Context, rec Record) error
	// SetHint fills a nil run_id_hint. Setting the same value again is a
	// no-op; a different value fails with ErrHintAlreadySet.
	SetHint(ctx context.Context, targetID string, runID int64) error
	Load(ctx context.Context, targetID string) (Record, error)
	// List returns every record of the invocation sorted by target id.
	List(ctx context.Context) ([]Record, error)
	Close() error
}

// checkHint applies the fill-once rule to an existing record.
func checkHint(rec Record, runID int64) (changed bool, err error) {
	if runID <= 0 {
		return false, fmt.Errorf("%w: run_id_hint must be positive for %s", ErrInvalidRecord, rec.TargetID)
	}
	if rec.RunIDHint == nil {
		return true, nil
	}
	if *rec.RunIDHint == runID {
		return false, nil
	}
	return false, fmt.Errorf("%w: %s has %d, refusing %d", ErrHintAlreadySet, rec.TargetID, *rec.RunIDHint, runID)
}
