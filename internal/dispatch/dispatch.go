// Package dispatch submits one job per target and records the submission
// durably before reporting success.
package dispatch

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/zeebo/blake3"

	"cihub/internal/backoff"
	"cihub/internal/platform"
	"cihub/internal/store"
	"cihub/internal/target"
)

// Submissions failing for any reason other than a platform refusal are
// retried with a linear backoff.
const (
	DefaultSubmitAttempts = 3
	DefaultSubmitBackoff  = 2 * time.Second
)

var (
	// ErrDispatchRejected means the platform refused the request. It is
	// fatal for the target only and never retried.
	ErrDispatchRejected = errors.New("dispatch rejected")
	// ErrDispatchFailed means every submit attempt hit a transient error.
	ErrDispatchFailed = errors.New("dispatch failed")
	// ErrRecordWrite means the job was submitted but its record was not
	// persisted.
	ErrRecordWrite = errors.New("dispatch record write failed")
)

// CorrelationID derives the identifier that follows a submission through the
// remote run and back in its report. It is a pure function of its inputs.
func CorrelationID(invocationID string, attempt int, targetID string) string {
	sum := blake3.Sum256([]byte(targetID))
	return invocationID + "-" + strconv.Itoa(attempt) + "-" + hex.EncodeToString(sum[:8])
}

type Dispatcher struct {
	platform     platform.Platform
	store        store.Store
	invocationID string
	attempt      int
	clock        backoff.Clock
	logger       *slog.Logger

	submitAttempts int
	submitBackoff  time.Duration
}

type Option func(*Dispatcher)

func WithClock(c backoff.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithRetry bounds transient submit failures. attempts below 1 are ignored.
func WithRetry(attempts int, base time.Duration) Option {
	return func(d *Dispatcher) {
		if attempts >= 1 {
			d.submitAttempts = attempts
		}
		if base >= 0 {
			d.submitBackoff = base
		}
	}
}

func New(p platform.Platform, s store.Store, invocationID string, attempt int, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		platform:     p,
		store:        s,
		invocationID: invocationID,
		attempt:      attempt,
		clock:        backoff.RealClock{},

		submitAttempts: DefaultSubmitAttempts,
		submitBackoff:  DefaultSubmitBackoff,
	}
	for _, apply := range opts {
		if apply != nil {
			apply(d)
		}
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("component", "dispatch")
	return d
}

// Submit triggers the target's workflow with the correlation id merged into
// its inputs. On acceptance the record is written before Submit returns; on
// failure nothing is written. A target that already has a record in this
// attempt is not submitted again.
func (d *Dispatcher) Submit(ctx context.Context, t target.Target) (store.Record, error) {
	if _, err := d.store.Load(ctx, t.ID); err == nil {
		return store.Record{}, fmt.Errorf("%w: %s: %w", ErrRecordWrite, t.ID, store.ErrRecordExists)
	} else if !errors.Is(err, store.ErrRecordNotFound) {
		return store.Record{}, fmt.Errorf("%w: %s: %w", ErrRecordWrite, t.ID, err)
	}

	cid := CorrelationID(d.invocationID, d.attempt, t.ID)
	inputs := t.CloneInputs()
	inputs[platform.CorrelationInput] = cid

	// Taken before the first try so the run's creation time falls after it,
	// modulo clock skew.
	dispatchedAt := d.clock.Now().UTC()
	if err := d.submit(ctx, t, inputs); err != nil {
		return store.Record{}, err
	}

	rec := store.Record{TargetID: t.ID, CorrelationID: cid, DispatchedAt: dispatchedAt}
	if err := d.store.Save(ctx, rec); err != nil {
		return store.Record{}, fmt.Errorf("%w: %s: %w", ErrRecordWrite, t.ID, err)
	}
	d.logger.Info("dispatched", "target", t.ID, "correlation_id", cid, "workflow", t.WorkflowRef())
	return rec, nil
}

func (d *Dispatcher) submit(ctx context.Context, t target.Target, inputs map[string]string) error {
	var lastErr error
	for try := 1; try <= d.submitAttempts; try++ {
		err := d.platform.SubmitJob(ctx, t.Locator(), inputs)
		if err == nil {
			return nil
		}
		if errors.Is(err, platform.ErrRejected) {
			return fmt.Errorf("%w: %s: %w", ErrDispatchRejected, t.ID, err)
		}
		lastErr = err
		if ctx.Err() != nil || try == d.submitAttempts {
			break
		}
		delay := d.submitBackoff * time.Duration(try)
		d.logger.Debug("submit retry", "target", t.ID, "attempt", try, "delay", delay, "error", err)
		if err := d.clock.Sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %w", ErrDispatchFailed, t.ID, d.submitAttempts, lastErr)
}

// RecordHint stores the locator's guess on the target's record.
func (d *Dispatcher) RecordHint(ctx context.Context, targetID string, runID int64) error {
	if err := d.store.SetHint(ctx, targetID, runID); err != nil {
		return fmt.Errorf("record run id hint for %s: %w", targetID, err)
	}
	return nil
}
