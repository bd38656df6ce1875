// Package engine owns mission orchestration: per-stage queues, bounded
// worker pools, the mission/work-item state machine, retry scheduling,
// dedup short-circuiting, and rate-budget enforcement. Stage executors
// are plugged in behind the Executor interface and never touch
// orchestration state.
package engine

import (
	"context"
	"time"

	"github.com/sells-group/leadscout/internal/model"
)

// Disposition classifies the outcome of one execution attempt.
type Disposition int

const (
	// DispositionSuccess means the stage produced its outputs.
	DispositionSuccess Disposition = iota
	// DispositionRetryable means the attempt failed transiently and may
	// be retried.
	DispositionRetryable
	// DispositionFatal means the item cannot succeed at this stage;
	// retrying is pointless.
	DispositionFatal
	// DispositionDuplicate marks an item short-circuited by the dedup
	// store. Executors never return it; the orchestrator does.
	DispositionDuplicate
)

func (d Disposition) String() string {
	switch d {
	case DispositionSuccess:
		return "success"
	case DispositionRetryable:
		return "retryable"
	case DispositionFatal:
		return "fatal"
	case DispositionDuplicate:
		return "duplicate"
	}
	return "unknown"
}

// StageResult is the outcome of one execution attempt, consumed solely
// by the orchestrator's transition function.
type StageResult struct {
	Disposition Disposition

	// Outputs are payloads for the next stage. Radar fans out to many;
	// the other stages emit exactly one on success.
	Outputs []model.Payload

	// Enrichment is set by the terminal stage on success.
	Enrichment *model.Enrichment

	// Err carries the failure for Retryable and Fatal dispositions.
	Err error

	// RetryAfter, when positive, overrides the engine's backoff curve
	// with a delay the collaborator asked for.
	RetryAfter time.Duration

	// BlockedDomain names a domain that served an anti-bot challenge.
	// The engine shrinks its rate budget when set.
	BlockedDomain string
}

// Success builds a successful result carrying next-stage payloads.
func Success(outputs ...model.Payload) StageResult {
	return StageResult{Disposition: DispositionSuccess, Outputs: outputs}
}

// Retryable builds a transient-failure result.
func Retryable(err error) StageResult {
	return StageResult{Disposition: DispositionRetryable, Err: err}
}

// Fatal builds a permanent-failure result.
func Fatal(err error) StageResult {
	return StageResult{Disposition: DispositionFatal, Err: err}
}

// Executor runs one pipeline stage.
type Executor interface {
	// Stage identifies which pipeline stage this executor serves.
	Stage() model.Stage
	// Execute processes the item's payload. It must not mutate the item
	// and must return promptly once ctx is cancelled.
	Execute(ctx context.Context, item *model.WorkItem) StageResult
}
