// Package sink delivers finalized lead records to their destinations.
// Sinks are append-only: a lead is emitted exactly once, when its work
// item finalizes.
package sink

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/model"
)

// Sink receives finalized leads.
type Sink interface {
	Emit(ctx context.Context, lead model.LeadRecord) error
}

// Multi fans one lead out to several sinks. Every sink gets the lead
// even when an earlier one fails; the first error is returned.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, lead model.LeadRecord) error {
	var firstErr error
	for _, s := range m {
		if err := s.Emit(ctx, lead); err != nil {
			zap.L().Error("sink: emit failed",
				zap.String("mission_id", lead.MissionID),
				zap.String("lead_id", lead.ID),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// BestEffort wraps a sink whose failures should never fail the lead:
// errors are logged and swallowed. Used for mirrors like Notion where
// the store sink remains the source of truth.
func BestEffort(s Sink) Sink {
	return bestEffort{inner: s}
}

type bestEffort struct {
	inner Sink
}

func (b bestEffort) Emit(ctx context.Context, lead model.LeadRecord) error {
	if err := b.inner.Emit(ctx, lead); err != nil {
		zap.L().Warn("sink: best-effort emit failed",
			zap.String("mission_id", lead.MissionID),
			zap.String("lead_id", lead.ID),
			zap.Error(err),
		)
	}
	return nil
}

// LeadWriter is the persistence surface the store sink needs.
type LeadWriter interface {
	SaveLead(ctx context.Context, lead *model.LeadRecord) error
}

// StoreSink persists leads through the database store.
type StoreSink struct {
	writer LeadWriter
}

// NewStoreSink creates a sink backed by the given store.
func NewStoreSink(w LeadWriter) *StoreSink {
	return &StoreSink{writer: w}
}

func (s *StoreSink) Emit(ctx context.Context, lead model.LeadRecord) error {
	if err := s.writer.SaveLead(ctx, &lead); err != nil {
		return eris.Wrap(err, "sink: persist lead")
	}
	return nil
}
