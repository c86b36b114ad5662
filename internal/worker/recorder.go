package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/sampleday/backend/internal/checkin"
)

// FallbackRecorder hands check-ins to the queue and writes them directly when
// the queue is unavailable, so a success is never lost.
type FallbackRecorder struct {
	queue  checkin.Recorder
	store  CheckInStore
	logger *zap.Logger
}

// NewFallbackRecorder creates a recorder over a queue and a direct store.
func NewFallbackRecorder(q checkin.Recorder, store CheckInStore, logger *zap.Logger) *FallbackRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackRecorder{queue: q, store: store, logger: logger}
}

// RecordCheckIn implements checkin.Recorder.
func (r *FallbackRecorder) RecordCheckIn(ctx context.Context, rec checkin.Record) error {
	err := r.queue.RecordCheckIn(ctx, rec)
	if err == nil {
		return nil
	}
	r.logger.Warn("enqueue check-in failed, writing directly", zap.Error(err), zap.String("event_id", rec.EventID.String()))
	_, err = r.store.Record(ctx, rec)
	return err
}
