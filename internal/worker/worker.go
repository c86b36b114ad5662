package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sampleday/backend/internal/checkin"
	"github.com/sampleday/backend/pkg/queue"
)

// CheckInStore persists check-in records.
type CheckInStore interface {
	Record(ctx context.Context, rec checkin.Record) (inserted bool, err error)
}

// JobQueue is the queue the processor consumes.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// CheckInProcessor persists check-ins handed off by the API servers.
type CheckInProcessor struct {
	store   CheckInStore
	queue   JobQueue
	backoff time.Duration
	logger  *zap.Logger
}

// NewCheckInProcessor creates a check-in record processor.
func NewCheckInProcessor(store CheckInStore, q JobQueue, logger *zap.Logger) *CheckInProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckInProcessor{store: store, queue: q, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one check-in record job. Records that already exist are not an error.
func (p *CheckInProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeCheckInRecord {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.CheckInPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	inserted, err := p.store.Record(ctx, payload.Record())
	if err != nil {
		return fmt.Errorf("record check-in: %w", err)
	}
	p.logger.Info("check-in recorded",
		zap.String("job_id", job.ID),
		zap.String("event_id", payload.EventID.String()),
		zap.String("user_id", payload.UserID.String()),
		zap.Bool("duplicate", !inserted))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *CheckInProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("check-in worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *CheckInProcessor) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.backoff):
	}
}
