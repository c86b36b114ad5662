package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sampleday/backend/internal/checkin"
)

const (
	// QueueCheckIns is the Redis list key for check-in record jobs.
	QueueCheckIns = "worker:checkins"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeCheckInRecord JobType = "check_in_record"
)

// CheckInPayload is the payload for check-in record jobs.
type CheckInPayload struct {
	EventID     uuid.UUID `json:"event_id"`
	UserID      uuid.UUID `json:"user_id"`
	CheckedInAt time.Time `json:"checked_in_at"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
}

// Record converts the payload back to a check-in record.
func (p CheckInPayload) Record() checkin.Record {
	rec := checkin.Record{EventID: p.EventID, UserID: p.UserID, CheckedInAt: p.CheckedInAt}
	if p.Latitude != nil && p.Longitude != nil {
		rec.Location = &checkin.Location{Latitude: *p.Latitude, Longitude: *p.Longitude}
	}
	return rec
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewCheckInJob builds a check-in record job.
func NewCheckInJob(rec checkin.Record) (*Job, error) {
	p := CheckInPayload{EventID: rec.EventID, UserID: rec.UserID, CheckedInAt: rec.CheckedInAt}
	if rec.Location != nil {
		lat, lon := rec.Location.Latitude, rec.Location.Longitude
		p.Latitude, p.Longitude = &lat, &lon
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Job{
		ID:        uuid.New().String(),
		Type:      JobTypeCheckInRecord,
		Payload:   body,
		CreatedAt: time.Now(),
	}, nil
}

// retryTarget returns where a failed job goes after its attempt count was incremented.
func retryTarget(job *Job) string {
	if job.Attempt >= MaxRetries {
		return QueueDLQ
	}
	return QueueCheckIns
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client redis.UniversalClient, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// RecordCheckIn implements checkin.Recorder by enqueueing a check_in_record job.
func (q *Queue) RecordCheckIn(ctx context.Context, rec checkin.Record) error {
	job, err := NewCheckInJob(rec)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueCheckIns, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued check-in job", zap.String("job_id", job.ID), zap.String("event_id", rec.EventID.String()))
	return nil
}

// Dequeue blocks until a job is available or ctx is done. A nil job with a nil
// error means nothing usable was read.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, 5*time.Second, QueueCheckIns).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	target := retryTarget(job)
	if err := q.client.RPush(ctx, target, raw).Err(); err != nil {
		q.logger.Error("retry push failed", zap.Error(err), zap.String("job_id", job.ID), zap.String("queue", target))
		return err
	}
	if target == QueueDLQ {
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	} else {
		q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	}
	return nil
}
