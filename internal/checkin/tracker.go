package checkin

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNoSample is returned by a LocationProvider that has no location for the user yet.
var ErrNoSample = errors.New("no location sample")

// LocationProvider returns the latest known location of a user and when it was sampled.
type LocationProvider interface {
	Latest(ctx context.Context, userID uuid.UUID) (Location, Permission, time.Time, error)
}

// Ticker abstracts time.Ticker so tests can drive ticks by hand.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewTicker is the default Ticker factory.
var NewTicker = func(d time.Duration) Ticker { return realTicker{t: time.NewTicker(d)} }

// Tracker refreshes a session's location on a fixed period while a client is
// connected. It stops when ctx is cancelled or the session reaches success.
type Tracker struct {
	session   *Session
	provider  LocationProvider
	interval  time.Duration
	newTicker func(time.Duration) Ticker
	now       func() time.Time
	logger    *zap.Logger
}

// NewTracker creates a tracker. A non-positive interval falls back to RefreshInterval.
func NewTracker(session *Session, provider LocationProvider, interval time.Duration, logger *zap.Logger) *Tracker {
	if interval <= 0 {
		interval = RefreshInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		session:   session,
		provider:  provider,
		interval:  interval,
		newTicker: NewTicker,
		now:       time.Now,
		logger:    logger,
	}
}

// Run refreshes once immediately, then on every tick. It blocks until stopped.
func (t *Tracker) Run(ctx context.Context) {
	t.refresh(ctx)
	if t.session.Status() == StatusSuccess {
		return
	}
	ticker := t.newTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			t.refresh(ctx)
			if t.session.Status() == StatusSuccess {
				t.logger.Debug("tracker stopping after check-in", zap.String("event_id", t.session.EventID().String()))
				return
			}
		}
	}
}

// refresh fetches a location; on failure the previous location stays in use.
func (t *Tracker) refresh(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	loc, perm, at, err := t.provider.Latest(ctx, t.session.UserID())
	if err != nil {
		if !errors.Is(err, ErrNoSample) && ctx.Err() == nil {
			t.logger.Warn("location refresh failed", zap.Error(err), zap.String("user_id", t.session.UserID().String()))
		}
		t.session.Tick(t.now())
		return
	}
	if _, err := t.session.UpdateLocationAt(loc, perm, at, t.now()); err != nil {
		t.logger.Warn("discarding location sample", zap.Error(err), zap.String("user_id", t.session.UserID().String()))
		t.session.Tick(t.now())
	}
}
