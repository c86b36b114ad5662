package checkin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Permission is the outcome of the device's location permission prompt.
type Permission string

const (
	PermissionGranted      Permission = "granted"
	PermissionDenied       Permission = "denied"
	PermissionUndetermined Permission = "undetermined"
)

// ParsePermission maps a client string to a Permission. Empty means undetermined.
func ParsePermission(s string) (Permission, error) {
	switch Permission(s) {
	case PermissionGranted, PermissionDenied, PermissionUndetermined:
		return Permission(s), nil
	case "":
		return PermissionUndetermined, nil
	}
	return "", fmt.Errorf("unknown location permission %q", s)
}

// RecordTimeout bounds how long a successful check-in may take to hand off to
// record keeping. Recording does not depend on the caller staying connected.
const RecordTimeout = 10 * time.Second

// ErrSubmitInProgress is returned when a code is submitted while a previous success is being recorded.
var ErrSubmitInProgress = errors.New("check-in submission in progress")

// Record is a successful check-in handed to record keeping.
type Record struct {
	EventID     uuid.UUID
	UserID      uuid.UUID
	CheckedInAt time.Time
	Location    *Location
}

// Recorder persists successful check-ins.
type Recorder interface {
	RecordCheckIn(ctx context.Context, rec Record) error
}

// Snapshot is the externally visible state of a session.
type Snapshot struct {
	EventID        uuid.UUID  `json:"event_id"`
	UserID         uuid.UUID  `json:"user_id"`
	Status         Status     `json:"status"`
	Eligible       bool       `json:"eligible"`
	Submitting     bool       `json:"is_submitting"`
	Loaded         bool       `json:"loaded"`
	Permission     Permission `json:"permission"`
	DistanceMeters *float64   `json:"distance_meters,omitempty"`
	RadiusMeters   float64    `json:"radius_meters"`
	Attempts       int        `json:"attempts"`
	LocationAt     *time.Time `json:"location_at,omitempty"`
	CheckedInAt    *time.Time `json:"checked_in_at,omitempty"`
}

// Session holds the check-in state of one user for one event.
// It is safe for concurrent use.
type Session struct {
	eventID  uuid.UUID
	userID   uuid.UUID
	engine   *Engine
	recorder Recorder
	notify   func(Snapshot)
	logger   *zap.Logger

	loadMu sync.Mutex

	mu          sync.Mutex
	cctx        *Context
	location    *Location
	locationAt  time.Time
	permission  Permission
	denied      bool
	status      Status
	eligible    bool
	submitting  bool
	attempts    int
	checkedInAt *time.Time
}

// NewSession creates an inert session; it stays ineligible until SetContext is called.
// notify, when non-nil, receives a snapshot after every visible change.
func NewSession(eventID, userID uuid.UUID, engine *Engine, recorder Recorder, notify func(Snapshot), logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if engine == nil {
		engine = NewEngine(CheckInRadiusMeters, logger)
	}
	return &Session{
		eventID:    eventID,
		userID:     userID,
		engine:     engine,
		recorder:   recorder,
		notify:     notify,
		logger:     logger.With(zap.String("event_id", eventID.String()), zap.String("user_id", userID.String())),
		permission: PermissionUndetermined,
		status:     StatusNone,
	}
}

// EventID returns the session's event.
func (s *Session) EventID() uuid.UUID { return s.eventID }

// UserID returns the session's user.
func (s *Session) UserID() uuid.UUID { return s.userID }

// Loaded reports whether the event context has been set.
func (s *Session) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cctx != nil
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetContext installs the event context and reconciles with the last known location.
func (s *Session) SetContext(c Context, now time.Time) Snapshot {
	s.mu.Lock()
	cc := c
	s.cctx = &cc
	changed := s.reconcileLocked(now)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	if changed {
		s.emit(snap)
	}
	return snap
}

// RestoreSuccess marks the session as already checked in (e.g. from persisted records).
func (s *Session) RestoreSuccess(at time.Time) {
	s.mu.Lock()
	s.status = StatusSuccess
	t := at
	s.checkedInAt = &t
	s.location = nil
	s.mu.Unlock()
}

// UpdateLocation stores a location sample taken now with its permission and reconciles.
// Any permission other than granted drops the location; denied is permanent for the session.
func (s *Session) UpdateLocation(loc Location, perm Permission, now time.Time) (Snapshot, error) {
	return s.UpdateLocationAt(loc, perm, now, now)
}

// UpdateLocationAt is UpdateLocation for a sample taken at sampledAt. A zero or
// future sampledAt is treated as now.
func (s *Session) UpdateLocationAt(loc Location, perm Permission, sampledAt, now time.Time) (Snapshot, error) {
	if sampledAt.IsZero() || sampledAt.After(now) {
		sampledAt = now
	}
	if perm == PermissionGranted && !loc.Valid() {
		return s.Snapshot(), ErrInvalidLocation
	}
	s.mu.Lock()
	if s.status == StatusSuccess {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, nil
	}
	if perm == PermissionDenied {
		s.denied = true
	}
	s.permission = perm
	if s.denied {
		s.permission = PermissionDenied
	}
	if perm == PermissionGranted && !s.denied {
		l := loc
		s.location = &l
		s.locationAt = sampledAt
	} else {
		s.location = nil
	}
	changed := s.reconcileLocked(now)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	if changed {
		s.emit(snap)
	}
	return snap, nil
}

// Tick recomputes eligibility with the last known location.
func (s *Session) Tick(now time.Time) Snapshot {
	s.mu.Lock()
	changed := s.reconcileLocked(now)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	if changed {
		s.emit(snap)
	}
	return snap
}

// Submit checks a code. Eligibility is recomputed first so a closed window or a
// user who walked away cannot still submit. On success the check-in is handed
// to the Recorder; a recording failure is logged and does not undo success.
func (s *Session) Submit(ctx context.Context, code string, now time.Time) (Snapshot, error) {
	s.mu.Lock()
	if s.submitting {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrSubmitInProgress
	}
	changed := s.reconcileLocked(now)
	expected := ""
	if s.cctx != nil {
		expected = s.cctx.ExpectedCode
	}
	prev := s.status
	next, err := SubmitCode(code, expected, prev)
	if prev == StatusSuccess || errors.Is(err, ErrInvalidCodeLength) || errors.Is(err, ErrCodeEntryClosed) {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		if changed {
			s.emit(snap)
		}
		return snap, err
	}

	s.attempts++
	s.status = next
	if err != nil {
		attempts := s.attempts
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.logger.Info("incorrect check-in code", zap.Int("attempts", attempts))
		s.emit(snap)
		return snap, err
	}

	at := now
	s.checkedInAt = &at
	s.submitting = true
	var loc *Location
	if s.location != nil {
		l := *s.location
		loc = &l
	}
	s.location = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)

	if s.recorder != nil {
		rec := Record{EventID: s.eventID, UserID: s.userID, CheckedInAt: at, Location: loc}
		recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), RecordTimeout)
		if recErr := s.recorder.RecordCheckIn(recCtx, rec); recErr != nil {
			s.logger.Error("record check-in failed", zap.Error(recErr))
		}
		cancel()
	}

	s.mu.Lock()
	s.submitting = false
	snap = s.snapshotLocked()
	s.mu.Unlock()
	s.logger.Info("checked in", zap.Int("attempts", snap.Attempts))
	s.emit(snap)
	return snap, nil
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) reconcileLocked(now time.Time) bool {
	ok := false
	if s.cctx != nil && !s.denied && s.permission == PermissionGranted && s.location != nil {
		ok = s.engine.ComputeEligibility(*s.cctx, s.location, now)
	}
	prevEligible, prevStatus := s.eligible, s.status
	s.eligible = ok
	s.status = ReconcileStatus(prevStatus, ok)
	return prevEligible != s.eligible || prevStatus != s.status
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		EventID:      s.eventID,
		UserID:       s.userID,
		Status:       s.status,
		Eligible:     s.eligible,
		Submitting:   s.submitting,
		Loaded:       s.cctx != nil,
		Permission:   s.permission,
		RadiusMeters: s.engine.Radius(),
		Attempts:     s.attempts,
		CheckedInAt:  s.checkedInAt,
	}
	if s.location != nil {
		at := s.locationAt
		snap.LocationAt = &at
		if s.cctx != nil && s.cctx.EventLocation != nil {
			d := Distance(*s.location, *s.cctx.EventLocation)
			snap.DistanceMeters = &d
		}
	}
	return snap
}

func (s *Session) emit(snap Snapshot) {
	if s.notify != nil {
		s.notify(snap)
	}
}
