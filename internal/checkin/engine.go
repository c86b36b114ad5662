// Package checkin decides whether a user may check in to an event and drives the
// per-user check-in status (none, input, incorrect, success).
package checkin

import (
	"crypto/subtle"
	"errors"
	"math"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	// CheckInRadiusMeters is the default geofence radius around an event location.
	CheckInRadiusMeters = 100.0
	// EarthRadiusMeters is the mean Earth radius used by the Haversine formula.
	EarthRadiusMeters = 6371000.0
	// CodeLength is the number of characters in a check-in code.
	CodeLength = 6
	// RefreshInterval is how often a tracked session re-reads the user's location.
	RefreshInterval = 30 * time.Second

	// distanceTolerance absorbs floating-point error at the geofence boundary.
	distanceTolerance = 1e-6
)

// IncorrectCodeMessage is shown to the user after a wrong code.
const IncorrectCodeMessage = "Incorrect Code"

var (
	ErrIncompleteContext = errors.New("check-in context incomplete")
	ErrInvertedWindow    = errors.New("event start time is after end time")
	ErrInvalidLocation   = errors.New("coordinates out of range")
	ErrInvalidCodeLength = errors.New("check-in code must be 6 characters")
	ErrIncorrectCode     = errors.New("incorrect check-in code")
	ErrCodeEntryClosed   = errors.New("check-in code entry is not open")
)

// Status is the check-in state of one user for one event.
type Status string

const (
	StatusNone      Status = "none"
	StatusInput     Status = "input"
	StatusIncorrect Status = "incorrect"
	StatusSuccess   Status = "success"
)

// Location is a WGS84 point in degrees.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether both coordinates are finite and in range.
func (l Location) Valid() bool {
	if math.IsNaN(l.Latitude) || math.IsNaN(l.Longitude) {
		return false
	}
	return l.Latitude >= -90 && l.Latitude <= 90 && l.Longitude >= -180 && l.Longitude <= 180
}

// Context is the per-event data an eligibility decision needs. It is loaded once
// when a session starts and never changes afterwards.
type Context struct {
	EventLocation *Location
	StartTime     *time.Time
	EndTime       *time.Time
	ExpectedCode  string
}

// Validate returns ErrIncompleteContext when a field is missing, and
// ErrInvertedWindow or ErrInvalidLocation for malformed event data.
func (c Context) Validate() error {
	if c.EventLocation == nil || c.StartTime == nil || c.EndTime == nil {
		return ErrIncompleteContext
	}
	if c.StartTime.After(*c.EndTime) {
		return ErrInvertedWindow
	}
	if !c.EventLocation.Valid() {
		return ErrInvalidLocation
	}
	return nil
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Location) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// ComputeEligibility reports whether a user at user may check in at now, using
// the default radius. A nil user means no location is available.
func ComputeEligibility(c Context, user *Location, now time.Time) bool {
	return eligible(c, user, now, CheckInRadiusMeters)
}

func eligible(c Context, user *Location, now time.Time, radius float64) bool {
	if c.Validate() != nil || user == nil || !user.Valid() {
		return false
	}
	if now.Before(*c.StartTime) || now.After(*c.EndTime) {
		return false
	}
	return Distance(*user, *c.EventLocation) <= radius+distanceTolerance
}

// ReconcileStatus moves the status after eligibility was recomputed.
func ReconcileStatus(current Status, isEligible bool) Status {
	switch {
	case current == StatusSuccess:
		return StatusSuccess
	case isEligible && current == StatusNone:
		return StatusInput
	case !isEligible && (current == StatusInput || current == StatusIncorrect):
		return StatusNone
	default:
		return current
	}
}

// SubmitCode checks a submitted code against the expected one.
// A wrong-length code or a closed code entry leaves the status unchanged.
func SubmitCode(code, expectedCode string, current Status) (Status, error) {
	if current == StatusSuccess {
		return StatusSuccess, nil
	}
	if current != StatusInput && current != StatusIncorrect {
		return current, ErrCodeEntryClosed
	}
	if utf8.RuneCountInString(code) != CodeLength {
		return current, ErrInvalidCodeLength
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(expectedCode)) == 1 {
		return StatusSuccess, nil
	}
	return StatusIncorrect, ErrIncorrectCode
}

// Engine evaluates eligibility with a configured radius and logs malformed event data.
type Engine struct {
	radius float64
	logger *zap.Logger
}

// NewEngine creates an engine. A non-positive radius falls back to CheckInRadiusMeters.
func NewEngine(radiusMeters float64, logger *zap.Logger) *Engine {
	if radiusMeters <= 0 {
		radiusMeters = CheckInRadiusMeters
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{radius: radiusMeters, logger: logger}
}

// Radius returns the geofence radius in meters.
func (e *Engine) Radius() float64 { return e.radius }

// ComputeEligibility is like the package-level ComputeEligibility but uses the engine's radius.
func (e *Engine) ComputeEligibility(c Context, user *Location, now time.Time) bool {
	if err := c.Validate(); err != nil {
		if !errors.Is(err, ErrIncompleteContext) {
			e.logger.Warn("malformed check-in context", zap.Error(err))
		}
		return false
	}
	return eligible(c, user, now, e.radius)
}
