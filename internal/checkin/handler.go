package checkin

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sampleday/backend/internal/middleware"
	"github.com/sampleday/backend/pkg/response"
)

// ErrUnknownEvent is returned by a ContextSource when the event does not exist.
var ErrUnknownEvent = errors.New("event not found")

// LocationSink stores location samples pushed by clients so trackers can read them.
type LocationSink interface {
	Save(ctx context.Context, userID uuid.UUID, loc Location, perm Permission, at time.Time) error
}

// LocationRequest is the body for POST /events/:id/checkin/location.
type LocationRequest struct {
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	Permission string   `json:"permission"`
}

// CodeRequest is the body for POST /events/:id/checkin/code.
type CodeRequest struct {
	Code string `json:"code"`
}

// Handler handles check-in HTTP endpoints.
type Handler struct {
	registry *Registry
	sink     LocationSink
	now      func() time.Time
	logger   *zap.Logger
}

// NewHandler creates a check-in handler. sink may be nil.
func NewHandler(registry *Registry, sink LocationSink, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{registry: registry, sink: sink, now: time.Now, logger: logger}
}

// Status handles GET /events/:id/checkin.
func (h *Handler) Status(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	response.OK(c, s.Tick(h.now()))
}

// UpdateLocation handles POST /events/:id/checkin/location.
func (h *Handler) UpdateLocation(c *gin.Context) {
	var req LocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	perm, err := ParsePermission(req.Permission)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	var loc Location
	if perm == PermissionGranted {
		if req.Latitude == nil || req.Longitude == nil {
			response.BadRequest(c, "latitude and longitude required")
			return
		}
		loc = Location{Latitude: *req.Latitude, Longitude: *req.Longitude}
		if !loc.Valid() {
			response.BadRequest(c, ErrInvalidLocation.Error())
			return
		}
	}

	s, ok := h.session(c)
	if !ok {
		return
	}
	now := h.now()
	if h.sink != nil {
		if err := h.sink.Save(c.Request.Context(), s.UserID(), loc, perm, now); err != nil {
			h.logger.Warn("save location sample failed", zap.Error(err), zap.String("user_id", s.UserID().String()))
		}
	}
	snap, err := s.UpdateLocation(loc, perm, now)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.OK(c, snap)
}

// SubmitCode handles POST /events/:id/checkin/code.
func (h *Handler) SubmitCode(c *gin.Context) {
	var req CodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}
	snap, err := s.Submit(c.Request.Context(), req.Code, h.now())
	switch {
	case err == nil:
		response.OK(c, gin.H{"checkin": snap, "message": "Checked in"})
	case errors.Is(err, ErrIncorrectCode):
		response.OK(c, gin.H{"checkin": snap, "message": IncorrectCodeMessage})
	case errors.Is(err, ErrInvalidCodeLength):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrCodeEntryClosed), errors.Is(err, ErrSubmitInProgress):
		response.Conflict(c, err.Error())
	default:
		h.logger.Error("submit check-in code", zap.Error(err))
		response.Internal(c, "failed to submit code")
	}
}

func (h *Handler) session(c *gin.Context) (*Session, bool) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return nil, false
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	s, err := h.registry.Get(c.Request.Context(), userID, eventID)
	if err != nil {
		if errors.Is(err, ErrUnknownEvent) {
			response.NotFound(c, "event not found")
			return nil, false
		}
		h.logger.Error("load check-in session", zap.Error(err), zap.String("event_id", eventID.String()))
		response.Internal(c, "failed to load check-in")
		return nil, false
	}
	return s, true
}
