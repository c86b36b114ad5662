package checkins

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sampleday/backend/internal/events"
	"github.com/sampleday/backend/internal/middleware"
	"github.com/sampleday/backend/internal/models"
	"github.com/sampleday/backend/pkg/response"
)

// Lister reads an event's check-ins.
type Lister interface {
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.CheckIn, error)
}

// EventGetter loads events for ownership checks.
type EventGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
}

// Handler serves the attendance list to event creators.
type Handler struct {
	repo   Lister
	events EventGetter
	logger *zap.Logger
}

// NewHandler creates a check-ins handler.
func NewHandler(repo Lister, events EventGetter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, events: events, logger: logger}
}

// ListByEvent handles GET /events/:id/checkins (admin, creator only).
func (h *Handler) ListByEvent(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	e, err := h.events.GetByID(c.Request.Context(), eventID)
	if errors.Is(err, events.ErrNotFound) {
		response.NotFound(c, "event not found")
		return
	}
	if err != nil {
		h.logger.Error("get event", zap.Error(err))
		response.Internal(c, "failed to load event")
		return
	}
	if c.MustGet(middleware.ContextUserID).(uuid.UUID) != e.CreatedBy {
		response.Forbidden(c, "only the event creator can view check-ins")
		return
	}
	list, err := h.repo.ListByEvent(c.Request.Context(), eventID)
	if err != nil {
		h.logger.Error("list check-ins", zap.Error(err), zap.String("event_id", eventID.String()))
		response.Internal(c, "failed to list check-ins")
		return
	}
	response.OK(c, gin.H{"count": len(list), "checkins": list})
}
