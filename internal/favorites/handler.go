package favorites

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

// EventGetter resolves favorite IDs to events.
type EventGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
}

// Handler handles favorites HTTP endpoints.
type Handler struct {
	store  *Store
	events EventGetter
	logger *zap.Logger
}

// NewHandler creates a favorites handler.
func NewHandler(store *Store, events EventGetter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, events: events, logger: logger}
}

// List handles GET /favorites. Events deleted since they were favorited are dropped.
func (h *Handler) List(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	ids, err := h.store.List(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list favorites", zap.Error(err))
		response.Internal(c, "failed to list favorites")
		return
	}
	list := make([]models.Event, 0, len(ids))
	for _, id := range ids {
		e, err := h.events.GetByID(c.Request.Context(), id)
		if errors.Is(err, events.ErrNotFound) {
			if _, err := h.store.Remove(c.Request.Context(), userID, id); err != nil {
				h.logger.Warn("drop stale favorite", zap.Error(err))
			}
			continue
		}
		if err != nil {
			h.logger.Error("get favorite event", zap.Error(err), zap.String("event_id", id.String()))
			response.Internal(c, "failed to list favorites")
			return
		}
		list = append(list, *e)
	}
	response.OK(c, list)
}

// Add handles PUT /favorites/:eventId.
func (h *Handler) Add(c *gin.Context) {
	h.mutate(c, true)
}

// Remove handles DELETE /favorites/:eventId.
func (h *Handler) Remove(c *gin.Context) {
	h.mutate(c, false)
}

func (h *Handler) mutate(c *gin.Context, favorite bool) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	eventID, err := uuid.Parse(c.Param("eventId"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	var ids []uuid.UUID
	if favorite {
		if _, err := h.events.GetByID(c.Request.Context(), eventID); err != nil {
			if errors.Is(err, events.ErrNotFound) {
				response.NotFound(c, "event not found")
				return
			}
			h.logger.Error("get event", zap.Error(err))
			response.Internal(c, "failed to load event")
			return
		}
		ids, err = h.store.Add(c.Request.Context(), userID, eventID)
	} else {
		ids, err = h.store.Remove(c.Request.Context(), userID, eventID)
	}
	if err != nil {
		h.logger.Error("update favorites", zap.Error(err), zap.String("user_id", userID.String()))
		response.Internal(c, "failed to update favorites")
		return
	}
	response.OK(c, gin.H{"favorites": ids})
}
