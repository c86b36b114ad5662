package events

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sampleday/backend/internal/checkin"
	"github.com/sampleday/backend/internal/middleware"
	"github.com/sampleday/backend/internal/models"
	"github.com/sampleday/backend/pkg/response"
	"github.com/sampleday/backend/pkg/storage"
)

// ImageStore is the object storage used for event images.
type ImageStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader, size int64) error
	PresignedURL(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// CreateRequest is the body for POST /events.
type CreateRequest struct {
	Title       string   `json:"title" binding:"required"`
	Description string   `json:"description"`
	Venue       string   `json:"venue"`
	Latitude    *float64 `json:"latitude" binding:"required"`
	Longitude   *float64 `json:"longitude" binding:"required"`
	StartsAt    string   `json:"starts_at" binding:"required"`
	EndsAt      string   `json:"ends_at" binding:"required"`
	CheckInCode string   `json:"check_in_code"` // optional; generated when empty
}

// Handler handles event HTTP endpoints.
type Handler struct {
	store  Store
	images ImageStore
	now    func() time.Time
	logger *zap.Logger
}

// NewHandler creates an event handler. images may be nil when S3 is not configured.
func NewHandler(store Store, images ImageStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, images: images, now: time.Now, logger: logger}
}

func (req *CreateRequest) toEvent() (*models.Event, error) {
	startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
	if err != nil {
		return nil, errors.New("invalid starts_at")
	}
	endsAt, err := time.Parse(time.RFC3339, req.EndsAt)
	if err != nil {
		return nil, errors.New("invalid ends_at")
	}
	if startsAt.After(endsAt) {
		return nil, errors.New("starts_at must not be after ends_at")
	}
	loc := checkin.Location{Latitude: *req.Latitude, Longitude: *req.Longitude}
	if !loc.Valid() {
		return nil, checkin.ErrInvalidLocation
	}
	code := req.CheckInCode
	if code == "" {
		if code, err = generateCode(); err != nil {
			return nil, err
		}
	} else if utf8.RuneCountInString(code) != checkin.CodeLength {
		return nil, fmt.Errorf("check_in_code must be %d characters", checkin.CodeLength)
	}
	return &models.Event{
		Title:       req.Title,
		Description: req.Description,
		Venue:       req.Venue,
		Latitude:    loc.Latitude,
		Longitude:   loc.Longitude,
		StartsAt:    startsAt.UTC(),
		EndsAt:      endsAt.UTC(),
		CheckInCode: code,
	}, nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate check-in code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Create handles POST /events (admin only).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	e, err := req.toEvent()
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	e.CreatedBy = c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if err := h.store.Create(c.Request.Context(), e); err != nil {
		h.logger.Error("create event", zap.Error(err))
		response.Internal(c, "failed to create event")
		return
	}
	h.logger.Info("event created", zap.String("event_id", e.ID.String()), zap.String("created_by", e.CreatedBy.String()))
	response.Created(c, models.EventAdmin{Event: *e, CheckInCode: e.CheckInCode})
}

// List handles GET /events. Supports ?q= (fuzzy title/venue search) and ?upcoming=1.
func (h *Handler) List(c *gin.Context) {
	var f ListFilter
	if c.Query("upcoming") == "1" || c.Query("upcoming") == "true" {
		now := h.now()
		f.EndsAfter = &now
	}
	list, err := h.store.List(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("list events", zap.Error(err))
		response.Internal(c, "failed to list events")
		return
	}
	list = Search(list, c.Query("q"))
	if list == nil {
		list = []models.Event{}
	}
	response.OK(c, list)
}

// GetByID handles GET /events/:id. The creator also sees the check-in code.
func (h *Handler) GetByID(c *gin.Context) {
	e, ok := h.load(c)
	if !ok {
		return
	}
	if uid, _ := c.Get(middleware.ContextUserID); uid == e.CreatedBy {
		response.OK(c, models.EventAdmin{Event: *e, CheckInCode: e.CheckInCode})
		return
	}
	response.OK(c, e)
}

// Delete handles DELETE /events/:id (creator only).
func (h *Handler) Delete(c *gin.Context) {
	e, ok := h.loadOwned(c)
	if !ok {
		return
	}
	if err := h.store.Delete(c.Request.Context(), e.ID); err != nil {
		h.logger.Error("delete event", zap.Error(err), zap.String("event_id", e.ID.String()))
		response.Internal(c, "failed to delete event")
		return
	}
	if e.ImageKey != "" && h.images != nil {
		if err := h.images.Delete(c.Request.Context(), e.ImageKey); err != nil {
			h.logger.Warn("delete event image", zap.Error(err), zap.String("key", e.ImageKey))
		}
	}
	response.NoContent(c)
}

// UploadImage handles POST /events/:id/image (multipart field "image", creator only).
func (h *Handler) UploadImage(c *gin.Context) {
	if h.images == nil {
		response.ServiceUnavailable(c, "image storage not configured")
		return
	}
	e, ok := h.loadOwned(c)
	if !ok {
		return
	}
	fh, err := c.FormFile("image")
	if err != nil {
		response.BadRequest(c, "image file required")
		return
	}
	if fh.Size > storage.MaxImageSize {
		response.BadRequest(c, "image too large")
		return
	}
	ct := storage.ImageContentType(fh.Header.Get("Content-Type"), fh.Filename)
	if ct == "" {
		response.BadRequest(c, "unsupported image type")
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.BadRequest(c, "unreadable image")
		return
	}
	defer f.Close()

	key := storage.EventImageKey(e.ID.String(), uuid.NewString(), ct)
	if err := h.images.Upload(c.Request.Context(), key, ct, f, fh.Size); err != nil {
		h.logger.Error("upload event image", zap.Error(err))
		response.Internal(c, "failed to upload image")
		return
	}
	if err := h.store.SetImage(c.Request.Context(), e.ID, key); err != nil {
		h.logger.Error("save event image key", zap.Error(err))
		response.Internal(c, "failed to save image")
		return
	}
	if e.ImageKey != "" {
		if err := h.images.Delete(c.Request.Context(), e.ImageKey); err != nil {
			h.logger.Warn("delete replaced event image", zap.Error(err), zap.String("key", e.ImageKey))
		}
	}
	response.OK(c, gin.H{"image_key": key})
}

// ImageURL handles GET /events/:id/image-url.
func (h *Handler) ImageURL(c *gin.Context) {
	if h.images == nil {
		response.ServiceUnavailable(c, "image storage not configured")
		return
	}
	e, ok := h.load(c)
	if !ok {
		return
	}
	if e.ImageKey == "" {
		response.NotFound(c, "event has no image")
		return
	}
	url, err := h.images.PresignedURL(c.Request.Context(), e.ImageKey)
	if err != nil {
		h.logger.Error("presign event image", zap.Error(err))
		response.Internal(c, "failed to sign image url")
		return
	}
	response.OK(c, gin.H{"url": url})
}

func (h *Handler) load(c *gin.Context) (*models.Event, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return nil, false
	}
	e, err := h.store.GetByID(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "event not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("get event", zap.Error(err), zap.String("event_id", id.String()))
		response.Internal(c, "failed to load event")
		return nil, false
	}
	return e, true
}

func (h *Handler) loadOwned(c *gin.Context) (*models.Event, bool) {
	e, ok := h.load(c)
	if !ok {
		return nil, false
	}
	if c.MustGet(middleware.ContextUserID).(uuid.UUID) != e.CreatedBy {
		response.Forbidden(c, "only the event creator can do this")
		return nil, false
	}
	return e, true
}
