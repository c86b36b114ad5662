package auth

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sampleday/backend/internal/models"
	"github.com/sampleday/backend/pkg/response"
)

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=6"`
	DisplayName string `json:"display_name" binding:"required"`
	Role        string `json:"role"`       // optional, defaults to user
	AdminCode   string `json:"admin_code"` // required when role is admin
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// UpdateProfileRequest is the body for PATCH /profile.
type UpdateProfileRequest struct {
	DisplayName string `json:"display_name"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token string            `json:"token"`
	User  models.UserPublic `json:"user"`
}

// ProfileResponse is the body of GET /profile.
type ProfileResponse struct {
	User     models.UserPublic `json:"user"`
	CheckIns int               `json:"check_ins"`
}

// UserStore is the persistence the handler needs.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, email, passwordHash, displayName string, role models.Role) (*models.User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, displayName, avatarKey string) (*models.User, error)
}

// CheckInCounter counts a user's recorded check-ins.
type CheckInCounter interface {
	CountByUser(ctx context.Context, userID uuid.UUID) (int, error)
}

// Handler handles auth and profile HTTP endpoints.
type Handler struct {
	repo      UserStore
	jwt       *JWTService
	checkins  CheckInCounter
	adminCode string
	logger    *zap.Logger
}

// NewHandler creates an auth handler. An empty adminCode disables admin sign-up.
func NewHandler(repo UserStore, jwt *JWTService, checkins CheckInCounter, adminCode string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, jwt: jwt, checkins: checkins, adminCode: adminCode, logger: logger}
}

// Register handles POST /auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	role := models.RoleUser
	switch req.Role {
	case "", "user":
	case "admin":
		if h.adminCode == "" || subtle.ConstantTimeCompare([]byte(req.AdminCode), []byte(h.adminCode)) != 1 {
			response.Forbidden(c, "admin sign-up not allowed")
			return
		}
		role = models.RoleAdmin
	default:
		response.BadRequest(c, "invalid role")
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		response.Internal(c, "failed to hash password")
		return
	}

	user, err := h.repo.Create(c.Request.Context(), req.Email, hash, req.DisplayName, role)
	if errors.Is(err, ErrEmailTaken) {
		response.Conflict(c, "email already registered")
		return
	}
	if err != nil {
		h.logger.Error("create user", zap.Error(err))
		response.Internal(c, "failed to create user")
		return
	}

	token, err := h.jwt.Generate(user.ID, user.Email, user.Role)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	h.logger.Info("user registered", zap.String("user_id", user.ID.String()), zap.String("role", string(role)))
	response.Created(c, TokenResponse{Token: token, User: user.ToPublic()})
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	user, err := h.repo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			h.logger.Error("lookup user", zap.Error(err))
		}
		response.Unauthorized(c, "invalid email or password")
		return
	}
	if !CheckPassword(req.Password, user.Password) {
		response.Unauthorized(c, "invalid email or password")
		return
	}

	token, err := h.jwt.Generate(user.ID, user.Email, user.Role)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	response.OK(c, TokenResponse{Token: token, User: user.ToPublic()})
}

// Profile handles GET /profile.
func (h *Handler) Profile(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	user, err := h.repo.GetByID(c.Request.Context(), userID)
	if errors.Is(err, ErrUserNotFound) {
		response.NotFound(c, "user not found")
		return
	}
	if err != nil {
		h.logger.Error("get profile", zap.Error(err))
		response.Internal(c, "failed to load profile")
		return
	}
	out := ProfileResponse{User: user.ToPublic()}
	if h.checkins != nil {
		n, err := h.checkins.CountByUser(c.Request.Context(), userID)
		if err != nil {
			h.logger.Warn("count check-ins", zap.Error(err), zap.String("user_id", userID.String()))
		}
		out.CheckIns = n
	}
	response.OK(c, out)
}

// UpdateProfile handles PATCH /profile.
func (h *Handler) UpdateProfile(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.DisplayName == "" {
		response.BadRequest(c, "display_name required")
		return
	}
	user, err := h.repo.UpdateProfile(c.Request.Context(), userID, req.DisplayName, "")
	if err != nil {
		h.logger.Error("update profile", zap.Error(err))
		response.Internal(c, "failed to update profile")
		return
	}
	response.OK(c, user.ToPublic())
}

// userIDKey mirrors middleware.ContextUserID; middleware imports this package.
const userIDKey = "user_id"

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(userIDKey)
	id, isID := v.(uuid.UUID)
	if !ok || !isID {
		response.Unauthorized(c, "missing user context")
		return uuid.Nil, false
	}
	return id, true
}
