package rest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ignite-rpg/ignite-api/cache"
	"github.com/ignite-rpg/ignite-api/config"
	mw "github.com/ignite-rpg/ignite-api/middleware"
	"github.com/ignite-rpg/ignite-api/user"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AuthHandler handles authentication REST endpoints.
type AuthHandler struct {
	users  *user.Directory
	cache  cache.Cache
	sec    config.SecurityConfig
	logger *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(users *user.Directory, c cache.Cache, sec config.SecurityConfig, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{users: users, cache: c, sec: sec, logger: logger}
}

type registerRequest struct {
	Username    string `json:"username"     binding:"required,min=2,max=32,username"`
	Password    string `json:"password"     binding:"required,min=8,max=64"`
	DisplayName string `json:"display_name" binding:"max=64"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required,min=2,max=32"`
	Password string `json:"password" binding:"required,max=64"`
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), h.bcryptCost())
	if err != nil {
		internalError(c, err)
		return
	}
	u, err := h.users.Register(c.Request.Context(), req.Username, req.DisplayName, string(hash))
	if errors.Is(err, user.ErrUsernameTaken) {
		c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
		return
	}
	if err != nil {
		internalError(c, err)
		return
	}

	token, err := h.issue(c.Request.Context(), u.ID, u.Role)
	if err != nil {
		internalError(c, err)
		return
	}
	h.logger.Info("user registered", zap.String("user_id", u.ID), zap.String("username", u.Username))
	c.JSON(http.StatusCreated, gin.H{"token": token, "user": u})
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	u, err := h.users.FindByUsername(c.Request.Context(), req.Username)
	if errors.Is(err, user.ErrNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err != nil {
		internalError(c, err)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if u.Banned() {
		c.JSON(http.StatusForbidden, gin.H{"error": "account banned"})
		return
	}

	token, err := h.issue(c.Request.Context(), u.ID, u.Role)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user_id": u.ID})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, mw.SessionKey(mw.GetToken(c)))
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Refresh handles POST /api/auth/refresh. The presented token stops working
// once the new one is issued.
func (h *AuthHandler) Refresh(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, mw.SessionKey(mw.GetToken(c)))

	token, err := h.issue(ctx, mw.GetUserID(c), mw.GetRole(c))
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// Me handles GET /api/me.
func (h *AuthHandler) Me(c *gin.Context) {
	u, err := h.users.FindByID(c.Request.Context(), mw.GetUserID(c))
	if errors.Is(err, user.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

func (h *AuthHandler) issue(ctx context.Context, userID, role string) (string, error) {
	token, err := mw.GenerateToken(userID, role, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.cache.Set(ctx, mw.SessionKey(token), userID, h.sec.JWTTTLH); err != nil {
		return "", err
	}
	return token, nil
}

func (h *AuthHandler) bcryptCost() int {
	if h.sec.BcryptCost < bcrypt.MinCost {
		return bcrypt.MinCost
	}
	return h.sec.BcryptCost
}
