package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ignite-rpg/ignite-api/cache"
	"github.com/ignite-rpg/ignite-api/config"
	"github.com/ignite-rpg/ignite-api/model"
)

const (
	UserIDKey = "user_id"
	RoleKey   = "role"
	TokenKey  = "token"
)

var (
	ErrMissingToken    = errors.New("missing token")
	ErrInvalidToken    = errors.New("invalid token")
	ErrSessionExpired  = errors.New("session expired")
	ErrAccountDisabled = errors.New("account disabled")
)

// UserResolver looks up the account a token belongs to.
type UserResolver interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// SessionKey is the cache key that keeps a token alive until logout.
func SessionKey(token string) string { return "session:" + token }

// Authenticate validates tokenStr, its session and the account behind it.
// Tokens of deleted or banned users are rejected even if the session is live.
func Authenticate(ctx context.Context, tokenStr string, sec config.SecurityConfig, c cache.Cache, users UserResolver) (*model.User, error) {
	if tokenStr == "" {
		return nil, ErrMissingToken
	}
	claims, err := ParseToken(tokenStr, sec.JWTSecret)
	if err != nil {
		return nil, ErrInvalidToken
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	exists, err := c.Exists(cacheCtx, SessionKey(tokenStr))
	if err != nil || !exists {
		return nil, ErrSessionExpired
	}

	u, err := users.FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if u.Banned() {
		return nil, ErrAccountDisabled
	}
	return u, nil
}

// Auth validates the Bearer JWT, the session cache entry and the account.
func Auth(sec config.SecurityConfig, c cache.Cache, users UserResolver) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrMissingToken.Error()})
			return
		}
		tokenStr := strings.TrimPrefix(header, "Bearer ")

		u, err := Authenticate(ctx.Request.Context(), tokenStr, sec, c, users)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, ErrAccountDisabled) {
				status = http.StatusForbidden
			}
			ctx.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
			return
		}

		ctx.Set(UserIDKey, u.ID)
		ctx.Set(RoleKey, u.Role)
		ctx.Set(TokenKey, tokenStr)
		ctx.Next()
	}
}

// RequireRole rejects authenticated callers whose role differs from role.
// It must run after Auth.
func RequireRole(role string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if GetRole(ctx) != role {
			ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		ctx.Next()
	}
}

// GetUserID retrieves the authenticated user ID from the Gin context.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// GetRole extracts the role set by Auth.
func GetRole(c *gin.Context) string {
	return c.GetString(RoleKey)
}

// GetToken returns the bearer token of the current request.
func GetToken(c *gin.Context) string {
	return c.GetString(TokenKey)
}
