package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ignite-rpg/ignite-api/cache"
	"github.com/ignite-rpg/ignite-api/config"
	"github.com/ignite-rpg/ignite-api/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubUsers map[string]*model.User

func (s stubUsers) FindByID(_ context.Context, id string) (*model.User, error) {
	if u, ok := s[id]; ok {
		return u, nil
	}
	return nil, errors.New("not found")
}

var testUsers = stubUsers{
	"u-42":    {ID: "u-42", Role: model.RoleUser, Status: model.UserStatusActive},
	"u-admin": {ID: "u-admin", Role: model.RoleAdmin, Status: model.UserStatusActive},
	"u-ban":   {ID: "u-ban", Role: model.RoleUser, Status: model.UserStatusBanned},
}

var testSec = config.SecurityConfig{JWTSecret: "secret", JWTTTLH: time.Hour}

func setupTestCache(t *testing.T) cache.Cache {
	t.Helper()
	c, err := cache.NewCache(cache.CacheConfig{})
	require.NoError(t, err)
	return c
}

func newProtectedRouter(c cache.Cache) *gin.Engine {
	r := gin.New()
	r.Use(Auth(testSec, c, testUsers))
	r.GET("/protected", func(ctx *gin.Context) {
		ctx.String(http.StatusOK, GetUserID(ctx))
	})
	return r
}

// login issues a token for userID and opens its session.
func login(t *testing.T, c cache.Cache, userID string) string {
	t.Helper()
	token, err := GenerateToken(userID, "", testSec.JWTSecret, time.Hour)
	require.NoError(t, err)
	require.NoError(t, c.Set(context.Background(), SessionKey(token), userID, time.Hour))
	return token
}

func doGet(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth_MissingAuthHeader(t *testing.T) {
	r := newProtectedRouter(setupTestCache(t))
	assert.Equal(t, http.StatusUnauthorized, doGet(r, "/protected", "").Code)
}

func TestAuth_NoBearer(t *testing.T) {
	r := newProtectedRouter(setupTestCache(t))
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Token abc123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_InvalidToken(t *testing.T) {
	r := newProtectedRouter(setupTestCache(t))
	assert.Equal(t, http.StatusUnauthorized, doGet(r, "/protected", "notavalidtoken").Code)
}

func TestAuth_SessionExpired(t *testing.T) {
	r := newProtectedRouter(setupTestCache(t))

	// Valid JWT but no session in cache.
	token, err := GenerateToken("u-42", "user", testSec.JWTSecret, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, doGet(r, "/protected", token).Code)
}

func TestAuth_ValidToken(t *testing.T) {
	c := setupTestCache(t)
	r := newProtectedRouter(c)

	w := doGet(r, "/protected", login(t, c, "u-42"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u-42", w.Body.String())
}

func TestAuth_UnknownUser(t *testing.T) {
	c := setupTestCache(t)
	r := newProtectedRouter(c)
	assert.Equal(t, http.StatusUnauthorized, doGet(r, "/protected", login(t, c, "u-deleted")).Code)
}

func TestAuth_BannedUser(t *testing.T) {
	c := setupTestCache(t)
	r := newProtectedRouter(c)
	assert.Equal(t, http.StatusForbidden, doGet(r, "/protected", login(t, c, "u-ban")).Code)
}

func TestAuth_RoleComesFromAccount(t *testing.T) {
	c := setupTestCache(t)
	r := gin.New()
	r.Use(Auth(testSec, c, testUsers))
	r.GET("/admin", RequireRole(model.RoleAdmin), func(ctx *gin.Context) {
		ctx.Status(http.StatusOK)
	})

	// The token claims no role; the stored account decides.
	assert.Equal(t, http.StatusOK, doGet(r, "/admin", login(t, c, "u-admin")).Code)
	assert.Equal(t, http.StatusForbidden, doGet(r, "/admin", login(t, c, "u-42")).Code)
}

func TestAuthenticate(t *testing.T) {
	c := setupTestCache(t)
	ctx := context.Background()

	_, err := Authenticate(ctx, "", testSec, c, testUsers)
	assert.ErrorIs(t, err, ErrMissingToken)

	u, err := Authenticate(ctx, login(t, c, "u-42"), testSec, c, testUsers)
	require.NoError(t, err)
	assert.Equal(t, "u-42", u.ID)

	_, err = Authenticate(ctx, login(t, c, "u-ban"), testSec, c, testUsers)
	assert.ErrorIs(t, err, ErrAccountDisabled)
}

func TestGetUserID_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, "", GetUserID(c))
	assert.Equal(t, "", GetRole(c))
}

func TestGetUserID_Present(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Set(UserIDKey, "u-99")
	assert.Equal(t, "u-99", GetUserID(c))
}

func TestRecovery_CatchesPanic(t *testing.T) {
	r := gin.New()
	r.Use(TraceID())
	r.Use(Recovery(zap.NewNop()))
	r.GET("/panic", func(c *gin.Context) {
		panic("test panic")
	})

	w := doGet(r, "/panic", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), w.Header().Get(TraceIDHeader))
}

func TestRecovery_NoPanic_PassesThrough(t *testing.T) {
	r := gin.New()
	r.Use(Recovery(zap.NewNop()))
	r.GET("/ok", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	assert.Equal(t, http.StatusOK, doGet(r, "/ok", "").Code)
}

func TestLogger_RequestLogged(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	r := gin.New()
	r.Use(TraceID())
	r.Use(Logger(logger))
	r.GET("/ping", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	assert.Equal(t, http.StatusOK, doGet(r, "/ping", "").Code)
}

func TestLogger_ErrorResponse(t *testing.T) {
	r := gin.New()
	r.Use(Logger(zap.NewNop()))
	r.GET("/fail", func(c *gin.Context) {
		_ = c.Error(errors.New("boom"))
		c.Status(http.StatusInternalServerError)
	})
	assert.Equal(t, http.StatusInternalServerError, doGet(r, "/fail", "").Code)
}

func TestMetrics_PassesThrough(t *testing.T) {
	r := gin.New()
	r.Use(Metrics("test"))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	assert.Equal(t, http.StatusNoContent, doGet(r, "/ok", "").Code)
	assert.Equal(t, http.StatusNotFound, doGet(r, "/missing", "").Code)
}
