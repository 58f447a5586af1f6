package sse

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ignite-rpg/ignite-api/cache"
	"github.com/ignite-rpg/ignite-api/config"
	mw "github.com/ignite-rpg/ignite-api/middleware"
	"github.com/ignite-rpg/ignite-api/model"
	"github.com/ignite-rpg/ignite-api/social"
	"github.com/ignite-rpg/ignite-api/testutil"
	"github.com/ignite-rpg/ignite-api/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var sec = config.SecurityConfig{JWTSecret: "test-secret", JWTTTLH: time.Hour}

type sseEnv struct {
	srv   *httptest.Server
	c     cache.Cache
	ps    cache.PubSub
	alice *model.User
}

func newSSEEnv(t *testing.T) *sseEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	h := NewHandler(ps, c, sec, user.NewDirectory(db, c, zap.NewNop()), zap.NewNop())
	h.keepalive = 50 * time.Millisecond

	r := gin.New()
	r.GET("/api/social/events", h.ServeEvents)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &sseEnv{srv: srv, c: c, ps: ps, alice: testutil.CreateUser(t, db)}
}

func (e *sseEnv) token(t *testing.T, u *model.User) string {
	t.Helper()
	token, err := mw.GenerateToken(u.ID, u.Role, sec.JWTSecret, sec.JWTTTLH)
	require.NoError(t, err)
	require.NoError(t, e.c.Set(context.Background(), mw.SessionKey(token), u.ID, time.Hour))
	return token
}

// open connects and returns a channel of the stream's lines.
func (e *sseEnv) open(t *testing.T, token string) (<-chan string, *http.Response) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.srv.URL+"/api/social/events?token="+token, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return lines, resp
}

func waitFor(t *testing.T, lines <-chan string, want string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed before %q", want)
			if strings.HasPrefix(line, want) {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestServeEvents_RejectsMissingToken(t *testing.T) {
	e := newSSEEnv(t)
	resp, err := http.Get(e.srv.URL + "/api/social/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeEvents_RejectsLoggedOutToken(t *testing.T) {
	e := newSSEEnv(t)
	token := e.token(t, e.alice)
	require.NoError(t, e.c.Del(context.Background(), mw.SessionKey(token)))

	resp, err := http.Get(e.srv.URL + "/api/social/events?token=" + token)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeEvents_StreamsNotifications(t *testing.T) {
	e := newSSEEnv(t)
	lines, resp := e.open(t, e.token(t, e.alice))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	waitFor(t, lines, "event: connected")

	payload := `{"type":"friend_request","relationship_id":"r1"}`
	require.NoError(t, e.ps.Publish(context.Background(), social.ChannelFor(e.alice.ID), payload))

	waitFor(t, lines, "event: relationship")
	waitFor(t, lines, "data: "+payload)
}

func TestServeEvents_Keepalive(t *testing.T) {
	e := newSSEEnv(t)
	lines, _ := e.open(t, e.token(t, e.alice))
	waitFor(t, lines, "event: connected")
	waitFor(t, lines, ": keepalive")
}
