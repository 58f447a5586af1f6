package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/ignite-rpg/ignite-api/api/rest"
	"github.com/ignite-rpg/ignite-api/audit"
	"github.com/ignite-rpg/ignite-api/backup"
	"github.com/ignite-rpg/ignite-api/cache"
	"github.com/ignite-rpg/ignite-api/config"
	"github.com/ignite-rpg/ignite-api/media"
	"github.com/ignite-rpg/ignite-api/relationship"
	"github.com/ignite-rpg/ignite-api/scheduler"
	"github.com/ignite-rpg/ignite-api/social"
	"github.com/ignite-rpg/ignite-api/testutil"
	"github.com/ignite-rpg/ignite-api/user"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TestServer wraps a real HTTP server wired the same way as main.go, plus a
// stub media store that the real media client talks to.
type TestServer struct {
	DB     *gorm.DB
	Cache  cache.Cache
	PubSub cache.PubSub
	Audit  *audit.Service
	Media  *MediaStub
	Server *httptest.Server
	URL    string
	Config *config.Config
}

// NewTestServer creates a fully wired server for integration testing.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()
	stub := NewMediaStub(t)

	cfg := &config.Config{
		Server: config.ServerConfig{ServiceName: "ignite-api-it"},
		Security: config.SecurityConfig{
			JWTSecret:      "integration-test-secret",
			JWTTTLH:        72 * time.Hour,
			RateLimitRPS:   1000,
			RateLimitBurst: 2000,
			BcryptCost:     4,
		},
		Media: config.MediaConfig{
			BaseURL:         stub.URL,
			APIKey:          MediaAPIKey,
			Timeout:         5 * time.Second,
			BreakerFailures: 5,
			BreakerTimeout:  time.Second,
		},
		Backup: config.BackupConfig{
			Enabled: true,
			Dir:     t.TempDir(),
			Keep:    2,
			Tables:  []string{"users", "relationships", "characters"},
		},
		Character: config.CharacterConfig{MaxPerUser: 5},
	}

	auditSvc := audit.New(db, logger)
	sched := scheduler.New(logger)
	users := user.NewDirectory(db, c, logger)
	store := relationship.NewStore(relationship.NewGormRepository(db), users)

	ctx, cancel := context.WithCancel(context.Background())
	r := apirest.NewRouter(ctx, apirest.Deps{
		Config:    cfg,
		DB:        db,
		Cache:     c,
		PubSub:    pubsub,
		Users:     users,
		Social:    social.NewService(store, users, auditSvc, pubsub, logger),
		Media:     media.NewClient(cfg.Media, logger),
		Backups:   backup.New(db, c, cfg.Backup, logger),
		Scheduler: sched,
		Audit:     auditSvc,
		Logger:    logger,
	})

	server := httptest.NewServer(r)
	t.Cleanup(func() {
		server.Close()
		cancel()
		sched.Stop()
		auditSvc.Stop(context.Background())
	})

	return &TestServer{
		DB:     db,
		Cache:  c,
		PubSub: pubsub,
		Audit:  auditSvc,
		Media:  stub,
		Server: server,
		URL:    server.URL,
		Config: cfg,
	}
}

// --- HTTP helpers ---

// Do sends a request with an optional JSON body and Bearer token.
func (ts *TestServer) Do(t *testing.T, method, path string, body interface{}, token string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// PostJSON sends a POST request with JSON body and optional Bearer token.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.Do(t, http.MethodPost, path, body, token)
}

// Get sends a GET request with optional Bearer token.
func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.Do(t, http.MethodGet, path, nil, token)
}

// Upload posts a multipart form with a single "file" field.
func (ts *TestServer) Upload(t *testing.T, path, filename string, content []byte, token string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, ts.URL+path, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// ReadJSON reads and decodes a JSON response body into the given target.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// RequireStatus asserts the status code and closes the body.
func RequireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != want {
		data, _ := io.ReadAll(resp.Body)
		require.Equal(t, want, resp.StatusCode, "body: %s", string(data))
	}
}

// --- Account helpers ---

// Account is a registered user with a live token.
type Account struct {
	ID         string
	Username   string
	FriendCode string
	Token      string
}

// Register creates an account through the public API.
func (ts *TestServer) Register(t *testing.T, prefix string) Account {
	t.Helper()
	username := UniqueID(prefix)
	resp := ts.PostJSON(t, "/api/auth/register", map[string]string{
		"username": username,
		"password": "integration-pass",
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var result struct {
		Token string `json:"token"`
		User  struct {
			ID         string `json:"id"`
			FriendCode string `json:"friend_code"`
		} `json:"user"`
	}
	ReadJSON(t, resp, &result)
	return Account{ID: result.User.ID, Username: username, FriendCode: result.User.FriendCode, Token: result.Token}
}

// Login returns a fresh token for an existing account.
func (ts *TestServer) Login(t *testing.T, username, password string) string {
	t.Helper()
	resp := ts.PostJSON(t, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		Token string `json:"token"`
	}
	ReadJSON(t, resp, &result)
	return result.Token
}

// --- SSE client ---

// Event is one server-sent event.
type Event struct {
	Name string
	Data string
}

// OpenEvents subscribes to the caller's relationship notifications and
// returns once the stream has announced itself.
func (ts *TestServer) OpenEvents(t *testing.T, token string) <-chan Event {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/social/events?token="+token, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := make(chan Event, 32)
	go func() {
		defer resp.Body.Close()
		defer close(events)
		sc := bufio.NewScanner(resp.Body)
		var ev Event
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.Name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.Data = strings.TrimPrefix(line, "data: ")
			case line == "" && ev.Name != "":
				events <- ev
				ev = Event{}
			}
		}
	}()

	ev := NextEvent(t, events)
	require.Equal(t, "connected", ev.Name)
	return events
}

// NextEvent waits for the next named event.
func NextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

// --- Media stub ---

// MediaAPIKey is the bearer key the stub media store expects.
const MediaAPIKey = "media-test-key"

// MediaStub is an in-memory media store speaking the upload/delete protocol.
type MediaStub struct {
	URL string

	mu      sync.Mutex
	objects map[string]string // url -> folder
	deleted []string
	seq     int
}

// NewMediaStub starts the stub on an ephemeral port.
func NewMediaStub(t *testing.T) *MediaStub {
	t.Helper()
	m := &MediaStub{objects: make(map[string]string)}
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", m.upload)
	mux.HandleFunc("/delete", m.delete)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	m.URL = srv.URL
	return m
}

func (m *MediaStub) upload(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+MediaAPIKey {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	folder := r.FormValue("folder")
	_, fh, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	m.mu.Lock()
	m.seq++
	url := fmt.Sprintf("%s/objects/%s/%d-%s", m.URL, folder, m.seq, fh.Filename)
	m.objects[url] = folder
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"url": url})
}

func (m *MediaStub) delete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	url := r.URL.Query().Get("url")
	m.mu.Lock()
	delete(m.objects, url)
	m.deleted = append(m.deleted, url)
	m.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// Has reports whether url is currently stored.
func (m *MediaStub) Has(url string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[url]
	return ok
}

// --- Misc ---

var testCounter uint64

// UniqueID returns a unique username-safe string for test isolation.
func UniqueID(prefix string) string {
	n := atomic.AddUint64(&testCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano()%100000, n)
}
