package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ignite-rpg/ignite-api/api/rest"
	"github.com/ignite-rpg/ignite-api/audit"
	"github.com/ignite-rpg/ignite-api/backup"
	"github.com/ignite-rpg/ignite-api/cache"
	"github.com/ignite-rpg/ignite-api/config"
	"github.com/ignite-rpg/ignite-api/model"
	"github.com/ignite-rpg/ignite-api/relationship"
	"github.com/ignite-rpg/ignite-api/scheduler"
	"github.com/ignite-rpg/ignite-api/social"
	"github.com/ignite-rpg/ignite-api/testutil"
	"github.com/ignite-rpg/ignite-api/user"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeMedia is an in-memory media.Store.
type fakeMedia struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	putErr  error
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{objects: make(map[string][]byte)}
}

func (m *fakeMedia) Put(_ context.Context, filename string, r io.Reader, folder string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return "", m.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	url := "https://media.test/" + folder + "/" + filename + "?v=" + time.Now().Format("150405.000000000")
	m.objects[url] = data
	return url, nil
}

func (m *fakeMedia) Delete(_ context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, url)
	m.deleted = append(m.deleted, url)
	return nil
}

func (m *fakeMedia) wasDeleted(url string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deleted {
		if d == url {
			return true
		}
	}
	return false
}

type env struct {
	r     *gin.Engine
	db    *gorm.DB
	cache cache.Cache
	ps    cache.PubSub
	users *user.Directory
	media *fakeMedia
	audit *audit.Service
	cfg   *config.Config
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ServiceName: "ignite-api-test"},
		Security: config.SecurityConfig{
			JWTSecret:  "test-secret",
			JWTTTLH:    72 * time.Hour,
			BcryptCost: 4,
		},
		Backup: config.BackupConfig{
			Dir:    t.TempDir(),
			Keep:   3,
			Tables: []string{"users", "relationships", "characters"},
		},
		Character: config.CharacterConfig{MaxPerUser: 3},
	}
}

// newEnv wires the full router against an in-memory database and local cache.
func newEnv(t *testing.T, mutate ...func(*config.Config)) *env {
	t.Helper()
	cfg := testConfig(t)
	for _, fn := range mutate {
		fn(cfg)
	}
	logger := zap.NewNop()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	users := user.NewDirectory(db, c, logger)

	auditSvc := audit.New(db, logger)
	t.Cleanup(func() { auditSvc.Stop(context.Background()) })
	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)

	store := relationship.NewStore(relationship.NewGormRepository(db), users)
	fm := newFakeMedia()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r := rest.NewRouter(ctx, rest.Deps{
		Config:    cfg,
		DB:        db,
		Cache:     c,
		PubSub:    ps,
		Users:     users,
		Social:    social.NewService(store, users, auditSvc, ps, logger),
		Media:     fm,
		Backups:   backup.New(db, c, cfg.Backup, logger),
		Scheduler: sched,
		Audit:     auditSvc,
		Logger:    logger,
	})
	return &env{r: r, db: db, cache: c, ps: ps, users: users, media: fm, audit: auditSvc, cfg: cfg}
}

func (e *env) user(t *testing.T, mutate ...func(*model.User)) *model.User {
	return testutil.CreateUser(t, e.db, mutate...)
}

// login signs u in with the shared test password and returns the token.
func (e *env) login(t *testing.T, u *model.User) string {
	t.Helper()
	w := postJSON(e.r, "/api/auth/login", map[string]string{
		"username": u.Username,
		"password": testutil.TestPassword,
	})
	require.Equal(t, http.StatusOK, w.Code, "login failed: %s", w.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Token
}

func postJSON(r http.Handler, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func doRequest(r http.Handler, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var rd io.Reader = http.NoBody
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}
