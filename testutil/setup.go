package testutil

import (
	"fmt"
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/ignite-rpg/ignite-api/cache"
	dbsqlite "github.com/ignite-rpg/ignite-api/db/sqlite"
	"github.com/ignite-rpg/ignite-api/model"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// SetupTestDB creates an isolated in-memory SQLite DB and runs AutoMigrate.
// It requires no external services and is safe to use in parallel tests.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := dbsqlite.Open(dsn)
	require.NoError(t, err, "SetupTestDB: Open")

	sqlDB, err := db.DB()
	require.NoError(t, err, "SetupTestDB: DB")
	// A single connection keeps the in-memory database alive and serializes
	// writers, which SQLite needs anyway.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, model.AutoMigrate(db), "SetupTestDB: AutoMigrate")
	return db
}

// SetupTestCache creates LocalCache and LocalPubSub (no Redis required).
func SetupTestCache(t *testing.T) (cache.Cache, cache.PubSub) {
	t.Helper()
	cfg := cache.CacheConfig{} // empty RedisAddr → LocalCache
	c, err := cache.NewCache(cfg)
	require.NoError(t, err, "SetupTestCache: NewCache")
	ps, err := cache.NewPubSub(cfg)
	require.NoError(t, err, "SetupTestCache: NewPubSub")
	return c, ps
}

// TestPassword is the password CreateUser gives every account.
const TestPassword = "pass1234"

// CreateUser inserts a user with a generated username and a unique friend
// code. Callers may adjust fields through mutate before the insert.
func CreateUser(t *testing.T, db *gorm.DB, mutate ...func(*model.User)) *model.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
	require.NoError(t, err)

	u := &model.User{
		ID:           uuid.NewString(),
		Username:     UniqueUsername(),
		DisplayName:  gofakeit.Name(),
		FriendCode:   fmt.Sprintf("PI-%s-%s-%s", gofakeit.DigitN(4), gofakeit.DigitN(4), gofakeit.DigitN(4)),
		PasswordHash: string(hash),
		Role:         model.RoleUser,
		Status:       model.UserStatusActive,
	}
	for _, fn := range mutate {
		fn(u)
	}
	require.NoError(t, db.Create(u).Error, "CreateUser")
	return u
}

// UniqueUsername returns a plausible username that will not collide within a
// test run.
func UniqueUsername() string {
	name := strings.ToLower(gofakeit.Username())
	if len(name) > 20 {
		name = name[:20]
	}
	return fmt.Sprintf("%s_%s", name, uuid.NewString()[:8])
}
