package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite-rpg/ignite-api/cache"
	"github.com/ignite-rpg/ignite-api/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no user matches the lookup.
var ErrNotFound = errors.New("user: not found")

const profileTTL = 10 * time.Minute

func profileKey(id string) string { return "user:" + id }

// Directory resolves users by id or friend code. Profiles read by id are
// cached as a hash under user:<id>; the cache only ever holds fields that
// cannot change without an explicit Invalidate call.
type Directory struct {
	db     *gorm.DB
	cache  cache.Cache
	logger *zap.Logger
}

// NewDirectory creates a Directory. c may be nil to disable caching.
func NewDirectory(db *gorm.DB, c cache.Cache, logger *zap.Logger) *Directory {
	return &Directory{db: db, cache: c, logger: logger}
}

// FindByID returns the user with the given id.
func (d *Directory) FindByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	if u := d.cached(ctx, id); u != nil {
		return u, nil
	}

	var u model.User
	if err := d.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("user: find by id: %w", err)
	}
	d.store(ctx, &u)
	return &u, nil
}

// FindByFriendCode returns the user owning code. The code is normalized first.
func (d *Directory) FindByFriendCode(ctx context.Context, code string) (*model.User, error) {
	code = NormalizeFriendCode(code)
	if !ValidFriendCode(code) {
		return nil, ErrNotFound
	}
	var u model.User
	if err := d.db.WithContext(ctx).Where("friend_code = ?", code).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("user: find by friend code: %w", err)
	}
	return &u, nil
}

// FindByIDs returns the users found for ids keyed by id. Missing ids are
// simply absent from the result.
func (d *Directory) FindByIDs(ctx context.Context, ids []string) (map[string]*model.User, error) {
	result := make(map[string]*model.User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var users []model.User
	if err := d.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("user: find by ids: %w", err)
	}
	for i := range users {
		result[users[i].ID] = &users[i]
	}
	return result, nil
}

// Invalidate drops the cached profile for id. Call after changing a user row.
func (d *Directory) Invalidate(ctx context.Context, id string) {
	if d.cache == nil {
		return
	}
	if err := d.cache.Del(ctx, profileKey(id)); err != nil {
		d.logger.Warn("profile cache invalidate failed", zap.String("user_id", id), zap.Error(err))
	}
}

func (d *Directory) cached(ctx context.Context, id string) *model.User {
	if d.cache == nil {
		return nil
	}
	h, err := d.cache.HGetAll(ctx, profileKey(id))
	if err != nil || len(h) == 0 {
		return nil
	}
	created, err := time.Parse(time.RFC3339Nano, h["created_at"])
	if err != nil {
		return nil
	}
	updated, err := time.Parse(time.RFC3339Nano, h["updated_at"])
	if err != nil {
		return nil
	}
	return &model.User{
		ID:          id,
		Username:    h["username"],
		DisplayName: h["display_name"],
		FriendCode:  h["friend_code"],
		Role:        h["role"],
		Status:      h["status"],
		CreatedAt:   created,
		UpdatedAt:   updated,
	}
}

func (d *Directory) store(ctx context.Context, u *model.User) {
	if d.cache == nil {
		return
	}
	err := d.cache.HSetAll(ctx, profileKey(u.ID), map[string]string{
		"username":     u.Username,
		"display_name": u.DisplayName,
		"friend_code":  u.FriendCode,
		"role":         u.Role,
		"status":       u.Status,
		"created_at":   u.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":   u.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}, profileTTL)
	if err != nil {
		d.logger.Warn("profile cache write failed", zap.String("user_id", u.ID), zap.Error(err))
	}
}
