package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ignite-rpg/ignite-api/model"
	"gorm.io/gorm"
)

// ErrUsernameTaken is returned by Register when the username is in use.
var ErrUsernameTaken = errors.New("user: username already taken")

const friendCodeAttempts = 5

// Register creates a user with a freshly generated friend code. A friend code
// collision is retried with a new code; a username collision is reported as
// ErrUsernameTaken.
func (d *Directory) Register(ctx context.Context, username, displayName, passwordHash string) (*model.User, error) {
	if strings.TrimSpace(displayName) == "" {
		displayName = username
	}
	for attempt := 0; attempt < friendCodeAttempts; attempt++ {
		code, err := GenerateFriendCode()
		if err != nil {
			return nil, err
		}
		u := &model.User{
			ID:           uuid.NewString(),
			Username:     username,
			DisplayName:  displayName,
			FriendCode:   code,
			PasswordHash: passwordHash,
			Role:         model.RoleUser,
			Status:       model.UserStatusActive,
		}
		err = d.db.WithContext(ctx).Create(u).Error
		if err == nil {
			return u, nil
		}
		if !isDuplicate(err) {
			return nil, fmt.Errorf("user: register: %w", err)
		}
		taken, lookupErr := d.usernameExists(ctx, username)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if taken {
			return nil, ErrUsernameTaken
		}
	}
	return nil, fmt.Errorf("user: register: no free friend code after %d attempts", friendCodeAttempts)
}

// FindByUsername loads the full row, including the password hash, for login.
func (d *Directory) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	if err := d.db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("user: find by username: %w", err)
	}
	return &u, nil
}

// SetStatus changes the account status (active/banned) and drops the cached
// profile so the auth middleware sees the change on the next request.
func (d *Directory) SetStatus(ctx context.Context, id, status string) error {
	res := d.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("user: set status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	d.Invalidate(ctx, id)
	return nil
}

func (d *Directory) usernameExists(ctx context.Context, username string) (bool, error) {
	var n int64
	if err := d.db.WithContext(ctx).Model(&model.User{}).Where("username = ?", username).Count(&n).Error; err != nil {
		return false, fmt.Errorf("user: check username: %w", err)
	}
	return n > 0, nil
}

// isDuplicate detects unique violations. gorm translates most drivers'
// errors to ErrDuplicatedKey; the message check covers the rest.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "already exists")
}
