package model

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	UserStatusActive = "active"
	UserStatusBanned = "banned"
)

// User is an application account. FriendCode is the shareable handle other
// users type in to send a friend request; it never changes once assigned.
type User struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Username     string    `gorm:"uniqueIndex;size:32;not null" json:"username"`
	DisplayName  string    `gorm:"size:64;not null" json:"display_name"`
	FriendCode   string    `gorm:"uniqueIndex;size:17;not null" json:"friend_code"`
	PasswordHash string    `gorm:"size:72;not null" json:"-"`
	Role         string    `gorm:"size:16;not null;default:user" json:"role"`
	Status       string    `gorm:"size:16;not null;default:active" json:"status"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Banned reports whether the account has been disabled by an admin.
func (u *User) Banned() bool { return u.Status == UserStatusBanned }
