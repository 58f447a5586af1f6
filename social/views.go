package social

import (
	"context"
	"time"

	"github.com/ignite-rpg/ignite-api/model"
)

// UserSummary is the public identity of a counterpart.
type UserSummary struct {
	ID          string `json:"id"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	FriendCode  string `json:"friend_code"`
}

func summarize(u *model.User) UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName, FriendCode: u.FriendCode}
}

type FriendView struct {
	RelationshipID string      `json:"relationship_id"`
	User           UserSummary `json:"user"`
	Since          time.Time   `json:"since"`
}

type RequestView struct {
	RelationshipID string      `json:"relationship_id"`
	User           UserSummary `json:"user"`
	CreatedAt      time.Time   `json:"created_at"`
}

type PendingView struct {
	Incoming []RequestView `json:"incoming"`
	Outgoing []RequestView `json:"outgoing"`
}

type BlockedView struct {
	RelationshipID string      `json:"relationship_id"`
	User           UserSummary `json:"user"`
	BlockedAt      time.Time   `json:"blocked_at"`
}

// Notification types published on a user's relationship channel.
const (
	NotifyRequestReceived = "friend_request"
	NotifyRequestAccepted = "friend_accept"
	NotifyRequestRejected = "friend_reject"
	NotifyFriendRemoved   = "friend_remove"
)

type Notification struct {
	Type           string      `json:"type"`
	RelationshipID string      `json:"relationship_id,omitempty"`
	From           UserSummary `json:"from"`
	At             time.Time   `json:"at"`
}

// RequestMeta carries request details recorded with audit entries.
type RequestMeta struct {
	TraceID string
	IP      string
}

type metaKey struct{}

// WithRequestMeta attaches m to ctx for audit entries.
func WithRequestMeta(ctx context.Context, m RequestMeta) context.Context {
	return context.WithValue(ctx, metaKey{}, m)
}

// MetaFrom returns the RequestMeta stored in ctx, or the zero value.
func MetaFrom(ctx context.Context) RequestMeta {
	m, _ := ctx.Value(metaKey{}).(RequestMeta)
	return m
}
