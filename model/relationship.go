package model

import "time"

// RelationshipStatus is the state of a Relationship row.
type RelationshipStatus string

const (
	StatusPending  RelationshipStatus = "pending"
	StatusAccepted RelationshipStatus = "accepted"
	StatusBlocked  RelationshipStatus = "blocked"
)

// Valid reports whether s is one of the known statuses.
func (s RelationshipStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusBlocked:
		return true
	}
	return false
}

// Relationship is the single row describing how two users relate.
// UserAID is always the lexicographically smaller id of the pair, so an
// unordered pair maps to exactly one row.
type Relationship struct {
	ID          string             `gorm:"primaryKey;size:36" json:"id"`
	UserAID     string             `gorm:"uniqueIndex:idx_relationship_pair;index:idx_relationship_a;size:36;not null" json:"user_a_id"`
	UserBID     string             `gorm:"uniqueIndex:idx_relationship_pair;index:idx_relationship_b;size:36;not null" json:"user_b_id"`
	UserACode   string             `gorm:"size:17" json:"user_a_code"`
	UserBCode   string             `gorm:"size:17" json:"user_b_code"`
	RequesterID string             `gorm:"size:36;not null" json:"requester_id"`
	Status      RelationshipStatus `gorm:"size:16;not null;default:pending" json:"status"`
	BlockedBy   *string            `gorm:"size:36" json:"blocked_by"`
	CreatedAt   time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// Involves reports whether userID is one of the two participants.
func (r *Relationship) Involves(userID string) bool {
	return r.UserAID == userID || r.UserBID == userID
}

// Other returns the participant that is not userID.
func (r *Relationship) Other(userID string) string {
	if r.UserAID == userID {
		return r.UserBID
	}
	return r.UserAID
}

// CodeOf returns the friend code captured for userID when the row was created.
func (r *Relationship) CodeOf(userID string) string {
	if r.UserAID == userID {
		return r.UserACode
	}
	return r.UserBCode
}
