// Package relationship owns the friendship rows between users: pair
// normalization, the pending/accepted/blocked lifecycle and its invariants.
package relationship

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ignite-rpg/ignite-api/model"
	"github.com/ignite-rpg/ignite-api/user"
)

// Action is a response to a pending request.
type Action string

const (
	ActionAccept Action = "accept"
	ActionReject Action = "reject"
)

// Valid reports whether a is accept or reject.
func (a Action) Valid() bool { return a == ActionAccept || a == ActionReject }

// Directory resolves users for the store. Only Block needs it, to capture
// friend codes on a row it creates. Unknown ids return user.ErrNotFound.
type Directory interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// Response is the outcome of Respond. Accepting returns the updated row.
// Rejecting deletes the row, sets Removed and returns the deleted row as a
// tombstone.
type Response struct {
	Relationship *model.Relationship
	Removed      bool
}

// Pending splits a user's pending rows by direction.
type Pending struct {
	Incoming []model.Relationship
	Outgoing []model.Relationship
}

// Store applies the relationship state machine on top of a Repository.
// It holds no locks; concurrent writers are arbitrated by the repository's
// unique pair index and conditional updates.
type Store struct {
	repo  Repository
	users Directory
}

// NewStore creates a Store over repo. users resolves friend codes for Block.
func NewStore(repo Repository, users Directory) *Store {
	return &Store{repo: repo, users: users}
}

// FindBetween returns the row for x and y in either order, or nil if none.
func (s *Store) FindBetween(ctx context.Context, x, y string) (*model.Relationship, error) {
	p, err := NormalizePair(x, y)
	if err != nil {
		return nil, err
	}
	return s.repo.FindPair(ctx, p)
}

// CreateRequest inserts a pending row with fromID as the requester.
// A concurrent request for the same pair fails with ErrDuplicatePair.
func (s *Store) CreateRequest(ctx context.Context, fromID, toID, fromCode, toCode string) (*model.Relationship, error) {
	p, err := NormalizePair(fromID, toID)
	if err != nil {
		return nil, err
	}
	codeA, codeB := p.Codes(fromID, fromCode, toCode)
	rel := &model.Relationship{
		ID:          uuid.NewString(),
		UserAID:     p.First,
		UserBID:     p.Second,
		UserACode:   codeA,
		UserBCode:   codeB,
		RequesterID: fromID,
		Status:      model.StatusPending,
	}
	if err := s.repo.Insert(ctx, rel); err != nil {
		return nil, err
	}
	return rel, nil
}

// Respond accepts or rejects a pending request on behalf of actingID.
// The requester can never respond, whatever the row's state.
func (s *Store) Respond(ctx context.Context, relID, actingID string, action Action) (Response, error) {
	if !action.Valid() {
		return Response{}, ErrInvalidAction
	}
	rel, err := s.repo.FindByID(ctx, relID)
	if err != nil {
		return Response{}, err
	}
	if rel == nil {
		return Response{}, ErrNotFound
	}
	if !rel.Involves(actingID) {
		return Response{}, ErrForbiddenTransition
	}
	if rel.RequesterID == actingID {
		return Response{}, ErrSelfResponse
	}
	if rel.Status != model.StatusPending {
		return Response{}, ErrNotPending
	}

	if action == ActionReject {
		ok, err := s.repo.DeleteIfStatus(ctx, rel.ID, model.StatusPending)
		if err != nil {
			return Response{}, err
		}
		if !ok {
			return Response{}, ErrNotPending
		}
		return Response{Relationship: rel, Removed: true}, nil
	}

	ok, err := s.repo.Transition(ctx, rel.ID, model.StatusPending, model.StatusAccepted)
	if err != nil {
		return Response{}, err
	}
	if !ok {
		return Response{}, ErrNotPending
	}
	updated, err := s.repo.FindByID(ctx, rel.ID)
	if err != nil {
		return Response{}, err
	}
	if updated == nil {
		// Removed between the transition and the re-read.
		return Response{}, ErrNotPending
	}
	return Response{Relationship: updated}, nil
}

// Remove deletes an accepted friendship between x and y.
func (s *Store) Remove(ctx context.Context, x, y string) error {
	rel, err := s.FindBetween(ctx, x, y)
	if err != nil {
		return err
	}
	if rel == nil || rel.Status != model.StatusAccepted {
		return ErrNotFriends
	}
	ok, err := s.repo.DeleteIfStatus(ctx, rel.ID, model.StatusAccepted)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFriends
	}
	return nil
}

// resolve looks up one side of a block. Unknown users keep user.ErrNotFound;
// any other directory failure is a store outage.
func (s *Store) resolve(ctx context.Context, role, id string) (*model.User, error) {
	u, err := s.users.FindByID(ctx, id)
	if errors.Is(err, user.ErrNotFound) {
		return nil, fmt.Errorf("relationship: resolve %s user: %w", role, err)
	}
	if err != nil {
		return nil, unavailable("block", err)
	}
	return u, nil
}

// Block marks the pair as blocked by actingID, creating the row if needed.
// Blocking again is a no-op apart from blocked_by moving to the latest actor.
func (s *Store) Block(ctx context.Context, actingID, targetID string) (*model.Relationship, error) {
	if actingID == targetID {
		return nil, ErrSelfBlock
	}
	p, err := NormalizePair(actingID, targetID)
	if err != nil {
		return nil, err
	}
	actor, err := s.resolve(ctx, "blocking", actingID)
	if err != nil {
		return nil, err
	}
	target, err := s.resolve(ctx, "blocked", targetID)
	if err != nil {
		return nil, err
	}

	codeA, codeB := p.Codes(actingID, actor.FriendCode, target.FriendCode)
	blockedBy := actingID
	row := &model.Relationship{
		ID:          uuid.NewString(),
		UserAID:     p.First,
		UserBID:     p.Second,
		UserACode:   codeA,
		UserBCode:   codeB,
		RequesterID: actingID,
		Status:      model.StatusBlocked,
		BlockedBy:   &blockedBy,
	}
	if err := s.repo.UpsertBlocked(ctx, row); err != nil {
		return nil, err
	}
	rel, err := s.repo.FindPair(ctx, p)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, unavailable("block", fmt.Errorf("row for %s/%s vanished after upsert", p.First, p.Second))
	}
	return rel, nil
}

// ListForUser returns every row involving userID, optionally filtered by
// status. An empty status returns all rows.
func (s *Store) ListForUser(ctx context.Context, userID string, status model.RelationshipStatus) ([]model.Relationship, error) {
	return s.repo.ListForUser(ctx, userID, status)
}

// ListPendingForUser returns the user's pending rows split into requests they
// received and requests they sent.
func (s *Store) ListPendingForUser(ctx context.Context, userID string) (Pending, error) {
	rels, err := s.repo.ListForUser(ctx, userID, model.StatusPending)
	if err != nil {
		return Pending{}, err
	}
	out := Pending{Incoming: []model.Relationship{}, Outgoing: []model.Relationship{}}
	for _, rel := range rels {
		if rel.RequesterID == userID {
			out.Outgoing = append(out.Outgoing, rel)
		} else {
			out.Incoming = append(out.Incoming, rel)
		}
	}
	return out, nil
}
