// Package social orchestrates friend requests on top of the relationship
// store: it resolves users, applies the request preconditions, records
// audit entries and notifies the counterpart.
package social

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ignite-rpg/ignite-api/audit"
	"github.com/ignite-rpg/ignite-api/cache"
	"github.com/ignite-rpg/ignite-api/metrics"
	"github.com/ignite-rpg/ignite-api/model"
	"github.com/ignite-rpg/ignite-api/relationship"
	"github.com/ignite-rpg/ignite-api/user"
	"go.uber.org/zap"
)

// ErrUserNotFound is returned for an unknown, banned or malformed target.
// It matches relationship.ErrNotFound under errors.Is.
var ErrUserNotFound = fmt.Errorf("%w: user", relationship.ErrNotFound)

// Directory resolves users by id or friend code.
type Directory interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByFriendCode(ctx context.Context, code string) (*model.User, error)
	FindByIDs(ctx context.Context, ids []string) (map[string]*model.User, error)
}

// Auditor receives one entry per successful mutation.
type Auditor interface {
	Log(entry audit.Entry)
}

// ChannelFor is the pub/sub channel carrying notifications for userID.
func ChannelFor(userID string) string { return "relationships:" + userID }

// Service owns no state; every call is a sequence of store round trips.
type Service struct {
	store  *relationship.Store
	users  Directory
	audit  Auditor
	ps     cache.PubSub
	logger *zap.Logger
}

// NewService creates a Service. auditor and ps may be nil.
func NewService(store *relationship.Store, users Directory, auditor Auditor, ps cache.PubSub, logger *zap.Logger) *Service {
	return &Service{store: store, users: users, audit: auditor, ps: ps, logger: logger}
}

// SendRequestByCode sends a friend request to the owner of code.
func (s *Service) SendRequestByCode(ctx context.Context, callerID, code string) (*model.Relationship, error) {
	target, err := s.users.FindByFriendCode(ctx, code)
	if err != nil {
		s.count(opRequest, err)
		return nil, s.userErr(err)
	}
	return s.SendRequest(ctx, callerID, target.ID)
}

// SendRequest sends a friend request from callerID to targetID. Any existing
// row between the two, whatever its status or direction, prevents it.
func (s *Service) SendRequest(ctx context.Context, callerID, targetID string) (rel *model.Relationship, err error) {
	start := time.Now()
	defer func() { s.count(opRequest, err) }()

	if callerID == targetID {
		return nil, relationship.ErrInvalidPair
	}
	caller, err := s.resolve(ctx, callerID)
	if err != nil {
		return nil, err
	}
	target, err := s.resolve(ctx, targetID)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.FindBetween(ctx, caller.ID, target.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, relationship.ErrDuplicatePair
	}

	rel, err = s.store.CreateRequest(ctx, caller.ID, target.ID, caller.FriendCode, target.FriendCode)
	if err != nil {
		return nil, err
	}
	s.record(ctx, start, audit.ActionFriendRequest, caller.ID, target.ID, map[string]string{"target_id": target.ID}, rel)
	s.notify(ctx, target.ID, Notification{
		Type:           NotifyRequestReceived,
		RelationshipID: rel.ID,
		From:           summarize(caller),
	})
	return rel, nil
}

// Respond accepts or rejects the pending request relID on behalf of callerID.
func (s *Service) Respond(ctx context.Context, callerID, relID string, action relationship.Action) (res relationship.Response, err error) {
	start := time.Now()
	defer func() { s.count(opRespond, err) }()

	res, err = s.store.Respond(ctx, relID, callerID, action)
	if err != nil {
		return relationship.Response{}, err
	}

	other := res.Relationship.Other(callerID)
	auditAction, notifyType := audit.ActionFriendAccept, NotifyRequestAccepted
	if res.Removed {
		auditAction, notifyType = audit.ActionFriendReject, NotifyRequestRejected
	}
	s.record(ctx, start, auditAction, callerID, other, map[string]string{"relationship_id": relID, "action": string(action)}, res)
	s.notify(ctx, other, Notification{
		Type:           notifyType,
		RelationshipID: relID,
		From:           s.summaryOf(ctx, callerID),
	})
	return res, nil
}

// RemoveFriend ends the accepted friendship between callerID and targetID.
func (s *Service) RemoveFriend(ctx context.Context, callerID, targetID string) (err error) {
	start := time.Now()
	defer func() { s.count(opRemove, err) }()

	if err := s.store.Remove(ctx, callerID, targetID); err != nil {
		return err
	}
	s.record(ctx, start, audit.ActionFriendRemove, callerID, targetID, map[string]string{"target_id": targetID}, nil)
	s.notify(ctx, targetID, Notification{
		Type: NotifyFriendRemoved,
		From: s.summaryOf(ctx, callerID),
	})
	return nil
}

// BlockUser blocks targetID for callerID. The blocked user is not notified.
func (s *Service) BlockUser(ctx context.Context, callerID, targetID string) (rel *model.Relationship, err error) {
	start := time.Now()
	defer func() { s.count(opBlock, err) }()

	if callerID == targetID {
		return nil, relationship.ErrSelfBlock
	}
	if _, err := s.resolve(ctx, targetID); err != nil {
		return nil, err
	}
	rel, err = s.store.Block(ctx, callerID, targetID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	s.record(ctx, start, audit.ActionUserBlock, callerID, targetID, map[string]string{"target_id": targetID}, rel)
	return rel, nil
}

// ListFriends returns the caller's accepted friendships.
func (s *Service) ListFriends(ctx context.Context, callerID string) ([]FriendView, error) {
	rels, err := s.store.ListForUser(ctx, callerID, model.StatusAccepted)
	if err != nil {
		return nil, err
	}
	profiles, err := s.profiles(ctx, callerID, rels)
	if err != nil {
		return nil, err
	}
	out := make([]FriendView, 0, len(rels))
	for _, rel := range rels {
		out = append(out, FriendView{
			RelationshipID: rel.ID,
			User:           profiles.of(&rel, callerID),
			Since:          rel.UpdatedAt,
		})
	}
	return out, nil
}

// ListPendingRequests returns the caller's incoming and outgoing requests.
func (s *Service) ListPendingRequests(ctx context.Context, callerID string) (PendingView, error) {
	pending, err := s.store.ListPendingForUser(ctx, callerID)
	if err != nil {
		return PendingView{}, err
	}
	all := append(append([]model.Relationship{}, pending.Incoming...), pending.Outgoing...)
	profiles, err := s.profiles(ctx, callerID, all)
	if err != nil {
		return PendingView{}, err
	}
	view := func(rels []model.Relationship) []RequestView {
		out := make([]RequestView, 0, len(rels))
		for _, rel := range rels {
			out = append(out, RequestView{
				RelationshipID: rel.ID,
				User:           profiles.of(&rel, callerID),
				CreatedAt:      rel.CreatedAt,
			})
		}
		return out
	}
	return PendingView{Incoming: view(pending.Incoming), Outgoing: view(pending.Outgoing)}, nil
}

// ListBlocked returns the users the caller has blocked. Rows blocked by the
// other side are not listed.
func (s *Service) ListBlocked(ctx context.Context, callerID string) ([]BlockedView, error) {
	rels, err := s.store.ListForUser(ctx, callerID, model.StatusBlocked)
	if err != nil {
		return nil, err
	}
	mine := rels[:0]
	for _, rel := range rels {
		if rel.BlockedBy != nil && *rel.BlockedBy == callerID {
			mine = append(mine, rel)
		}
	}
	profiles, err := s.profiles(ctx, callerID, mine)
	if err != nil {
		return nil, err
	}
	out := make([]BlockedView, 0, len(mine))
	for _, rel := range mine {
		out = append(out, BlockedView{
			RelationshipID: rel.ID,
			User:           profiles.of(&rel, callerID),
			BlockedAt:      rel.UpdatedAt,
		})
	}
	return out, nil
}

// AreFriends reports whether x and y have an accepted friendship.
func (s *Service) AreFriends(ctx context.Context, x, y string) (bool, error) {
	if x == y {
		return false, nil
	}
	rel, err := s.store.FindBetween(ctx, x, y)
	if err != nil {
		return false, err
	}
	return rel != nil && rel.Status == model.StatusAccepted, nil
}

// resolve loads an active user or fails with ErrUserNotFound.
func (s *Service) resolve(ctx context.Context, id string) (*model.User, error) {
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, s.userErr(err)
	}
	if u.Banned() {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (s *Service) userErr(err error) error {
	if errors.Is(err, user.ErrNotFound) {
		return ErrUserNotFound
	}
	return fmt.Errorf("%w: %v", relationship.ErrStoreUnavailable, err)
}

func (s *Service) summaryOf(ctx context.Context, id string) UserSummary {
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		return UserSummary{ID: id}
	}
	return summarize(u)
}

type profileSet map[string]*model.User

// of returns the counterpart of callerID in rel, falling back to the friend
// code captured on the row when the user no longer resolves.
func (p profileSet) of(rel *model.Relationship, callerID string) UserSummary {
	id := rel.Other(callerID)
	if u, ok := p[id]; ok {
		return summarize(u)
	}
	return UserSummary{ID: id, FriendCode: rel.CodeOf(id)}
}

func (s *Service) profiles(ctx context.Context, callerID string, rels []model.Relationship) (profileSet, error) {
	ids := make([]string, 0, len(rels))
	for _, rel := range rels {
		ids = append(ids, rel.Other(callerID))
	}
	users, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", relationship.ErrStoreUnavailable, err)
	}
	return users, nil
}

func (s *Service) record(ctx context.Context, start time.Time, action, userID, targetID string, req, resp interface{}) {
	if s.audit == nil {
		return
	}
	meta := MetaFrom(ctx)
	s.audit.Log(audit.Entry{
		TraceID:    meta.TraceID,
		IP:         meta.IP,
		UserID:     userID,
		TargetID:   targetID,
		Action:     action,
		Request:    req,
		Response:   resp,
		DurationMs: int(time.Since(start).Milliseconds()),
	})
}

// notify publishes n on the user's channel. Failures are logged, never returned.
func (s *Service) notify(ctx context.Context, userID string, n Notification) {
	if s.ps == nil {
		return
	}
	n.At = time.Now().UTC()
	payload, err := json.Marshal(n)
	if err != nil {
		s.logger.Error("notification encode failed", zap.Error(err))
		return
	}
	if err := s.ps.Publish(ctx, ChannelFor(userID), string(payload)); err != nil {
		metrics.NotificationsDropped.Inc()
		s.logger.Warn("notification publish failed",
			zap.String("user_id", userID),
			zap.String("type", n.Type),
			zap.Error(err))
	}
}

const (
	opRequest = "request"
	opRespond = "respond"
	opRemove  = "remove"
	opBlock   = "block"
)

func (s *Service) count(op string, err error) {
	metrics.RecordRelationshipOp(op, ResultOf(err))
}

// ResultOf maps an error to a short label used in metrics.
func ResultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, relationship.ErrStoreUnavailable):
		return "unavailable"
	case errors.Is(err, relationship.ErrInvalidPair):
		return "invalid_pair"
	case errors.Is(err, relationship.ErrDuplicatePair):
		return "duplicate"
	case errors.Is(err, relationship.ErrSelfResponse):
		return "self_response"
	case errors.Is(err, relationship.ErrForbiddenTransition):
		return "forbidden"
	case errors.Is(err, relationship.ErrNotPending):
		return "not_pending"
	case errors.Is(err, relationship.ErrNotFriends):
		return "not_friends"
	case errors.Is(err, relationship.ErrSelfBlock):
		return "self_block"
	case errors.Is(err, relationship.ErrNotFound):
		return "not_found"
	case errors.Is(err, relationship.ErrInvalidAction):
		return "invalid_action"
	}
	return "error"
}
