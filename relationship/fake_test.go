package relationship_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ignite-rpg/ignite-api/model"
	"github.com/ignite-rpg/ignite-api/relationship"
	"github.com/ignite-rpg/ignite-api/user"
)

// memRepo is an in-memory Repository with the same pair uniqueness and
// conditional-update semantics as the gorm one. Setting fail makes every call
// return it wrapped in ErrStoreUnavailable.
type memRepo struct {
	mu   sync.Mutex
	rows map[string]*model.Relationship
	fail error
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[string]*model.Relationship)}
}

func (m *memRepo) failing() error {
	if m.fail != nil {
		return errors.Join(relationship.ErrStoreUnavailable, m.fail)
	}
	return nil
}

func (m *memRepo) pair(p relationship.Pair) *model.Relationship {
	for _, r := range m.rows {
		if r.UserAID == p.First && r.UserBID == p.Second {
			return r
		}
	}
	return nil
}

func clone(r *model.Relationship) *model.Relationship {
	if r == nil {
		return nil
	}
	c := *r
	if r.BlockedBy != nil {
		b := *r.BlockedBy
		c.BlockedBy = &b
	}
	return &c
}

func (m *memRepo) FindPair(_ context.Context, p relationship.Pair) (*model.Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing(); err != nil {
		return nil, err
	}
	return clone(m.pair(p)), nil
}

func (m *memRepo) FindByID(_ context.Context, id string) (*model.Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing(); err != nil {
		return nil, err
	}
	return clone(m.rows[id]), nil
}

func (m *memRepo) Insert(_ context.Context, rel *model.Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing(); err != nil {
		return err
	}
	if m.pair(relationship.Pair{First: rel.UserAID, Second: rel.UserBID}) != nil {
		return relationship.ErrDuplicatePair
	}
	now := time.Now()
	rel.CreatedAt, rel.UpdatedAt = now, now
	m.rows[rel.ID] = clone(rel)
	return nil
}

func (m *memRepo) Transition(_ context.Context, id string, from, to model.RelationshipStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing(); err != nil {
		return false, err
	}
	r, ok := m.rows[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	r.UpdatedAt = time.Now()
	return true, nil
}

func (m *memRepo) DeleteIfStatus(_ context.Context, id string, status model.RelationshipStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing(); err != nil {
		return false, err
	}
	r, ok := m.rows[id]
	if !ok || r.Status != status {
		return false, nil
	}
	delete(m.rows, id)
	return true, nil
}

func (m *memRepo) ListForUser(_ context.Context, userID string, status model.RelationshipStatus) ([]model.Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing(); err != nil {
		return nil, err
	}
	out := []model.Relationship{}
	for _, r := range m.rows {
		if !r.Involves(userID) || (status != "" && r.Status != status) {
			continue
		}
		out = append(out, *clone(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memRepo) UpsertBlocked(_ context.Context, rel *model.Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failing(); err != nil {
		return err
	}
	if existing := m.pair(relationship.Pair{First: rel.UserAID, Second: rel.UserBID}); existing != nil {
		existing.Status = rel.Status
		existing.BlockedBy = clone(rel).BlockedBy
		existing.UpdatedAt = time.Now()
		return nil
	}
	now := time.Now()
	rel.CreatedAt, rel.UpdatedAt = now, now
	m.rows[rel.ID] = clone(rel)
	return nil
}

func (m *memRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// fakeDirectory resolves users from a fixed map.
type fakeDirectory map[string]*model.User

func (d fakeDirectory) FindByID(_ context.Context, id string) (*model.User, error) {
	u, ok := d[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

// downDirectory fails every lookup as if its database were unreachable.
type downDirectory struct{}

var errDirectoryDown = errors.New("connection refused")

func (downDirectory) FindByID(context.Context, string) (*model.User, error) {
	return nil, errDirectoryDown
}
