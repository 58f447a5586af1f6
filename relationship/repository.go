package relationship

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ignite-rpg/ignite-api/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/plugin/dbresolver"
)

// Repository is the row store behind Store. Lookups return (nil, nil) when no
// row matches. Infrastructure failures are reported as ErrStoreUnavailable.
type Repository interface {
	FindPair(ctx context.Context, p Pair) (*model.Relationship, error)
	FindByID(ctx context.Context, id string) (*model.Relationship, error)
	// Insert fails with ErrDuplicatePair when the pair already has a row.
	Insert(ctx context.Context, rel *model.Relationship) error
	// Transition sets status to `to` only if it is currently `from`.
	Transition(ctx context.Context, id string, from, to model.RelationshipStatus) (bool, error)
	// DeleteIfStatus deletes the row only if its status is `status`.
	DeleteIfStatus(ctx context.Context, id string, status model.RelationshipStatus) (bool, error)
	ListForUser(ctx context.Context, userID string, status model.RelationshipStatus) ([]model.Relationship, error)
	// UpsertBlocked inserts rel, or on a pair conflict overwrites the existing
	// row's status and blocked_by with rel's, in one statement.
	UpsertBlocked(ctx context.Context, rel *model.Relationship) error
}

// GormRepository is the gorm-backed Repository.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a GormRepository on db.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// FindPair reads from the primary: callers act on the result immediately and
// a lagging replica could hide a row that was just written.
func (r *GormRepository) FindPair(ctx context.Context, p Pair) (*model.Relationship, error) {
	var rel model.Relationship
	err := r.db.WithContext(ctx).Clauses(dbresolver.Write).
		Where("user_a_id = ? AND user_b_id = ?", p.First, p.Second).
		Take(&rel).Error
	return found(&rel, err, "find pair")
}

func (r *GormRepository) FindByID(ctx context.Context, id string) (*model.Relationship, error) {
	var rel model.Relationship
	err := r.db.WithContext(ctx).Clauses(dbresolver.Write).
		Where("id = ?", id).
		Take(&rel).Error
	return found(&rel, err, "find by id")
}

func (r *GormRepository) Insert(ctx context.Context, rel *model.Relationship) error {
	if err := r.db.WithContext(ctx).Create(rel).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePair
		}
		return unavailable("insert", err)
	}
	return nil
}

func (r *GormRepository) Transition(ctx context.Context, id string, from, to model.RelationshipStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Relationship{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now()})
	if res.Error != nil {
		return false, unavailable("transition", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *GormRepository) DeleteIfStatus(ctx context.Context, id string, status model.RelationshipStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, status).
		Delete(&model.Relationship{})
	if res.Error != nil {
		return false, unavailable("delete", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *GormRepository) ListForUser(ctx context.Context, userID string, status model.RelationshipStatus) ([]model.Relationship, error) {
	q := r.db.WithContext(ctx).Where("(user_a_id = ? OR user_b_id = ?)", userID, userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var rels []model.Relationship
	if err := q.Order("created_at ASC").Find(&rels).Error; err != nil {
		return nil, unavailable("list", err)
	}
	return rels, nil
}

func (r *GormRepository) UpsertBlocked(ctx context.Context, rel *model.Relationship) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_a_id"}, {Name: "user_b_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "blocked_by", "updated_at"}),
	}).Create(rel).Error
	if err != nil {
		return unavailable("upsert blocked", err)
	}
	return nil
}

func found(rel *model.Relationship, err error, op string) (*model.Relationship, error) {
	if err == nil {
		return rel, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, unavailable(op, err)
}

// isUniqueViolation covers drivers whose errors gorm does not translate.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate entry") ||
		strings.Contains(msg, "duplicate key")
}
