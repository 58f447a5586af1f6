package relationship_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/ignite-rpg/ignite-api/model"
	"github.com/ignite-rpg/ignite-api/relationship"
	"github.com/ignite-rpg/ignite-api/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingRow(a, b string) *model.Relationship {
	return &model.Relationship{
		ID: uuid.NewString(), UserAID: a, UserBID: b,
		RequesterID: a, Status: model.StatusPending,
	}
}

func TestGormRepository_InsertDuplicate(t *testing.T) {
	repo := relationship.NewGormRepository(testutil.SetupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, pendingRow("a", "b")))
	assert.ErrorIs(t, repo.Insert(ctx, pendingRow("a", "b")), relationship.ErrDuplicatePair)
}

func TestGormRepository_TransitionIsConditional(t *testing.T) {
	repo := relationship.NewGormRepository(testutil.SetupTestDB(t))
	ctx := context.Background()
	row := pendingRow("a", "b")
	require.NoError(t, repo.Insert(ctx, row))

	ok, err := repo.Transition(ctx, row.ID, model.StatusPending, model.StatusAccepted)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Transition(ctx, row.ID, model.StatusPending, model.StatusAccepted)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.DeleteIfStatus(ctx, row.ID, model.StatusPending)
	require.NoError(t, err)
	assert.False(t, ok, "row is accepted, not pending")

	ok, err = repo.DeleteIfStatus(ctx, row.ID, model.StatusAccepted)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.FindByID(ctx, row.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGormRepository_UpsertBlocked(t *testing.T) {
	repo := relationship.NewGormRepository(testutil.SetupTestDB(t))
	ctx := context.Background()
	row := pendingRow("a", "b")
	require.NoError(t, repo.Insert(ctx, row))

	by := "b"
	require.NoError(t, repo.UpsertBlocked(ctx, &model.Relationship{
		ID: uuid.NewString(), UserAID: "a", UserBID: "b",
		RequesterID: "b", Status: model.StatusBlocked, BlockedBy: &by,
	}))

	got, err := repo.FindPair(ctx, relationship.Pair{First: "a", Second: "b"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, row.ID, got.ID)
	assert.Equal(t, model.StatusBlocked, got.Status)
	assert.Equal(t, "b", *got.BlockedBy)
	assert.Equal(t, "a", got.RequesterID, "requester is kept on conflict")
}

func TestGormRepository_Closed(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := relationship.NewGormRepository(db)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = repo.FindPair(context.Background(), relationship.Pair{First: "a", Second: "b"})
	assert.ErrorIs(t, err, relationship.ErrStoreUnavailable)
	assert.ErrorIs(t, repo.Insert(context.Background(), pendingRow("a", "b")), relationship.ErrStoreUnavailable)
}
