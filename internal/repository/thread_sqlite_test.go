package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stylemate-rest-api/internal/model"
)

func openThreadRepo(t *testing.T) *SQLiteThreadRepository {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLiteThreadRepository(db)
}

func TestGetThreadScopedToOwner(t *testing.T) {
	repo := openThreadRepo(t)
	ctx := context.Background()

	thread, err := repo.CreateThread(ctx, "alice")
	require.NoError(t, err)

	got, err := repo.GetThread(ctx, "alice", thread.ID)
	require.NoError(t, err)
	assert.Equal(t, thread.ID, got.ID)

	// Another user's lookup is indistinguishable from a missing thread.
	_, err = repo.GetThread(ctx, "bob", thread.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.GetThread(ctx, "alice", "no-such-thread")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListMessagesReturnsRecentWindowOldestFirst(t *testing.T) {
	repo := openThreadRepo(t)
	ctx := context.Background()

	thread, err := repo.CreateThread(ctx, "alice")
	require.NoError(t, err)

	contents := []string{"one", "two", "three", "four", "five"}
	for _, c := range contents {
		require.NoError(t, repo.AppendMessage(ctx, &model.ChatMessage{
			ThreadID: thread.ID,
			Role:     model.RoleUser,
			Content:  c,
		}))
	}

	msgs, err := repo.ListMessages(ctx, thread.ID, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "three", msgs[0].Content)
	assert.Equal(t, "four", msgs[1].Content)
	assert.Equal(t, "five", msgs[2].Content)
}

func TestResolvePendingIsExactlyOnce(t *testing.T) {
	repo := openThreadRepo(t)
	ctx := context.Background()

	thread, err := repo.CreateThread(ctx, "alice")
	require.NoError(t, err)

	pending := &model.ChatMessage{
		ThreadID: thread.ID,
		Role:     model.RoleAssistant,
		Pending:  true,
		Metadata: model.MessageMetadata{
			PredictionID:  "pred-1",
			MetricKey:     model.MetricStylistVision,
			PeriodKey:     "2025-06-01",
			BurstKey:      "2025-06-15T10",
			ReservedUnits: 1,
		},
	}
	require.NoError(t, repo.AppendMessage(ctx, pending))

	got, err := repo.LatestPending(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, pending.ID, got.ID)
	assert.Equal(t, "pred-1", got.Metadata.PredictionID)

	meta := got.Metadata
	resolved, err := repo.ResolvePending(ctx, pending.ID, "final reply", meta)
	require.NoError(t, err)
	assert.True(t, resolved, "first resolve wins the transition")

	// A racing second resolve must lose.
	resolved, err = repo.ResolvePending(ctx, pending.ID, "other reply", meta)
	require.NoError(t, err)
	assert.False(t, resolved)

	_, err = repo.LatestPending(ctx, thread.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	latest, err := repo.LatestAssistant(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, "final reply", latest.Content)
	assert.False(t, latest.Pending)
}
