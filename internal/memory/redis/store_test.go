package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuchat/backend/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := NewStore(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestAppendAndReadWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	turns := []domain.ConversationTurn{
		{Role: domain.RoleUser, Text: "hello", Timestamp: time.Now().UTC()},
		{Role: domain.RoleAssistant, Text: "hi there", Timestamp: time.Now().UTC()},
		{Role: domain.RoleUser, Text: "tell me more", Timestamp: time.Now().UTC()},
	}
	for _, turn := range turns {
		require.NoError(t, store.Append(ctx, "s1", turn))
	}

	got, err := store.ReadWindow(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := range turns {
		assert.Equal(t, turns[i].Role, got[i].Role)
		assert.Equal(t, turns[i].Text, got[i].Text)
	}
}

func TestReadWindowBoundsHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const maxTurns = 20
	total := maxTurns + 5
	for i := 0; i < total; i++ {
		require.NoError(t, store.Append(ctx, "s1", domain.ConversationTurn{
			Role: domain.RoleUser,
			Text: fmt.Sprintf("turn %d", i),
		}))
	}

	got, err := store.ReadWindow(ctx, "s1", maxTurns)
	require.NoError(t, err)
	require.Len(t, got, maxTurns)

	// Oldest-first window of the most recent turns.
	assert.Equal(t, "turn 5", got[0].Text)
	assert.Equal(t, fmt.Sprintf("turn %d", total-1), got[maxTurns-1].Text)
}

func TestUnknownSessionIsEmpty(t *testing.T) {
	store := newTestStore(t)

	got, err := store.ReadWindow(context.Background(), "never-seen", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSessionsAreIsolated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "a", domain.ConversationTurn{Role: domain.RoleUser, Text: "from a"}))
	require.NoError(t, store.Append(ctx, "b", domain.ConversationTurn{Role: domain.RoleUser, Text: "from b"}))

	gotA, err := store.ReadWindow(ctx, "a", 10)
	require.NoError(t, err)
	gotB, err := store.ReadWindow(ctx, "b", 10)
	require.NoError(t, err)

	require.Len(t, gotA, 1)
	require.Len(t, gotB, 1)
	assert.Equal(t, "from a", gotA[0].Text)
	assert.Equal(t, "from b", gotB[0].Text)
}
