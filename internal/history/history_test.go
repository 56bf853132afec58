package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_RecentNewestFirst(t *testing.T) {
	m := NewMemory(3)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, m.Send(ctx, Run{ID: id, Outcome: OutcomeCompleted}))
	}

	runs, err := m.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3, "oldest run evicted")
	assert.Equal(t, "d", runs[0].ID)
	assert.Equal(t, "b", runs[2].ID)

	runs, err = m.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "d", runs[0].ID)
	require.NoError(t, m.Close())
}

func TestMemory_ImplementsStore(t *testing.T) {
	var _ Store = NewMemory(0)
}
