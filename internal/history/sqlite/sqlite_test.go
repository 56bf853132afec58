package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/specsync/internal/contract"
	"github.com/loykin/specsync/internal/history"
)

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	sink, err := New("sqlite://" + dbPath)
	require.NoError(t, err)
	defer func() { require.NoError(t, sink.Close()) }()

	ctx := context.Background()
	base := time.Now().Add(-time.Minute).UTC()

	require.NoError(t, sink.Send(ctx, history.Run{
		ID:         "run-1",
		StartedAt:  base,
		FinishedAt: base.Add(time.Second),
		Outcome:    history.OutcomeFailed,
		Hash:       "abc",
		Attempt:    1,
		Error:      "generate: exit status 1",
	}))
	require.NoError(t, sink.Send(ctx, history.Run{
		ID:         "run-2",
		StartedAt:  base.Add(2 * time.Second),
		FinishedAt: base.Add(3 * time.Second),
		Outcome:    history.OutcomeCompleted,
		Hash:       "abc",
		Attempt:    2,
		Changes: []contract.Change{{
			Kind: contract.KindAdded, Path: "paths./users.post", Description: "endpoint POST /users added", Severity: contract.SeverityMinor,
		}},
	}))

	runs, err := sink.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, history.OutcomeCompleted, runs[0].Outcome)
	require.Len(t, runs[0].Changes, 1)
	assert.Equal(t, "paths./users.post", runs[0].Changes[0].Path)
	assert.Empty(t, runs[0].Error)
	assert.True(t, runs[0].StartedAt.Equal(base.Add(2*time.Second)))

	assert.Equal(t, "run-1", runs[1].ID)
	assert.Equal(t, "generate: exit status 1", runs[1].Error)
	assert.Nil(t, runs[1].Changes)

	limited, err := sink.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLiteSink_MemoryDSN(t *testing.T) {
	sink, err := New(":memory:")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	var _ history.Store = sink
	runs, err := sink.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	_, err := New("  ")
	assert.Error(t, err)
}
