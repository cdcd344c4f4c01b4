package sqlite

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gladhopper/fd/internal/port"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	journal, err := NewJournal(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })
	return journal
}

func TestJournal_RecordAndRecent(t *testing.T) {
	journal := newTestJournal(t)

	require.NoError(t, journal.Record(port.Attempt{
		Source:   "clip",
		Position: 12.5,
		Profile:  "medium",
		Outcome:  "ok",
		Attempts: 1,
		Duration: 150 * time.Millisecond,
	}))
	require.NoError(t, journal.Record(port.Attempt{
		Source:   "clip",
		Position: 12.6,
		Profile:  "medium",
		Outcome:  "error",
		Error:    "decode timeout",
		Attempts: 4,
		Duration: 40 * time.Second,
	}))

	attempts, err := journal.Recent(10)
	require.NoError(t, err)
	require.Len(t, attempts, 2)

	// Newest first.
	assert.Equal(t, "error", attempts[0].Outcome)
	assert.Equal(t, "decode timeout", attempts[0].Error)
	assert.Equal(t, 4, attempts[0].Attempts)
	assert.Equal(t, "ok", attempts[1].Outcome)
	assert.Equal(t, 150*time.Millisecond, attempts[1].Duration)
	assert.InDelta(t, 12.5, attempts[1].Position, 1e-9)
	assert.False(t, attempts[1].CreatedAt.IsZero())
}

func TestJournal_RecentHonorsLimit(t *testing.T) {
	journal := newTestJournal(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, journal.Record(port.Attempt{Source: "clip", Outcome: "ok", Attempts: 1}))
	}
	attempts, err := journal.Recent(3)
	require.NoError(t, err)
	assert.Len(t, attempts, 3)
}

func TestJournal_EmptyRecent(t *testing.T) {
	journal := newTestJournal(t)

	attempts, err := journal.Recent(10)
	require.NoError(t, err)
	assert.Empty(t, attempts)
}

func TestJournal_PruneRemovesOldRows(t *testing.T) {
	journal := newTestJournal(t)

	old := port.Attempt{Source: "clip", Outcome: "ok", Attempts: 1,
		CreatedAt: time.Now().UTC().Add(-48 * time.Hour)}
	fresh := port.Attempt{Source: "clip", Outcome: "ok", Attempts: 1}
	require.NoError(t, journal.Record(old))
	require.NoError(t, journal.Record(fresh))

	require.NoError(t, journal.Prune(24*time.Hour))

	attempts, err := journal.Recent(10)
	require.NoError(t, err)
	assert.Len(t, attempts, 1)
}

func TestJournal_ReopenKeepsRows(t *testing.T) {
	dir := t.TempDir()

	journal, err := NewJournal(dir)
	require.NoError(t, err)
	require.NoError(t, journal.Record(port.Attempt{Source: "clip", Outcome: "ok", Attempts: 1}))
	require.NoError(t, journal.Close())

	reopened, err := NewJournal(dir)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	attempts, err := reopened.Recent(10)
	require.NoError(t, err)
	assert.Len(t, attempts, 1)
}
