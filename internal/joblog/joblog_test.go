package joblog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/splice/pkg/types"
)

func strPtr(s string) *string { return &s }

func TestLog_NewestFirstAndEviction(t *testing.T) {
	l := New(3)
	for id := types.JobID(1); id <= 5; id++ {
		l.Start(Entry{ID: id, DocumentID: "a.go"})
		require.NoError(t, l.Finish(id, Outcome{Status: types.StatusSucceeded}))
	}

	entries := l.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, []types.JobID{5, 4, 3}, []types.JobID{entries[0].ID, entries[1].ID, entries[2].ID})

	_, ok := l.Get(1)
	assert.False(t, ok, "oldest entries are evicted")
	assert.ErrorIs(t, l.Finish(2, Outcome{Status: types.StatusSucceeded}), ErrUnknownEntry)
}

func TestLog_RunningEntriesSurviveEviction(t *testing.T) {
	l := New(2)
	for id := types.JobID(1); id <= 3; id++ {
		l.Start(Entry{ID: id})
	}
	assert.Equal(t, 3, l.Len(), "running entries are never evicted")

	require.NoError(t, l.Finish(1, Outcome{Status: types.StatusSucceeded}))
	e, ok := l.Get(1)
	require.True(t, ok)
	assert.Equal(t, types.StatusSucceeded, e.Status)

	// The next start makes room by dropping finished entries only.
	l.Start(Entry{ID: 4})
	_, ok = l.Get(1)
	assert.False(t, ok)
	assert.Equal(t, 3, l.Len())

	require.NoError(t, l.Finish(2, Outcome{Status: types.StatusCancelled}))
	require.NoError(t, l.Finish(3, Outcome{Status: types.StatusNoChange}))
	l.Start(Entry{ID: 5})

	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, []types.JobID{5, 4}, []types.JobID{entries[0].ID, entries[1].ID})
}

func TestLog_FinishExactlyOnce(t *testing.T) {
	l := New(10)
	started := time.Now().Add(-time.Second)
	l.Start(Entry{ID: 7, Prompt: "p", StartedAt: started, BytesSent: 1})

	e, ok := l.Get(7)
	require.True(t, ok)
	assert.Equal(t, types.StatusRunning, e.Status)
	assert.False(t, e.Finished())
	assert.Zero(t, e.Duration())

	require.NoError(t, l.Finish(7, Outcome{
		Status:        types.StatusParseFailed,
		RawResponse:   "raw",
		Error:         strPtr("no fenced code block"),
		BytesReceived: 3,
	}))
	err := l.Finish(7, Outcome{Status: types.StatusSucceeded, RawResponse: "other"})
	assert.ErrorIs(t, err, ErrAlreadyFinished)

	e, _ = l.Get(7)
	assert.Equal(t, types.StatusParseFailed, e.Status)
	assert.Equal(t, "raw", e.RawResponse)
	assert.Nil(t, e.ParsedCode)
	assert.Equal(t, 3, e.BytesReceived)
	assert.Greater(t, e.Duration(), time.Duration(0))
}

func TestLog_EntriesAreCopies(t *testing.T) {
	l := New(0)
	assert.Equal(t, DefaultCapacity, l.Capacity())

	l.Start(Entry{ID: 1})
	entries := l.Entries()
	entries[0].Prompt = "mutated"

	e, _ := l.Get(1)
	assert.Empty(t, e.Prompt)
	assert.Equal(t, 1, l.Len())
}
