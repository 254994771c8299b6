package journal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/splice/internal/joblog"
	"github.com/ChuLiYu/splice/pkg/types"
)

// ===== Test Helper Functions =====

func openTestJournal(t *testing.T, opts Options) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal", "jobs.jsonl")
	j, err := Open(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j, path
}

func entry(id types.JobID, status types.JobStatus) joblog.Entry {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return joblog.Entry{
		ID:            id,
		Status:        status,
		Mode:          "edit",
		DocumentID:    "main.go",
		Range:         types.LineRange{Start: 3, End: 7},
		StartedAt:     start,
		FinishedAt:    start.Add(1500 * time.Millisecond),
		BytesSent:     120,
		BytesReceived: 64,
	}
}

func replayAll(t *testing.T, path string) []Record {
	t.Helper()
	var out []Record
	require.NoError(t, Replay(path, func(r Record) error {
		out = append(out, r)
		return nil
	}))
	return out
}

// ===== Tests =====

func TestArchiveAndReplay(t *testing.T) {
	j, path := openTestJournal(t, Options{SyncOnAppend: true})

	require.NoError(t, j.Archive(entry(1, types.StatusSucceeded)))
	failed := entry(2, types.StatusBackendError)
	msg := "exit status 1: boom"
	failed.Error = &msg
	require.NoError(t, j.Archive(failed))

	records := replayAll(t, path)
	require.Len(t, records, 2)

	assert.Equal(t, uint64(1), records[0].Seq)
	assert.Equal(t, types.JobID(1), records[0].JobID)
	assert.Equal(t, types.StatusSucceeded, records[0].Status)
	assert.Equal(t, types.LineRange{Start: 3, End: 7}, records[0].Range)
	assert.Equal(t, 1500*time.Millisecond, records[0].Duration())
	assert.Empty(t, records[0].Error)

	assert.Equal(t, uint64(2), records[1].Seq)
	assert.Equal(t, "exit status 1: boom", records[1].Error)
	assert.True(t, Verify(records[1]))
}

func TestBufferedUntilFlush(t *testing.T) {
	j, path := openTestJournal(t, Options{BufferSize: 10, FlushInterval: time.Hour})

	require.NoError(t, j.Archive(entry(1, types.StatusSucceeded)))
	assert.Empty(t, replayAll(t, path), "records stay buffered below the threshold")

	require.NoError(t, j.Flush())
	assert.Len(t, replayAll(t, path), 1)
}

func TestFlushWhenBufferFull(t *testing.T) {
	j, path := openTestJournal(t, Options{BufferSize: 2, FlushInterval: time.Hour})

	require.NoError(t, j.Archive(entry(1, types.StatusSucceeded)))
	require.NoError(t, j.Archive(entry(2, types.StatusNoChange)))
	assert.Len(t, replayAll(t, path), 2)
}

func TestReopenResumesSeq(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.jsonl")

	j, err := Open(path, Options{})
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		require.NoError(t, j.Archive(entry(types.JobID(i), types.StatusSucceeded)))
	}
	require.NoError(t, j.Close())

	j, err = Open(path, Options{SyncOnAppend: true})
	require.NoError(t, err)
	defer j.Close()
	assert.Equal(t, uint64(3), j.LastSeq())

	seq, err := j.Append(Record{JobID: 1, Status: types.StatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), seq)
}

func TestClosedJournal(t *testing.T) {
	j, _ := openTestJournal(t, Options{})
	require.NoError(t, j.Close())
	require.NoError(t, j.Close(), "second close is a no-op")

	assert.ErrorIs(t, j.Archive(entry(1, types.StatusSucceeded)), ErrClosed)
	assert.ErrorIs(t, j.Flush(), ErrClosed)
}

func TestReplayMissingFile(t *testing.T) {
	called := false
	err := Replay(filepath.Join(t.TempDir(), "absent.jsonl"), func(Record) error {
		called = true
		return nil
	})
	assert.NoError(t, err)
	assert.False(t, called)
}

func TestReplayDetectsChecksumMismatch(t *testing.T) {
	j, path := openTestJournal(t, Options{SyncOnAppend: true})
	require.NoError(t, j.Archive(entry(1, types.StatusSucceeded)))
	require.NoError(t, j.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"succeeded"`, `"cancelled"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o644))

	err = Replay(path, func(Record) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	var ce *ChecksumError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, uint64(1), ce.Seq)
}

func TestReplayDetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{not json\n"), 0o644))

	err := Replay(path, func(Record) error { return nil })
	assert.ErrorIs(t, err, ErrCorrupted)

	_, err = Open(path, Options{})
	assert.ErrorIs(t, err, ErrCorrupted, "open refuses a corrupted file")
}

func TestTail(t *testing.T) {
	j, path := openTestJournal(t, Options{SyncOnAppend: true})
	for i := 1; i <= 5; i++ {
		require.NoError(t, j.Archive(entry(types.JobID(i), types.StatusSucceeded)))
	}

	recs, err := Tail(path, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, types.JobID(5), recs[0].JobID)
	assert.Equal(t, types.JobID(4), recs[1].JobID)

	all, err := Tail(path, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}
