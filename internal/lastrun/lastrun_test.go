package lastrun

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(cmd string, code int, at time.Time) Run {
	return Run{
		Command:    cmd,
		Dir:        "/work",
		ExitCode:   code,
		Stdout:     "ok\n",
		Stderr:     "warn: x\n",
		StartedAt:  at,
		FinishedAt: at.Add(1500 * time.Millisecond),
	}
}

func TestLastEmpty(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Last(context.Background())
	assert.ErrorIs(t, err, ErrNoRun)
}

func TestRecordAndLast(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	_, err := s.Record(ctx, sampleRun("go build ./...", 0, base))
	require.NoError(t, err)
	id, err := s.Record(ctx, sampleRun("go test ./...", 1, base.Add(time.Minute)))
	require.NoError(t, err)

	last, err := s.Last(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, last.ID)
	assert.Equal(t, "go test ./...", last.Command)
	assert.Equal(t, 1, last.ExitCode)
	assert.Equal(t, "warn: x\n", last.Stderr)
	assert.True(t, last.StartedAt.Equal(base.Add(time.Minute)))
	assert.Equal(t, 1500*time.Millisecond, last.Duration())

	out := last.Output()
	assert.Equal(t, "go test ./...", out.Command)
	assert.Equal(t, 1, out.ExitCode)
	assert.Equal(t, "ok\n", out.Stdout)
	assert.Equal(t, 1500*time.Millisecond, out.Duration)
}

func TestRecentAndPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now()
	for i := 0; i < 5; i++ {
		_, err := s.Record(ctx, sampleRun("make", i, base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}

	recent, err := s.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, 4, recent[0].ExitCode)
	assert.Equal(t, 2, recent[2].ExitCode)

	removed, err := s.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	all, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestReopenKeepsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.Record(context.Background(), sampleRun("cargo test", 101, time.Now()))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	last, err := s.Last(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cargo test", last.Command)
	assert.Equal(t, 101, last.ExitCode)
}

func TestInMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Record(context.Background(), sampleRun("true", 0, time.Now()))
	require.NoError(t, err)
	_, err = s.Last(context.Background())
	assert.NoError(t, err)
}

// ===== Exec =====

func TestExecCapturesAndStreams(t *testing.T) {
	var out, errOut bytes.Buffer
	run, err := Exec(context.Background(), []string{"/bin/sh", "-c", "echo hello; echo oops >&2; exit 3"}, t.TempDir(), &out, &errOut, 0)
	require.NoError(t, err)

	assert.Equal(t, 3, run.ExitCode)
	assert.Equal(t, "hello\n", run.Stdout)
	assert.Equal(t, "oops\n", run.Stderr)
	assert.Equal(t, "hello\n", out.String())
	assert.Equal(t, "oops\n", errOut.String())
	assert.True(t, strings.HasPrefix(run.Command, "/bin/sh -c"))
	assert.False(t, run.FinishedAt.Before(run.StartedAt))
}

func TestExecKeepsTail(t *testing.T) {
	run, err := Exec(context.Background(), []string{"/bin/sh", "-c", "printf 0123456789"}, "", nil, nil, 4)
	require.NoError(t, err)
	assert.Equal(t, 0, run.ExitCode)
	assert.Equal(t, "6789", run.Stdout)
}

func TestExecSpawnFailure(t *testing.T) {
	_, err := Exec(context.Background(), []string{"/definitely/not/here"}, "", nil, nil, 0)
	assert.Error(t, err)

	_, err = Exec(context.Background(), nil, "", nil, nil, 0)
	assert.Error(t, err)
}
