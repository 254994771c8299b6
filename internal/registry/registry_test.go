package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/splice/pkg/types"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func newTestJob(id types.JobID, doc string, start, end int) types.Job {
	return types.Job{
		ID:         id,
		DocumentID: types.DocumentID(doc),
		StartLine:  start,
		EndLine:    end,
		Status:     types.StatusRunning,
	}
}

func assertRange(t *testing.T, r *Registry, id types.JobID, start, end int) {
	t.Helper()
	job, ok := r.Get(id)
	require.True(t, ok, "job %s not registered", id)
	assert.Equal(t, start, job.StartLine, "job %s start", id)
	assert.Equal(t, end, job.EndLine, "job %s end", id)
}

// ============================================================================
// Overlap
// ============================================================================

func TestRegister_OverlapRejected(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newTestJob(1, "a.go", 10, 20)))

	err := r.Register(newTestJob(2, "a.go", 15, 25))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOverlap))

	var overlap *OverlapError
	require.True(t, errors.As(err, &overlap))
	assert.Equal(t, types.JobID(1), overlap.Blocking.ID)

	_, ok := r.Get(2)
	assert.False(t, ok, "rejected job must not be registered")
}

func TestRegister_AdjacentRangesAccepted(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newTestJob(1, "a.go", 10, 20)))
	require.NoError(t, r.Register(newTestJob(2, "a.go", 21, 30)))
	assert.Equal(t, 2, r.Count("a.go"))
}

func TestRegister_OtherDocumentIndependent(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newTestJob(1, "a.go", 10, 20)))
	require.NoError(t, r.Register(newTestJob(2, "b.go", 10, 20)))
}

func TestRegister_Invalid(t *testing.T) {
	r := New()
	assert.ErrorIs(t, r.Register(newTestJob(1, "a.go", 5, 4)), ErrInvalidRange)
	assert.ErrorIs(t, r.Register(newTestJob(1, "a.go", 0, 4)), ErrInvalidRange)

	require.NoError(t, r.Register(newTestJob(1, "a.go", 1, 1)))
	assert.ErrorIs(t, r.Register(newTestJob(1, "b.go", 1, 1)), ErrDuplicateJob)
}

func TestOverlaps_InclusiveBounds(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newTestJob(1, "a.go", 10, 20)))

	cases := []struct {
		start, end int
		want       bool
	}{
		{1, 9, false},
		{1, 10, true},
		{20, 25, true},
		{21, 25, false},
		{12, 13, true},
		{5, 30, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, r.Overlaps("a.go", tc.start, tc.end), "[%d,%d]", tc.start, tc.end)
	}
	assert.False(t, r.Overlaps("b.go", 10, 20))
}

func TestRegister_ConcurrentOverlapOnlyOneWins(t *testing.T) {
	r := New()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if r.Register(newTestJob(types.JobID(id), "a.go", 10, 20)) == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 1, r.Len())
}

// ============================================================================
// Shift
// ============================================================================

func TestShiftAfter(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newTestJob(1, "a.go", 10, 20)))
	require.NoError(t, r.Register(newTestJob(2, "a.go", 30, 40)))
	require.NoError(t, r.Register(newTestJob(3, "a.go", 5, 9)))
	require.NoError(t, r.Register(newTestJob(4, "b.go", 30, 40)))

	// Job 1 shrank from 11 lines to 5.
	shifted := r.ShiftAfter(1, "a.go", 20, -6)

	assert.Equal(t, 1, shifted)
	assertRange(t, r, 1, 10, 20)
	assertRange(t, r, 2, 24, 34)
	assertRange(t, r, 3, 5, 9)
	assertRange(t, r, 4, 30, 40)
}

func TestShiftAfter_Growth(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newTestJob(1, "a.go", 1, 3)))
	require.NoError(t, r.Register(newTestJob(2, "a.go", 4, 4)))

	assert.Equal(t, 1, r.ShiftAfter(1, "a.go", 3, 7))
	assertRange(t, r, 2, 11, 11)

	// Shifted ranges keep participating in overlap checks.
	assert.True(t, r.Overlaps("a.go", 11, 11))
	assert.False(t, r.Overlaps("a.go", 4, 10))
}

func TestShiftAfter_ZeroDelta(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newTestJob(1, "a.go", 30, 40)))
	assert.Equal(t, 0, r.ShiftAfter(9, "a.go", 1, 0))
	assertRange(t, r, 1, 30, 40)
}

// ============================================================================
// Lookup
// ============================================================================

func TestDeregister(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newTestJob(1, "a.go", 1, 5)))

	assert.True(t, r.Deregister(1))
	assert.False(t, r.Deregister(1))
	assert.Equal(t, 0, r.Count("a.go"))
	assert.Equal(t, 0, r.Stats()["documents"])

	// The freed range can be claimed again.
	require.NoError(t, r.Register(newTestJob(2, "a.go", 1, 5)))
}

func TestNearest(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newTestJob(1, "a.go", 10, 20)))
	require.NoError(t, r.Register(newTestJob(2, "a.go", 30, 40)))

	job, ok := r.Nearest("a.go", 15)
	require.True(t, ok)
	assert.Equal(t, types.JobID(1), job.ID)

	job, ok = r.Nearest("a.go", 27)
	require.True(t, ok)
	assert.Equal(t, types.JobID(2), job.ID)

	job, ok = r.Nearest("a.go", 25)
	require.True(t, ok)
	assert.Equal(t, types.JobID(1), job.ID, "ties go to the earlier job")

	_, ok = r.Nearest("b.go", 1)
	assert.False(t, ok)
}

func TestJobsOrderedAndCopied(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newTestJob(2, "a.go", 30, 40)))
	require.NoError(t, r.Register(newTestJob(1, "a.go", 10, 20)))

	jobs := r.Jobs("a.go")
	require.Len(t, jobs, 2)
	assert.Equal(t, types.JobID(1), jobs[0].ID)

	jobs[0].StartLine = 99
	assertRange(t, r, 1, 10, 20)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, types.JobID(1), all[0].ID)
}

func TestStats(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newTestJob(1, "a.go", 1, 2)))
	require.NoError(t, r.Register(newTestJob(2, "b.go", 1, 2)))
	r.SetStatus(2, types.StatusPending)

	stats := r.Stats()
	assert.Equal(t, 1, stats["running"])
	assert.Equal(t, 1, stats["pending"])
	assert.Equal(t, 2, stats["documents"])
}
