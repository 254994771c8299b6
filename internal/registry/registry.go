// ============================================================================
// splice Selection Registry - in-flight job index
// ============================================================================
//
// Package: internal/registry
// File: registry.go
// Purpose: Track every non-terminal job by id and by document so that new
//          submissions can be checked for overlap and sibling ranges can be
//          shifted after an edit changes a document's line count.
//
// Data layout:
//   jobs  map[JobID]*Job                  - single source of truth
//   byDoc map[DocumentID]map[JobID]*Job   - per-document index for overlap/shift
//   Both point at the same *Job, so a shift is visible through either index.
//
// Invariants:
//   - No two registered jobs on one document have intersecting ranges.
//   - EndLine >= StartLine for every registered job.
//   - Register performs the overlap test and the insert under one lock, so
//     two back-to-back submissions for overlapping ranges cannot both pass.
//
// Concurrency:
//   sync.RWMutex; reads take RLock, mutations take Lock. The runner also
//   serialises its own calls, the lock keeps the registry safe on its own.
//
// ============================================================================

package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ChuLiYu/splice/pkg/types"
)

var (
	// ErrOverlap is returned when a submission intersects a running job.
	ErrOverlap = errors.New("registry: range overlaps an in-flight job")
	// ErrDuplicateJob is returned when the id is already registered.
	ErrDuplicateJob = errors.New("registry: job already registered")
	// ErrInvalidRange is returned for ranges with end before start.
	ErrInvalidRange = errors.New("registry: invalid line range")
)

// OverlapError names the job that blocked a submission.
type OverlapError struct {
	Blocking types.Job
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("registry: range overlaps job %s at lines %d-%d",
		e.Blocking.ID, e.Blocking.StartLine, e.Blocking.EndLine)
}

// Unwrap lets errors.Is(err, ErrOverlap) match.
func (e *OverlapError) Unwrap() error { return ErrOverlap }

// Registry is the in-memory table of in-flight jobs.
type Registry struct {
	mu    sync.RWMutex
	jobs  map[types.JobID]*types.Job
	byDoc map[types.DocumentID]map[types.JobID]*types.Job
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		jobs:  make(map[types.JobID]*types.Job),
		byDoc: make(map[types.DocumentID]map[types.JobID]*types.Job),
	}
}

// Overlaps reports whether any registered job on doc intersects [start, end].
//
// Concurrency-safe: read lock.
func (r *Registry) Overlaps(doc types.DocumentID, start, end int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, hit := r.overlapLocked(doc, start, end)
	return hit
}

func (r *Registry) overlapLocked(doc types.DocumentID, start, end int) (*types.Job, bool) {
	for _, job := range r.byDoc[doc] {
		if job.Overlaps(start, end) {
			return job, true
		}
	}
	return nil, false
}

// Register adds job to the registry after checking it against every job on
// the same document.
//
// Errors:
//   - ErrInvalidRange: EndLine < StartLine or StartLine < 1
//   - ErrDuplicateJob: id already present
//   - *OverlapError (matches ErrOverlap): intersecting range
//
// Concurrency-safe: the overlap test and the insert share one write lock.
func (r *Registry) Register(job types.Job) error {
	if job.StartLine < 1 || job.EndLine < job.StartLine {
		return fmt.Errorf("%w: %d-%d", ErrInvalidRange, job.StartLine, job.EndLine)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; exists {
		return ErrDuplicateJob
	}
	if blocking, hit := r.overlapLocked(job.DocumentID, job.StartLine, job.EndLine); hit {
		return &OverlapError{Blocking: *blocking}
	}

	stored := job
	r.jobs[job.ID] = &stored
	docJobs, ok := r.byDoc[job.DocumentID]
	if !ok {
		docJobs = make(map[types.JobID]*types.Job)
		r.byDoc[job.DocumentID] = docJobs
	}
	docJobs[job.ID] = &stored
	return nil
}

// Deregister removes a job. It reports whether the job was present, so a
// second call for the same id is a harmless no-op.
func (r *Registry) Deregister(id types.JobID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return false
	}
	delete(r.jobs, id)
	if docJobs := r.byDoc[job.DocumentID]; docJobs != nil {
		delete(docJobs, id)
		if len(docJobs) == 0 {
			delete(r.byDoc, job.DocumentID)
		}
	}
	return true
}

// SetStatus records the job's lifecycle state.
func (r *Registry) SetStatus(id types.JobID, status types.JobStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if ok {
		job.Status = status
	}
	return ok
}

// ShiftAfter moves every job on doc (except excluding) whose start line is
// strictly after boundary by delta lines. Jobs starting at or before the
// boundary are left alone. Returns the number of jobs shifted.
//
// Concurrency-safe: write lock.
func (r *Registry) ShiftAfter(excluding types.JobID, doc types.DocumentID, boundary, delta int) int {
	if delta == 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	shifted := 0
	for id, job := range r.byDoc[doc] {
		if id == excluding || job.StartLine <= boundary {
			continue
		}
		job.StartLine += delta
		job.EndLine += delta
		if job.StartLine < 1 {
			span := job.EndLine - job.StartLine
			job.StartLine = 1
			job.EndLine = 1 + span
		}
		shifted++
	}
	return shifted
}

// Get returns a copy of the job.
func (r *Registry) Get(id types.JobID) (types.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return types.Job{}, false
	}
	return *job, true
}

// Jobs returns copies of the jobs on doc ordered by start line.
func (r *Registry) Jobs(doc types.DocumentID) []types.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Job, 0, len(r.byDoc[doc]))
	for _, job := range r.byDoc[doc] {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartLine < out[j].StartLine })
	return out
}

// All returns copies of every registered job ordered by id.
func (r *Registry) All() []types.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Nearest resolves "the job under the cursor": a job whose range contains
// line wins; otherwise the job with the smallest line distance. Ties go to
// the job that starts first.
func (r *Registry) Nearest(doc types.DocumentID, line int) (types.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *types.Job
	bestDist := 0
	for _, job := range r.byDoc[doc] {
		dist := distance(job, line)
		if best == nil || dist < bestDist || (dist == bestDist && job.StartLine < best.StartLine) {
			best, bestDist = job, dist
		}
	}
	if best == nil {
		return types.Job{}, false
	}
	return *best, true
}

func distance(job *types.Job, line int) int {
	switch {
	case line < job.StartLine:
		return job.StartLine - line
	case line > job.EndLine:
		return line - job.EndLine
	default:
		return 0
	}
}

// Count returns how many jobs are registered on doc.
func (r *Registry) Count(doc types.DocumentID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byDoc[doc])
}

// Len returns the total number of registered jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Stats returns job counts keyed by status plus "documents".
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := map[string]int{
		string(types.StatusPending): 0,
		string(types.StatusRunning): 0,
		"documents":                 len(r.byDoc),
	}
	for _, job := range r.jobs {
		stats[string(job.Status)]++
	}
	return stats
}
