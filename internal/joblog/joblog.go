// Package joblog keeps the in-memory audit trail of recent jobs: a bounded
// ring of entries, newest first, that outlives the jobs themselves.
package joblog

import (
	"errors"
	"sync"
	"time"

	"github.com/ChuLiYu/splice/pkg/types"
)

// DefaultCapacity is the number of entries kept when none is configured.
const DefaultCapacity = 100

var (
	// ErrUnknownEntry is returned by Finish for ids not in the log.
	ErrUnknownEntry = errors.New("joblog: unknown entry")
	// ErrAlreadyFinished is returned when an entry is finished twice.
	ErrAlreadyFinished = errors.New("joblog: entry already finished")
)

// Entry is one job's audit record. It is created at job start and finished
// exactly once.
type Entry struct {
	ID            types.JobID      `json:"id"`
	Status        types.JobStatus  `json:"status"`
	Mode          string           `json:"mode"`
	DocumentID    types.DocumentID `json:"document_id"`
	Range         types.LineRange  `json:"range"`
	Prompt        string           `json:"prompt"`
	RawResponse   string           `json:"raw_response,omitempty"`
	ParsedCode    *string          `json:"parsed_code,omitempty"`
	Error         *string          `json:"error,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at,omitempty"`
	BytesSent     int              `json:"bytes_sent"`
	BytesReceived int              `json:"bytes_received"`
}

// Finished reports whether the entry has a terminal status.
func (e Entry) Finished() bool {
	return e.Status.Terminal()
}

// Duration is the wall time between start and finish.
func (e Entry) Duration() time.Duration {
	if e.FinishedAt.IsZero() {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

// Outcome carries the fields set when an entry is finished.
type Outcome struct {
	Status        types.JobStatus
	RawResponse   string
	ParsedCode    *string
	Error         *string
	BytesReceived int
	FinishedAt    time.Time
}

// Log is the bounded ring. Entries are kept oldest to newest; reads reverse
// the order. Only finished entries are evicted, so the log can hold more than
// its capacity while more jobs than that are running.
type Log struct {
	mu       sync.RWMutex
	capacity int
	entries  []*Entry
	index    map[types.JobID]*Entry
}

// New creates a log holding at most capacity finished entries.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		capacity: capacity,
		entries:  make([]*Entry, 0, capacity),
		index:    make(map[types.JobID]*Entry, capacity),
	}
}

// Start appends a new entry, evicting the oldest finished entries while the
// log is over capacity.
func (l *Log) Start(e Entry) {
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}
	if e.Status == "" {
		e.Status = types.StatusRunning
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	stored := e
	l.entries = append(l.entries, &stored)
	l.index[e.ID] = &stored
	l.evict()
}

// evict drops finished entries, oldest first, until the log fits (caller
// holds mu).
func (l *Log) evict() {
	excess := len(l.entries) - l.capacity
	if excess <= 0 {
		return
	}
	kept := l.entries[:0]
	for _, e := range l.entries {
		if excess > 0 && e.Finished() {
			delete(l.index, e.ID)
			excess--
			continue
		}
		kept = append(kept, e)
	}
	clear(l.entries[len(kept):])
	l.entries = kept
}

// Finish records the outcome for id. Unknown or evicted ids return
// ErrUnknownEntry; a second finish returns ErrAlreadyFinished and leaves the entry untouched.
func (l *Log) Finish(id types.JobID, out Outcome) error {
	if out.FinishedAt.IsZero() {
		out.FinishedAt = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.index[id]
	if !ok {
		return ErrUnknownEntry
	}
	if e.Finished() {
		return ErrAlreadyFinished
	}
	e.Status = out.Status
	e.RawResponse = out.RawResponse
	e.ParsedCode = out.ParsedCode
	e.Error = out.Error
	e.BytesReceived = out.BytesReceived
	e.FinishedAt = out.FinishedAt
	return nil
}

// Get returns a copy of the entry for id.
func (l *Log) Get(id types.JobID) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.index[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Entries returns copies of all entries, newest first.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, 0, len(l.entries))
	for i := len(l.entries) - 1; i >= 0; i-- {
		out = append(out, *l.entries[i])
	}
	return out
}

// Len returns the number of stored entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Capacity returns the ring size.
func (l *Log) Capacity() int {
	return l.capacity
}
