package server

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ChuLiYu/splice/internal/editor"
	"github.com/ChuLiYu/splice/internal/runner"
	"github.com/ChuLiYu/splice/pkg/types"
)

// Event kinds pushed to clients.
const (
	EventNotify   = "notify"
	EventEdit     = "edit"
	EventProgress = "progress"
)

// Event is one push message. Data is a runner.Notification, an editor.Edit
// or a ProgressUpdate depending on Kind.
type Event struct {
	Kind string `json:"event"`
	Data any    `json:"data"`
}

// ProgressUpdate starts or clears a job's progress indicator.
type ProgressUpdate struct {
	JobID      types.JobID      `json:"job_id"`
	Active     bool             `json:"active"`
	DocumentID types.DocumentID `json:"document_id,omitempty"`
	StartLine  int              `json:"start_line,omitempty"`
	EndLine    int              `json:"end_line,omitempty"`
	Mode       string           `json:"mode,omitempty"`
}

// DefaultSubscriberBuffer is the per-subscriber queue length.
const DefaultSubscriberBuffer = 256

// Hub fans runner and editor events out to subscribers. It implements
// runner.Notifier and runner.Progress; Progress calls arrive under the
// runner's lock, so publishing never blocks. A subscriber whose queue is
// full misses the event.
type Hub struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	next    int
	dropped atomic.Int64
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[int]chan Event), logger: logger}
}

// Subscribe returns an event channel and a function that unsubscribes and
// closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, DefaultSubscriberBuffer)
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber without blocking.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
			h.logger.Warn("Dropped event for slow subscriber", "event", ev.Kind)
		}
	}
}

// Dropped reports how many deliveries were skipped.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Notify implements runner.Notifier.
func (h *Hub) Notify(n runner.Notification) {
	h.Publish(Event{Kind: EventNotify, Data: n})
}

// Started implements runner.Progress.
func (h *Hub) Started(job types.Job) {
	h.Publish(Event{Kind: EventProgress, Data: ProgressUpdate{
		JobID:      job.ID,
		Active:     true,
		DocumentID: job.DocumentID,
		StartLine:  job.StartLine,
		EndLine:    job.EndLine,
		Mode:       job.Mode,
	}})
}

// Cleared implements runner.Progress.
func (h *Hub) Cleared(id types.JobID) {
	h.Publish(Event{Kind: EventProgress, Data: ProgressUpdate{JobID: id}})
}

// Edited publishes an edit event.
func (h *Hub) Edited(e editor.Edit) {
	h.Publish(Event{Kind: EventEdit, Data: e})
}

// MirrorEdits returns an observer for b that publishes only edits made while
// hooks are suppressed, i.e. edits applied by jobs. Human changes came from
// the editor and are not echoed back.
func (h *Hub) MirrorEdits(b *editor.Buffers) editor.Observer {
	return func(e editor.Edit) {
		if b.Suppressed(e.DocumentID) {
			h.Edited(e)
		}
	}
}

// Notifiers combines several notifiers.
type Notifiers []runner.Notifier

// Notify implements runner.Notifier.
func (ns Notifiers) Notify(n runner.Notification) {
	for _, x := range ns {
		x.Notify(n)
	}
}
