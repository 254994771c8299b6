package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ChuLiYu/splice/internal/joblog"
	"github.com/ChuLiYu/splice/pkg/types"
)

// Notification is the single user-facing message emitted per terminal job.
type Notification struct {
	JobID      types.JobID      `json:"job_id"`
	DocumentID types.DocumentID `json:"document_id"`
	Status     types.JobStatus  `json:"status"`
	Level      slog.Level       `json:"level"`
	Message    string           `json:"message"`
	Remaining  int              `json:"remaining"` // jobs still running on the same document
}

// Notifier receives terminal notifications. It is called without the
// runner's lock held.
type Notifier interface {
	Notify(Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n Notification) { f(n) }

// Progress drives a per-job progress indicator. Calls happen under the
// runner's lock and must not call back into the runner.
type Progress interface {
	Started(job types.Job)
	Cleared(id types.JobID)
}

// Recorder receives metrics events. Calls happen under the runner's lock.
type Recorder interface {
	JobStarted(job types.Job)
	JobFinished(entry joblog.Entry)
	SiblingsShifted(n int)
}

// Archiver persists finished jobs (transcripts, audit journal). Called
// without the lock; errors are logged at error level.
type Archiver interface {
	Archive(entry joblog.Entry) error
}

// LogNotifier writes notifications to a slog logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Log(context.Background(), n.Level, n.Message,
		"jobID", n.JobID,
		"document", n.DocumentID,
		"status", n.Status,
		"remaining", n.Remaining)
}

// Severity maps a terminal status to its notification level.
func Severity(status types.JobStatus) slog.Level {
	switch status {
	case types.StatusBackendError:
		return slog.LevelError
	case types.StatusTimedOut, types.StatusEmptyOutput, types.StatusParseFailed:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

func newNotification(job types.Job, entry joblog.Entry, remaining int) Notification {
	var msg string
	rng := types.LineRange{Start: job.StartLine, End: job.EndLine}
	switch job.Status {
	case types.StatusSucceeded:
		msg = fmt.Sprintf("job %s: applied edit at lines %s", job.ID, rng)
	case types.StatusNoChange:
		msg = fmt.Sprintf("job %s: no change needed at lines %s", job.ID, rng)
	case types.StatusCancelled:
		msg = fmt.Sprintf("job %s: cancelled", job.ID)
	default:
		detail := ""
		if entry.Error != nil {
			detail = ": " + *entry.Error
		}
		msg = fmt.Sprintf("job %s: %s%s", job.ID, job.Status, detail)
	}
	if remaining > 0 {
		msg += fmt.Sprintf(" (%d more running in %s)", remaining, job.DocumentID)
	}
	return Notification{
		JobID:      job.ID,
		DocumentID: job.DocumentID,
		Status:     job.Status,
		Level:      Severity(job.Status),
		Message:    msg,
		Remaining:  remaining,
	}
}
