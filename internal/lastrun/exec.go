package lastrun

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// DefaultCaptureBytes bounds each captured stream. The tail is kept.
const DefaultCaptureBytes = 64 * 1024

// Exec runs argv in dir, copying output to stdout/stderr as it arrives,
// and returns the run with the tail of each stream captured.
//
// A non-zero exit is not an error; spawn failures are.
func Exec(ctx context.Context, argv []string, dir string, stdout, stderr io.Writer, capture int) (Run, error) {
	if len(argv) == 0 {
		return Run{}, errors.New("lastrun: empty command")
	}
	if capture <= 0 {
		capture = DefaultCaptureBytes
	}
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	outTail := &tailBuffer{max: capture}
	errTail := &tailBuffer{max: capture}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = io.MultiWriter(stdout, outTail)
	cmd.Stderr = io.MultiWriter(stderr, errTail)

	run := Run{
		Command:   strings.Join(argv, " "),
		Dir:       dir,
		StartedAt: time.Now(),
	}
	if err := cmd.Start(); err != nil {
		return Run{}, err
	}
	err := cmd.Wait()
	run.FinishedAt = time.Now()
	run.Stdout = outTail.String()
	run.Stderr = errTail.String()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		run.ExitCode = exitErr.ExitCode()
	default:
		return run, err
	}
	return run, nil
}

// tailBuffer keeps the last max bytes written.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
