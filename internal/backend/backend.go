// Package backend runs one model request per job. Every transport exposes the
// same contract: Start returns a Handle whose completion is delivered
// asynchronously and which can be terminated cooperatively.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrTerminated is the completion error of a handle stopped by Terminate.
var ErrTerminated = errors.New("backend: terminated")

// Completion is the result of one backend call. Err is set for transport
// failures (no usable exit status); ExitCode is non-zero for failed processes.
type Completion struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Err      error
}

// Failed reports whether the call did not succeed.
func (c Completion) Failed() bool {
	return c.Err != nil || c.ExitCode != 0
}

// Detail describes a failed completion for logs and notifications.
func (c Completion) Detail() string {
	switch {
	case c.Err != nil:
		return c.Err.Error()
	case c.ExitCode != 0:
		if len(c.Stderr) > 0 {
			return fmt.Sprintf("exit status %d: %s", c.ExitCode, firstLine(c.Stderr))
		}
		return fmt.Sprintf("exit status %d", c.ExitCode)
	default:
		return ""
	}
}

// Handle is one in-flight call.
type Handle interface {
	// Done is closed once the completion is available.
	Done() <-chan struct{}
	// Completion returns the result. Only valid after Done is closed.
	Completion() Completion
	// Terminate asks the call to stop. It does not wait and is safe to call
	// more than once or after completion.
	Terminate()
}

// Backend starts calls. A non-nil error from Start means nothing was spawned.
type Backend interface {
	Name() string
	Start(ctx context.Context, prompt string) (Handle, error)
}

// Func adapts a blocking function to Backend. The function must return when
// its context is cancelled.
type Func func(ctx context.Context, prompt string) Completion

// Name implements Backend.
func (f Func) Name() string { return "func" }

// Start implements Backend.
func (f Func) Start(ctx context.Context, prompt string) (Handle, error) {
	return Go(ctx, func(ctx context.Context) Completion { return f(ctx, prompt) }), nil
}

// asyncHandle runs a blocking call in its own goroutine.
type asyncHandle struct {
	done   chan struct{}
	cancel context.CancelFunc
	mu     sync.Mutex
	result Completion
}

// Go runs fn in a goroutine and returns its handle. Terminate cancels the
// context passed to fn.
func Go(ctx context.Context, fn func(ctx context.Context) Completion) Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &asyncHandle{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer cancel()
		res := fn(ctx)
		if res.Err == nil && errors.Is(ctx.Err(), context.Canceled) && res.ExitCode == 0 && len(res.Stdout) == 0 {
			res.Err = ErrTerminated
		}
		h.mu.Lock()
		h.result = res
		h.mu.Unlock()
		close(h.done)
	}()
	return h
}

func (h *asyncHandle) Done() <-chan struct{} { return h.done }

func (h *asyncHandle) Completion() Completion {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

func (h *asyncHandle) Terminate() { h.cancel() }

func firstLine(b []byte) string {
	for i, c := range b {
		if c == '\n' {
			return string(b[:i])
		}
	}
	return string(b)
}
