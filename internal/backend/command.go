package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// PromptPlaceholder in a command argument is replaced by the prompt text. If
// no argument contains it, the prompt is written to stdin.
const PromptPlaceholder = "{prompt}"

// DefaultGracePeriod is how long a terminated process has to exit after the
// interrupt before it is killed.
const DefaultGracePeriod = 2 * time.Second

// CommandConfig configures the external agent transport.
type CommandConfig struct {
	Path           string
	Args           []string
	Dir            string
	Env            []string
	GracePeriod    time.Duration
	MaxOutputBytes int64
}

// Command delegates each job to an external command-line agent process.
type Command struct {
	cfg CommandConfig
}

// NewCommand creates the command transport.
func NewCommand(cfg CommandConfig) (*Command, error) {
	if cfg.Path == "" {
		return nil, errors.New("backend: command: path not configured")
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxResponseBytes
	}
	return &Command{cfg: cfg}, nil
}

// Name implements Backend.
func (c *Command) Name() string { return "command" }

// Start spawns the process. Spawn failures are returned directly.
func (c *Command) Start(ctx context.Context, prompt string) (Handle, error) {
	ctx, cancel := context.WithCancel(ctx)

	args, viaArg := expandArgs(c.cfg.Args, prompt)
	cmd := exec.CommandContext(ctx, c.cfg.Path, args...)
	cmd.Dir = c.cfg.Dir
	if len(c.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), c.cfg.Env...)
	}
	if !viaArg {
		cmd.Stdin = strings.NewReader(prompt)
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = c.cfg.GracePeriod

	h := &processHandle{
		done:   make(chan struct{}),
		cancel: cancel,
		stdout: &cappedBuffer{max: c.cfg.MaxOutputBytes},
		stderr: &cappedBuffer{max: c.cfg.MaxOutputBytes},
	}
	cmd.Stdout = h.stdout
	cmd.Stderr = h.stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("backend: command: spawn %s: %w", c.cfg.Path, err)
	}

	go h.wait(ctx, cmd)
	return h, nil
}

func expandArgs(args []string, prompt string) ([]string, bool) {
	out := make([]string, len(args))
	found := false
	for i, a := range args {
		if strings.Contains(a, PromptPlaceholder) {
			found = true
			a = strings.ReplaceAll(a, PromptPlaceholder, prompt)
		}
		out[i] = a
	}
	return out, found
}

type processHandle struct {
	done   chan struct{}
	cancel context.CancelFunc
	stdout *cappedBuffer
	stderr *cappedBuffer
	result Completion
}

func (h *processHandle) wait(ctx context.Context, cmd *exec.Cmd) {
	defer h.cancel()
	err := cmd.Wait()

	res := Completion{Stdout: h.stdout.Bytes(), Stderr: h.stderr.Bytes()}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case ctx.Err() != nil:
		res.ExitCode = -1
		res.Err = ErrTerminated
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
		res.Err = err
	}
	if res.Err == nil && (h.stdout.Truncated() || h.stderr.Truncated()) {
		res.Err = fmt.Errorf("output exceeds %d bytes", h.stdout.max)
	}
	h.result = res
	close(h.done)
}

func (h *processHandle) Done() <-chan struct{} { return h.done }

func (h *processHandle) Completion() Completion {
	<-h.done
	return h.result
}

func (h *processHandle) Terminate() { h.cancel() }

// cappedBuffer keeps at most max bytes and remembers whether more arrived.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int64
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.max - int64(b.buf.Len())
	if int64(len(p)) > room {
		if room > 0 {
			b.buf.Write(p[:room])
		}
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func (b *cappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
