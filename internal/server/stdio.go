package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ChuLiYu/splice/internal/editor"
	"github.com/ChuLiYu/splice/internal/registry"
	"github.com/ChuLiYu/splice/internal/runner"
	"github.com/ChuLiYu/splice/pkg/types"
)

// MaxFrameBytes bounds one request line. Whole documents travel in open and
// change frames.
const MaxFrameBytes = 32 << 20

// Request is one inbound stdio frame.
//
//	{"id":1,"method":"submit","params":{...}}
type Request struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers one Request.
type Response struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Error is a response error with a stable code for plugins to switch on.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type docParams struct {
	DocumentID types.DocumentID `json:"document_id"`
	Text       string           `json:"text,omitempty"`
	Line       int              `json:"line,omitempty"`
}

type jobParams struct {
	JobID types.JobID `json:"job_id"`
}

type logParams struct {
	Limit int `json:"limit"`
}

// Stdio serves the newline-delimited JSON protocol used by editor plugins.
type Stdio struct {
	svc    *Service
	hub    *Hub
	logger *slog.Logger

	wmu sync.Mutex
	enc *json.Encoder
	wg  sync.WaitGroup
}

// NewStdio returns a stdio surface over svc. hub may be nil (no push events).
func NewStdio(svc *Service, hub *Hub, logger *slog.Logger) *Stdio {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stdio{svc: svc, hub: hub, logger: logger}
}

// Serve reads requests from r and writes responses and events to w until r
// reaches EOF or ctx is done. In-flight handlers finish before it returns.
func (s *Stdio) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	s.enc = json.NewEncoder(w)

	var fwd sync.WaitGroup
	if s.hub != nil {
		events, unsubscribe := s.hub.Subscribe()
		defer func() {
			unsubscribe()
			fwd.Wait()
		}()
		fwd.Add(1)
		go func() {
			defer fwd.Done()
			for ev := range events {
				s.write(ev)
			}
		}()
	}

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), MaxFrameBytes)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	defer s.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case line := <-lines:
			if len(line) == 0 {
				continue
			}
			var req Request
			if err := json.Unmarshal(line, &req); err != nil {
				s.write(Response{Error: &Error{Code: "parse_error", Message: err.Error()}})
				continue
			}
			s.dispatch(ctx, req)
		}
	}
}

// dispatch handles req. Document mutations and selection snapshots happen
// inline so they apply in arrival order.
func (s *Stdio) dispatch(ctx context.Context, req Request) {
	switch req.Method {
	case "submit":
		var p SubmitRequest
		if !s.decode(req, &p) {
			return
		}
		pending, err := s.svc.Prepare(p)
		if err != nil {
			s.reply(req, nil, err)
			return
		}
		s.async(func() {
			reply, err := s.svc.Launch(ctx, pending)
			if err != nil {
				s.reply(req, nil, err)
				return
			}
			s.reply(req, reply, nil)
		})

	case "wait":
		var p jobParams
		if !s.decode(req, &p) {
			return
		}
		s.async(func() {
			entry, err := s.svc.Wait(ctx, p.JobID)
			s.reply(req, entry, err)
		})

	case "open":
		var p docParams
		if s.decode(req, &p) {
			s.reply(req, ok(), s.svc.Open(p.DocumentID, p.Text))
		}

	case "change":
		var p docParams
		if s.decode(req, &p) {
			s.reply(req, ok(), s.svc.Change(p.DocumentID, p.Text))
		}

	case "close":
		var p docParams
		if s.decode(req, &p) {
			n, err := s.svc.Close(p.DocumentID)
			s.reply(req, map[string]int{"cancelled": n}, err)
		}

	case "cancel":
		var p jobParams
		if s.decode(req, &p) {
			s.reply(req, ok(), s.svc.Cancel(p.JobID))
		}

	case "cancel_nearest":
		var p docParams
		if s.decode(req, &p) {
			id, err := s.svc.CancelNearest(p.DocumentID, p.Line)
			s.reply(req, jobParams{JobID: id}, err)
		}

	case "cancel_all":
		var p docParams
		if s.decode(req, &p) {
			s.reply(req, map[string]int{"cancelled": s.svc.CancelAll(p.DocumentID)}, nil)
		}

	case "jobs":
		var p docParams
		if s.decode(req, &p) {
			jobs := s.svc.Jobs(p.DocumentID)
			if jobs == nil {
				jobs = []types.Job{}
			}
			s.reply(req, jobs, nil)
		}

	case "log":
		var p logParams
		if s.decode(req, &p) {
			s.reply(req, s.svc.Log(p.Limit), nil)
		}

	case "undo":
		var p docParams
		if s.decode(req, &p) {
			text, err := s.svc.Undo(p.DocumentID)
			s.reply(req, docParams{DocumentID: p.DocumentID, Text: text}, err)
		}

	case "text":
		var p docParams
		if s.decode(req, &p) {
			text, err := s.svc.Text(p.DocumentID)
			s.reply(req, docParams{DocumentID: p.DocumentID, Text: text}, err)
		}

	case "ping":
		s.reply(req, "pong", nil)

	default:
		s.write(Response{ID: req.ID, Error: &Error{Code: "unknown_method", Message: fmt.Sprintf("unknown method %q", req.Method)}})
	}
}

func (s *Stdio) async(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Stdio) decode(req Request, v any) bool {
	if len(req.Params) == 0 {
		return true
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		s.write(Response{ID: req.ID, Error: &Error{Code: "bad_request", Message: err.Error()}})
		return false
	}
	return true
}

func (s *Stdio) reply(req Request, result any, err error) {
	if err != nil {
		s.write(Response{ID: req.ID, Error: &Error{Code: ErrorCode(err), Message: err.Error()}})
		return
	}
	s.write(Response{ID: req.ID, Result: result})
}

func (s *Stdio) write(v any) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.enc.Encode(v); err != nil {
		s.logger.Error("Failed to write frame", "error", err)
	}
}

func ok() map[string]bool { return map[string]bool{"ok": true} }

// ErrorCode maps an error to its protocol code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, registry.ErrOverlap):
		return "overlap"
	case errors.Is(err, runner.ErrStaleSelection):
		return "stale_selection"
	case errors.Is(err, types.ErrInvalidSelection):
		return "invalid_selection"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, editor.ErrNoDocument):
		return "no_document"
	case errors.Is(err, editor.ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, editor.ErrNothingToUndo):
		return "nothing_to_undo"
	case errors.Is(err, runner.ErrUnknownJob):
		return "unknown_job"
	case errors.Is(err, runner.ErrNoJobNearby):
		return "no_job_nearby"
	case errors.Is(err, runner.ErrStopped):
		return "stopped"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}
