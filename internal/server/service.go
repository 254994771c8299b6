// ============================================================================
// splice Server - editor-facing façade
// ============================================================================
//
// Package: internal/server
// File: service.go
// Purpose: Bind the runner, the in-memory buffers and the context gatherer
//          behind one API that both surfaces (stdio, gRPC) call.
//
// Submit is split in two so a transport can snapshot the selection in
// request order (Prepare) and do the slow part (gather, assemble, launch)
// off its read loop. Sibling edits that land in between are replayed onto
// the snapshot by the runner when the job is launched.
// ============================================================================

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ChuLiYu/splice/internal/editor"
	"github.com/ChuLiYu/splice/internal/gather"
	"github.com/ChuLiYu/splice/internal/joblog"
	"github.com/ChuLiYu/splice/internal/prompt"
	"github.com/ChuLiYu/splice/internal/registry"
	"github.com/ChuLiYu/splice/internal/runner"
	"github.com/ChuLiYu/splice/pkg/types"
)

// ErrBadRequest is returned for malformed requests.
var ErrBadRequest = errors.New("server: bad request")

// SubmitRequest is what an editor sends to start a job.
type SubmitRequest struct {
	DocumentID       types.DocumentID `json:"document_id"`
	StartLine        int              `json:"start_line"`
	EndLine          int              `json:"end_line"`
	Language         string           `json:"language,omitempty"`
	Mode             string           `json:"mode,omitempty"`
	Instructions     string           `json:"instructions,omitempty"`
	Skills           []string         `json:"skills,omitempty"`
	Symbols          []string         `json:"symbols,omitempty"`
	Context          []prompt.Section `json:"context,omitempty"`
	IncludeRunOutput bool             `json:"include_run_output,omitempty"`
	TimeoutMs        int64            `json:"timeout_ms,omitempty"`
}

// SubmitReply identifies the new job.
type SubmitReply struct {
	JobID    types.JobID `json:"job_id"`
	Warnings []string    `json:"warnings,omitempty"`
}

// Pending is a validated submission with its selection snapshot.
type Pending struct {
	req  SubmitRequest
	mode prompt.Mode
	sel  types.Selection
	seq  uint64
}

// Selection returns the snapshot taken by Prepare.
func (p Pending) Selection() types.Selection { return p.sel }

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Runner    *runner.Runner
	Buffers   *editor.Buffers
	Gatherer  *gather.Gatherer  // nil: surrounding lines only
	Assembler *prompt.Assembler // nil: zero-value assembler
	Logger    *slog.Logger
}

// Service is the editor-facing API.
type Service struct {
	runner    *runner.Runner
	buffers   *editor.Buffers
	gatherer  *gather.Gatherer
	assembler *prompt.Assembler
	logger    *slog.Logger
}

// NewService validates cfg.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Runner == nil || cfg.Buffers == nil {
		return nil, errors.New("server: runner and buffers are required")
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = gather.New(gather.Config{Documents: cfg.Buffers, Logger: cfg.Logger})
	}
	if cfg.Assembler == nil {
		cfg.Assembler = &prompt.Assembler{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		runner:    cfg.Runner,
		buffers:   cfg.Buffers,
		gatherer:  cfg.Gatherer,
		assembler: cfg.Assembler,
		logger:    cfg.Logger,
	}, nil
}

// Open starts mirroring a document.
func (s *Service) Open(doc types.DocumentID, text string) error {
	if doc == "" {
		return fmt.Errorf("%w: empty document id", ErrBadRequest)
	}
	s.buffers.Open(doc, text)
	return nil
}

// Change replaces a mirrored document's text after a human edit.
func (s *Service) Change(doc types.DocumentID, text string) error {
	return s.buffers.Set(doc, text)
}

// Close cancels the document's jobs and stops mirroring it.
func (s *Service) Close(doc types.DocumentID) (int, error) {
	n := s.runner.CancelAll(doc)
	if !s.buffers.Close(doc) {
		return n, fmt.Errorf("%w: %s", editor.ErrNoDocument, doc)
	}
	return n, nil
}

// Prepare validates req and snapshots the selected text.
func (s *Service) Prepare(req SubmitRequest) (Pending, error) {
	mode, err := prompt.ParseMode(req.Mode)
	if err != nil {
		return Pending{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if req.StartLine < 1 || req.EndLine < req.StartLine {
		return Pending{}, fmt.Errorf("%w: lines %d-%d", types.ErrInvalidSelection, req.StartLine, req.EndLine)
	}
	snap, err := s.runner.Snapshot(req.DocumentID, req.StartLine, req.EndLine)
	if err != nil {
		return Pending{}, err
	}
	if s.runner.Registry().Overlaps(req.DocumentID, req.StartLine, req.EndLine) {
		return Pending{}, fmt.Errorf("%w: lines %d-%d", registry.ErrOverlap, req.StartLine, req.EndLine)
	}
	return Pending{
		req:  req,
		mode: mode,
		sel: types.Selection{
			DocumentID:   req.DocumentID,
			StartLine:    req.StartLine,
			EndLine:      req.EndLine,
			OriginalText: snap.Text,
			Language:     req.Language,
		},
		seq: snap.Seq,
	}, nil
}

// Launch gathers context, builds the prompt and submits the job.
func (s *Service) Launch(ctx context.Context, p Pending) (SubmitReply, error) {
	in, warnings, err := s.gatherer.Gather(ctx, gather.Request{
		Selection:        p.sel,
		Mode:             p.mode,
		Instructions:     p.req.Instructions,
		Skills:           p.req.Skills,
		Symbols:          p.req.Symbols,
		Context:          p.req.Context,
		IncludeRunOutput: p.req.IncludeRunOutput,
	})
	if err != nil {
		return SubmitReply{}, err
	}
	text := s.assembler.Build(in)

	id, err := s.runner.Submit(runner.Request{
		Selection: p.sel,
		Prompt:    text,
		Mode:      string(p.mode),
		Timeout:   time.Duration(p.req.TimeoutMs) * time.Millisecond,
		Seq:       p.seq,
	})
	if err != nil {
		return SubmitReply{Warnings: warnings}, err
	}
	for _, w := range warnings {
		s.logger.Warn("Context gathering", "jobID", id, "warning", w)
	}
	return SubmitReply{JobID: id, Warnings: warnings}, nil
}

// Submit is Prepare followed by Launch.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (SubmitReply, error) {
	p, err := s.Prepare(req)
	if err != nil {
		return SubmitReply{}, err
	}
	return s.Launch(ctx, p)
}

// Cancel cancels one job.
func (s *Service) Cancel(id types.JobID) error {
	return s.runner.Cancel(id)
}

// CancelNearest cancels the job at or nearest to line.
func (s *Service) CancelNearest(doc types.DocumentID, line int) (types.JobID, error) {
	return s.runner.CancelNearest(doc, line)
}

// CancelAll cancels every job on doc, or every job when doc is empty.
func (s *Service) CancelAll(doc types.DocumentID) int {
	return s.runner.CancelAll(doc)
}

// Jobs lists running jobs on doc (all documents when empty) with current ranges.
func (s *Service) Jobs(doc types.DocumentID) []types.Job {
	if doc == "" {
		return s.runner.Active()
	}
	return s.runner.Registry().Jobs(doc)
}

// Log returns recent job log entries, newest first. limit <= 0 means all.
func (s *Service) Log(limit int) []joblog.Entry {
	entries := s.runner.Log().Entries()
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// Wait blocks until the job is finished.
func (s *Service) Wait(ctx context.Context, id types.JobID) (joblog.Entry, error) {
	return s.runner.Wait(ctx, id)
}

// Undo reverts the last edit on doc and returns the resulting text.
func (s *Service) Undo(doc types.DocumentID) (string, error) {
	if err := s.buffers.Undo(doc); err != nil {
		return "", err
	}
	return s.buffers.Text(doc)
}

// Text returns the current text of doc.
func (s *Service) Text(doc types.DocumentID) (string, error) {
	return s.buffers.Text(doc)
}
