package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/ChuLiYu/splice/internal/editor"
	"github.com/ChuLiYu/splice/internal/joblog"
	"github.com/ChuLiYu/splice/internal/registry"
	"github.com/ChuLiYu/splice/internal/runner"
	"github.com/ChuLiYu/splice/pkg/types"
)

// ServiceName is the gRPC service name.
const ServiceName = "splice.v1.Jobs"

// CodecName is the content-subtype clients must request.
const CodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec carries plain Go structs as JSON. Protobuf messages (health
// checks sent with this subtype) go through protojson.
type jsonCodec struct{}

func (jsonCodec) Name() string { return CodecName }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	if m, ok := v.(proto.Message); ok {
		return protojson.Marshal(m)
	}
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if m, ok := v.(proto.Message); ok {
		return protojson.Unmarshal(data, m)
	}
	return json.Unmarshal(data, v)
}

// ============================================================================
// Messages
// ============================================================================

// DocumentRequest names a document, optionally with text or a cursor line.
type DocumentRequest struct {
	DocumentID types.DocumentID `json:"document_id"`
	Text       string           `json:"text,omitempty"`
	Line       int              `json:"line,omitempty"`
}

// JobRequest names a job.
type JobRequest struct {
	JobID types.JobID `json:"job_id"`
}

// LogRequest bounds a Log call.
type LogRequest struct {
	Limit int `json:"limit,omitempty"`
}

// Ack is the empty success reply.
type Ack struct {
	OK bool `json:"ok"`
}

// CancelReply reports cancelled jobs.
type CancelReply struct {
	JobID     types.JobID `json:"job_id,omitempty"`
	Cancelled int         `json:"cancelled"`
}

// JobsReply lists running jobs.
type JobsReply struct {
	Jobs []types.Job `json:"jobs"`
}

// LogReply lists job log entries, newest first.
type LogReply struct {
	Entries []joblog.Entry `json:"entries"`
}

// EntryReply carries one finished job.
type EntryReply struct {
	Entry joblog.Entry `json:"entry"`
}

// TextReply carries a document's text.
type TextReply struct {
	DocumentID types.DocumentID `json:"document_id"`
	Text       string           `json:"text"`
}

// JobsServer is the splice.v1.Jobs service.
type JobsServer interface {
	Open(context.Context, *DocumentRequest) (*Ack, error)
	Change(context.Context, *DocumentRequest) (*Ack, error)
	Close(context.Context, *DocumentRequest) (*CancelReply, error)
	Submit(context.Context, *SubmitRequest) (*SubmitReply, error)
	Cancel(context.Context, *JobRequest) (*Ack, error)
	CancelNearest(context.Context, *DocumentRequest) (*CancelReply, error)
	CancelAll(context.Context, *DocumentRequest) (*CancelReply, error)
	List(context.Context, *DocumentRequest) (*JobsReply, error)
	Log(context.Context, *LogRequest) (*LogReply, error)
	Wait(context.Context, *JobRequest) (*EntryReply, error)
	Text(context.Context, *DocumentRequest) (*TextReply, error)
}

func unary[Req, Resp any](name string, call func(JobsServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(JobsServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

// JobsServiceDesc describes splice.v1.Jobs for grpc.Server.RegisterService.
var JobsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*JobsServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Open", JobsServer.Open),
		unary("Change", JobsServer.Change),
		unary("Close", JobsServer.Close),
		unary("Submit", JobsServer.Submit),
		unary("Cancel", JobsServer.Cancel),
		unary("CancelNearest", JobsServer.CancelNearest),
		unary("CancelAll", JobsServer.CancelAll),
		unary("List", JobsServer.List),
		unary("Log", JobsServer.Log),
		unary("Wait", JobsServer.Wait),
		unary("Text", JobsServer.Text),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "splice/v1/jobs",
}

// ============================================================================
// Server
// ============================================================================

// GRPC implements JobsServer over a Service.
type GRPC struct {
	svc    *Service
	logger *slog.Logger
}

// NewGRPC wraps svc.
func NewGRPC(svc *Service, logger *slog.Logger) *GRPC {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPC{svc: svc, logger: logger}
}

// Register adds the jobs and health services to gs.
func (g *GRPC) Register(gs *grpc.Server) *health.Server {
	gs.RegisterService(&JobsServiceDesc, g)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return hs
}

// Serve listens on addr until ctx is done, then stops gracefully.
func (g *GRPC) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", addr, err)
	}
	return g.ServeListener(ctx, lis)
}

// ServeListener serves on lis until ctx is done.
func (g *GRPC) ServeListener(ctx context.Context, lis net.Listener) error {
	gs := grpc.NewServer(grpc.UnaryInterceptor(g.logCalls))
	hs := g.Register(gs)

	errCh := make(chan error, 1)
	go func() { errCh <- gs.Serve(lis) }()
	g.logger.Info("gRPC server listening", "addr", lis.Addr().String())

	select {
	case <-ctx.Done():
		hs.Shutdown()
		stopped := make(chan struct{})
		go func() {
			gs.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			gs.Stop()
		}
		return nil
	case err := <-errCh:
		return err
	}
}

func (g *GRPC) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	g.logger.Debug("gRPC call", "method", info.FullMethod, "duration", time.Since(start), "error", err)
	return resp, err
}

func (g *GRPC) Open(_ context.Context, in *DocumentRequest) (*Ack, error) {
	if err := g.svc.Open(in.DocumentID, in.Text); err != nil {
		return nil, toStatus(err)
	}
	return &Ack{OK: true}, nil
}

func (g *GRPC) Change(_ context.Context, in *DocumentRequest) (*Ack, error) {
	if err := g.svc.Change(in.DocumentID, in.Text); err != nil {
		return nil, toStatus(err)
	}
	return &Ack{OK: true}, nil
}

func (g *GRPC) Close(_ context.Context, in *DocumentRequest) (*CancelReply, error) {
	n, err := g.svc.Close(in.DocumentID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CancelReply{Cancelled: n}, nil
}

func (g *GRPC) Submit(ctx context.Context, in *SubmitRequest) (*SubmitReply, error) {
	reply, err := g.svc.Submit(ctx, *in)
	if err != nil {
		return nil, toStatus(err)
	}
	return &reply, nil
}

func (g *GRPC) Cancel(_ context.Context, in *JobRequest) (*Ack, error) {
	if err := g.svc.Cancel(in.JobID); err != nil {
		return nil, toStatus(err)
	}
	return &Ack{OK: true}, nil
}

func (g *GRPC) CancelNearest(_ context.Context, in *DocumentRequest) (*CancelReply, error) {
	id, err := g.svc.CancelNearest(in.DocumentID, in.Line)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CancelReply{JobID: id, Cancelled: 1}, nil
}

func (g *GRPC) CancelAll(_ context.Context, in *DocumentRequest) (*CancelReply, error) {
	return &CancelReply{Cancelled: g.svc.CancelAll(in.DocumentID)}, nil
}

func (g *GRPC) List(_ context.Context, in *DocumentRequest) (*JobsReply, error) {
	jobs := g.svc.Jobs(in.DocumentID)
	if jobs == nil {
		jobs = []types.Job{}
	}
	return &JobsReply{Jobs: jobs}, nil
}

func (g *GRPC) Log(_ context.Context, in *LogRequest) (*LogReply, error) {
	return &LogReply{Entries: g.svc.Log(in.Limit)}, nil
}

func (g *GRPC) Wait(ctx context.Context, in *JobRequest) (*EntryReply, error) {
	e, err := g.svc.Wait(ctx, in.JobID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &EntryReply{Entry: e}, nil
}

func (g *GRPC) Text(_ context.Context, in *DocumentRequest) (*TextReply, error) {
	text, err := g.svc.Text(in.DocumentID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &TextReply{DocumentID: in.DocumentID, Text: text}, nil
}

// toStatus maps domain errors onto gRPC codes.
func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, registry.ErrOverlap):
		code = codes.FailedPrecondition
	case errors.Is(err, runner.ErrStaleSelection):
		code = codes.Aborted
	case errors.Is(err, types.ErrInvalidSelection), errors.Is(err, ErrBadRequest), errors.Is(err, editor.ErrOutOfRange):
		code = codes.InvalidArgument
	case errors.Is(err, editor.ErrNoDocument), errors.Is(err, runner.ErrUnknownJob), errors.Is(err, runner.ErrNoJobNearby):
		code = codes.NotFound
	case errors.Is(err, editor.ErrNothingToUndo):
		code = codes.FailedPrecondition
	case errors.Is(err, runner.ErrStopped):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
	}
	return status.Errorf(code, "%s: %v", ErrorCode(err), err)
}
