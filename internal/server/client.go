package server

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ChuLiYu/splice/internal/joblog"
	"github.com/ChuLiYu/splice/pkg/types"
)

// JobsClient talks to a remote splice.v1.Jobs service.
type JobsClient struct {
	cc     grpc.ClientConnInterface
	health healthpb.HealthClient
}

// NewJobsClient wraps an established connection.
func NewJobsClient(cc grpc.ClientConnInterface) *JobsClient {
	return &JobsClient{cc: cc, health: healthpb.NewHealthClient(cc)}
}

// Dial connects to addr without transport security; the server is meant to
// listen on loopback only.
func Dial(addr string, opts ...grpc.DialOption) (*JobsClient, *grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return NewJobsClient(conn), conn, nil
}

func (c *JobsClient) invoke(ctx context.Context, method string, in, out any) error {
	err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, grpc.CallContentSubtype(CodecName))
	if err != nil {
		return fmt.Errorf("rpc %s failed: %w", method, err)
	}
	return nil
}

// Healthy reports whether the jobs service is serving.
func (c *JobsClient) Healthy(ctx context.Context) (bool, error) {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return false, fmt.Errorf("health check failed: %w", err)
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// Open mirrors a document on the server.
func (c *JobsClient) Open(ctx context.Context, doc types.DocumentID, text string) error {
	return c.invoke(ctx, "Open", &DocumentRequest{DocumentID: doc, Text: text}, &Ack{})
}

// Change replaces a mirrored document's text.
func (c *JobsClient) Change(ctx context.Context, doc types.DocumentID, text string) error {
	return c.invoke(ctx, "Change", &DocumentRequest{DocumentID: doc, Text: text}, &Ack{})
}

// Close stops mirroring doc and returns how many jobs were cancelled.
func (c *JobsClient) Close(ctx context.Context, doc types.DocumentID) (int, error) {
	var out CancelReply
	err := c.invoke(ctx, "Close", &DocumentRequest{DocumentID: doc}, &out)
	return out.Cancelled, err
}

// Submit starts a job.
func (c *JobsClient) Submit(ctx context.Context, req SubmitRequest) (SubmitReply, error) {
	var out SubmitReply
	err := c.invoke(ctx, "Submit", &req, &out)
	return out, err
}

// Cancel cancels one job.
func (c *JobsClient) Cancel(ctx context.Context, id types.JobID) error {
	return c.invoke(ctx, "Cancel", &JobRequest{JobID: id}, &Ack{})
}

// CancelNearest cancels the job nearest to line.
func (c *JobsClient) CancelNearest(ctx context.Context, doc types.DocumentID, line int) (types.JobID, error) {
	var out CancelReply
	err := c.invoke(ctx, "CancelNearest", &DocumentRequest{DocumentID: doc, Line: line}, &out)
	return out.JobID, err
}

// CancelAll cancels every job on doc, or everywhere when doc is empty.
func (c *JobsClient) CancelAll(ctx context.Context, doc types.DocumentID) (int, error) {
	var out CancelReply
	err := c.invoke(ctx, "CancelAll", &DocumentRequest{DocumentID: doc}, &out)
	return out.Cancelled, err
}

// List returns running jobs.
func (c *JobsClient) List(ctx context.Context, doc types.DocumentID) ([]types.Job, error) {
	var out JobsReply
	err := c.invoke(ctx, "List", &DocumentRequest{DocumentID: doc}, &out)
	return out.Jobs, err
}

// Log returns recent job log entries, newest first.
func (c *JobsClient) Log(ctx context.Context, limit int) ([]joblog.Entry, error) {
	var out LogReply
	err := c.invoke(ctx, "Log", &LogRequest{Limit: limit}, &out)
	return out.Entries, err
}

// Wait blocks until the job is finished.
func (c *JobsClient) Wait(ctx context.Context, id types.JobID) (joblog.Entry, error) {
	var out EntryReply
	err := c.invoke(ctx, "Wait", &JobRequest{JobID: id}, &out)
	return out.Entry, err
}

// Text fetches a mirrored document's text.
func (c *JobsClient) Text(ctx context.Context, doc types.DocumentID) (string, error) {
	var out TextReply
	err := c.invoke(ctx, "Text", &DocumentRequest{DocumentID: doc}, &out)
	return out.Text, err
}
