package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client wraps the gRPC connection to a daemon.
type Client struct {
	conn   *grpc.ClientConn
	Health healthpb.HealthClient
}

// Dial connects to the daemon's Unix domain socket. The connection is lazy;
// errors surface on the first call.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn, Health: healthpb.NewHealthClient(conn)}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, in any) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Probe reports whether the daemon answers health checks.
func (c *Client) Probe(ctx context.Context) bool {
	_, err := c.Health.Check(ctx, &healthpb.HealthCheckRequest{})
	return err == nil
}

// BackendServing reports the health status of the backend link.
func (c *Client) BackendServing(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := c.Health.Check(ctx, &healthpb.HealthCheckRequest{Service: BackendHealthService})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Status calls GetStatus.
func (c *Client) Status(ctx context.Context) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetStatus", &emptypb.Empty{})
}

// SyncNow calls SyncNow.
func (c *Client) SyncNow(ctx context.Context) (*structpb.Struct, error) {
	return c.invoke(ctx, "SyncNow", &emptypb.Empty{})
}

// Pending calls ListPending.
func (c *Client) Pending(ctx context.Context) (*structpb.Struct, error) {
	return c.invoke(ctx, "ListPending", &emptypb.Empty{})
}

// Passes calls ListPasses.
func (c *Client) Passes(ctx context.Context, limit int) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, "ListPasses", req)
}

// Watch streams daemon events to fn until ctx ends or the stream fails.
func (c *Client) Watch(ctx context.Context, fn func(*structpb.Struct)) error {
	desc := &serviceDesc.Streams[0]
	stream, err := c.conn.NewStream(ctx, desc, "/"+ServiceName+"/"+desc.StreamName)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		evt := new(structpb.Struct)
		if err := stream.RecvMsg(evt); err != nil {
			return err
		}
		fn(evt)
	}
}
