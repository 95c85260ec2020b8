// Package api serves the daemon's control service over gRPC. Requests and
// responses are well-known protobuf types (Empty, Struct), so no generated
// stubs are needed; the service descriptor below is registered by hand.
package api

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/usat-ai-lab/taklif/internal/backend"
	"github.com/usat-ai-lab/taklif/internal/bus"
	"github.com/usat-ai-lab/taklif/internal/journal"
	"github.com/usat-ai-lab/taklif/internal/localstore"
	"github.com/usat-ai-lab/taklif/internal/reconcile"
	"github.com/usat-ai-lab/taklif/internal/status"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "taklif.v1.Control"
	// BackendHealthService is the health-check service name that reports
	// whether the feedback backend is reachable. The empty service name
	// reports the daemon itself.
	BackendHealthService = "taklif.backend"
)

// Backend reports the client's view of the feedback backend.
type Backend interface {
	GetStatus() backend.Status
}

// Scheduler runs and reports reconciliation passes.
type Scheduler interface {
	GetStatus() reconcile.Status
	RunOnce(ctx context.Context) (reconcile.Result, error)
}

// Buffer lists records waiting to sync.
type Buffer interface {
	PendingUsers() []localstore.User
	PendingMessages() []localstore.Message
}

// History lists past passes.
type History interface {
	RecentPasses(limit int) ([]journal.Pass, error)
}

// ChatLink reports the chat transport connection.
type ChatLink interface {
	IsConnected() bool
	PhoneNumber() string
}

// ReplyQueue reports bot replies waiting for the chat link.
type ReplyQueue interface {
	Queued() int
}

// SessionCounter reports how many dialogs are held in memory.
type SessionCounter interface {
	Len() int
}

// Deps are the daemon components the control service reads. Chat and
// Sessions may be nil when the daemon runs without a chat transport.
type Deps struct {
	Instance  string
	Machine   *status.Machine
	Backend   Backend
	Scheduler Scheduler
	Buffer    Buffer
	History   History
	Chat      ChatLink
	Outbox    ReplyQueue
	Sessions  SessionCounter
	Bus       *bus.Bus
}

// Control implements the control service.
type Control struct {
	deps      Deps
	startedAt time.Time
}

// NewControl creates the control service.
func NewControl(deps Deps) *Control {
	return &Control{deps: deps, startedAt: time.Now()}
}

// ControlServer is the server API of the control service.
type ControlServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SyncNow(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListPending(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListPasses(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEvents(*emptypb.Empty, grpc.ServerStream) error
}

// Register adds srv to s.
func Register(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&serviceDesc, srv)
}

func unary[Req any](call func(ControlServer, context.Context, *Req) (*structpb.Struct, error), method string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ControlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ControlServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ControlServer).WatchEvents(in, stream)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: unary(ControlServer.GetStatus, "GetStatus")},
		{MethodName: "SyncNow", Handler: unary(ControlServer.SyncNow, "SyncNow")},
		{MethodName: "ListPending", Handler: unary(ControlServer.ListPending, "ListPending")},
		{MethodName: "ListPasses", Handler: unary(ControlServer.ListPasses, "ListPasses")},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchEvents", Handler: watchEventsHandler, ServerStreams: true},
	},
}

func timeValue(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
