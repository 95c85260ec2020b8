package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/usat-ai-lab/taklif/internal/bus"
	"github.com/usat-ai-lab/taklif/internal/reconcile"
)

// watchedNamespaces are the bus namespaces streamed by WatchEvents.
var watchedNamespaces = []string{"sync.", "feedback.", "daemon.", "chat.", "outbox."}

// SyncNow runs one reconciliation pass and reports its counts. A pass that is
// already running yields FailedPrecondition.
func (c *Control) SyncNow(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if c.deps.Scheduler == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "scheduler not initialized")
	}
	res, err := c.deps.Scheduler.RunOnce(ctx)
	if errors.Is(err, reconcile.ErrPassInProgress) {
		return nil, grpcstatus.Error(codes.FailedPrecondition, err.Error())
	}
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "sync pass: %v", err)
	}
	resp, err := structpb.NewStruct(map[string]any{
		"skipped":           res.Skipped,
		"users_synced":      res.UsersSynced,
		"users_failed":      res.UsersFailed,
		"users_terminal":    res.UsersTerminal,
		"messages_synced":   res.MessagesSynced,
		"messages_failed":   res.MessagesFailed,
		"messages_terminal": res.MessagesTerminal,
	})
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode result: %v", err)
	}
	return resp, nil
}

// WatchEvents streams bus events until the client goes away. Chat inbound
// events are dropped so message text never leaves the daemon.
func (c *Control) WatchEvents(_ *emptypb.Empty, stream grpc.ServerStream) error {
	if c.deps.Bus == nil {
		return grpcstatus.Errorf(codes.Unavailable, "bus not initialized")
	}
	ch, unsub := c.deps.Bus.Subscribe("", 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			if !watched(evt.Kind) {
				continue
			}
			env, err := envelope(c.deps.Instance, evt)
			if err != nil {
				continue
			}
			if err := stream.SendMsg(env); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func watched(kind string) bool {
	if kind == bus.KindChatInbound {
		return false
	}
	for _, ns := range watchedNamespaces {
		if strings.HasPrefix(kind, ns) {
			return true
		}
	}
	return false
}

// envelope wraps an event for the wire. The payload goes through its JSON
// form so any payload struct becomes a Struct.
func envelope(instance string, evt bus.Event) (*structpb.Struct, error) {
	env, err := structpb.NewStruct(map[string]any{
		"event_id":    uuid.NewString(),
		"instance":    instance,
		"kind":        evt.Kind,
		"occurred_at": timeValue(&evt.Timestamp),
	})
	if err != nil {
		return nil, err
	}
	if evt.Payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(evt.Payload)
	if err != nil {
		return nil, err
	}
	payload := &structpb.Value{}
	if err := protojson.Unmarshal(raw, payload); err != nil {
		return nil, err
	}
	env.Fields["payload"] = payload
	return env, nil
}
