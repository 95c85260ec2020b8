package api

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// GetStatus reports the daemon state, backend connectivity, scheduler state
// and the size of the local buffer.
func (c *Control) GetStatus(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	fields := map[string]any{
		"instance":  c.deps.Instance,
		"uptime_ms": time.Since(c.startedAt).Milliseconds(),
	}
	if m := c.deps.Machine; m != nil {
		since := m.Since()
		fields["state"] = string(m.Current())
		fields["state_since"] = timeValue(&since)
	}
	if c.deps.Backend != nil {
		st := c.deps.Backend.GetStatus()
		fields["backend_online"] = st.Online
		fields["backend_url"] = st.BaseURL
		fields["has_token"] = st.HasToken
		fields["token_expires_at"] = timeValue(st.TokenExpiresAt)
	}
	if c.deps.Scheduler != nil {
		st := c.deps.Scheduler.GetStatus()
		fields["scheduler_running"] = st.Running
		fields["last_sync"] = timeValue(st.LastSync)
	}
	if c.deps.Buffer != nil {
		fields["pending_users"] = len(c.deps.Buffer.PendingUsers())
		fields["pending_messages"] = len(c.deps.Buffer.PendingMessages())
	}
	if c.deps.Chat != nil {
		fields["chat_connected"] = c.deps.Chat.IsConnected()
		fields["chat_phone"] = c.deps.Chat.PhoneNumber()
	}
	if c.deps.Outbox != nil {
		fields["queued_replies"] = c.deps.Outbox.Queued()
	}
	if c.deps.Sessions != nil {
		fields["active_sessions"] = c.deps.Sessions.Len()
	}

	resp, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode status: %v", err)
	}
	return resp, nil
}
