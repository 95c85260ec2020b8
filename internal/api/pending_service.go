package api

import (
	"context"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/usat-ai-lab/taklif/internal/localstore"
)

// ListPending returns the users and tickets still waiting in the local buffer.
// Ticket text is not included.
func (c *Control) ListPending(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if c.deps.Buffer == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "local store not initialized")
	}
	resp, err := structpb.NewStruct(PendingFields(c.deps.Buffer.PendingUsers(), c.deps.Buffer.PendingMessages()))
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode pending: %v", err)
	}
	return resp, nil
}

// PendingFields renders buffered records in the shape ListPending returns. The
// CLI uses it directly when the daemon is not running.
func PendingFields(users []localstore.User, msgs []localstore.Message) map[string]any {
	us := make([]any, 0, len(users))
	for _, u := range users {
		us = append(us, map[string]any{
			"chat_id":       u.ChatID.String(),
			"full_name":     u.FullName,
			"sync_attempts": u.SyncAttempts,
			"sync_status":   string(u.SyncStatus),
		})
	}
	ms := make([]any, 0, len(msgs))
	for _, m := range msgs {
		ts := m.Timestamp
		ms = append(ms, map[string]any{
			"message_id":    m.MessageID,
			"owner":         m.Owner().String(),
			"ticket_number": m.TicketNumber,
			"ticket_type":   string(m.TicketType),
			"priority":      m.Priority,
			"status":        string(m.Status),
			"sync_attempts": m.SyncAttempts,
			"timestamp":     timeValue(&ts),
		})
	}
	return map[string]any{"users": us, "messages": ms}
}
