package api

import (
	"context"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/usat-ai-lab/taklif/internal/journal"
)

const defaultPassLimit = 20

// ListPasses returns the most recent reconciliation passes, newest first. The
// request may carry a numeric "limit".
func (c *Control) ListPasses(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if c.deps.History == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "journal not initialized")
	}
	limit := defaultPassLimit
	if v, ok := req.GetFields()["limit"]; ok {
		if n := int(v.GetNumberValue()); n > 0 {
			limit = n
		}
	}
	passes, err := c.deps.History.RecentPasses(limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "read journal: %v", err)
	}
	resp, err := structpb.NewStruct(PassFields(passes))
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode passes: %v", err)
	}
	return resp, nil
}

// PassFields renders journal passes in the shape ListPasses returns.
func PassFields(passes []journal.Pass) map[string]any {
	out := make([]any, 0, len(passes))
	for _, p := range passes {
		started, finished := p.StartedAt, p.FinishedAt
		out = append(out, map[string]any{
			"id":                p.ID,
			"started_at":        timeValue(&started),
			"finished_at":       timeValue(&finished),
			"outcome":           string(p.Outcome),
			"users_synced":      p.UsersSynced,
			"users_failed":      p.UsersFailed,
			"messages_synced":   p.MessagesSynced,
			"messages_failed":   p.MessagesFailed,
			"messages_terminal": p.MessagesTerminal,
			"error":             p.Error,
		})
	}
	return map[string]any{"passes": out}
}
