package console

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// Source is where the console reads daemon state. *api.Client implements it.
type Source interface {
	Status(ctx context.Context) (*structpb.Struct, error)
	Pending(ctx context.Context) (*structpb.Struct, error)
	SyncNow(ctx context.Context) (*structpb.Struct, error)
	Watch(ctx context.Context, fn func(*structpb.Struct)) error
}

// PendingRow is one buffered record in the pending table.
type PendingRow struct {
	Kind     string // "user" or "message"
	ID       string
	Owner    string
	Status   string
	Attempts int
}

// PendingRows flattens a ListPending response, users first, then messages
// oldest first.
func PendingRows(resp *structpb.Struct) []PendingRow {
	var rows []PendingRow
	for _, v := range resp.GetFields()["users"].GetListValue().GetValues() {
		f := v.GetStructValue().GetFields()
		status := f["sync_status"].GetStringValue()
		if status == "" {
			status = "pending"
		}
		rows = append(rows, PendingRow{
			Kind:     "user",
			ID:       f["chat_id"].GetStringValue(),
			Owner:    f["full_name"].GetStringValue(),
			Status:   status,
			Attempts: int(f["sync_attempts"].GetNumberValue()),
		})
	}
	type msgRow struct {
		row PendingRow
		ts  string
	}
	var msgs []msgRow
	for _, v := range resp.GetFields()["messages"].GetListValue().GetValues() {
		f := v.GetStructValue().GetFields()
		id := f["ticket_number"].GetStringValue()
		if id == "" {
			id = f["message_id"].GetStringValue()
		}
		msgs = append(msgs, msgRow{
			row: PendingRow{
				Kind:     "message",
				ID:       id,
				Owner:    f["owner"].GetStringValue(),
				Status:   f["status"].GetStringValue(),
				Attempts: int(f["sync_attempts"].GetNumberValue()),
			},
			ts: f["timestamp"].GetStringValue(),
		})
	}
	// RFC 3339 UTC strings sort chronologically.
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].ts < msgs[j].ts })
	for _, m := range msgs {
		rows = append(rows, m.row)
	}
	return rows
}

// StatusLine summarizes a GetStatus response for the status bar.
func StatusLine(resp *structpb.Struct) string {
	f := resp.GetFields()
	parts := []string{
		fmt.Sprintf("[::b]%s[-:-:-]", f["instance"].GetStringValue()),
		f["state"].GetStringValue(),
	}
	if f["backend_online"].GetBoolValue() {
		parts = append(parts, "[green]backend up[-]")
	} else {
		parts = append(parts, "[red]backend down[-]")
	}
	if v, ok := f["chat_connected"]; ok {
		if v.GetBoolValue() {
			parts = append(parts, "[green]chat up[-]")
		} else {
			parts = append(parts, "[red]chat down[-]")
		}
	}
	parts = append(parts, fmt.Sprintf("pending %d/%d",
		int(f["pending_users"].GetNumberValue()),
		int(f["pending_messages"].GetNumberValue()),
	))
	if n := int(f["queued_replies"].GetNumberValue()); n > 0 {
		parts = append(parts, fmt.Sprintf("[yellow]%d replies queued[-]", n))
	}
	if last := f["last_sync"].GetStringValue(); last != "" {
		if t, err := time.Parse(time.RFC3339, last); err == nil {
			parts = append(parts, "last sync "+t.Local().Format("15:04:05"))
		}
	}
	return " " + strings.Join(parts, " | ")
}

// FormatEvent renders a streamed event as one log line.
func FormatEvent(evt *structpb.Struct) string {
	f := evt.GetFields()
	stamp := f["occurred_at"].GetStringValue()
	if t, err := time.Parse(time.RFC3339, stamp); err == nil {
		stamp = t.Local().Format("15:04:05")
	}
	line := fmt.Sprintf("%s %s", stamp, f["kind"].GetStringValue())

	payload := f["payload"]
	if payload == nil {
		return line
	}
	if s, ok := payload.GetKind().(*structpb.Value_StringValue); ok {
		if f["kind"].GetStringValue() == "chat.qr" {
			return line
		}
		return line + " " + s.StringValue
	}
	fields := payload.GetStructValue().GetFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := fields[k]
		switch x := v.GetKind().(type) {
		case *structpb.Value_StringValue:
			if x.StringValue != "" {
				line += fmt.Sprintf(" %s=%s", k, x.StringValue)
			}
		case *structpb.Value_NumberValue:
			if x.NumberValue != 0 {
				line += fmt.Sprintf(" %s=%g", k, x.NumberValue)
			}
		case *structpb.Value_BoolValue:
			line += fmt.Sprintf(" %s=%t", k, x.BoolValue)
		}
	}
	return line
}
