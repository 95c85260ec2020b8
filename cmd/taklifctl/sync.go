package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

var syncNowCmd = &cobra.Command{
	Use:   "sync-now",
	Short: "Run a reconciliation pass immediately",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		c, err := mustDial(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		resp, err := c.SyncNow(ctx)
		if grpcstatus.Code(err) == codes.FailedPrecondition {
			return fmt.Errorf("a reconciliation pass is already running")
		}
		if err != nil {
			return err
		}
		if jsonOut {
			return outputJSON(cmd, resp)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), syncSummary(resp))
		return err
	},
}

func syncSummary(resp *structpb.Struct) string {
	f := resp.GetFields()
	if f["skipped"].GetBoolValue() {
		return "backend unreachable, pass skipped"
	}
	num := func(k string) int { return int(f[k].GetNumberValue()) }
	return fmt.Sprintf("users: %d synced, %d failed, %d dropped; tickets: %d synced, %d failed, %d dropped",
		num("users_synced"), num("users_failed"), num("users_terminal"),
		num("messages_synced"), num("messages_failed"), num("messages_terminal"),
	)
}
