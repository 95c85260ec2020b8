package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/usat-ai-lab/taklif/internal/api"
	"github.com/usat-ai-lab/taklif/internal/console"
	"github.com/usat-ai-lab/taklif/internal/instance"
	"github.com/usat-ai-lab/taklif/internal/localstore"
	"github.com/usat-ai-lab/taklif/internal/lock"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List users and tickets waiting to reach the backend",
	Long: `List users and tickets waiting to reach the backend.

Asks the running daemon; when none is running the local store is read directly.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := fetchPending(cmd)
		if err != nil {
			return err
		}
		if jsonOut {
			return outputJSON(cmd, resp)
		}
		return printPending(cmd, resp)
	},
}

func fetchPending(cmd *cobra.Command) (*structpb.Struct, error) {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	c, ok, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		defer func() { _ = c.Close() }()
		return c.Pending(ctx)
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	s, err := localstore.Open(localstore.Options{
		Dir:             instance.DataDir(instanceName(), cfg.Store.DataDir),
		BackupRetention: cfg.Store.BackupRetention,
		Lock:            lock.Options{Attempts: cfg.Store.LockAttempts, Delay: cfg.Store.LockDelay.Duration},
		Logger:          zap.NewNop(),
	})
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	return structpb.NewStruct(api.PendingFields(s.PendingUsers(), s.PendingMessages()))
}

func printPending(cmd *cobra.Command, resp *structpb.Struct) error {
	rows := console.PendingRows(resp)
	if len(rows) == 0 {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "nothing pending")
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KIND\tID\tOWNER\tSTATUS\tATTEMPTS")
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", r.Kind, r.ID, r.Owner, r.Status, r.Attempts)
	}
	return w.Flush()
}
