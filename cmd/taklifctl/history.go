package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/usat-ai-lab/taklif/internal/api"
	"github.com/usat-ai-lab/taklif/internal/instance"
	"github.com/usat-ai-lab/taklif/internal/journal"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent reconciliation passes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := fetchHistory(cmd)
		if err != nil {
			return err
		}
		if jsonOut {
			return outputJSON(cmd, resp)
		}
		return printHistory(cmd, resp)
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of passes to show")
}

func fetchHistory(cmd *cobra.Command) (*structpb.Struct, error) {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	c, ok, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		defer func() { _ = c.Close() }()
		return c.Passes(ctx, historyLimit)
	}

	path := instance.JournalPath(instanceName())
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return structpb.NewStruct(api.PassFields(nil))
	}
	db, err := journal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer func() { _ = db.Close() }()
	passes, err := db.RecentPasses(historyLimit)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(api.PassFields(passes))
}

func printHistory(cmd *cobra.Command, resp *structpb.Struct) error {
	passes := resp.GetFields()["passes"].GetListValue().GetValues()
	if len(passes) == 0 {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "no passes recorded")
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STARTED\tOUTCOME\tUSERS OK/FAIL\tTICKETS OK/FAIL/DROP\tERROR")
	for _, v := range passes {
		f := v.GetStructValue().GetFields()
		num := func(k string) int { return int(f[k].GetNumberValue()) }
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d/%d/%d\t%s\n",
			f["started_at"].GetStringValue(),
			f["outcome"].GetStringValue(),
			num("users_synced"), num("users_failed"),
			num("messages_synced"), num("messages_failed"), num("messages_terminal"),
			f["error"].GetStringValue(),
		)
	}
	return w.Flush()
}
