package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon, backend and buffer status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		c, err := mustDial(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		resp, err := c.Status(ctx)
		if err != nil {
			return err
		}
		if jsonOut {
			return outputJSON(cmd, resp)
		}
		printFields(cmd, resp)
		return nil
	},
}

// printFields prints a flat Struct as aligned key/value lines.
func printFields(cmd *cobra.Command, s *structpb.Struct) {
	fields := s.AsMap()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := cmd.OutOrStdout()
	for _, k := range keys {
		v := fields[k]
		if v == nil {
			v = "-"
		}
		if f, ok := v.(float64); ok {
			v = fmt.Sprintf("%g", f)
		}
		_, _ = fmt.Fprintf(out, "%-18s %v\n", k+":", v)
	}
}
