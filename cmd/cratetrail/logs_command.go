package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cratetrail/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var batch, event, level string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent entries from the cratetrail log file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := cfg.LogFilePath()
			filter := logs.Filter{BatchCode: batch, EventType: event, MinLevel: level}
			out := cmd.OutOrStdout()

			page, err := logs.Read(cmd.Context(), path, logs.Query{Offset: -1, Limit: lines, Filter: filter})
			if err != nil {
				return err
			}
			if err := printLogEntries(out, page.Entries, ctx.jsonOutput()); err != nil {
				return err
			}
			for follow {
				page, err = logs.Read(cmd.Context(), path, logs.Query{
					Offset: page.Offset,
					Follow: true,
					Wait:   30 * time.Second,
					Filter: filter,
				})
				if err != nil {
					return err
				}
				if err := printLogEntries(out, page.Entries, ctx.jsonOutput()); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "Number of recent entries to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new entries")
	cmd.Flags().StringVar(&batch, "batch", "", "Only entries for this batch code")
	cmd.Flags().StringVar(&event, "event", "", "Only entries with this event_type")
	cmd.Flags().StringVar(&level, "level", "", "Minimum level (debug, info, warn, error)")
	return cmd
}

func printLogEntries(w io.Writer, entries []logs.Entry, asJSON bool) error {
	for _, e := range entries {
		if asJSON {
			if err := writeJSON(w, e); err != nil {
				return err
			}
			continue
		}
		var b strings.Builder
		if !e.Time.IsZero() {
			b.WriteString(e.Time.Local().Format("2006-01-02 15:04:05") + " ")
		}
		fmt.Fprintf(&b, "%-5s %s", strings.ToUpper(e.Level), e.Message)
		for _, key := range slices.Sorted(maps.Keys(e.Fields)) {
			fmt.Fprintf(&b, " %s=%v", key, e.Fields[key])
		}
		fmt.Fprintln(w, b.String())
	}
	return nil
}
