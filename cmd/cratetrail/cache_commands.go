package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"cratetrail/internal/fastpath"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and rebuild the fast-path reconciliation cache",
	}

	cacheCmd.AddCommand(newCacheStatusCommand(ctx))
	cacheCmd.AddCommand(newCacheRebuildCommand(ctx))

	return cacheCmd
}

func newCacheStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <batch>",
		Short: "Show the cached progress entry for a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheCommand(ctx, cmd, args[0], (*fastpath.Cache).Status)
		},
	}
}

func newCacheRebuildCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild <batch>",
		Short: "Replace the cached entry with a fresh ledger snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheCommand(ctx, cmd, args[0], (*fastpath.Cache).Rebuild)
		},
	}
}

type cacheRead func(*fastpath.Cache, context.Context, uuid.UUID) (*fastpath.Entry, error)

func runCacheCommand(ctx *commandContext, cmd *cobra.Command, ref string, read cacheRead) error {
	return ctx.withServices(cmd, func(c context.Context, svc *services) error {
		if svc.cache == nil || svc.cache.Backend() == "none" {
			return errors.New("fast-path cache is disabled (cache.backend = \"none\")")
		}
		batch, err := svc.resolveBatch(c, ref)
		if err != nil {
			return err
		}
		entry, err := read(svc.cache, c, batch.ID)
		if err != nil {
			return err
		}
		return ctx.emit(cmd.OutOrStdout(), entry, func(w io.Writer) {
			renderFields(w, []field{
				{"Batch", batch.Code},
				{"Backend", svc.cache.Backend()},
				{"Crates", itoa(entry.TotalCrates)},
				{"Reconciled", itoa(entry.ReconciledCount)},
				{"Complete", yesNo(entry.Complete())},
				{"Closed", yesNo(entry.Closed)},
			})
			codes := make([]string, 0, len(entry.Markers))
			for code := range entry.Markers {
				codes = append(codes, code)
			}
			slices.Sort(codes)
			rows := make([][]string, 0, len(codes))
			for _, code := range codes {
				m := entry.Markers[code]
				rows = append(rows, []string{code, m.At.Local().Format(timeLayout), m.By})
			}
			if len(rows) > 0 {
				fmt.Fprintln(w, renderTable([]string{"Code", "Reconciled", "By"}, rows, nil))
			}
		})
	})
}
