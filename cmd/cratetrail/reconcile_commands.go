package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"cratetrail/internal/ledger"
	"cratetrail/internal/reconcile"
	"cratetrail/internal/stats"
)

func newReconcileCommand(ctx *commandContext) *cobra.Command {
	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Inspect reconciliation progress, weights and scan history",
	}

	reconcileCmd.AddCommand(newReconcileStatusCommand(ctx))
	reconcileCmd.AddCommand(newReconcileSummaryCommand(ctx))
	reconcileCmd.AddCommand(newReconcileWeightsCommand(ctx))
	reconcileCmd.AddCommand(newReconcileLogCommand(ctx))
	reconcileCmd.AddCommand(newReconcileStatsCommand(ctx))

	return reconcileCmd
}

func newReconcileStatusCommand(ctx *commandContext) *cobra.Command {
	var fromLedger bool

	cmd := &cobra.Command{
		Use:   "status <batch>",
		Short: "Report how many assigned crates have a matched scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(c context.Context, svc *services) error {
				batch, err := svc.resolveBatch(c, args[0])
				if err != nil {
					return err
				}
				var report reconcile.CompletenessReport
				if fromLedger {
					report, err = svc.engine.LedgerCompleteness(c, batch.ID)
				} else {
					report, err = svc.engine.Completeness(c, batch.ID)
				}
				if err != nil {
					return err
				}
				return ctx.emit(cmd.OutOrStdout(), report, func(w io.Writer) {
					renderFields(w, []field{
						{"Batch", batch.Code},
						{"Status", statusLabel(string(batch.Status))},
						{"Progress", stats.ProgressLine(report.ReconciledCount, report.TotalCrates)},
						{"Missing", itoa(report.MissingCount)},
						{"Complete", yesNo(report.IsComplete)},
						{"Source", string(report.Source)},
					})
				})
			})
		},
	}
	cmd.Flags().BoolVar(&fromLedger, "ledger", false, "Bypass the fast-path cache and count from the ledger")
	return cmd
}

func newReconcileSummaryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "summary <batch>",
		Short: "List matched, missing, wrong-batch and unknown crates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(c context.Context, svc *services) error {
				batch, err := svc.resolveBatch(c, args[0])
				if err != nil {
					return err
				}
				summary, err := svc.engine.Summary(c, batch.ID)
				if err != nil {
					return err
				}
				return ctx.emit(cmd.OutOrStdout(), summary, func(w io.Writer) {
					fmt.Fprintf(w, "Batch %s (%s): %s\n", summary.BatchCode, statusLabel(string(summary.Status)), summary.StatusLine)
					rows := make([][]string, 0, len(summary.Matched)+len(summary.Missing)+len(summary.WrongBatch)+len(summary.NotFound))
					for _, code := range summary.Matched {
						rows = append(rows, []string{code, "matched", ""})
					}
					for _, code := range summary.Missing {
						rows = append(rows, []string{code, "missing", ""})
					}
					for _, scan := range summary.WrongBatch {
						detail := "unassigned"
						if scan.ActualBatchCode != "" {
							detail = "belongs to " + scan.ActualBatchCode
						}
						rows = append(rows, []string{scan.Code, "wrong batch", detail})
					}
					for _, code := range summary.NotFound {
						rows = append(rows, []string{code, "not found", ""})
					}
					if len(rows) > 0 {
						fmt.Fprintln(w, renderTable([]string{"Code", "State", "Detail"}, rows, nil))
					}
					counts := make([]string, 0, len(summary.OutcomeCounts))
					for _, outcome := range ledger.AllOutcomes() {
						if n := summary.OutcomeCounts[outcome]; n > 0 {
							counts = append(counts, fmt.Sprintf("%s=%d", outcome, n))
						}
					}
					if len(counts) > 0 {
						fmt.Fprintf(w, "Scans: %s\n", strings.Join(counts, " "))
					}
				})
			})
		},
	}
}

func newReconcileWeightsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "weights <batch>",
		Short: "Compare declared and observed weights for weighed crates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(c context.Context, svc *services) error {
				batch, err := svc.resolveBatch(c, args[0])
				if err != nil {
					return err
				}
				report, err := svc.engine.WeightStats(c, batch.ID)
				if err != nil {
					return err
				}
				return ctx.emit(cmd.OutOrStdout(), report, func(w io.Writer) {
					if report.WeighedCount == 0 {
						fmt.Fprintf(w, "Batch %s has no weighed crates\n", report.BatchCode)
						return
					}
					rows := make([][]string, 0, len(report.Crates)+1)
					for _, crate := range report.Crates {
						rows = append(rows, []string{
							crate.Code,
							crate.Declared.StringFixed(2),
							crate.Observed.StringFixed(2),
							signed(crate.Differential),
							crate.ObservedBy,
						})
					}
					rows = append(rows, []string{
						"Total",
						report.TotalDeclared.StringFixed(2),
						report.TotalObserved.StringFixed(2),
						signed(report.TotalDifferential),
						report.LossPercentage.StringFixed(2) + "%",
					})
					fmt.Fprintln(w, renderTable(
						[]string{"Code", "Declared", "Observed", "Diff", "By"},
						rows,
						[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft},
					))
				})
			})
		},
	}
}

func newReconcileLogCommand(ctx *commandContext) *cobra.Command {
	var outcomes, code, actor, since, until string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "log [batch]",
		Short: "Page through raw scan events, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsedOutcomes, err := parseOutcomes(outcomes)
			if err != nil {
				return ledger.Validation("reconcile.log", "%v", err)
			}
			sinceValue, err := parseTime("reconcile.log", since)
			if err != nil {
				return err
			}
			untilValue, err := parseTime("reconcile.log", until)
			if err != nil {
				return err
			}
			filter := ledger.ScanFilter{
				Outcomes: parsedOutcomes,
				Code:     ledger.NormalizeCode(code),
				ActorID:  strings.TrimSpace(actor),
				Since:    sinceValue,
				Until:    untilValue,
				Limit:    limit,
				Offset:   offset,
			}
			return ctx.withServices(cmd, func(c context.Context, svc *services) error {
				if len(args) == 1 {
					batch, err := svc.resolveBatch(c, args[0])
					if err != nil {
						return err
					}
					filter.BatchID = &batch.ID
				}
				page, err := svc.engine.ScanLog(c, filter)
				if err != nil {
					return err
				}
				events := make([]scanEventView, 0, len(page.Events))
				rows := make([][]string, 0, len(page.Events))
				for _, e := range page.Events {
					events = append(events, scanEventView{
						Code:      e.Code,
						Outcome:   e.Outcome,
						ActorID:   e.ActorID,
						ActorName: e.ActorName,
						Notes:     e.Notes,
						ScannedAt: e.ScannedAt,
					})
					by := e.ActorName
					if by == "" {
						by = e.ActorID
					}
					rows = append(rows, []string{e.ScannedAt.Local().Format(timeLayout), e.Code, string(e.Outcome), by})
				}
				payload := struct {
					Events []scanEventView `json:"events"`
					Total  int             `json:"total"`
					Limit  int             `json:"limit"`
					Offset int             `json:"offset"`
				}{events, page.Total, page.Limit, page.Offset}
				return ctx.emit(cmd.OutOrStdout(), payload, func(w io.Writer) {
					if len(rows) == 0 {
						fmt.Fprintln(w, "No scans recorded")
						return
					}
					fmt.Fprintln(w, renderTable([]string{"Scanned", "Code", "Outcome", "By"}, rows, nil))
					fmt.Fprintf(w, "Showing %d-%d of %d\n", page.Offset+1, page.Offset+len(rows), page.Total)
				})
			})
		},
	}
	cmd.Flags().StringVar(&outcomes, "outcome", "", "Comma-separated outcomes to include")
	cmd.Flags().StringVar(&code, "code", "", "Only scans of this crate code")
	cmd.Flags().StringVar(&actor, "by", "", "Only scans by this actor ID")
	cmd.Flags().StringVar(&since, "since", "", "Only scans at or after this time")
	cmd.Flags().StringVar(&until, "until", "", "Only scans before this time")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum rows to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	return cmd
}

func newReconcileStatsCommand(ctx *commandContext) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize batches, crates and scan activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(c context.Context, svc *services) error {
				report, err := svc.engine.GlobalStats(c, days)
				if err != nil {
					return err
				}
				return ctx.emit(cmd.OutOrStdout(), report, func(w io.Writer) {
					statuses := make([]string, 0, len(report.BatchesByStatus))
					for _, status := range ledger.AllStatuses() {
						statuses = append(statuses, fmt.Sprintf("%s=%d", status, report.BatchesByStatus[status]))
					}
					outcomes := make([]string, 0, len(report.ScansByOutcome))
					for _, outcome := range ledger.AllOutcomes() {
						outcomes = append(outcomes, fmt.Sprintf("%s=%d", outcome, report.ScansByOutcome[outcome]))
					}
					renderFields(w, []field{
						{"Since", report.Since.Format("2006-01-02")},
						{"Batches", strings.Join(statuses, " ")},
						{"Crates", itoa(report.TotalCrates)},
						{"Reconciled", fmt.Sprintf("%d (%s)", report.ReconciledCrates, formatPercent(report.ReconciliationRate))},
						{"Avg scan", fmt.Sprintf("%.1fs", report.AverageScanSeconds)},
						{"Scans", strings.Join(outcomes, " ")},
					})
					rows := make([][]string, 0, len(report.DailyScans))
					for _, day := range slices.Backward(report.DailyScans) {
						rows = append(rows, []string{day.Day, itoa(day.Count)})
					}
					fmt.Fprintln(w, renderTable([]string{"Day", "Scans"}, rows, []columnAlignment{alignLeft, alignRight}))
				})
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "Days of scan activity to include")
	return cmd
}
