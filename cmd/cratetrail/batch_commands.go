package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"cratetrail/internal/ledger"
	"cratetrail/internal/reconcile"
	"cratetrail/internal/stats"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	batchCmd := &cobra.Command{
		Use:     "batch",
		Aliases: []string{"batches"},
		Short:   "Create, inspect and move batches through their lifecycle",
	}

	batchCmd.AddCommand(newBatchCreateCommand(ctx))
	batchCmd.AddCommand(newBatchListCommand(ctx))
	batchCmd.AddCommand(newBatchShowCommand(ctx))
	batchCmd.AddCommand(newBatchUpdateCommand(ctx))
	batchCmd.AddCommand(newBatchTransitionCommand(ctx))
	batchCmd.AddCommand(newBatchCratesCommand(ctx))
	batchCmd.AddCommand(newBatchCompositionCommand(ctx))
	batchCmd.AddCommand(newBatchRecountCommand(ctx))

	return batchCmd
}

type transportFlags struct {
	mode    string
	vehicle string
	driver  string
}

func (f *transportFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.mode, "transport", "", "Transport mode (truck, van, ...)")
	cmd.Flags().StringVar(&f.vehicle, "vehicle", "", "Vehicle number")
	cmd.Flags().StringVar(&f.driver, "driver", "", "Driver name")
}

func (f *transportFlags) value() ledger.Transport {
	return ledger.Transport{
		Mode:          strings.TrimSpace(f.mode),
		VehicleNumber: strings.TrimSpace(f.vehicle),
		DriverName:    strings.TrimSpace(f.driver),
	}
}

func newBatchCreateCommand(ctx *commandContext) *cobra.Command {
	var origin, destination, eta, notes string
	var transport transportFlags

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a new batch at an origin farm",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			etaValue, err := parseTime("batch.create", eta)
			if err != nil {
				return err
			}
			return ctx.withServices(cmd, func(c context.Context, svc *services) error {
				batch, err := svc.assign.CreateBatch(c, ledger.NewBatch{
					OriginID:      strings.TrimSpace(origin),
					DestinationID: strings.TrimSpace(destination),
					Transport:     transport.value(),
					ETA:           etaValue,
					Notes:         notes,
				}, ctx.actor())
				if err != nil {
					return err
				}
				view := newBatchView(batch)
				return ctx.emit(cmd.OutOrStdout(), view, func(w io.Writer) {
					fmt.Fprintf(w, "Created batch %s (%s)\n", batch.Code, batch.ID)
				})
			})
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "", "Origin farm ID")
	cmd.Flags().StringVar(&destination, "destination", "", "Destination packhouse ID")
	cmd.Flags().StringVar(&eta, "eta", "", "Estimated arrival time")
	cmd.Flags().StringVar(&notes, "notes", "", "Free-form notes")
	transport.register(cmd)
	_ = cmd.MarkFlagRequired("origin")
	return cmd
}

func newBatchListCommand(ctx *commandContext) *cobra.Command {
	var status, origin, destination string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List batches, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatuses(status)
			if err != nil {
				return err
			}
			return ctx.withServices(cmd, func(c context.Context, svc *services) error {
				batches, err := svc.store.ListBatches(c, ledger.BatchFilter{
					Statuses:      statuses,
					OriginID:      strings.TrimSpace(origin),
					DestinationID: strings.TrimSpace(destination),
					Limit:         limit,
					Offset:        offset,
				})
				if err != nil {
					return err
				}
				views := make([]batchView, 0, len(batches))
				rows := make([][]string, 0, len(batches))
				for _, b := range batches {
					views = append(views, newBatchView(b))
					rows = append(rows, []string{
						b.Code,
						statusLabel(string(b.Status)),
						b.OriginID,
						b.DestinationID,
						itoa(b.TotalCrates),
						b.TotalWeight.StringFixed(2),
						b.CreatedAt.Local().Format(timeLayout),
					})
				}
				return ctx.emit(cmd.OutOrStdout(), views, func(w io.Writer) {
					if len(rows) == 0 {
						fmt.Fprintln(w, "No batches found")
						return
					}
					fmt.Fprintln(w, renderTable(
						[]string{"Code", "Status", "Origin", "Destination", "Crates", "Weight", "Created"},
						rows,
						[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
					))
				})
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Comma-separated statuses to include")
	cmd.Flags().StringVar(&origin, "origin", "", "Only batches from this farm")
	cmd.Flags().StringVar(&destination, "destination", "", "Only batches bound for this packhouse")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	return cmd
}

func newBatchShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <batch>",
		Short: "Show one batch with its reconciliation progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(c context.Context, svc *services) error {
				batch, err := svc.resolveBatch(c, args[0])
				if err != nil {
					return err
				}
				report, err := svc.engine.Completeness(c, batch.ID)
				if err != nil {
					return err
				}
				payload := struct {
					batchView
					Completeness reconcile.CompletenessReport `json:"completeness"`
					NextStatuses []ledger.Status              `json:"next_statuses"`
				}{newBatchView(batch), report, ledger.AllowedTargets(batch.Status)}
				return ctx.emit(cmd.OutOrStdout(), payload, func(w io.Writer) {
					fields := payload.batchView.fields()
					fields = append(fields,
						field{"Progress", stats.ProgressLine(report.ReconciledCount, report.TotalCrates)},
						field{"Complete", yesNo(report.IsComplete)},
						field{"Next", joinStatuses(payload.NextStatuses)},
					)
					renderFields(w, fields)
				})
			})
		},
	}
}

func newBatchUpdateCommand(ctx *commandContext) *cobra.Command {
	var destination, eta, notes string
	var transport transportFlags

	cmd := &cobra.Command{
		Use:   "update <batch>",
		Short: "Change destination, transport, ETA or notes of a non-terminal batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var details ledger.BatchDetails
			flags := cmd.Flags()
			if flags.Changed("destination") {
				value := strings.TrimSpace(destination)
				details.DestinationID = &value
			}
			if flags.Changed("transport") || flags.Changed("vehicle") || flags.Changed("driver") {
				value := transport.value()
				details.Transport = &value
			}
			if flags.Changed("eta") {
				value, err := parseTime("batch.update", eta)
				if err != nil {
					return err
				}
				details.ETA = value
			}
			if flags.Changed("notes") {
				details.Notes = &notes
			}
			return ctx.withServices(cmd, func(c context.Context, svc *services) error {
				batch, err := svc.resolveBatch(c, args[0])
				if err != nil {
					return err
				}
				if details.Transport != nil {
					merged := mergeTransport(batch.Transport, *details.Transport, flags.Changed)
					details.Transport = &merged
				}
				updated, err := svc.assign.UpdateBatchDetails(c, batch.ID, details, ctx.actor())
				if err != nil {
					return err
				}
				return ctx.emit(cmd.OutOrStdout(), newBatchView(updated), func(w io.Writer) {
					fmt.Fprintf(w, "Updated batch %s\n", updated.Code)
				})
			})
		},
	}
	cmd.Flags().StringVar(&destination, "destination", "", "Destination packhouse ID")
	cmd.Flags().StringVar(&eta, "eta", "", "Estimated arrival time")
	cmd.Flags().StringVar(&notes, "notes", "", "Free-form notes")
	transport.register(cmd)
	return cmd
}

// mergeTransport keeps the stored value for every transport flag that was not passed.
func mergeTransport(current, next ledger.Transport, changed func(string) bool) ledger.Transport {
	if !changed("transport") {
		next.Mode = current.Mode
	}
	if !changed("vehicle") {
		next.VehicleNumber = current.VehicleNumber
	}
	if !changed("driver") {
		next.DriverName = current.DriverName
	}
	return next
}

func newBatchTransitionCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "transition <batch> <status>",
		Short: "Move a batch to its next lifecycle status",
		Long: "Move a batch to its next lifecycle status.\n\n" +
			"open -> in_transit -> arrived -> delivered -> reconciled -> closed\n" +
			"in_transit and delivered may also jump straight to reconciled once every crate is scanned.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := ledger.ParseStatus(args[1])
			if err != nil {
				return ledger.Validation("batch.transition", "%v", err)
			}
			return ctx.withServices(cmd, func(c context.Context, svc *services) error {
				batch, err := svc.resolveBatch(c, args[0])
				if err != nil {
					return err
				}
				from := batch.Status
				updated, err := svc.engine.Transition(c, batch.ID, target, ctx.actor())
				if err != nil {
					return err
				}
				return ctx.emit(cmd.OutOrStdout(), newBatchView(updated), func(w io.Writer) {
					fmt.Fprintf(w, "Batch %s: %s -> %s\n", updated.Code, statusLabel(string(from)), statusLabel(string(updated.Status)))
				})
			})
		},
	}
}

func newBatchCratesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "crates <batch>",
		Short: "List crates assigned to a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(c context.Context, svc *services) error {
				batch, err := svc.resolveBatch(c, args[0])
				if err != nil {
					return err
				}
				crates, err := svc.store.ListBatchCrates(c, batch.ID)
				if err != nil {
					return err
				}
				return ctx.emit(cmd.OutOrStdout(), crateViews(crates), func(w io.Writer) {
					if len(crates) == 0 {
						fmt.Fprintf(w, "Batch %s has no crates\n", batch.Code)
						return
					}
					fmt.Fprintln(w, renderTable(
						[]string{"Code", "Weight", "Farm", "Variety", "Grade"},
						crateRows(crates),
						[]columnAlignment{alignLeft, alignRight},
					))
				})
			})
		},
	}
}

func newBatchCompositionCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "composition <batch>",
		Short: "Break a batch down by variety and quality grade",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(c context.Context, svc *services) error {
				batch, err := svc.resolveBatch(c, args[0])
				if err != nil {
					return err
				}
				report, err := svc.engine.Composition(c, batch.ID)
				if err != nil {
					return err
				}
				return ctx.emit(cmd.OutOrStdout(), report, func(w io.Writer) {
					fmt.Fprintf(w, "Batch %s: %d crates, %s total\n", batch.Code, report.TotalCrates, report.TotalWeight.StringFixed(2))
					if report.TransitMinutes != nil {
						fmt.Fprintf(w, "Transit time: %.0f min\n", *report.TransitMinutes)
					}
					fmt.Fprintln(w, renderShares("Variety", report.Varieties))
					fmt.Fprintln(w, renderShares("Grade", report.Grades))
				})
			})
		},
	}
}

func renderShares(label string, shares []stats.Share) string {
	rows := make([][]string, 0, len(shares))
	for _, s := range shares {
		rows = append(rows, []string{s.Label, itoa(s.Count), s.Weight.StringFixed(2), formatPercent(s.Percent)})
	}
	return renderTable(
		[]string{label, "Crates", "Weight", "Share"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
	)
}

func newBatchRecountCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "recount <batch>",
		Short: "Recompute crate count and weight from assigned crates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(c context.Context, svc *services) error {
				batch, err := svc.resolveBatch(c, args[0])
				if err != nil {
					return err
				}
				updated, drifted, err := svc.assign.Recount(c, batch.ID, ctx.actor())
				if err != nil {
					return err
				}
				payload := struct {
					batchView
					Drifted bool `json:"drifted"`
				}{newBatchView(updated), drifted}
				return ctx.emit(cmd.OutOrStdout(), payload, func(w io.Writer) {
					if drifted {
						fmt.Fprintf(w, "Batch %s corrected: %d crates, %s\n", updated.Code, updated.TotalCrates, updated.TotalWeight.StringFixed(2))
						return
					}
					fmt.Fprintf(w, "Batch %s aggregates already consistent\n", updated.Code)
				})
			})
		},
	}
}

func joinStatuses(statuses []ledger.Status) string {
	parts := make([]string, len(statuses))
	for i, s := range statuses {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}
