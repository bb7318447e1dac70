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

type scanView struct {
	Code            string                       `json:"code"`
	Outcome         ledger.Outcome               `json:"outcome"`
	Prior           ledger.Outcome               `json:"prior,omitempty"`
	ActualBatchCode string                       `json:"actual_batch_code,omitempty"`
	Completeness    reconcile.CompletenessReport `json:"completeness"`
	Advanced        bool                         `json:"advanced"`
	BatchStatus     ledger.Status                `json:"batch_status"`
}

func newScanView(code string, res *reconcile.ScanResult) scanView {
	view := scanView{
		Code:            ledger.NormalizeCode(code),
		Outcome:         res.Outcome,
		Prior:           res.Prior,
		ActualBatchCode: res.ActualBatchCode,
		Completeness:    res.Completeness,
		Advanced:        res.Advanced,
	}
	if res.Batch != nil {
		view.BatchStatus = res.Batch.Status
	}
	return view
}

func (v scanView) message() string {
	switch v.Outcome {
	case ledger.OutcomeMatched:
		return "matched"
	case ledger.OutcomeWrongBatch:
		if v.ActualBatchCode == "" {
			return "wrong batch (crate is unassigned)"
		}
		return "wrong batch (belongs to " + v.ActualBatchCode + ")"
	case ledger.OutcomeNotFound:
		return "unknown crate code"
	case ledger.OutcomeDuplicate:
		return "already recorded as " + strings.ReplaceAll(string(v.Prior), "_", " ")
	default:
		return string(v.Outcome)
	}
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	var location, device, notes string

	cmd := &cobra.Command{
		Use:   "scan <batch> <code>...",
		Short: "Record presence scans against an in-transit, arrived or delivered batch",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := parseLocation(location)
			if err != nil {
				return ledger.Validation("scan", "%v", err)
			}
			var deviceInfo map[string]any
			if d := strings.TrimSpace(device); d != "" {
				deviceInfo = map[string]any{"device": d}
			}
			return ctx.withServices(cmd, func(c context.Context, svc *services) error {
				batch, err := svc.resolveBatch(c, args[0])
				if err != nil {
					return err
				}
				views := make([]scanView, 0, len(args)-1)
				for _, code := range args[1:] {
					res, err := svc.engine.Scan(c, reconcile.ScanRequest{
						BatchID:    batch.ID,
						Code:       code,
						Actor:      ctx.actor(),
						Location:   loc,
						DeviceInfo: deviceInfo,
						Notes:      notes,
					})
					if err != nil {
						return err
					}
					views = append(views, newScanView(code, res))
				}
				out := cmd.OutOrStdout()
				return ctx.emit(out, views, func(w io.Writer) {
					colorize := shouldColorize(out)
					for _, v := range views {
						fmt.Fprintln(w, renderStatusLine(v.Code, outcomeKind(v.Outcome), v.message(), colorize))
					}
					last := views[len(views)-1]
					fmt.Fprintf(w, "Batch %s: %s\n", batch.Code,
						stats.ProgressLine(last.Completeness.ReconciledCount, last.Completeness.TotalCrates))
					for _, v := range views {
						if v.Advanced {
							fmt.Fprintf(w, "Batch %s is now %s\n", batch.Code, statusLabel(string(v.BatchStatus)))
							break
						}
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&location, "location", "", "Scan location as \"lat,lng\"")
	cmd.Flags().StringVar(&device, "device", "", "Scanning device identifier")
	cmd.Flags().StringVar(&notes, "notes", "", "Free-form notes")
	return cmd
}

func newWeighCommand(ctx *commandContext) *cobra.Command {
	var photo, location string

	cmd := &cobra.Command{
		Use:   "weigh <batch> <code> <weight>",
		Short: "Record a re-measured crate weight at an arrived or delivered batch",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			weight, err := parseWeight("weigh", args[2])
			if err != nil {
				return err
			}
			if !weight.Valid {
				return ledger.Validation("weigh", "weight is required")
			}
			loc, err := parseLocation(location)
			if err != nil {
				return ledger.Validation("weigh", "%v", err)
			}
			return ctx.withServices(cmd, func(c context.Context, svc *services) error {
				batch, err := svc.resolveBatch(c, args[0])
				if err != nil {
					return err
				}
				report, err := svc.engine.Weigh(c, reconcile.WeighRequest{
					BatchID:  batch.ID,
					Code:     args[1],
					Weight:   weight.Decimal,
					Actor:    ctx.actor(),
					PhotoRef: strings.TrimSpace(photo),
					Location: loc,
				})
				if err != nil {
					return err
				}
				return ctx.emit(cmd.OutOrStdout(), report, func(w io.Writer) {
					code := ledger.NormalizeCode(args[1])
					for _, crate := range report.Crates {
						if crate.Code != code {
							continue
						}
						fmt.Fprintf(w, "Crate %s: declared %s, observed %s, differential %s\n",
							crate.Code, crate.Declared.StringFixed(2), crate.Observed.StringFixed(2), signed(crate.Differential))
					}
					fmt.Fprintf(w, "Batch %s: %d weighed, differential %s (%s%%)\n",
						report.BatchCode, report.WeighedCount, signed(report.TotalDifferential), report.LossPercentage.StringFixed(2))
				})
			})
		},
	}
	cmd.Flags().StringVar(&photo, "photo", "", "Photo reference for the weigh-in")
	cmd.Flags().StringVar(&location, "location", "", "Weigh location as \"lat,lng\"")
	return cmd
}
