package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"cratetrail/internal/ledger"
)

func newCrateCommand(ctx *commandContext) *cobra.Command {
	crateCmd := &cobra.Command{
		Use:     "crate",
		Aliases: []string{"crates"},
		Short:   "Manage the crate registry",
	}

	crateCmd.AddCommand(newCrateRegisterCommand(ctx))
	crateCmd.AddCommand(newCrateShowCommand(ctx))
	crateCmd.AddCommand(newCrateUpdateCommand(ctx))
	crateCmd.AddCommand(newCrateListCommand(ctx))
	crateCmd.AddCommand(newCrateUnassignedCommand(ctx))

	return crateCmd
}

// crateDetailFlags are the optional attributes shared by register, update
// and assign.
type crateDetailFlags struct {
	weight    string
	farm      string
	variety   string
	grade     string
	harvested string
	notes     string
}

func (f *crateDetailFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.weight, "weight", "", "Crate weight (new crates default to policy.default_crate_weight)")
	cmd.Flags().StringVar(&f.farm, "farm", "", "Farm ID")
	cmd.Flags().StringVar(&f.variety, "variety", "", "Variety ID")
	cmd.Flags().StringVar(&f.grade, "grade", "", "Quality grade")
	cmd.Flags().StringVar(&f.harvested, "harvested", "", "Harvest time")
	cmd.Flags().StringVar(&f.notes, "notes", "", "Free-form notes")
}

func newCrateRegisterCommand(ctx *commandContext) *cobra.Command {
	var details crateDetailFlags
	var supervisor, photo string

	cmd := &cobra.Command{
		Use:   "register <code>",
		Short: "Register a crate without assigning it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			weight, err := parseWeight("crate.register", details.weight)
			if err != nil {
				return err
			}
			harvested, err := parseTime("crate.register", details.harvested)
			if err != nil {
				return err
			}
			input := ledger.NewCrate{
				Code:         args[0],
				Weight:       decimal.Zero,
				FarmID:       strings.TrimSpace(details.farm),
				VarietyID:    strings.TrimSpace(details.variety),
				QualityGrade: strings.TrimSpace(details.grade),
				SupervisorID: strings.TrimSpace(supervisor),
				HarvestedAt:  harvested,
				Notes:        details.notes,
				PhotoRef:     strings.TrimSpace(photo),
			}
			if weight.Valid {
				input.Weight = weight.Decimal
			}
			return ctx.withServices(cmd, func(c context.Context, svc *services) error {
				crate, err := svc.assign.RegisterCrate(c, input, ctx.actor())
				if err != nil {
					return err
				}
				return ctx.emit(cmd.OutOrStdout(), newCrateView(crate), func(w io.Writer) {
					fmt.Fprintf(w, "Registered crate %s (%s)\n", crate.Code, crate.Weight.StringFixed(2))
				})
			})
		},
	}
	details.register(cmd)
	cmd.Flags().StringVar(&supervisor, "supervisor", "", "Supervisor ID (defaults to the acting user)")
	cmd.Flags().StringVar(&photo, "photo", "", "Photo reference")
	return cmd
}

// edits turns the flags the user actually set into a partial update.
func (f *crateDetailFlags) edits(cmd *cobra.Command, photo string) (ledger.CrateDetails, error) {
	const op = "crate.update"
	var details ledger.CrateDetails
	flags := cmd.Flags()
	if flags.Changed("weight") {
		weight, err := parseWeight(op, f.weight)
		if err != nil {
			return details, err
		}
		if !weight.Valid {
			return details, ledger.Validation(op, "weight cannot be blank")
		}
		details.Weight = &weight.Decimal
	}
	if flags.Changed("harvested") {
		harvested, err := parseTime(op, f.harvested)
		if err != nil {
			return details, err
		}
		if harvested == nil {
			return details, ledger.Validation(op, "harvest time cannot be blank")
		}
		details.HarvestedAt = harvested
	}
	if flags.Changed("farm") {
		details.FarmID = &f.farm
	}
	if flags.Changed("variety") {
		details.VarietyID = &f.variety
	}
	if flags.Changed("grade") {
		details.QualityGrade = &f.grade
	}
	if flags.Changed("notes") {
		details.Notes = &f.notes
	}
	if flags.Changed("photo") {
		details.PhotoRef = &photo
	}
	return details, nil
}

func newCrateUpdateCommand(ctx *commandContext) *cobra.Command {
	var details crateDetailFlags
	var photo string

	cmd := &cobra.Command{
		Use:   "update <crate>",
		Short: "Edit a crate's weight or attributes",
		Long: `Edit a registered crate. Only the flags given are changed.

Editing an assigned crate requires the batch to be non-terminal; a weight
change moves the batch total with it. Weigh-ins already recorded keep the
declared weight they were measured against.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			edits, err := details.edits(cmd, photo)
			if err != nil {
				return err
			}
			return ctx.withServices(cmd, func(c context.Context, svc *services) error {
				res, err := svc.assign.UpdateCrate(c, crateRef(args[0]), edits, ctx.actor())
				if err != nil {
					return err
				}
				payload := struct {
					Crate crateView  `json:"crate"`
					Batch *batchView `json:"batch,omitempty"`
				}{Crate: newCrateView(res.Crate)}
				if res.Batch != nil {
					view := newBatchView(res.Batch)
					payload.Batch = &view
				}
				return ctx.emit(cmd.OutOrStdout(), payload, func(w io.Writer) {
					fmt.Fprintf(w, "Updated crate %s (%s)\n", res.Crate.Code, res.Crate.Weight.StringFixed(2))
					if res.Batch != nil {
						fmt.Fprintf(w, "Batch %s total weight is now %s\n", res.Batch.Code, res.Batch.TotalWeight.StringFixed(2))
					}
				})
			})
		},
	}
	details.register(cmd)
	cmd.Flags().StringVar(&photo, "photo", "", "Photo reference")
	return cmd
}

func newCrateListCommand(ctx *commandContext) *cobra.Command {
	var (
		filter            ledger.CrateFilter
		batchRef          string
		assigned, unbound bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Search the crate registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case assigned:
				filter.Assigned = &assigned
			case unbound:
				no := false
				filter.Assigned = &no
			}
			return ctx.withServices(cmd, func(c context.Context, svc *services) error {
				if strings.TrimSpace(batchRef) != "" {
					batch, err := svc.resolveBatch(c, batchRef)
					if err != nil {
						return err
					}
					filter.BatchID = &batch.ID
				}
				crates, err := svc.store.ListCrates(c, filter)
				if err != nil {
					return err
				}
				return ctx.emit(cmd.OutOrStdout(), crateViews(crates), func(w io.Writer) {
					if len(crates) == 0 {
						fmt.Fprintln(w, "No crates match")
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
	cmd.Flags().StringVar(&filter.VarietyID, "variety", "", "Only crates of this variety")
	cmd.Flags().StringVar(&filter.FarmID, "farm", "", "Only crates from this farm")
	cmd.Flags().StringVar(&filter.QualityGrade, "grade", "", "Only crates of this quality grade")
	cmd.Flags().StringVar(&batchRef, "batch", "", "Only crates in this batch (ID or code)")
	cmd.Flags().BoolVar(&assigned, "assigned", false, "Only crates bound to a batch")
	cmd.Flags().BoolVar(&unbound, "unassigned", false, "Only crates not bound to a batch")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "Maximum rows to return")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "Rows to skip")
	cmd.MarkFlagsMutuallyExclusive("assigned", "unassigned")
	return cmd
}

func newCrateShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <crate>",
		Short: "Show a crate and the batch it belongs to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(c context.Context, svc *services) error {
				crate, err := svc.resolveCrate(c, args[0])
				if err != nil {
					return err
				}
				batchCode := ""
				if crate.BatchID != nil {
					batch, err := svc.store.GetBatch(c, *crate.BatchID)
					if err != nil {
						return err
					}
					batchCode = batch.Code
				}
				payload := struct {
					crateView
					BatchCode string `json:"batch_code,omitempty"`
				}{newCrateView(crate), batchCode}
				return ctx.emit(cmd.OutOrStdout(), payload, func(w io.Writer) {
					renderFields(w, []field{
						{"Code", crate.Code},
						{"ID", crate.ID.String()},
						{"Weight", crate.Weight.StringFixed(2)},
						{"Farm", crate.FarmID},
						{"Variety", crate.VarietyID},
						{"Grade", crate.QualityGrade},
						{"Supervisor", crate.SupervisorID},
						{"Harvested", formatTime(crate.HarvestedAt)},
						{"Batch", batchCode},
						{"Photo", crate.PhotoRef},
						{"Notes", crate.Notes},
					})
				})
			})
		},
	}
}

func newCrateUnassignedCommand(ctx *commandContext) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "unassigned",
		Short: "List crates not bound to any batch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(c context.Context, svc *services) error {
				crates, err := svc.store.ListUnassignedCrates(c, limit, offset)
				if err != nil {
					return err
				}
				return ctx.emit(cmd.OutOrStdout(), crateViews(crates), func(w io.Writer) {
					if len(crates) == 0 {
						fmt.Fprintln(w, "No unassigned crates")
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
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	return cmd
}
