package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"cratetrail/internal/assign"
)

type assignmentView struct {
	BatchCode   string    `json:"batch_code"`
	Crate       crateView `json:"crate"`
	Created     bool      `json:"created"`
	Unchanged   bool      `json:"unchanged"`
	TotalCrates int       `json:"total_crates"`
	TotalWeight string    `json:"total_weight"`
}

func newAssignmentView(res *assign.Result) assignmentView {
	return assignmentView{
		BatchCode:   res.Batch.Code,
		Crate:       newCrateView(res.Crate),
		Created:     res.Created,
		Unchanged:   res.Unchanged,
		TotalCrates: res.Batch.TotalCrates,
		TotalWeight: res.Batch.TotalWeight.String(),
	}
}

// crateRef treats a UUID argument as a crate ID and anything else as a code.
func crateRef(arg string) assign.CrateRef {
	arg = strings.TrimSpace(arg)
	if id, err := uuid.Parse(arg); err == nil {
		return assign.CrateRef{ID: &id}
	}
	return assign.CrateRef{Code: arg}
}

func newAssignCommand(ctx *commandContext) *cobra.Command {
	var details crateDetailFlags

	cmd := &cobra.Command{
		Use:   "assign <batch> <crate>...",
		Short: "Assign crates to an open batch, registering unknown codes on the fly",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			weight, err := parseWeight("assign", details.weight)
			if err != nil {
				return err
			}
			harvested, err := parseTime("assign", details.harvested)
			if err != nil {
				return err
			}
			defaults := assign.Defaults{
				Weight:       weight,
				FarmID:       strings.TrimSpace(details.farm),
				VarietyID:    strings.TrimSpace(details.variety),
				QualityGrade: strings.TrimSpace(details.grade),
				HarvestedAt:  harvested,
				Notes:        details.notes,
			}
			return ctx.withServices(cmd, func(c context.Context, svc *services) error {
				batch, err := svc.resolveBatch(c, args[0])
				if err != nil {
					return err
				}
				views := make([]assignmentView, 0, len(args)-1)
				for _, arg := range args[1:] {
					res, err := svc.assign.Assign(c, batch.ID, crateRef(arg), defaults, ctx.actor())
					if err != nil {
						return err
					}
					views = append(views, newAssignmentView(res))
				}
				return ctx.emit(cmd.OutOrStdout(), views, func(w io.Writer) {
					for _, v := range views {
						switch {
						case v.Unchanged:
							fmt.Fprintf(w, "Crate %s already in %s\n", v.Crate.Code, v.BatchCode)
						case v.Created:
							fmt.Fprintf(w, "Registered and assigned %s to %s\n", v.Crate.Code, v.BatchCode)
						default:
							fmt.Fprintf(w, "Assigned %s to %s\n", v.Crate.Code, v.BatchCode)
						}
					}
					last := views[len(views)-1]
					fmt.Fprintf(w, "Batch %s now holds %d crates (%s)\n", last.BatchCode, last.TotalCrates, last.TotalWeight)
				})
			})
		},
	}
	details.register(cmd)
	return cmd
}

func newUnassignCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "unassign <batch> <crate>",
		Short: "Remove a crate from an open batch",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(c context.Context, svc *services) error {
				batch, err := svc.resolveBatch(c, args[0])
				if err != nil {
					return err
				}
				res, err := svc.assign.Unassign(c, batch.ID, crateRef(args[1]), ctx.actor())
				if err != nil {
					return err
				}
				view := newAssignmentView(res)
				return ctx.emit(cmd.OutOrStdout(), view, func(w io.Writer) {
					fmt.Fprintf(w, "Removed %s from %s (%d crates left)\n", view.Crate.Code, view.BatchCode, view.TotalCrates)
				})
			})
		},
	}
}
