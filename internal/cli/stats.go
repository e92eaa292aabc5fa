package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/hackgods/govease-queue/internal/token"
)

func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <center-id>",
		Short: "Show pending counts and wait estimates of a center",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withService(cmd, func(svc *token.Service, out *OutputFormatter) error {
				stats, err := svc.QueueStats(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return out.Success(stats, func(w io.Writer) {
					fmt.Fprintln(w, "DEPARTMENT\tPENDING\tETA (MIN)")
					for _, dept := range slices.Sorted(maps.Keys(stats.PendingCountByDepartment)) {
						n := stats.PendingCountByDepartment[dept]
						fmt.Fprintf(w, "%s\t%d\t%d\n", dept, n, token.EstimatedWaitMinutes(n))
					}
					fmt.Fprintf(w, "TOTAL\t%d\t\n", stats.TotalPending)
				})
			})
		},
	}
}
