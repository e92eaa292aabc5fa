package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hackgods/govease-queue/internal/catalog"
	"github.com/hackgods/govease-queue/internal/token"
)

func NewCentersCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "centers",
		Short: "Manage service centers",
	}
	cmd.AddCommand(newCentersImportCommand(rootOpts))
	cmd.AddCommand(newCentersListCommand(rootOpts))
	return cmd
}

func newCentersImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Create or update centers from a YAML catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			centers, err := catalog.Load(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "load catalog", err)
			}

			return rootOpts.withService(cmd, func(svc *token.Service, out *OutputFormatter) error {
				n, err := catalog.Import(cmd.Context(), svc, centers)
				if err != nil {
					return err
				}
				out.VerboseLog("imported %d centers from %s", n, args[0])
				return out.Success(map[string]int{"imported": n}, func(w io.Writer) {
					fmt.Fprintf(w, "imported %d centers\n", n)
				})
			})
		},
	}
}

func newCentersListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List service centers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withService(cmd, func(svc *token.Service, out *OutputFormatter) error {
				centers, err := svc.ListCenters(cmd.Context())
				if err != nil {
					return err
				}
				return out.Success(centers, func(w io.Writer) {
					fmt.Fprintln(w, "ID\tCODE\tTYPE\tNAME\tDEPARTMENTS")
					for _, c := range centers {
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Code, c.Type, c.Name, strings.Join(c.Departments, ","))
					}
				})
			})
		},
	}
}
