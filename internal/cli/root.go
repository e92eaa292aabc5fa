// Package cli implements queuectl, the operator command line for the token
// queue. Commands talk to the store directly through the token service.
package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/hackgods/govease-queue/internal/token"
)

// Opener returns a ready service and a function releasing it.
type Opener func(ctx context.Context) (*token.Service, func(), error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	open Opener
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:   "queuectl",
		Short: "Operate GovEase token queues",
		Long:  "Manage service centers, QR codes and tokens of the GovEase token queue.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewCentersCommand(opts))
	cmd.AddCommand(NewQRCommand(opts))
	cmd.AddCommand(NewTokensCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))

	return cmd
}

// withService opens the service for the duration of fn.
func (o *RootOptions) withService(cmd *cobra.Command, fn func(svc *token.Service, out *OutputFormatter) error) error {
	out := &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}

	svc, release, err := o.open(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "open store", err)
	}
	defer release()

	if err := fn(svc, out); err != nil {
		if ferr := out.Error(errorCode(err), err.Error()); ferr != nil {
			return ferr
		}
		return WrapExitError(ExitFailure, "command failed", err)
	}
	return nil
}
