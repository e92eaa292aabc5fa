package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hackgods/govease-queue/internal/token"
)

func NewTokensCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Inspect and process tokens",
	}
	cmd.AddCommand(newTokensListCommand(rootOpts))
	cmd.AddCommand(newTokensNextCommand(rootOpts))
	cmd.AddCommand(newTokensActionCommand(rootOpts, "approve", "Approve a pending token", (*token.Service).ApproveToken))
	cmd.AddCommand(newTokensActionCommand(rootOpts, "reject", "Reject a pending token", (*token.Service).RejectToken))
	cmd.AddCommand(newTokensActionCommand(rootOpts, "clear", "Clear an approved or rejected token", (*token.Service).ClearToken))
	return cmd
}

func printTokens(w io.Writer, tokens []token.Token) {
	fmt.Fprintln(w, "ID\tCENTER\tDEPARTMENT\tNUMBER\tSTATUS\tOPEN\tNAME\tCREATED")
	for _, t := range tokens {
		open := "yes"
		if token.Terminal(t.Status) {
			open = "no"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			t.ID, t.CenterID, t.Department, t.TokenNumber, t.Status, open, t.UserName, t.CreatedAt.Format(time.RFC3339))
	}
}

func newTokensListCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		f      token.Filter
		status string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tokens in queue order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = token.Status(status)
			return rootOpts.withService(cmd, func(svc *token.Service, out *OutputFormatter) error {
				tokens, err := svc.ListTokens(cmd.Context(), f)
				if err != nil {
					return err
				}
				return out.Success(tokens, func(w io.Writer) { printTokens(w, tokens) })
			})
		},
	}

	cmd.Flags().StringVar(&f.CenterID, "center", "", "center id")
	cmd.Flags().StringVar(&f.Department, "department", "", "department")
	cmd.Flags().StringVar(&status, "status", "", "pending, approved, rejected or cleared")
	cmd.Flags().StringVar(&f.CreatedBy, "created-by", "", "creator identity")
	cmd.Flags().BoolVar(&f.NewestFirst, "newest", false, "newest tokens first")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum number of tokens, 0 for all")
	return cmd
}

func newTokensNextCommand(rootOpts *RootOptions) *cobra.Command {
	var centerID, department string

	cmd := &cobra.Command{
		Use:   "next",
		Short: "Approve the oldest pending token of a center",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withService(cmd, func(svc *token.Service, out *OutputFormatter) error {
				t, err := svc.ServeNext(cmd.Context(), centerID, department)
				if err != nil {
					return err
				}
				return out.Success(t, func(w io.Writer) { printTokens(w, []token.Token{*t}) })
			})
		},
	}

	cmd.Flags().StringVar(&centerID, "center", "", "center id")
	cmd.Flags().StringVar(&department, "department", "", "only this department")
	_ = cmd.MarkFlagRequired("center")
	return cmd
}

type tokenAction func(*token.Service, context.Context, uuid.UUID) (*token.Token, error)

func newTokensActionCommand(rootOpts *RootOptions, use, short string, action tokenAction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <token-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid token id", err)
			}

			return rootOpts.withService(cmd, func(svc *token.Service, out *OutputFormatter) error {
				t, err := action(svc, cmd.Context(), id)
				if err != nil {
					return err
				}
				return out.Success(t, func(w io.Writer) { printTokens(w, []token.Token{*t}) })
			})
		},
	}
}
