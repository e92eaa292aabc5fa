package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hackgods/govease-queue/internal/token"
)

func NewQRCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qr",
		Short: "Manage center QR codes",
	}
	cmd.AddCommand(newQRCreateCommand(rootOpts))
	cmd.AddCommand(newQRListCommand(rootOpts))
	cmd.AddCommand(newQRToggleCommand(rootOpts))
	cmd.AddCommand(newQRResolveCommand(rootOpts))
	return cmd
}

func printQRCodes(w io.Writer, codes []token.QRCode) {
	fmt.Fprintln(w, "CODE\tCENTER\tACTIVE")
	for _, q := range codes {
		fmt.Fprintf(w, "%s\t%s\t%t\n", q.Code, q.CenterID, q.Active)
	}
}

func newQRCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		centerID string
		count    int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Generate new active QR codes for a center",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withService(cmd, func(svc *token.Service, out *OutputFormatter) error {
				codes, err := svc.CreateQRCodes(cmd.Context(), centerID, count)
				if err != nil {
					return err
				}
				return out.Success(codes, func(w io.Writer) { printQRCodes(w, codes) })
			})
		},
	}

	cmd.Flags().StringVar(&centerID, "center", "", "center id")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "how many codes to generate")
	_ = cmd.MarkFlagRequired("center")
	return cmd
}

func newQRListCommand(rootOpts *RootOptions) *cobra.Command {
	var centerID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List QR codes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withService(cmd, func(svc *token.Service, out *OutputFormatter) error {
				codes, err := svc.ListQRCodes(cmd.Context(), centerID)
				if err != nil {
					return err
				}
				return out.Success(codes, func(w io.Writer) { printQRCodes(w, codes) })
			})
		},
	}

	cmd.Flags().StringVar(&centerID, "center", "", "only codes of this center")
	return cmd
}

func newQRToggleCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <code>",
		Short: "Flip a QR code between active and inactive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withService(cmd, func(svc *token.Service, out *OutputFormatter) error {
				q, err := svc.ToggleQR(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return out.Success(q, func(w io.Writer) { printQRCodes(w, []token.QRCode{*q}) })
			})
		},
	}
}

func newQRResolveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <code>",
		Short: "Show the center a QR code belongs to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withService(cmd, func(svc *token.Service, out *OutputFormatter) error {
				q, err := svc.ResolveQR(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return out.Success(q, func(w io.Writer) { printQRCodes(w, []token.QRCode{*q}) })
			})
		},
	}
}
