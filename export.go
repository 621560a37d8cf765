package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"library-circulation/library"
)

func newExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the transaction ledger and catalogue to an .xlsx workbook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()

			f, err := os.Create(filepath.Clean(out))
			if err != nil {
				return err
			}
			if err := a.mgr.ExportWorkbook(cmd.Context(), f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Printf("Exported to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "library_transactions.xlsx", "output file")
	return cmd
}

func newQRCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "qr {book|member} <id>",
		Short: "Render a book or member-card QR code as PNG",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid id %q", args[1])
			}
			a, err := openApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()

			var (
				png   []byte
				label string
			)
			switch args[0] {
			case "book":
				var b *library.Book
				b, png, err = a.mgr.BookQRCode(cmd.Context(), id)
				if err == nil {
					label = b.Title
				}
			case "member":
				var m *library.Member
				m, png, err = a.mgr.MemberQRCode(cmd.Context(), id)
				if err == nil {
					label = m.FullName()
				}
			default:
				return fmt.Errorf("unknown kind %q, want book or member", args[0])
			}
			if err != nil {
				return err
			}

			if out == "" {
				out = fmt.Sprintf("%s_%d.png", args[0], id)
			}
			if err := os.WriteFile(filepath.Clean(out), png, 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote QR code for %s to %s\n", label, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default <kind>_<id>.png)")
	return cmd
}
