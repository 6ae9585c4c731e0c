package cmd

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

// GetReceiptsCmd returns the receipt commands.
func GetReceiptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipts",
		Short: "Settlement receipt commands",
	}
	cmd.AddCommand(
		CmdListReceipts(),
		CmdGetReceipt(),
		CmdStatement(),
	)
	return cmd
}

// CmdListReceipts returns the command that lists receipts by investor or pool.
func CmdListReceipts() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List receipts of an investor or a pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			investor, _ := cmd.Flags().GetString("investor")
			pool, _ := cmd.Flags().GetString("pool")
			if (investor == "") == (pool == "") {
				return errors.New("set exactly one of --investor and --pool")
			}
			q := url.Values{}
			if investor != "" {
				q.Set("investor", investor)
			} else {
				q.Set("pool", pool)
			}
			return getAndPrint(cmd, "/api/receipts"+listQuery(cmd, q))
		},
	}
	cmd.Flags().String("investor", "", "investor id")
	cmd.Flags().String("pool", "", "pool id")
	addListFlags(cmd)
	return cmd
}

// CmdGetReceipt returns the command that shows one receipt.
func CmdGetReceipt() *cobra.Command {
	return &cobra.Command{
		Use:   "get [receipt-id]",
		Short: "Show a receipt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint(cmd, "/api/receipts/"+url.PathEscape(args[0]))
		},
	}
}

// CmdStatement returns the command that exports an investor statement.
func CmdStatement() *cobra.Command {
	return &cobra.Command{
		Use:   "statement [investor-id]",
		Short: "Export an investor's receipts to blob storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendAndPrint(cmd, http.MethodPost, "/api/statements/"+url.PathEscape(args[0]), nil)
		},
	}
}
