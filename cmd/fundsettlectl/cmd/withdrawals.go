package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

// GetWithdrawalCmd returns the withdrawal commands.
func GetWithdrawalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "withdrawals",
		Aliases: []string{"withdraw", "wd"},
		Short:   "Withdrawal lifecycle commands",
	}
	cmd.AddCommand(
		CmdInitiate(),
		CmdGetWithdrawal(),
		CmdListWithdrawals(),
		CmdLiquidate(),
		CmdFinalize(),
		CmdFail(),
	)
	return cmd
}

// CmdInitiate returns the command that starts a withdrawal.
func CmdInitiate() *cobra.Command {
	return &cobra.Command{
		Use:   "initiate [pool-id] [investor-id] [shares]",
		Short: "Start a withdrawal",
		Long: `Start a withdrawal of the given number of shares. Zero withdraws the
whole position. An active request for the same investor and pool is
returned instead of creating a new one.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			shares, err := strconv.ParseUint(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid shares %q: %w", args[2], err)
			}
			return sendAndPrint(cmd, http.MethodPost, "/api/withdrawals", map[string]any{
				"pool_id":     args[0],
				"investor_id": args[1],
				"shares":      shares,
			})
		},
	}
}

// CmdGetWithdrawal returns the command that shows a request and its progress.
func CmdGetWithdrawal() *cobra.Command {
	return &cobra.Command{
		Use:   "get [request-id]",
		Short: "Show a withdrawal and its per-asset progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint(cmd, "/api/withdrawals/"+url.PathEscape(args[0]))
		},
	}
}

// CmdListWithdrawals returns the command that lists active requests.
func CmdListWithdrawals() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active withdrawals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return getAndPrint(cmd, "/api/withdrawals"+listQuery(cmd, nil))
		},
	}
	addListFlags(cmd)
	return cmd
}

// CmdLiquidate returns the command that runs one liquidation batch.
func CmdLiquidate() *cobra.Command {
	return &cobra.Command{
		Use:   "liquidate [request-id]",
		Short: "Run one liquidation pass over the request's assets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendAndPrint(cmd, http.MethodPost, "/api/withdrawals/"+url.PathEscape(args[0])+"/liquidate", nil)
		},
	}
}

// CmdFinalize returns the command that settles a request.
func CmdFinalize() *cobra.Command {
	return &cobra.Command{
		Use:   "finalize [request-id]",
		Short: "Compute fees, pay out and burn shares",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendAndPrint(cmd, http.MethodPost, "/api/withdrawals/"+url.PathEscape(args[0])+"/finalize", nil)
		},
	}
}

// CmdFail returns the command that abandons a request.
func CmdFail() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fail [request-id]",
		Short: "Abandon an active withdrawal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body any
			if reason, _ := cmd.Flags().GetString("reason"); reason != "" {
				body = map[string]string{"reason": reason}
			}
			return sendAndPrint(cmd, http.MethodPost, "/api/withdrawals/"+url.PathEscape(args[0])+"/fail", body)
		},
	}
	cmd.Flags().String("reason", "", "reason recorded on the request")
	return cmd
}
