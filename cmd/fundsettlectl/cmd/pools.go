package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

// GetPoolsCmd returns the pool commands.
func GetPoolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pools",
		Short: "Pool, NAV, position and deposit commands",
	}
	cmd.AddCommand(
		CmdListPools(),
		CmdGetPool(),
		CmdPoolNAV(),
		CmdPosition(),
		CmdDeposit(),
		CmdListDeposits(),
	)
	return cmd
}

// CmdListPools returns the command that lists pools.
func CmdListPools() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return getAndPrint(cmd, "/api/pools"+listQuery(cmd, nil))
		},
	}
	addListFlags(cmd)
	return cmd
}

// CmdGetPool returns the command that shows one pool.
func CmdGetPool() *cobra.Command {
	return &cobra.Command{
		Use:   "get [pool-id]",
		Short: "Show a pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint(cmd, "/api/pools/"+url.PathEscape(args[0]))
		},
	}
}

// CmdPoolNAV returns the command that shows a pool valuation.
func CmdPoolNAV() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nav [pool-id]",
		Short: "Show the pool's net asset value",
		Long: `Show the pool's net asset value.

Without --fresh the last snapshot is returned while it is valid; with
--fresh the server values the vault now and records a new snapshot.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/pools/" + url.PathEscape(args[0]) + "/nav"
			if fresh, _ := cmd.Flags().GetBool("fresh"); fresh {
				path += "?fresh=true"
			}
			return getAndPrint(cmd, path)
		},
	}
	cmd.Flags().Bool("fresh", false, "revalue the pool instead of reading the snapshot")
	return cmd
}

// CmdPosition returns the command that shows an investor position.
func CmdPosition() *cobra.Command {
	return &cobra.Command{
		Use:   "position [pool-id] [investor-id]",
		Short: "Show an investor's position in a pool",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint(cmd, fmt.Sprintf("/api/pools/%s/positions/%s",
				url.PathEscape(args[0]), url.PathEscape(args[1])))
		},
	}
}

// CmdDeposit returns the command that records a deposit.
func CmdDeposit() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deposit [pool-id] [investor-id] [amount]",
		Short: "Record a deposit and mint shares",
		Long: `Record a deposit of the pool's reference asset and mint shares.

The amount is decimal in whole reference units unless --base-units is set.

Examples:
  fundsettlectl pools deposit pool-1 alice 250.5 --ref 5Xy...sig
  fundsettlectl pools deposit pool-1 alice 250500000 --base-units`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"investor_id": args[1]}
			if base, _ := cmd.Flags().GetBool("base-units"); base {
				n, err := strconv.ParseUint(args[2], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid amount %q: %w", args[2], err)
				}
				body["amount"] = n
			} else {
				body["amount_decimal"] = args[2]
			}
			if ref, _ := cmd.Flags().GetString("ref"); ref != "" {
				body["funding_ref"] = ref
			}
			return sendAndPrint(cmd, http.MethodPost, "/api/pools/"+url.PathEscape(args[0])+"/deposits", body)
		},
	}
	cmd.Flags().String("ref", "", "funding transfer reference; repeats return the original deposit")
	cmd.Flags().Bool("base-units", false, "amount is in base units")
	return cmd
}

// CmdListDeposits returns the command that lists an investor's deposits.
func CmdListDeposits() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deposits [pool-id] [investor-id]",
		Short: "List an investor's deposits into a pool",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := listQuery(cmd, url.Values{"investor": {args[1]}})
			return getAndPrint(cmd, "/api/pools/"+url.PathEscape(args[0])+"/deposits"+q)
		},
	}
	addListFlags(cmd)
	return cmd
}
