// Package cmd implements the fundsettlectl commands.
package cmd

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

const (
	flagServer  = "server"
	flagAPIKey  = "api-key"
	flagTimeout = "timeout"
)

// NewRootCmd creates the fundsettlectl root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fundsettlectl",
		Short: "Operate a fundsettle withdrawal settlement server",
		Long: `fundsettlectl talks to the fundsettle HTTP API.

The server address and API key default to FUNDSETTLE_SERVER and
FUNDSETTLE_API_KEY.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String(flagServer, envOr("FUNDSETTLE_SERVER", "http://localhost:8000"), "fundsettle server base URL")
	rootCmd.PersistentFlags().String(flagAPIKey, os.Getenv("FUNDSETTLE_API_KEY"), "API key sent as a bearer token")
	rootCmd.PersistentFlags().Duration(flagTimeout, 2*time.Minute, "request timeout")

	rootCmd.AddCommand(
		CmdStatus(),
		CmdHealth(),
		GetPoolsCmd(),
		GetWithdrawalCmd(),
		GetReceiptsCmd(),
		CmdAudit(),
		CmdEncryptKey(),
	)
	return rootCmd
}

// CmdStatus returns the command that shows server status.
func CmdStatus() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server mode, version and scheduled jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return getAndPrint(cmd, "/api/status")
		},
	}
}

// CmdHealth returns the command that runs the server health checks.
func CmdHealth() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Run the server health checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return getAndPrint(cmd, "/api/health")
		},
	}
}

// CmdAudit returns the command that lists audit entries.
func CmdAudit() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recent audit log entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return getAndPrint(cmd, "/api/audit"+listQuery(cmd, nil))
		},
	}
	addListFlags(cmd)
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
