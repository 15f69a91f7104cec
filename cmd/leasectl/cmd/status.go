package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat()
		if err != nil {
			return err
		}
		st, err := newClient().Status(cmd.Context())
		if err != nil {
			return err
		}
		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), st)
		}
		return writeStatus(cmd.OutOrStdout(), *st, time.Now())
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check daemon health",
	Long:  `Check daemon health. Exits non-zero when the daemon reports degraded.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := newClient().Health(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (active=%d overdue=%d live_peers=%d)\n",
			h.Status, h.Active, h.Overdue, h.LivePeers)
		if h.Status != "healthy" {
			return fmt.Errorf("daemon is %s", h.Status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, healthCmd)
}
