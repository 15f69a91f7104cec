package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chiquitav2/vpn-leased/pkg/api"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List leases sorted by expiry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat()
		if err != nil {
			return err
		}
		status, _ := cmd.Flags().GetString("status")
		tier, _ := cmd.Flags().GetString("tier")

		resp, err := newClient().ListLeases(cmd.Context(), api.LeaseListParams{Status: status, Tier: tier})
		if err != nil {
			return err
		}
		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), resp)
		}
		if err := writeLeaseTable(cmd.OutOrStdout(), resp.Leases, time.Now()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d leases, %d active\n", resp.TotalCount, resp.ActiveCount)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <lease-id>",
	Short: "Show one lease",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat()
		if err != nil {
			return err
		}
		l, err := newClient().GetLease(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), l)
		}
		return writeLeaseDetail(cmd.OutOrStdout(), *l, time.Now())
	},
}

var createCmd = &cobra.Command{
	Use:   "create <lease-id>",
	Short: "Create a lease",
	Long: `Create a lease for a provisioned peer. Without --duration the tier's
default applies. Creating an id that already exists returns the stored lease.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat()
		if err != nil {
			return err
		}
		tier, _ := cmd.Flags().GetString("tier")
		hint, _ := cmd.Flags().GetString("hint")

		req := &api.CreateLeaseRequest{LeaseID: args[0], Tier: tier, Hint: hint}
		if cmd.Flags().Changed("duration") {
			minutes, _ := cmd.Flags().GetInt("duration")
			d := api.FlexInt(minutes)
			req.DurationMinutes = &d
		}

		resp, err := newClient().CreateLease(cmd.Context(), req)
		if err != nil {
			return err
		}
		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), resp)
		}
		if resp.Existing {
			fmt.Fprintf(cmd.OutOrStdout(), "Lease %s already exists\n", resp.Lease.LeaseID)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Lease %s created\n", resp.Lease.LeaseID)
		}
		return writeLeaseDetail(cmd.OutOrStdout(), resp.Lease, time.Now())
	},
}

var expireCmd = &cobra.Command{
	Use:   "expire <lease-id>",
	Short: "Revoke a lease now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat()
		if err != nil {
			return err
		}
		resp, err := newClient().ExpireLease(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), resp)
		}
		if resp.AlreadyExpired {
			fmt.Fprintf(cmd.OutOrStdout(), "Lease %s was already expired\n", resp.Lease.LeaseID)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Lease %s expired\n", resp.Lease.LeaseID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd, getCmd, createCmd, expireCmd)

	listCmd.Flags().String("status", "", "filter by status (active or expired)")
	listCmd.Flags().String("tier", "", "filter by tier")

	createCmd.Flags().String("tier", "", "lease tier (basic, premium, ...)")
	createCmd.Flags().Int("duration", 0, "duration in minutes; defaults to the tier's duration")
	createCmd.Flags().String("hint", "", "profile id hint used for key lookup")
	createCmd.MarkFlagRequired("tier")
}
