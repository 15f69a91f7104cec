// Package cmd implements the leasectl commands.
package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chiquitav2/vpn-leased/internal/leasectl/client"
	"github.com/chiquitav2/vpn-leased/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "leasectl",
	Short: "Operate a running vpn-leased daemon",
	Long: `leasectl talks to the lease daemon's control API to create, inspect,
and force-expire access leases.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8081", "daemon API base URL")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "per-request timeout")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "output format (table or json)")
	rootCmd.PersistentFlags().String("log-level", "warn", "client log level")

	viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	viper.SetEnvPrefix("LEASECTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func newClient() *client.Client {
	log := logger.NewWithWriter(logger.LoggerConfig{
		Level:     logger.LogLevel(viper.GetString("log_level")),
		Format:    logger.FormatText,
		Component: "leasectl",
	}, os.Stderr)
	return client.NewClient(viper.GetString("server"), log, client.WithTimeout(viper.GetDuration("timeout")))
}

func outputFormat() (string, error) {
	switch f := viper.GetString("output"); f {
	case "table", "json":
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (must be table or json)", f)
	}
}
