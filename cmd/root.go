package cmd

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "holder-snapshot",
	Short: "Multi-venue token holder snapshots",
	Long: `holder-snapshot computes the holders of a token at a historical block.
Balances held directly and through liquidity venues (yield-splitting markets,
pools, vault wrappers) are collected from graph indexers, converted to base
token units and merged into one table per holder.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}
