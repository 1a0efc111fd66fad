package cmd

import (
	"log/slog"

	"github.com/matrixise/holder-snapshot/internal/config"
	"github.com/matrixise/holder-snapshot/internal/logger"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file syntax and values without taking a snapshot.`,
	RunE:  validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateConfig(cmd *cobra.Command, args []string) error {
	logger.Setup(logLevel)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return err
	}

	_, dbErr := config.DatabaseURL()
	slog.Info("Configuration valid",
		"token", cfg.Token.Address,
		"venues", lo.Map(cfg.Venues, func(v config.VenueConfig, _ int) string { return v.Name + ":" + v.Kind }),
		"rates", len(cfg.Rates),
		"blacklist", len(cfg.Blacklist),
		"rpc_endpoints", len(cfg.RPCUrls),
		"interval", cfg.Interval,
		"log_level", cfg.LogLevel,
		"database_url_set", dbErr == nil,
	)
	return nil
}
