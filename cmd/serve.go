package cmd

import (
	"context"
	"log/slog"

	"github.com/matrixise/holder-snapshot/internal/api"
	"github.com/matrixise/holder-snapshot/internal/blockchain"
	"github.com/matrixise/holder-snapshot/internal/config"
	"github.com/matrixise/holder-snapshot/internal/health"
	"github.com/matrixise/holder-snapshot/internal/logger"
	"github.com/matrixise/holder-snapshot/internal/snapshot"
	"github.com/matrixise/holder-snapshot/internal/storage"
	"github.com/spf13/cobra"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve stored snapshots over HTTP",
	Long:  `Serve persisted snapshots and dependency health without taking new snapshots.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port (default: http_port from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger.Setup(logLevel)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go waitForSignal(ctx, cancel)

	cfg, databaseURL, err := config.LoadWithDefaults(cfgFile)
	if err != nil {
		slog.Error("Configuration error", "error", err)
		return err
	}
	if cfg.LogLevel != "" && !cmd.Flags().Changed("log-level") {
		logger.Setup(cfg.LogLevel)
	}

	store, err := storage.NewStore(ctx, databaseURL)
	if err != nil {
		slog.Error("Failed to connect to PostgreSQL", "error", err)
		return err
	}
	defer store.Close()

	client, err := blockchain.NewClient(cfg.RPCUrls)
	if err != nil {
		slog.Error("Failed to connect to RPC", "error", err)
		return err
	}
	defer client.Close()

	graphs, err := snapshot.GraphClients(cfg)
	if err != nil {
		return err
	}

	port := servePort
	if port == 0 {
		port = cfg.HTTPPort
	}
	checker := health.NewChecker(store, client, graphs, nil)
	stopServer := startServer(port, api.NewRouter(store, checker.Handler()))
	defer stopServer()

	<-ctx.Done()
	slog.Info("Shutdown requested, stopping server")
	return nil
}
