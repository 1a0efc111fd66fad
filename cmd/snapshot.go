package cmd

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/matrixise/holder-snapshot/internal/api"
	"github.com/matrixise/holder-snapshot/internal/blockchain"
	"github.com/matrixise/holder-snapshot/internal/config"
	"github.com/matrixise/holder-snapshot/internal/graph"
	"github.com/matrixise/holder-snapshot/internal/health"
	"github.com/matrixise/holder-snapshot/internal/logger"
	"github.com/matrixise/holder-snapshot/internal/scheduler"
	"github.com/matrixise/holder-snapshot/internal/snapshot"
	"github.com/matrixise/holder-snapshot/internal/storage"
	"github.com/spf13/cobra"
)

var (
	interval     string
	blockFlag    uint64
	timestamp    string
	outputPath   string
	outputFormat string
	noStore      bool
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Take a holder snapshot",
	Long: `Collect every configured venue at one block, merge the holder balances and
persist the result to PostgreSQL. With --interval, keep taking snapshots of the
confirmed chain head on a clock-aligned schedule and serve them over HTTP.`,
	RunE: runSnapshot,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)

	snapshotCmd.Flags().StringVar(&interval, "interval", "", "run interval - duration (5m, 1h) or cron (\"0 */6 * * *\") - empty for one snapshot")
	snapshotCmd.Flags().Uint64Var(&blockFlag, "block", 0, "snapshot block (default: chain head minus confirmations)")
	snapshotCmd.Flags().StringVar(&timestamp, "timestamp", "", "snapshot the last block at this time (unix seconds or RFC 3339)")
	snapshotCmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the holder table to this file (\"-\" for stdout)")
	snapshotCmd.Flags().StringVar(&outputFormat, "format", snapshot.FormatJSON, "output format (json, csv)")
	snapshotCmd.Flags().BoolVar(&noStore, "no-store", false, "do not persist the snapshot")

	snapshotCmd.MarkFlagsMutuallyExclusive("block", "timestamp")
	snapshotCmd.MarkFlagsMutuallyExclusive("interval", "block")
	snapshotCmd.MarkFlagsMutuallyExclusive("interval", "timestamp")
	snapshotCmd.MarkFlagsMutuallyExclusive("interval", "no-store")
}

// runner holds everything one snapshot run needs
type runner struct {
	cfg     *config.Config
	client  *blockchain.Client
	graphs  map[string]graph.Querier
	service *snapshot.Service
	store   *storage.Store
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	logger.Setup(logLevel)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	go waitForSignal(ctx, cancel)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		slog.Error("Configuration error", "error", err)
		return err
	}
	if cfg.LogLevel != "" && !cmd.Flags().Changed("log-level") {
		logger.Setup(cfg.LogLevel)
	}

	runInterval := interval
	if runInterval == "" && blockFlag == 0 && timestamp == "" && !noStore {
		runInterval = cfg.Interval
	}

	slog.Info("Configuration loaded",
		"config_path", cfgFile,
		"token", cfg.Token.Address,
		"venues", len(cfg.Venues),
		"interval", runInterval,
	)

	r, err := newRunner(ctx, cfg, !noStore)
	if err != nil {
		return err
	}
	defer r.close()

	if runInterval == "" {
		return r.once(ctx)
	}
	return r.daemon(ctx, runInterval)
}

func newRunner(ctx context.Context, cfg *config.Config, withStore bool) (*runner, error) {
	r := &runner{cfg: cfg}

	client, err := blockchain.NewClient(cfg.RPCUrls)
	if err != nil {
		slog.Error("Failed to connect to RPC", "error", err)
		return nil, err
	}
	r.client = client
	if len(cfg.RPCUrls) == 1 {
		slog.Info("RPC connection established", "endpoint", cfg.RPCUrls[0])
	} else {
		slog.Info("RPC connection established with failover",
			"endpoints", len(cfg.RPCUrls),
			"primary", cfg.RPCUrls[0])
	}

	decimals := blockchain.TokenDecimals(ctx, client, cfg.Token.Address, cfg.Token.FallbackDecimals)
	symbol := blockchain.TokenSymbol(ctx, client, cfg.Token.Address, cfg.Token.Symbol)
	slog.Info("Tracked token", "symbol", symbol, "address", cfg.Token.Address, "decimals", decimals)

	if r.graphs, err = snapshot.GraphClients(cfg); err != nil {
		r.close()
		return nil, err
	}
	if r.service, err = snapshot.FromConfig(cfg, r.graphs, client, decimals); err != nil {
		r.close()
		return nil, err
	}

	if withStore {
		dsn, err := config.DatabaseURL()
		if err != nil {
			r.close()
			return nil, err
		}
		if r.store, err = storage.NewStore(ctx, dsn); err != nil {
			slog.Error("Failed to connect to PostgreSQL", "error", err)
			r.close()
			return nil, err
		}
		slog.Info("PostgreSQL connection established")
	}
	return r, nil
}

func (r *runner) close() {
	if r.store != nil {
		r.store.Close()
	}
	if r.client != nil {
		r.client.Close()
	}
}

// take computes, persists and optionally writes one snapshot
func (r *runner) take(ctx context.Context, block uint64, out io.Writer) error {
	if timeout := r.cfg.GetSnapshotTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	snap, err := r.service.Take(ctx, block)
	if err != nil {
		return errors.Wrapf(err, "snapshot at block %d", block)
	}

	if r.store != nil {
		if err := r.store.SaveSnapshot(ctx, snap, time.Now()); err != nil {
			return err
		}
		slog.Info("Snapshot stored", "block", block, "holders", snap.Len())
	}

	if out != nil {
		return snapshot.Write(out, snap, outputFormat)
	}
	return nil
}

func (r *runner) once(ctx context.Context) error {
	block, err := resolveBlock(ctx, r.client, blockFlag, timestamp, r.cfg.Confirmations)
	if err != nil {
		return err
	}

	var out io.Writer
	switch outputPath {
	case "":
		if r.store == nil {
			out = os.Stdout
		}
	case "-":
		out = os.Stdout
	default:
		f, err := os.Create(outputPath)
		if err != nil {
			return errors.Wrap(err, "failed to create output file")
		}
		defer f.Close()
		out = f
	}

	return r.take(ctx, block, out)
}

func (r *runner) daemon(ctx context.Context, runInterval string) error {
	slog.Info("Starting daemon mode with scheduler",
		"interval", runInterval,
		"timezone", r.cfg.GetTimezone().String(),
		"run_immediately", r.cfg.RunImmediately)

	sched, err := scheduler.NewScheduler(ctx, scheduler.Config{
		Interval:       runInterval,
		Timezone:       r.cfg.GetTimezone(),
		RunImmediately: r.cfg.RunImmediately,
		Logger:         slog.Default(),
	}, func(jobCtx context.Context) error {
		block, err := resolveBlock(jobCtx, r.client, 0, "", r.cfg.Confirmations)
		if err != nil {
			return err
		}
		return r.take(jobCtx, block, nil)
	})
	if err != nil {
		slog.Error("Failed to create scheduler", "error", err)
		return errors.Wrap(err, "scheduler creation failed")
	}
	defer sched.Stop()

	checker := health.NewChecker(r.store, r.client, r.graphs, sched)
	stopServer := startServer(r.cfg.HTTPPort, api.NewRouter(r.store, checker.Handler()))
	defer stopServer()

	if err := sched.Start(); err != nil {
		slog.Error("Failed to start scheduler", "error", err)
		return errors.Wrap(err, "scheduler start failed")
	}
	slog.Info("Daemon mode started with clock-aligned scheduling")

	<-ctx.Done()
	slog.Info("Shutdown requested, stopping daemon")
	return nil
}

// waitForSignal cancels on SIGINT or SIGTERM, or returns once ctx is done
func waitForSignal(ctx context.Context, cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		slog.Info("Signal received, graceful shutdown", "signal", sig)
		cancel()
	case <-ctx.Done():
	}
}

// startServer serves handler in the background and returns a graceful stop func
func startServer(port int, handler http.Handler) func() {
	if port == 0 {
		port = 8080
	}
	srv := api.NewServer(port, handler)

	go func() {
		slog.Info("HTTP server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
	}
}
