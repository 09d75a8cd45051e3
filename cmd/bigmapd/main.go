// Command bigmapd boots a BigMap Index against the in-memory Fake Fabric and
// serves its client-facing RPC surface (spec.md §6.1) over HTTP, alongside a
// Prometheus /metrics endpoint and an operator-facing debug surface.
//
// Configuration layers godotenv → BIGMAP_* environment variables → flags,
// the way Synnergy's cmd/synnergy composes cobra with environment-driven
// defaults (see internal/config).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dfinity/bigmap/internal/bigmapapi"
	"github.com/dfinity/bigmap/internal/bigmapindex"
	"github.com/dfinity/bigmap/internal/config"
	"github.com/dfinity/bigmap/internal/fabric"
	"github.com/dfinity/bigmap/internal/metrics"
	"github.com/dfinity/bigmap/internal/obslog"
	"github.com/dfinity/bigmap/internal/shardid"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	var dev bool

	root := &cobra.Command{
		Use:   "bigmapd",
		Short: "BigMap Index coordinator",
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to a .env file to load before BIGMAP_* environment variables")
	root.PersistentFlags().BoolVar(&dev, "dev", false, "use development (console) logging instead of production JSON logging")

	root.AddCommand(newServeCmd(&envFile, &dev))
	root.AddCommand(newStatusCmd(&envFile, &dev))
	root.AddCommand(newMaintenanceCmd(&envFile, &dev))
	root.AddCommand(newSeedCmd(&envFile, &dev))
	return root
}

// buildIndex loads configuration and wires an Index against a fresh Fake
// Fabric — the one-process demo/test deployment this binary offers, since
// SPEC_FULL.md §6 excludes real canister/WASM lifecycle management from
// scope.
func buildIndex(envFile string, dev bool) (*bigmapindex.Index, *zap.Logger, *prometheus.Registry, config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, nil, config.Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.LogDev = cfg.LogDev || dev

	log, err := obslog.New(cfg.LogDev)
	if err != nil {
		return nil, nil, nil, config.Config{}, fmt.Errorf("build logger: %w", err)
	}

	reg := prometheus.NewRegistry()
	met := metrics.New(reg)

	var fab *fabric.Fake
	if cfg.SnapshotPath != "" {
		fab, err = fabric.NewFakeDurable(shardid.ID("bigmapd-index"), cfg.SnapshotPath, cfg.SnapshotEvery)
		if err != nil {
			return nil, nil, nil, config.Config{}, fmt.Errorf("open snapshot store: %w", err)
		}
	} else {
		fab = fabric.NewFake(shardid.ID("bigmapd-index"))
	}
	ix := bigmapindex.New(fab, cfg, log, met)
	return ix, log, reg, cfg, nil
}

func newServeCmd(envFile *string, dev *bool) *cobra.Command {
	var listenAddr string
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the client RPC, debug, and metrics HTTP servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, log, reg, cfg, err := buildIndex(*envFile, *dev)
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.ListenAddr = listenAddr
			}
			if metricsAddr != "" {
				cfg.MetricsAddr = metricsAddr
			}
			return runServe(cmd.Context(), ix, log, reg, cfg)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "", "client RPC listen address (overrides BIGMAP_LISTEN_ADDR)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-listen", "", "metrics/debug listen address (overrides BIGMAP_METRICS_ADDR)")
	return cmd
}

func runServe(ctx context.Context, ix *bigmapindex.Index, log *zap.Logger, reg *prometheus.Registry, cfg config.Config) error {
	apiSrv := bigmapapi.NewServer(ix, log)

	clientSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           apiSrv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	debugMux := http.NewServeMux()
	debugMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	debugMux.Handle("/", apiSrv.DebugRouter())
	debugSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           debugMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("client RPC server listening", zap.String("addr", cfg.ListenAddr))
		if err := clientSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("client server failed", zap.Error(err))
		}
	}()
	go func() {
		log.Info("debug/metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := debugSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("debug server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case <-stop:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := clientSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("client server shutdown error", zap.Error(err))
	}
	if err := debugSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("debug server shutdown error", zap.Error(err))
	}
	log.Info("bigmapd stopped")
	return nil
}
