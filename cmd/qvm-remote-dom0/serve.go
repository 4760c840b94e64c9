package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/infodancer/qvm-remote/internal/config"
	"github.com/infodancer/qvm-remote/internal/executor"
	"github.com/infodancer/qvm-remote/internal/guestexec"
	"github.com/infodancer/qvm-remote/internal/metrics"
)

func serveCmd() *cobra.Command {
	var once, dryRun bool
	var vm string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the executor daemon's poll loop",
		Long: "On each poll tick, serve lists every authorised, running domain's pending\n" +
			"queue, authenticates and executes each request, and writes the result\n" +
			"back. --once runs a single pass instead of looping; --dry-run lists and\n" +
			"authenticates requests without executing them, and writes back a\n" +
			"synthetic result whose stdout starts with [dry-run].",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			cfg = config.ApplyFlags(cfg, &config.Flags{VM: vm})
			logger := newDaemonLogger(cfg)

			prim := guestexec.NewQubesPrimitive()

			auditLog, err := openAuditLog()
			if err != nil {
				fail(1, "qvm-remote-dom0: %v", err)
			}

			var collector metrics.Collector = &metrics.NoopCollector{}
			var metricsServer *metrics.PrometheusServer
			if cfg.Metrics.Enabled {
				metricsServer = metrics.NewPrometheusServer(cfg.Metrics.Address, cfg.Metrics.Path)
				collector = metrics.NewPrometheusCollector(metricsServer.Registry())
			}

			if err := os.MkdirAll(defaultTmpDir, 0700); err != nil {
				fail(1, "qvm-remote-dom0: creating %s: %v", defaultTmpDir, err)
			}

			coord := executor.New(cfg, defaultKeystoreDir, prim, auditLog, collector, logger, defaultTmpDir)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if once {
				logger.Info("running a single pass", "domains", len(cfg.VMs), "dry_run", dryRun)
				coord.RunOnce(ctx, dryRun)
				return nil
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigChan
				logger.Info("received signal, shutting down", "signal", sig.String())
				cancel()
			}()

			watcher := config.NewWatcher(configPathFlag, logger)
			go watcher.Run(ctx, cfg.PollInterval)

			reload := make(chan struct{})
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-watcher.Changed():
						newCfg, warnings, err := config.Load(configPathFlag)
						if err != nil {
							logger.Error("config reload failed, keeping previous configuration", "error", err)
							continue
						}
						newCfg = config.ApplyFlags(newCfg, &config.Flags{VM: vm})
						if err := newCfg.Validate(); err != nil {
							logger.Error("reloaded configuration is invalid, keeping previous configuration", "error", err)
							continue
						}
						for _, w := range warnings {
							logger.Warn(w)
						}
						coord.SetConfig(newCfg)
						logger.Info("configuration reloaded", "domains", len(newCfg.VMs))
						select {
						case reload <- struct{}{}:
						case <-ctx.Done():
							return
						}
					}
				}
			}()

			if metricsServer != nil {
				go func() {
					if err := metricsServer.Start(ctx); err != nil && err != context.Canceled {
						logger.Error("metrics server error", "error", err)
					}
				}()
				logger.Info("metrics server started", "address", cfg.Metrics.Address, "path", cfg.Metrics.Path)
			}

			logger.Info("starting qvm-remote-dom0", "domains", len(cfg.VMs), "poll_interval", cfg.PollInterval, slog.Bool("dry_run", dryRun))
			if err := coord.Serve(ctx, reload, dryRun); err != nil {
				fmt.Fprintf(os.Stderr, "qvm-remote-dom0: serve error: %v\n", err)
				os.Exit(1)
			}
			logger.Info("qvm-remote-dom0 stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single pass over all domains and exit")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list and authenticate requests without executing them")
	cmd.Flags().StringVar(&vm, "vm", "", "restrict this invocation to a single domain")
	return cmd
}
