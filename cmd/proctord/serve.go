package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"proctord/internal/config"
	"proctord/internal/health"
	"proctord/internal/metrics"
	"proctord/internal/proctor"
	"proctord/internal/report"
	"proctord/internal/server"
	"proctord/internal/store"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var listen string
	var noStore bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve monitored sessions over websocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			if noStore {
				cfg.Store.Enabled = false
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, loader, cfg)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "override the listen address")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "do not persist sessions")
	return cmd
}

func runServe(ctx context.Context, loader *config.Loader, cfg *config.Config) error {
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.WithComponent("serve").Logger

	// New sessions pick up reloaded monitor settings on activation.
	var monCfg atomic.Pointer[proctor.Config]
	monCfg.Store(cfg.Proctor())
	loader.OnChange(func(c *config.Config) {
		logger.SetLevel(c.LoggerConfig().Level)
		next := c.Proctor()
		if err := next.Validate(); err != nil {
			log.Warn("ignoring reloaded monitor config", "error", err)
			return
		}
		monCfg.Store(next)
		log.Info("monitor config reloaded", "path", loader.Path())
	})
	watching := true
	if err := loader.Watch(); err != nil {
		log.Warn("config hot reload disabled", "error", err)
		watching = false
	} else {
		defer loader.Close()
	}

	m := metrics.Default()
	checker := health.NewChecker()

	opts := server.Options{
		MonitorConfig: func() *proctor.Config { return monCfg.Load().Clone() },
		Metrics:       m,
		Health:        checker,
		Logger:        logger.Logger,
	}

	if cfg.Store.Enabled {
		st, err := store.OpenWithTimeout(cfg.Store.Path, time.Duration(cfg.Store.BusyTimeoutMs)*time.Millisecond)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
		checker.Add("store", true, health.StoreCheck(st.Ping))

		// Delivery outlives the serve context so closing sessions can still
		// hand over their logs during shutdown.
		fwdCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		fwd := report.NewForwarder(st, report.ForwarderConfig{
			BatchSize:     cfg.Forward.BatchSize,
			FlushInterval: cfg.FlushInterval(),
			Rate:          rate.Limit(cfg.Forward.RatePerSecond),
			Burst:         cfg.Forward.Burst,
			Logger:        logger.Logger,
		})
		fwd.Start(fwdCtx)
		defer func() {
			if err := fwd.Close(); err != nil {
				log.Warn("forwarder closed with delivery errors", "error", err)
			}
			delivered, failed, dropped := fwd.Stats()
			log.Info("forwarder stopped", "delivered", delivered, "failed", failed, "dropped", dropped)
		}()

		opts.Forwarder = fwd
		opts.History = st
		log.Info("session store opened", "path", cfg.Store.Path)
	}

	srv, err := server.New(server.FromConfig(cfg), opts)
	if err != nil {
		return err
	}

	log.Info("proctord starting", "listen", cfg.Server.Listen, "store", cfg.Store.Enabled, "version", version)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := srv.ListenAndServe(gctx)
		if errors.Is(err, server.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-hup:
				if err := logger.Rotate(); err != nil {
					log.Warn("log rotation failed", "error", err)
				}
			case <-gctx.Done():
				return nil
			}
		}
	})
	if watching {
		g.Go(func() error {
			for {
				select {
				case err := <-loader.Errors():
					log.Warn("config reload failed", "error", err)
				case <-gctx.Done():
					return nil
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("proctord stopped")
	return nil
}
