package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/itelic/itelic-updater/internal/api"
	"github.com/itelic/itelic-updater/internal/config"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

func newStartCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the update daemon",
		Long: `Start itelic-updater as a long-running daemon process.

The daemon will:
  - Check the store for updates on poll_schedule (unless auto_check_update is false)
  - Serve license status, health and metrics on status_addr`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			return runDaemon(a)
		},
	}
}

func runDaemon(a *app) error {
	logger := a.logger.With().Str("component", "daemon").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	routerCfg := api.DefaultConfig()
	routerCfg.CheckRateLimitRequests = a.cfg.CheckRateLimit
	routerCfg.CheckRateLimitPeriod = a.cfg.CheckRatePeriod

	router, err := api.NewRouter(routerCfg, api.Dependencies{
		Settings: a.store,
		Breaker:  a.transport,
		License:  a.manager,
		Checker:  a.poller,
		Gatherer: a.registry,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("create router: %w", err)
	}

	scheduler := cron.New()
	polling, err := schedulePolls(scheduler, a.cfg, func() {
		logger.Debug().Msg("scheduled update check")
		a.check(ctx, false)
	})
	if err != nil {
		return err
	}
	if polling && !cacheShorterThanPoll(a.cfg, time.Now()) {
		logger.Warn().
			Dur("cache_ttl", a.cfg.CacheTTL).
			Str("schedule", a.cfg.PollSchedule).
			Msg("cache_ttl is not shorter than the poll interval, scheduled polls may reuse a stale result")
	}

	srv := &http.Server{
		Addr:              a.cfg.StatusAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("starting status server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	scheduler.Start()

	if polling {
		// Initial check so status is populated before the first tick.
		a.check(ctx, false)
	} else {
		logger.Info().Msg("automatic update checks disabled, checks run only on request")
	}

	logger.Info().
		Bool("auto_check_update", polling).
		Str("schedule", a.cfg.PollSchedule).
		Str("addr", a.cfg.StatusAddr).
		Msg("update daemon running")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case runErr = <-serverErr:
		logger.Error().Err(runErr).Msg("status server error")
	}

	// Wait for a running check to finish.
	<-scheduler.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("status server shutdown error")
		return err
	}

	logger.Info().Msg("daemon stopped")
	return runErr
}

// schedulePolls registers check on poll_schedule when auto_check_update is
// enabled and reports whether it did.
func schedulePolls(scheduler *cron.Cron, cfg *config.Config, check func()) (bool, error) {
	if !cfg.AutoCheckUpdate {
		return false, nil
	}
	if _, err := scheduler.AddFunc(cfg.PollSchedule, check); err != nil {
		return false, fmt.Errorf("invalid poll_schedule %q: %w", cfg.PollSchedule, err)
	}
	return true, nil
}

// cacheShorterThanPoll reports whether a cached verdict expires before the
// next scheduled poll after now, so each poll reaches the store.
func cacheShorterThanPoll(cfg *config.Config, now time.Time) bool {
	if cfg.CacheTTL <= 0 {
		return true
	}
	schedule, err := cron.ParseStandard(cfg.PollSchedule)
	if err != nil {
		return true
	}
	next := schedule.Next(now)
	return cfg.CacheTTL < schedule.Next(next).Sub(next)
}
