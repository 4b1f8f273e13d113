// Package main is the entrypoint for the itelic updater CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/itelic/itelic-updater/internal/config"
	"github.com/itelic/itelic-updater/internal/httpclient"
	"github.com/itelic/itelic-updater/internal/license"
	"github.com/itelic/itelic-updater/internal/metrics"
	"github.com/itelic/itelic-updater/internal/settings"
	"github.com/itelic/itelic-updater/internal/updates"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "itelic-updater",
		Short: "License activation and update checks for itelic products",
		Long: `itelic-updater activates a product license against a store running the
itelic licensing add-on and checks that store for new releases.

Run 'itelic-updater config init' to create a configuration, then
'itelic-updater activate <key>' to activate this installation.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Config file (default ~/.itelic/config.yml)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(flags),
		newActivateCmd(flags),
		newDeactivateCmd(flags),
		newStatusCmd(flags),
		newInfoCmd(flags),
		newProductCmd(flags),
		newCheckCmd(flags),
		newUpdateCmd(flags),
		newStartCmd(flags),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("itelic-updater %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// resolveConfigPath returns the --config value or the default path.
func (f *globalFlags) resolveConfigPath() (string, error) {
	if f.configPath != "" {
		return f.configPath, nil
	}
	return config.DefaultConfigPath()
}

func (f *globalFlags) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if f.configPath == "" {
		cfg, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(f.configPath)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newLogger writes JSON to stdout in production and a console format to
// stderr otherwise.
func newLogger(cfg *config.Config, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if !cfg.IsProduction() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return logger.Level(lvl), nil
}

// app holds the components shared by the commands.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	store     *settings.SQLiteStore
	transport *httpclient.Transport
	registry  *prometheus.Registry
	metrics   *metrics.PrometheusMetrics
	manager   *license.Manager
	poller    *updates.Poller
	redis     *redis.Client
}

// newApp loads and validates the configuration and wires the licensing
// components together.
func newApp(flags *globalFlags) (*app, error) {
	cfg, err := flags.loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("updater not configured: %w", err)
	}

	logger, err := newLogger(cfg, flags.logLevel)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}

	client, err := httpclient.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("create http client: %w", err)
	}

	opts := httpclient.TransportOptions{
		Client:    client,
		UserAgent: "itelic-updater/" + Version,
		Logger:    logger,
	}
	if cfg.Breaker.Enabled {
		opts.Breaker = &httpclient.BreakerSettings{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			OpenTimeout:      cfg.Breaker.OpenTimeout,
		}
	}
	a.transport = httpclient.NewTransport(opts)

	settingsPath, err := cfg.ResolveSettingsPath()
	if err != nil {
		return nil, err
	}
	a.store, err = settings.NewSQLiteStore(settingsPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics, err = metrics.NewPrometheusMetrics(a.registry)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	cache := a.newCache()

	a.manager, err = license.NewManager(license.ManagerConfig{
		StoreURL:  cfg.StoreURL,
		ProductID: cfg.ProductID,
		Version:   cfg.Version,
		SiteURL:   cfg.SiteURL,
		Settings:  a.store,
		Transport: a.transport,
		Logger:    logger,
		Metrics:   a.metrics,
		OnIdentityChange: func(ctx context.Context) {
			if a.poller != nil {
				a.poller.Invalidate(ctx)
			}
		},
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create license manager: %w", err)
	}

	a.poller, err = updates.NewPoller(updates.Config{
		Source:         a.manager,
		Cache:          cache,
		Slug:           cfg.Slug,
		CurrentVersion: cfg.Version,
		TTL:            cfg.CacheTTL,
		Logger:         logger,
		Metrics:        a.metrics,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create update poller: %w", err)
	}

	return a, nil
}

// newCache returns a Redis backed verdict cache when redis_addr is set and
// reachable, an in-memory cache otherwise.
func (a *app) newCache() updates.Cache {
	if a.cfg.RedisAddr == "" {
		return updates.NewMemoryCache()
	}

	client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		a.logger.Warn().Err(err).Str("addr", a.cfg.RedisAddr).Msg("redis unavailable, using in-memory update cache")
		_ = client.Close()
		return updates.NewMemoryCache()
	}

	a.redis = client
	return updates.NewRedisCache(client, updates.DefaultRedisPrefix, a.cfg.CacheTTL)
}

// check runs one poll cycle and persists the resulting transient.
func (a *app) check(ctx context.Context, force bool) *updates.Transient {
	t := a.poller.Check(ctx, force)
	if err := updates.SaveTransient(ctx, a.store, t); err != nil {
		a.logger.Warn().Err(err).Msg("failed to save update transient")
	}
	return t
}

// Close releases the settings database and the Redis connection.
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close settings store")
		}
	}
}

// commandContext bounds a single CLI command.
func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Minute)
}
