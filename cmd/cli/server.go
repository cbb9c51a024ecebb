package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/anstrom/portscout/internal/api"
	apihandlers "github.com/anstrom/portscout/internal/api/handlers"
	"github.com/anstrom/portscout/internal/config"
	"github.com/anstrom/portscout/internal/history"
	"github.com/anstrom/portscout/internal/logging"
	"github.com/anstrom/portscout/internal/metrics"
	"github.com/anstrom/portscout/internal/scheduler"
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the portscout API server",
	Long: `Run the portscout REST API server in the foreground.

The server provides:
  - scan, validate and lookup endpoints
  - the scan history with reports and dashboard statistics
  - scheduled scans from the schedules section of the config
  - a WebSocket feed of scan events
  - Prometheus metrics and Swagger documentation`,
	Example: `  portscout server
  portscout server --host 0.0.0.0 --port 8080
  portscout server --config /etc/portscout/portscout.yaml`,
	Args: cobra.NoArgs,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().String("host", "", "Override server host")
	serverCmd.Flags().Int("port", 0, "Override server port")
	bindFlags(serverCmd.Flags(), map[string]string{"host": "api.host", "port": "api.port"})
}

// serverComponents are the long-lived parts of a running server.
type serverComponents struct {
	api       *api.Server
	scheduler *scheduler.Scheduler
	persister *history.PostgresPersister
}

// close releases everything but the API server, which stops itself.
func (c *serverComponents) close(logger *logging.Logger) {
	if c.scheduler != nil {
		c.scheduler.Stop()
	}
	if c.persister != nil {
		if err := c.persister.Close(); err != nil {
			logger.Error("Failed to close history database", "error", err)
		}
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if !cfg.API.Enabled {
		return fmt.Errorf("API server is disabled in configuration\n" +
			"Enable it by setting 'api.enabled: true' in config")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	logger := logging.Default()
	components, err := buildServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.close(logger)

	printServerBanner(cmd.OutOrStdout(), cfg)
	logger.Info("Starting portscout API server",
		"version", version,
		"commit", commit,
		"build_time", buildTime,
		"address", cfg.GetAPIAddress())

	if err := components.api.Start(ctx); err != nil {
		return fmt.Errorf("API server error: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Server stopped successfully")
	return nil
}

// buildServer wires the history store, scan engine, scheduler and API
// server from cfg. The scheduler is started when schedules are configured.
func buildServer(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*serverComponents, error) {
	components := &serverComponents{}
	prom := metrics.NewPrometheusMetrics()
	registry := metrics.Default()

	storeOpts := []history.Option{
		history.WithLogger(logger),
		history.WithMaxEntries(cfg.History.MaxEntries),
		history.WithInstruments(prom),
	}
	if cfg.History.Postgres.Enabled {
		logger.Info("Connecting to history database...",
			"host", cfg.History.Postgres.Host, "database", cfg.History.Postgres.Database)
		persister, err := history.OpenPostgres(ctx, cfg.History.Postgres)
		if err != nil {
			return nil, fmt.Errorf("history database connection failed: %w", err)
		}
		components.persister = persister
		storeOpts = append(storeOpts, history.WithPersister(persister))
	}
	store := history.NewStore(storeOpts...)
	if components.persister != nil {
		if err := store.Load(ctx); err != nil {
			components.close(logger)
			return nil, fmt.Errorf("failed to load scan history: %w", err)
		}
		logger.Info("Scan history loaded", "entries", store.Len(cfg.History.UserKey))
	}

	hub := apihandlers.NewWebSocketHandler(logger, registry)
	engine := newEngine(cfg, engineDeps{
		logger:   logger,
		observer: hub,
		recorder: prom,
		registry: registry,
	})

	deps := apihandlers.Dependencies{
		Scanner:   engine,
		Resolver:  engineResolver(cfg),
		Geo:       geoLocator(cfg),
		History:   store,
		Resources: engine.Resources(),
		Hub:       hub,
		User:      cfg.History.UserKey,
		Defaults:  defaultRequest(cfg),
		Version:   version,
		Logger:    logger,
		Metrics:   registry,
	}

	if len(cfg.Schedules) > 0 {
		sched := scheduler.NewScheduler(engine, store, schedulerConfig(cfg, logger, registry))
		if err := sched.LoadFromConfig(cfg.Schedules); err != nil {
			components.close(logger)
			return nil, fmt.Errorf("invalid schedules: %w", err)
		}
		if err := sched.Start(ctx); err != nil {
			components.close(logger)
			return nil, fmt.Errorf("failed to start scheduler: %w", err)
		}
		components.scheduler = sched
		deps.Scheduler = sched
	}

	server, err := api.New(cfg, deps, prom)
	if err != nil {
		components.close(logger)
		return nil, fmt.Errorf("failed to create API server: %w", err)
	}
	components.api = server
	return components, nil
}

// schedulerConfig maps the scheduler section of cfg. A configured
// max_retries of 0 turns retries off.
func schedulerConfig(cfg *config.Config, logger *logging.Logger, registry metrics.MetricsRegistry) scheduler.Config {
	retries := cfg.Scheduler.MaxRetries
	if retries == 0 {
		retries = -1
	}
	return scheduler.Config{
		User:       cfg.History.UserKey,
		Workers:    cfg.Scheduler.Workers,
		MaxRetries: retries,
		RetryDelay: cfg.Scheduler.RetryDelay,
		Logger:     logger,
		Metrics:    registry,
	}
}

func printServerBanner(w io.Writer, cfg *config.Config) {
	addr := cfg.GetAPIAddress()
	fmt.Fprintf(w, "Starting portscout API server %s\n", getVersion())
	fmt.Fprintf(w, "Health check: http://%s/api/v1/health\n", addr)
	fmt.Fprintf(w, "API documentation: http://%s/swagger/\n", addr)
	if cfg.API.EnableMetrics {
		fmt.Fprintf(w, "Metrics: http://%s/metrics\n", addr)
	}
}
