package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/magicaleks/evidence-collector/internal/authority"
	"github.com/magicaleks/evidence-collector/internal/config"
	"github.com/magicaleks/evidence-collector/internal/evidence"
	"github.com/magicaleks/evidence-collector/internal/server"
	"github.com/magicaleks/evidence-collector/internal/stats"
	"github.com/magicaleks/evidence-collector/internal/storage"
	"github.com/magicaleks/evidence-collector/internal/transfer"
)

// Collector is the top-level application that orchestrates all subsystems.
type Collector struct {
	cfg    *config.Config
	logger *slog.Logger

	store      *storage.Store
	repo       *evidence.Store
	api        *authority.Client
	recorder   *stats.Recorder
	supervisor *transfer.Supervisor
	publisher  *stats.Publisher
	nc         *nats.Conn

	httpServer *server.Server

	collectorID string
}

// New creates and wires all collector subsystems.
func New(cfg *config.Config, logger *slog.Logger) (*Collector, error) {
	store, err := storage.NewStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	collectorID, err := store.CollectorID()
	if err != nil {
		return nil, fmt.Errorf("collector id: %w", err)
	}

	secret, err := statusSecret(cfg, store)
	if err != nil {
		return nil, fmt.Errorf("status secret: %w", err)
	}

	repo, err := evidence.NewStore(cfg.RepositoryDir, logger)
	if err != nil {
		return nil, fmt.Errorf("init evidence store: %w", err)
	}

	api := authority.NewClient(cfg.APIKey, cfg.ServiceURL, logger)
	api.UseCollectorID(collectorID)

	recorder := stats.NewRecorder()
	supervisor := transfer.NewSupervisor(repo, api, recorder, cfg.DispatchInterval, logger)

	sinks := []stats.Sink{api}
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL,
			nats.Name("evidence-collector-"+collectorID),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		sinks = append(sinks, stats.NewNATSSink(nc, cfg.NATSSubject, collectorID))
	}
	publisher := stats.NewPublisher(recorder, sinks, logger, cfg.StatsInterval)

	handler := server.NewHandler(supervisor.Active(), recorder, api, repo, logger)
	metrics := promhttp.HandlerFor(recorder.Registry(), promhttp.HandlerOpts{})
	httpServer := server.New(cfg.ListenAddr, handler, metrics, secret, logger)

	return &Collector{
		cfg:         cfg,
		logger:      logger,
		store:       store,
		repo:        repo,
		api:         api,
		recorder:    recorder,
		supervisor:  supervisor,
		publisher:   publisher,
		nc:          nc,
		httpServer:  httpServer,
		collectorID: collectorID,
	}, nil
}

// statusSecret prefers the configured secret and otherwise uses the persisted
// one, generated on first start.
func statusSecret(cfg *config.Config, store *storage.Store) (string, error) {
	if cfg.StatusSecret != "" {
		return cfg.StatusSecret, nil
	}
	return store.EnsureStatusSecret()
}

// Run starts the connectivity watcher, the supervisor, the stats publisher
// and the status server. It blocks until the context is cancelled.
func (c *Collector) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.logger.Info("pinging collector service", "url", c.cfg.ServiceURL)
	if err := c.api.Ping(ctx); err != nil {
		// The supervisor skips ticks until Watch sees the service again.
		c.logger.Warn("collector service unreachable at startup", "err", err)
	}

	go c.api.Watch(ctx, c.cfg.PingInterval)
	supervisorDone := make(chan struct{})
	go func() {
		defer close(supervisorDone)
		c.supervisor.Run(ctx)
	}()
	c.publisher.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.httpServer.Start()
	}()

	c.logger.Info("collector ready",
		"version", config.Version,
		"collector_id", c.collectorID,
		"listen", c.cfg.ListenAddr,
		"repository_dir", c.cfg.RepositoryDir,
	)

	select {
	case <-ctx.Done():
		c.logger.Info("shutting down collector")
		return c.shutdown(supervisorDone)
	case err := <-errCh:
		cancel()
		_ = c.shutdown(supervisorDone)
		return fmt.Errorf("http server: %w", err)
	}
}

// shutdown expects the run context to be cancelled already. Nothing is
// dispatched once supervisorDone is closed.
func (c *Collector) shutdown(supervisorDone <-chan struct{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.httpServer.Shutdown(ctx); err != nil {
		c.logger.Error("http server shutdown error", "err", err)
	}

	select {
	case <-supervisorDone:
	case <-ctx.Done():
		c.logger.Warn("supervisor did not stop before the deadline")
	}

	// Workers see the cancelled context and stop at their next call; give
	// them until the deadline before the repositories are closed.
	done := make(chan struct{})
	go func() {
		c.supervisor.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("evidence workers still running at shutdown", "active", c.supervisor.Active().Len())
	}

	if c.nc != nil {
		if err := c.nc.Drain(); err != nil {
			c.logger.Error("nats drain error", "err", err)
		}
	}

	if err := c.repo.Close(); err != nil {
		c.logger.Error("evidence store close error", "err", err)
	}

	c.logger.Info("collector stopped")
	return nil
}
