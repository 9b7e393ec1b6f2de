// Package app initializes and holds the long-lived services of the crawl
// service, acting as the composition root.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pagefinder/pagefinder/internal/api"
	"github.com/pagefinder/pagefinder/internal/clock/system"
	"github.com/pagefinder/pagefinder/internal/config"
	"github.com/pagefinder/pagefinder/internal/crawl"
	"github.com/pagefinder/pagefinder/internal/engine"
	"github.com/pagefinder/pagefinder/internal/id/uuid"
	"github.com/pagefinder/pagefinder/internal/match"
	"github.com/pagefinder/pagefinder/internal/metrics"
	"github.com/pagefinder/pagefinder/internal/orchestrator"
	memorypublisher "github.com/pagefinder/pagefinder/internal/publisher/memory"
	pubsubpublisher "github.com/pagefinder/pagefinder/internal/publisher/pubsub"
	"github.com/pagefinder/pagefinder/internal/reconciler"
	memorystorage "github.com/pagefinder/pagefinder/internal/storage/memory"
	"github.com/pagefinder/pagefinder/internal/storage/postgres"
)

// App owns the wired service graph and its lifecycle.
type App struct {
	cfg    config.Config
	log    *zap.Logger
	store  crawl.JobStore
	driver *reconciler.Driver
	server *http.Server

	closers []func()
}

// New builds the full service graph from configuration. It fails fast when
// any dependency cannot be initialized.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	metrics.Init()

	a := &App{cfg: cfg, log: log}

	store, err := a.buildStore(ctx)
	if err != nil {
		return nil, err
	}
	a.store = store

	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		return nil, err
	}

	engineClient, err := engine.New(engine.Config{
		BaseURL: cfg.Engine.BaseURL,
		APIKey:  cfg.Engine.APIKey,
		Timeout: cfg.EngineTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("initialize engine client: %w", err)
	}

	orch := orchestrator.New(
		store,
		engineClient,
		publisher,
		match.New(cfg.Matcher.Window),
		system.New(),
		uuid.New(),
		orchestrator.Config{
			JobTimeout:      cfg.JobTimeout(),
			MaxRetries:      cfg.Reconcile.MaxRetries,
			RetryBackoff:    cfg.RetryBackoff(),
			CompletionTopic: cfg.PubSub.TopicName,
		},
		log.Named("orchestrator"),
	)

	a.driver = reconciler.New(orch, store, cfg.PollInterval(), log.Named("reconciler"))
	orch.SetScheduler(a.driver)

	apiServer := api.NewServer(orch, a.driver, store, cfg, log.Named("api"))
	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return a, nil
}

// Run resumes reconciliation for jobs left non-terminal by a previous
// process, serves HTTP until ctx is cancelled, then drains everything.
func (a *App) Run(ctx context.Context) error {
	if err := a.driver.Resume(ctx); err != nil {
		return fmt.Errorf("resume active jobs: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		a.log.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	a.log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server shutdown error", zap.Error(err))
	}

	a.driver.Shutdown()
	for _, closeFn := range a.closers {
		closeFn()
	}
	a.log.Info("shutdown complete")
	return nil
}

func (a *App) buildStore(ctx context.Context) (crawl.JobStore, error) {
	switch a.cfg.DB.Backend {
	case "postgres":
		a.log.Info("connecting to postgres")
		store, err := postgres.NewJobStore(ctx, postgres.Config{
			DSN:      a.cfg.DB.DSN,
			MaxConns: a.cfg.DB.MaxConns,
			MinConns: a.cfg.DB.MinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize postgres store: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case "memory":
		a.log.Info("using in-memory job store")
		return memorystorage.NewJobStore(), nil
	default:
		return nil, fmt.Errorf("unknown db backend: %s", a.cfg.DB.Backend)
	}
}

func (a *App) buildPublisher(ctx context.Context) (crawl.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.TopicName == "" {
		a.log.Info("pubsub not configured, recording completion events in memory")
		return memorypublisher.New(), nil
	}
	a.log.Info("connecting to pub/sub",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName))
	pub, err := pubsubpublisher.New(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("initialize pubsub publisher: %w", err)
	}
	a.closers = append(a.closers, pub.Close)
	return pub, nil
}
