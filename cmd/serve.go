package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/go-co-op/gocron"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/partlab/partscope/internal/api"
	gcsarchive "github.com/partlab/partscope/internal/archive/gcs"
	"github.com/partlab/partscope/internal/backend"
	"github.com/partlab/partscope/internal/config"
	"github.com/partlab/partscope/internal/logging"
	"github.com/partlab/partscope/internal/metrics"
	"github.com/partlab/partscope/internal/pipeline"
	"github.com/partlab/partscope/internal/session"
	memorysource "github.com/partlab/partscope/internal/source/memory"
	pubsubsource "github.com/partlab/partscope/internal/source/pubsub"
	wssource "github.com/partlab/partscope/internal/source/websocket"
	"github.com/partlab/partscope/internal/store"
	memorystore "github.com/partlab/partscope/internal/store/memory"
	pgstore "github.com/partlab/partscope/internal/store/postgres"
	"github.com/partlab/partscope/internal/tracker"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the progress-tracking HTTP service",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	return app.run(ctx, stop)
}

// app holds the wired service dependencies for the serve command.
type app struct {
	cfg       config.Config
	logger    *zap.Logger
	manager   *session.Manager
	server    *api.Server
	scheduler *gocron.Scheduler

	pubsubSource *pubsubsource.Source
	gcsClient    *storage.Client
	pgStore      *pgstore.SnapshotStore
}

func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	catalog := pipeline.DefaultCatalog()

	registry := prometheus.NewRegistry()
	collector, err := metrics.New(registry)
	if err != nil {
		return nil, fmt.Errorf("metrics init: %w", err)
	}

	repo, err := a.setupStore(ctx)
	if err != nil {
		return nil, err
	}
	source, err := a.setupSource(ctx)
	if err != nil {
		return nil, err
	}
	submitter, err := backend.New(backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		APIKey:  cfg.Backend.APIKey,
		Timeout: cfg.BackendTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("backend client init: %w", err)
	}

	a.manager = session.NewManager(submitter, source, catalog, session.Config{
		QueueSize:      cfg.Sessions.QueueSize,
		Logger:         logger.Named("session"),
		OnUnknownStage: collector.ObserveUnknownStage,
	})
	a.manager.OnUpdate(collector.Observe)
	a.manager.OnUpdate(persistListener(repo, logger.Named("store")))

	if cfg.Archive.Enabled {
		a.gcsClient, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init: %w", err)
		}
		arch, archErr := gcsarchive.New(a.gcsClient, gcsarchive.Config{
			Bucket: cfg.Archive.Bucket,
			Prefix: cfg.Archive.Prefix,
		}, logger.Named("archive"))
		if archErr != nil {
			return nil, fmt.Errorf("archive init: %w", archErr)
		}
		a.manager.OnUpdate(arch.Observe)
		logger.Info("snapshot archive enabled", zap.String("bucket", cfg.Archive.Bucket))
	}

	a.scheduler = gocron.NewScheduler(time.UTC)
	if _, err := a.scheduler.Every(cfg.PruneInterval()).Do(func() {
		if n := a.manager.PruneTerminal(cfg.SessionRetention()); n > 0 {
			logger.Info("pruned terminal sessions", zap.Int("count", n))
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule session janitor: %w", err)
	}

	a.server = api.NewServer(
		a.manager,
		repo,
		catalog,
		cfg,
		logger.Named("api"),
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	)
	return a, nil
}

func (a *app) setupStore(ctx context.Context) (store.SnapshotRepository, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("using in-memory snapshot store")
		return memorystore.New(), nil
	}
	pg, err := pgstore.New(ctx, pgstore.Config{
		DSN:      a.cfg.DB.DSN,
		MaxConns: int32(a.cfg.DB.MaxConns),
		MinConns: int32(a.cfg.DB.MinConns),
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store init: %w", err)
	}
	a.pgStore = pg
	a.logger.Info("using postgres snapshot store")
	return pg, nil
}

func (a *app) setupSource(ctx context.Context) (session.EventSource, error) {
	switch a.cfg.Source.Provider {
	case "websocket":
		src, err := wssource.New(wssource.Config{
			URL:    a.cfg.Source.WebSocket.URL,
			APIKey: a.cfg.Source.WebSocket.APIKey,
		}, a.logger.Named("ws_source"))
		if err != nil {
			return nil, fmt.Errorf("websocket source init: %w", err)
		}
		a.logger.Info("using websocket event source", zap.String("url", a.cfg.Source.WebSocket.URL))
		return src, nil
	case "pubsub":
		src, err := pubsubsource.New(ctx, pubsubsource.Config{
			ProjectID:          a.cfg.Source.PubSub.ProjectID,
			SubscriptionPrefix: a.cfg.Source.PubSub.SubscriptionPrefix,
		}, a.logger.Named("pubsub_source"))
		if err != nil {
			return nil, fmt.Errorf("pubsub source init: %w", err)
		}
		a.pubsubSource = src
		a.logger.Info("using pubsub event source", zap.String("project", a.cfg.Source.PubSub.ProjectID))
		return src, nil
	default:
		a.logger.Info("using in-memory event source")
		return memorysource.New(), nil
	}
}

func persistListener(repo store.SnapshotRepository, logger *zap.Logger) session.Listener {
	return func(jobID string, snap tracker.Snapshot) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := repo.SaveSnapshot(ctx, jobID, snap, time.Now()); err != nil {
			logger.Warn("save snapshot failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}
}

func (a *app) run(ctx context.Context, stop context.CancelFunc) error {
	a.scheduler.StartAsync()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := a.manager.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("session shutdown incomplete", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *app) close() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.pubsubSource != nil {
		if err := a.pubsubSource.Close(); err != nil {
			a.logger.Warn("pubsub source close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}
