package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dennisdiepolder/monti/callcenter/internal/agents"
	"github.com/dennisdiepolder/monti/callcenter/internal/api"
	"github.com/dennisdiepolder/monti/callcenter/internal/assignment"
	"github.com/dennisdiepolder/monti/callcenter/internal/callqueue"
	"github.com/dennisdiepolder/monti/callcenter/internal/config"
	"github.com/dennisdiepolder/monti/callcenter/internal/metrics"
	"github.com/dennisdiepolder/monti/callcenter/internal/provisioner"
	hangup "github.com/dennisdiepolder/monti/callcenter/internal/signal"
	"github.com/dennisdiepolder/monti/callcenter/internal/storage"
	"github.com/dennisdiepolder/monti/callcenter/internal/sweeper"
	"github.com/dennisdiepolder/monti/callcenter/internal/ticker"
	"github.com/dennisdiepolder/monti/callcenter/internal/voice"
	"github.com/dennisdiepolder/monti/callcenter/internal/websocket"
	"github.com/dennisdiepolder/monti/callcenter/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("log_level", cfg.LogLevel).
		Dur("sweep_interval", cfg.SweepInterval).
		Msg("starting call center server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build application")
	}
	if err := a.start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start background services")
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      a.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	cancel()
	a.stop()

	log.Info().Msg("server stopped")
}

// app holds the wired lifecycle engine and its background services
type app struct {
	router     http.Handler
	hub        *websocket.Hub
	ticker     *ticker.Ticker
	engine     *assignment.Engine
	dispatcher *provisioner.Dispatcher
	signals    *hangup.Controller
	scheduler  *sweeper.Scheduler
	closers    []func() error
	logger     zerolog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	m := metrics.New()

	hub := websocket.NewHub(logger)
	hub.SetMetrics(m)

	archive, err := storage.NewArchive(ctx, cfg.Dynamo, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create call archive: %w", err)
	}

	store := storage.NewMemoryCallStore()

	queue := callqueue.NewManager(store, logger)
	queue.SetArchive(archive)
	queue.SetMetrics(m)
	queue.SetEventSink(hub)
	queue.SetPhoneRegion(cfg.PhoneRegion)
	queue.SetServiceLevelThreshold(cfg.ServiceLevelSeconds)

	registry := agents.NewRegistry(logger)

	engine := assignment.NewEngine(registry, queue, logger)
	engine.SetArchive(archive)
	engine.SetEventSink(hub)
	engine.SetMetrics(m)
	engine.SetBurstCap(cfg.CapacityBurstMax)

	voiceProvider := voice.NewProvider(cfg.VoiceBaseURL, cfg.VoiceAPIKey, logger)
	sessions := voice.NewSessions()
	engine.SetVoice(voiceProvider, sessions)

	dispatcher := provisioner.NewDispatcher(store, newProvisioner(cfg, logger), logger)
	dispatcher.SetRetryPolicy(provisioner.RetryPolicy{
		MaxAttempts: cfg.ProvisionMaxAttempts,
		BaseDelay:   cfg.ProvisionBaseDelay,
		MaxDelay:    provisioner.DefaultRetryPolicy().MaxDelay,
	})
	dispatcher.SetRateLimit(cfg.ProvisionRate)
	dispatcher.SetTimeout(cfg.ProvisionTimeout)
	dispatcher.SetVoice(voiceProvider, sessions)
	dispatcher.SetEventSink(hub)
	dispatcher.SetMetrics(m)
	engine.SetDispatcher(dispatcher)

	var closers []func() error

	signals := hangup.NewController(engine, registry, logger)
	signals.SetVoice(voiceProvider, sessions)
	signals.SetDelay(hangup.RandomDelay(cfg.SignalMinDelay, cfg.SignalMaxDelay))
	signals.SetEventSink(hub)
	signals.SetMetrics(m)
	if cfg.RedisURL != "" {
		rdb, err := hangup.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		signals.SetMarkers(hangup.NewRedisMarkers(rdb))
		closers = append(closers, rdb.Close)
		logger.Info().Msg("hangup markers stored in redis")
	}
	engine.SetSignalCounter(signals)

	sweep := sweeper.New(store, engine, logger)
	sweep.SetMetrics(m)
	scheduler := sweeper.NewScheduler(sweep, cfg.SweepInterval, logger)

	stats := ticker.NewTicker(hub, engine, cfg.DashboardInterval, logger)

	wsHandler := websocket.NewHandler(hub, cfg, logger)
	wsHandler.SetSnapshot(func() interface{} {
		return stats.Snapshot(time.Now())
	})

	apiHandler := api.NewHandler(api.Deps{
		Engine:              engine,
		Signals:             signals,
		Sweeper:             sweep,
		Regenerator:         dispatcher,
		Archive:             archive,
		FinishingSoonWindow: cfg.FinishingSoonWindow,
	}, logger)

	// Create router
	r := chi.NewRouter()

	// Add middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics(m))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/health", healthHandler)
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Get("/ws", wsHandler.ServeHTTP)
	r.Mount("/api", apiHandler.Routes())

	return &app{
		router:     r,
		hub:        hub,
		ticker:     stats,
		engine:     engine,
		dispatcher: dispatcher,
		signals:    signals,
		scheduler:  scheduler,
		closers:    closers,
		logger:     logger,
	}, nil
}

// newProvisioner picks the model-backed generator when an API key is set
func newProvisioner(cfg *config.Config, logger zerolog.Logger) provisioner.Provisioner {
	if cfg.OpenAIAPIKey == "" {
		logger.Info().Msg("OPENAI_API_KEY not set, using seeded conversations")
		return provisioner.NewSeedProvisioner()
	}
	return provisioner.NewOpenAIProvisioner(provisioner.OpenAIConfig{
		APIKey: cfg.OpenAIAPIKey,
		Model:  cfg.OpenAIModel,
	}, logger)
}

// start launches the hub, the dashboard ticker and the sweep scheduler.
// All of them stop when ctx is cancelled.
func (a *app) start(ctx context.Context) error {
	go a.hub.Run(ctx)
	go a.ticker.Start(ctx)
	return a.scheduler.Start(ctx)
}

// stop cancels pending hangups and waits for in-flight provisioning
func (a *app) stop() {
	a.scheduler.Stop()
	a.signals.Stop()
	a.dispatcher.Stop()
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close connection")
		}
	}
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"callcenter"}`)
}
