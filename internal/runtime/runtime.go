package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/loqalabs/loqa-tts-relay/internal/audio"
	"github.com/loqalabs/loqa-tts-relay/internal/bus"
	"github.com/loqalabs/loqa-tts-relay/internal/config"
	"github.com/loqalabs/loqa-tts-relay/internal/eventstore"
	"github.com/loqalabs/loqa-tts-relay/internal/httpapi"
	"github.com/loqalabs/loqa-tts-relay/internal/natsserver"
	"github.com/loqalabs/loqa-tts-relay/internal/text"
	"github.com/loqalabs/loqa-tts-relay/internal/tts"
	"github.com/loqalabs/loqa-tts-relay/internal/voices"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const pruneInterval = time.Hour

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	store         *eventstore.Store
	riva          *tts.RivaSynthesizer
	nats          *natsserver.EmbeddedServer
	bus           *bus.Client
	busService    *tts.Service
	ready         atomic.Bool
	wg            sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start wires the relay and serves until ctx is done.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	defer r.closeComponents()

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.store = store

	relay, catalog, err := r.buildRelay()
	if err != nil {
		return err
	}

	if r.cfg.Bus.Enabled {
		if err := r.startBus(ctx, relay); err != nil {
			return err
		}
	}

	api := httpapi.New(r.cfg.ServiceName, relay, catalog, store, r.logger)
	router := r.routes(api, metricsHandler)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(router, "relay"),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      time.Duration(r.cfg.HTTP.WriteTimeout) * time.Millisecond,
	}
	r.serve("http", r.httpServer)

	if metricsHandler != nil && r.cfg.Telemetry.PrometheusBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve("metrics", r.metricsServer)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.pruneLoop(ctx)
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("backend", r.cfg.Backend.Mode),
		slog.Bool("bus", r.cfg.Bus.Enabled))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// routes builds the public router. /metrics joins it when no separate listener is bound.
func (r *Runtime) routes(api *httpapi.Handler, metricsHandler http.Handler) chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: r.cfg.HTTP.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Request-Id"},
	}))
	router.Get("/healthz", r.handleHealth)
	router.Get("/readyz", r.handleReady)
	if metricsHandler != nil && r.cfg.Telemetry.PrometheusBind == "" {
		router.Handle("/metrics", metricsHandler)
	}
	api.Attach(router)
	return router
}

func (r *Runtime) serve(name string, srv *http.Server) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error(name+" server failed", slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) buildRelay() (*tts.Relay, *voices.Catalog, error) {
	catalog := voices.Default()
	if path := r.cfg.Synthesis.VoicesFile; path != "" {
		c, err := voices.LoadCatalog(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load voices: %w", err)
		}
		catalog = c
	}

	backend, err := r.buildBackend()
	if err != nil {
		return nil, nil, err
	}
	if r.cfg.Backend.RateLimit > 0 {
		backend = tts.NewLimitedSynthesizer(r.cfg.Backend.RateLimit, backend)
	}
	client := tts.NewClient(backend, tts.RetryPolicy{
		MaxAttempts:    r.cfg.Retry.MaxAttempts,
		Retryable:      tts.IsTransient,
		InitialBackoff: time.Duration(r.cfg.Retry.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(r.cfg.Retry.MaxBackoffMS) * time.Millisecond,
	}, r.logger)

	splitter, err := text.NewPunktSplitter()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load sentence model: %w", err)
	}
	builder := tts.NewRequestBuilder(splitter, tts.BuilderConfig{
		LanguageCode: r.cfg.Synthesis.LanguageCode,
		SampleRateHz: r.cfg.Synthesis.SampleRate,
		DefaultVoice: r.cfg.Synthesis.DefaultVoice,
		Languages:    catalog,
	})
	muxer := audio.NewMuxer(audio.MuxerConfig{
		SampleRate:   r.cfg.Synthesis.SampleRate,
		OpusBitRate:  r.cfg.Encoder.OpusBitRate,
		MP3BitRate:   r.cfg.Encoder.MP3BitRate,
		IOBufferSize: r.cfg.Encoder.IOBufferSize,
	}, nil, r.logger)

	return tts.NewRelay(builder, client, muxer, r.logger), catalog, nil
}

func (r *Runtime) buildBackend() (tts.Synthesizer, error) {
	switch r.cfg.Backend.Mode {
	case "mock":
		r.logger.Warn("using mock synthesis backend")
		return tts.NewMockSynth(0), nil
	case "riva":
		riva, err := tts.DialRiva(tts.RivaConfig{
			Address:   r.cfg.Backend.Address,
			UseTLS:    r.cfg.Backend.UseTLS,
			Timeout:   time.Duration(r.cfg.Backend.TimeoutMS) * time.Millisecond,
			Streaming: r.cfg.Backend.Streaming,
			Metadata:  r.cfg.Backend.Metadata,
		}, r.logger)
		if err != nil {
			return nil, err
		}
		r.riva = riva
		return riva, nil
	}
	return nil, fmt.Errorf("unsupported backend mode %q", r.cfg.Backend.Mode)
}

func (r *Runtime) startBus(ctx context.Context, relay *tts.Relay) error {
	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		ns, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded nats: %w", err)
		}
		r.nats = ns
		busCfg.Servers = []string{ns.ClientURL()}
	}

	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.bus = client

	timeout := time.Duration(r.cfg.Backend.TimeoutMS*max(r.cfg.Retry.MaxAttempts, 1)) * time.Millisecond
	svc := tts.NewService(ctx, client, relay, timeout, r.logger)
	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to subscribe to tts requests: %w", err)
	}
	r.busService = svc
	return nil
}

func (r *Runtime) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Prune(ctx); err != nil {
				r.logger.Warn("event store prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Runtime) closeComponents() {
	if r.busService != nil {
		r.busService.Close()
	}
	r.bus.Close()
	if r.nats != nil {
		r.nats.Shutdown()
	}
	if r.riva != nil {
		if err := r.riva.Close(); err != nil {
			r.logger.Warn("riva close error", slog.String("error", err.Error()))
		}
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("event store close error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) healthy() bool {
	if r.riva != nil && !r.riva.Healthy() {
		return false
	}
	if r.cfg.Bus.Enabled && (r.busService == nil || !r.busService.Healthy()) {
		return false
	}
	return true
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
