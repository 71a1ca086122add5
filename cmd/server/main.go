package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	apihttp "bookstream/internal/api/http"
	"bookstream/internal/app"
	"bookstream/internal/domain"
	"bookstream/internal/gateway"
	"bookstream/internal/library"
	"bookstream/internal/metrics"
	"bookstream/internal/player"
	"bookstream/internal/progress"
	"bookstream/internal/session"
	"bookstream/internal/telemetry"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "bookstream")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "bookstream"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("upstream", cfg.UpstreamBaseURL),
		slog.String("progressBackend", cfg.ProgressBackend),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	store, mongoClient := newProgressStore(initCtx, cfg, logger)
	defer func() {
		if mongoClient != nil {
			_ = mongoClient.Disconnect(context.Background())
		}
	}()

	gw := gateway.New(gateway.Config{
		BaseURL:        cfg.UpstreamBaseURL,
		PathPrefix:     cfg.UpstreamPathPrefix,
		Token:          cfg.UpstreamToken,
		ConnectTimeout: cfg.UpstreamConnectTimeout,
		HeaderTimeout:  cfg.UpstreamHeaderTimeout,
	}, logger)

	negotiator := session.New(gw, 0, logger)
	librarySvc := library.NewService(gw, newLibraryCache(cfg, logger), cfg.LibraryCacheTTL, logger)

	handler := apihttp.NewServer(gw,
		apihttp.WithLogger(logger),
		apihttp.WithProgressStore(store),
		apihttp.WithLibrary(librarySvc),
		apihttp.WithAllowedOrigins(cfg.AllowedOrigins),
	)

	// The controller needs the server's remote device, so it attaches
	// after construction.
	ctrl := player.NewController(player.ControllerConfig{
		Opener: negotiator,
		Store:  store,
		Device: handler.Device(),
		Tone:   newToneGenerator(cfg, logger),
		Logger: logger,
		Descriptor: domain.DeviceDescriptor{
			DeviceID:           cfg.DeviceID,
			SupportedMimeTypes: []string{"audio/mpeg", "audio/mp4", "audio/flac", "audio/ogg"},
			ForceDirectPlay:    true,
		},
	})
	handler.SetController(ctrl)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Media responses stream for hours; no write deadline.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	if err := ctrl.Close(); err != nil {
		logger.Warn("controller close error", slog.String("error", err.Error()))
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("progress store close error", slog.String("error", err.Error()))
		}
	}

	logger.Info("server stopped")
}

// newProgressStore picks the backend from configuration. The mongo client
// is returned so main can disconnect it on shutdown; it is nil for the
// other backends.
func newProgressStore(ctx context.Context, cfg app.Config, logger *slog.Logger) (progress.Store, *mongo.Client) {
	switch cfg.ProgressBackend {
	case "mongo":
		client, err := progress.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
		if err != nil {
			logger.Error("mongo connect failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			logger.Error("mongo ping failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return progress.NewMongoStore(client, cfg.MongoDatabase), client
	case "memory":
		store, err := progress.NewMemoryStore(0)
		if err != nil {
			logger.Error("memory store init failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return store, nil
	default:
		store, err := progress.OpenSQLite(cfg.ProgressSQLitePath)
		if err != nil {
			logger.Error("sqlite open failed",
				slog.String("path", cfg.ProgressSQLitePath),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		return store, nil
	}
}

func newLibraryCache(cfg app.Config, logger *slog.Logger) library.Cache {
	if cfg.RedisAddr == "" {
		return library.NewMemoryCache()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	cache := library.NewRedisCache(client)
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := cache.Ping(pingCtx); err != nil {
		logger.Warn("redis unreachable, falling back to memory cache",
			slog.String("addr", cfg.RedisAddr),
			slog.String("error", err.Error()),
		)
		return library.NewMemoryCache()
	}
	logger.Info("library cache backed by redis", slog.String("addr", cfg.RedisAddr))
	return cache
}

// newToneGenerator degrades to a silent noop when no audio output exists,
// which is the normal case for container deployments.
func newToneGenerator(cfg app.Config, logger *slog.Logger) player.ToneGenerator {
	if !cfg.KeepAliveTone {
		return player.NoopTone{}
	}
	tone, err := player.NewOtoTone()
	if err != nil {
		logger.Warn("audio output unavailable, keep-alive tone disabled", slog.String("error", err.Error()))
		return player.NoopTone{}
	}
	return tone
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
