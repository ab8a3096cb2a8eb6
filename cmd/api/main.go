package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"roomRenderAi/internal/cache"
	"roomRenderAi/internal/config"
	"roomRenderAi/internal/events"
	"roomRenderAi/internal/imageapi"
	"roomRenderAi/internal/jobs"
	"roomRenderAi/internal/logging"
	"roomRenderAi/internal/media"
	"roomRenderAi/internal/prompts"
	"roomRenderAi/internal/render"
	"roomRenderAi/internal/server"
	"roomRenderAi/internal/storage"
	"roomRenderAi/internal/vision"
)

const (
	exitFailure     = 1
	exitConfigError = 2
)

func main() {
	cfg := config.FromEnv()

	logger, err := logging.New(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(exitFailure)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		var cfgErr *config.Error
		if errors.As(err, &cfgErr) {
			logger.Error("invalid configuration", zap.String("field", cfgErr.Field), zap.String("reason", cfgErr.Message))
			_ = logger.Sync()
			os.Exit(exitConfigError)
		}
		logger.Error("server failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(exitFailure)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := context.Background()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return &config.Error{Field: "REDIS_URL", Message: err.Error()}
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		logger.Info("redis connected", zap.String("addr", opts.Addr))
	}

	jobStore, err := storage.NewJobStore(ctx, storage.Options{
		DatabaseURL: cfg.DatabaseURL,
		Redis:       rdb,
		RedisTTL:    cfg.Render.JobTTL,
	})
	if err != nil {
		return fmt.Errorf("init job store: %w", err)
	}
	defer jobStore.Close()

	store, mediaHandler, err := newMediaStore(ctx, cfg.Media, logger)
	if err != nil {
		return err
	}

	contentCache := cache.New(newCacheBackend(cfg, rdb, store), logger)
	logger.Info("content cache ready", zap.String("backend", cfg.CacheBackend()))

	client, closeClient, err := newImageClient(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeClient()

	analyzer, err := newAnalyzer(ctx, cfg.Vision, logger)
	if err != nil {
		return err
	}

	broker := events.NewBroker()
	orchestrator := render.NewOrchestrator(render.Deps{
		Client:  client,
		Fetcher: imageapi.NewFetcher(30 * time.Second),
		Cache:   contentCache,
		Jobs:    jobs.NewTracker(jobStore, cfg.Render.JobStaleAfter, logger),
		Store:   store,
		Events:  broker,
		Logger:  logger,
	}, render.Options{
		Model:            cfg.Image.Model,
		UpstreamTimeout:  cfg.Render.UpstreamTimeout,
		RateLimitBackoff: cfg.Render.RateLimitBackoff,
		RatePerSecond:    cfg.Render.RatePerSecond,
		RateBurst:        cfg.Render.RateBurst,
		RefineThreshold:  prompts.ResolveIntensity(cfg.Render.RefineThreshold),
		RefineWeight:     cfg.Render.RefineWeight,
		DisableRefine:    cfg.Render.DisableRefine,
	})

	srv := server.New(server.Options{
		Port:         cfg.Port,
		WriteTimeout: cfg.Render.UpstreamTimeout*2 + 30*time.Second,
	}, server.Handlers{
		Render: render.Handler{Orchestrator: orchestrator, Events: broker, Logger: logger},
		Vision: vision.Handler{Analyzer: analyzer, Logger: logger},
		Media:  mediaHandler,
	}, logger)

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdownChan
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown error", zap.Error(err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newMediaStore(ctx context.Context, cfg config.MediaConfig, logger *zap.Logger) (media.Store, http.Handler, error) {
	if cfg.S3Enabled() {
		store, err := media.NewS3Store(ctx, media.Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			PublicURL:       cfg.PublicURL,
			KeyPrefix:       cfg.KeyPrefix,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			ForcePathStyle:  cfg.ForcePathStyle,
			PublicACL:       cfg.PublicACL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init s3 media store: %w", err)
		}
		logger.Info("media store: s3", zap.String("bucket", cfg.Bucket))
		return store, nil, nil
	}

	local, err := media.NewLocalStore(cfg.LocalDir, cfg.LocalPublicBase)
	if err != nil {
		return nil, nil, fmt.Errorf("init local media store: %w", err)
	}
	logger.Info("media store: local filesystem (S3 config missing)", zap.String("dir", local.BaseDir))
	return local, local.Handler(""), nil
}

func newCacheBackend(cfg config.Config, rdb *redis.Client, store media.Store) cache.Backend {
	switch cfg.CacheBackend() {
	case config.CacheRedis:
		return cache.NewRedisBackend(rdb, cfg.Cache.Prefix, cfg.Cache.TTL)
	case config.CacheObject:
		return cache.NewObjectBackend(store, cfg.Cache.Prefix)
	default:
		return cache.NewMemoryBackend(cfg.Cache.TTL)
	}
}

func newImageClient(ctx context.Context, cfg config.Config, logger *zap.Logger) (imageapi.Client, func(), error) {
	noop := func() {}
	switch cfg.Image.Provider {
	case config.ProviderGemini:
		client, err := imageapi.NewGeminiClient(ctx, imageapi.GeminiConfig{
			APIKey: cfg.Image.GeminiAPIKey,
			Model:  cfg.Image.Model,
		}, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("init gemini image client: %w", err)
		}
		logger.Info("image client ready: gemini")
		return client, noop, nil
	case config.ProviderImagen:
		client, err := imageapi.NewImagenClient(ctx, imageapi.ImagenConfig{
			ProjectID:          cfg.Image.ImagenProject,
			Location:           cfg.Image.ImagenLocation,
			Model:              cfg.Image.ImagenModel,
			EditModel:          cfg.Image.ImagenEditModel,
			APIKey:             cfg.Image.APIKey,
			ServiceAccountFile: cfg.Image.ImagenServiceAccountFile,
			ServiceAccountJSON: cfg.Image.ImagenServiceAccountJSON,
		}, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("init imagen client: %w", err)
		}
		logger.Info("image client ready: imagen", zap.String("project", cfg.Image.ImagenProject))
		return client, func() { _ = client.Close() }, nil
	default:
		logger.Info("image client ready: http", zap.String("base_url", cfg.Image.BaseURL))
		return imageapi.NewHTTPClient(imageapi.HTTPConfig{
			BaseURL: cfg.Image.BaseURL,
			APIKey:  cfg.Image.APIKey,
			Timeout: cfg.Render.UpstreamTimeout,
		}, logger), noop, nil
	}
}

// newAnalyzer returns nil when no vision credentials are configured; the
// endpoint then answers 503.
func newAnalyzer(ctx context.Context, cfg config.VisionConfig, logger *zap.Logger) (vision.Analyzer, error) {
	tokenSource, err := vision.TokenSourceFromJSON(ctx, []byte(cfg.ServiceAccountJSON))
	if err != nil {
		return nil, &config.Error{Field: "VISION_SERVICE_ACCOUNT_JSON", Message: err.Error()}
	}
	if cfg.APIKey == "" && tokenSource == nil {
		logger.Info("vision analysis disabled (no credentials)")
		return nil, nil
	}
	analyzer, err := vision.NewGeminiAnalyzer(vision.Config{
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		TokenSource: tokenSource,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init vision analyzer: %w", err)
	}
	return analyzer, nil
}
