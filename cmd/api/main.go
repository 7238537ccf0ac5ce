package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dhxmo/CultureQ/internal/brandcache"
	"github.com/dhxmo/CultureQ/internal/cache"
	"github.com/dhxmo/CultureQ/internal/clock"
	"github.com/dhxmo/CultureQ/internal/config"
	"github.com/dhxmo/CultureQ/internal/crypto"
	"github.com/dhxmo/CultureQ/internal/database"
	"github.com/dhxmo/CultureQ/internal/events"
	"github.com/dhxmo/CultureQ/internal/features"
	"github.com/dhxmo/CultureQ/internal/handler"
	"github.com/dhxmo/CultureQ/internal/httpclient"
	"github.com/dhxmo/CultureQ/internal/ingestion"
	"github.com/dhxmo/CultureQ/internal/llm"
	"github.com/dhxmo/CultureQ/internal/logging"
	"github.com/dhxmo/CultureQ/internal/matcher"
	"github.com/dhxmo/CultureQ/internal/middleware"
	"github.com/dhxmo/CultureQ/internal/plaid"
	"github.com/dhxmo/CultureQ/internal/profile"
	"github.com/dhxmo/CultureQ/internal/qloo"
	"github.com/dhxmo/CultureQ/internal/service"
	"github.com/dhxmo/CultureQ/internal/tracing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	configFile := flag.String("config", "", "Config file path (YAML or JSON)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	_, syncLogger, err := logging.Init(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer syncLogger()

	if err := run(cfg); err != nil {
		zap.L().Fatal("Server failed", zap.Error(err))
	}
}

func run(cfg *config.Config) error {
	if err := tracing.InitTracing(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
		Version:     version,
	}); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(ctx); err != nil {
			zap.L().Warn("Failed to flush traces", zap.Error(err))
		}
	}()

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	key, err := cfg.EncryptionKeyBytes()
	if err != nil {
		return err
	}
	cipher, err := crypto.NewCipher(key)
	if err != nil {
		return err
	}

	plaidClient, err := plaid.NewClient(plaid.Config{
		Env:      cfg.Plaid.Env,
		BaseURL:  cfg.Plaid.BaseURL,
		ClientID: cfg.Plaid.ClientID,
		Secret:   cfg.Plaid.Secret,
		HTTP:     httpConfig(cfg.Plaid.Timeout),
	})
	if err != nil {
		return err
	}
	qlooClient := qloo.NewClient(cfg.Qloo.BaseURL, cfg.Qloo.APIKey, httpConfig(cfg.Qloo.Timeout))
	llmProvider := llm.NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model)

	prompts, err := profile.LoadPrompts()
	if err != nil {
		return err
	}

	clk := clock.NewReal()

	var front cache.Cache = cache.NewInMemoryCache(clk)
	if cfg.Redis.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisCache, err := cache.NewRedisCache(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisCache.Close()
		front = redisCache
	}

	flags := features.NewFromSettings(features.Settings{
		StrictMatching:   cfg.Features.StrictMatching,
		DedupeAcrossRuns: cfg.Features.DedupeAcrossRuns,
		EventHooks:       cfg.Features.EventHooks,
	})

	eventManager := events.NewManager(flags.IsEnabled(features.FeatureEventHooksEnabled), clk)
	defer eventManager.Shutdown()
	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return fmt.Errorf("failed to create kafka sink: %w", err)
		}
		defer sink.Close()
		eventManager.SubscribeAll(sink.Handle)
	}

	svc := service.NewService(service.Deps{
		DB:         db,
		Plaid:      plaidClient,
		Qloo:       qlooClient,
		LLM:        llmProvider,
		Cipher:     cipher,
		FrontCache: front,
		Events:     eventManager,
		Features:   flags,
		Clock:      clk,
		Prompts:    prompts,
		ProfileOptions: profile.Options{
			ChatMaxTokens:      cfg.OpenAI.ChatMaxTokens,
			ChatTemperature:    cfg.OpenAI.ChatTemperature,
			ExtractMaxTokens:   cfg.OpenAI.ExtractMaxTokens,
			ExtractTemperature: cfg.OpenAI.Temperature,
		},
		MatcherOptions: matcher.Options{
			MaxTokens:   cfg.OpenAI.MatchMaxTokens,
			Temperature: cfg.OpenAI.Temperature,
			Strict:      cfg.Features.StrictMatching,
		},
		BrandOptions: brandcache.Options{
			DefaultAge:  cfg.Qloo.DefaultAge,
			DefaultCity: cfg.Qloo.DefaultCity,
			Concurrency: cfg.Qloo.Concurrency,
		},
		SyncConfig: ingestion.SyncConfig{
			MaxAttempts: cfg.Plaid.SyncMaxAttempts,
			MaxPolls:    cfg.Plaid.SyncMaxPolls,
			Timeout:     cfg.Plaid.SyncTimeout,
			Backoff:     cfg.Plaid.SyncBackoff,
			MaxBackoff:  cfg.Plaid.SyncMaxBackoff,
		},
	})

	h := handler.NewHandlerWithOptions(svc, handler.NewHandlerOptions{
		MaxBodySize: cfg.Security.MaxRequestBodySize,
	})

	// Setup router
	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.TracingMiddleware(cfg.Tracing.ServiceName))

	if cfg.RateLimit.Enabled {
		rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Rate, time.Duration(cfg.RateLimit.Window)*time.Second)
		defer rateLimiter.Stop()
		r.Use(middleware.RateLimitMiddleware(rateLimiter))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg.Security.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	h.Register(r)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	zap.L().Info("Starting HTTP server",
		zap.String("addr", addr),
		zap.String("database", cfg.Database.Path),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.Strings("kafka_brokers", cfg.Kafka.Brokers),
		zap.Bool("rate_limit", cfg.RateLimit.Enabled))

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigint:
	}

	zap.L().Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("error closing server: %w", err)
	}
	return nil
}

func httpConfig(timeout time.Duration) httpclient.Config {
	c := httpclient.DefaultConfig()
	if timeout > 0 {
		c.Timeout = timeout
	}
	return c
}

func allowedOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
