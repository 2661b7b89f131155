package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/blog-generator/config"
	"github.com/vnmchuo/blog-generator/internal/api"
	"github.com/vnmchuo/blog-generator/internal/generation"
	"github.com/vnmchuo/blog-generator/internal/logger"
	"github.com/vnmchuo/blog-generator/internal/provider"
	"github.com/vnmchuo/blog-generator/internal/provider/moonshot"
	"github.com/vnmchuo/blog-generator/internal/telemetry"
	"github.com/vnmchuo/blog-generator/internal/usage"
	"github.com/vnmchuo/blog-generator/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// 2. Init logging
	logger.Setup(cfg.LogLevel)

	// 3. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("blog-generator", cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracer")
	}
	defer shutdownTracer()

	ctx := context.Background()

	// 4. Connect PostgreSQL (optional)
	var store usage.Store = usage.NopStore{}
	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect postgres")
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ping postgres")
		}
		pgStore := usage.NewPostgresStore(pool)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to prepare usage schema")
		}
		store = pgStore
		log.Info().Msg("PostgreSQL connected, usage accounting enabled")
	}

	// 5. Connect Redis (optional)
	var limiter *ratelimit.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to ping redis")
		}
		limiter = ratelimit.NewLimiter(rdb, cfg.RateLimitTPM)
		log.Info().Int64("tokens_per_minute", cfg.RateLimitTPM).Msg("Redis connected, rate limiting enabled")
	}

	// 6. Init completion client
	upstream := moonshot.New(moonshot.Config{
		APIKey:            cfg.MoonshotAPIKey,
		BaseURL:           cfg.MoonshotBaseURL,
		Model:             cfg.MoonshotModel,
		Temperature:       cfg.MoonshotTemperature,
		MaxTokens:         cfg.MoonshotMaxTokens,
		StreamIdleTimeout: cfg.StreamIdleTimeout,
	})
	client := provider.NewBreakerClient(upstream)

	// 7. Init generation service
	tracer := otel.GetTracerProvider().Tracer("blog-generator")
	svc := generation.NewService(client, store, tracer, generation.Config{
		SimplePrompt: cfg.UseSimplePrompt,
		Rewrite:      cfg.RewriteContent,
		Completion: provider.Options{
			Retries:    cfg.CompletionRetries,
			RetryDelay: cfg.CompletionRetryDelay,
			Timeout:    cfg.CompletionTimeout,
		},
	})

	// 8. Init handler
	handler := api.NewHandler(svc, store, limiter, api.Credentials{
		Client:  client,
		Model:   upstream.Model(),
		BaseURL: upstream.BaseURL(),
		NewChecker: func(apiKey string) api.CredentialChecker {
			return moonshot.New(moonshot.Config{
				APIKey:  apiKey,
				BaseURL: cfg.MoonshotBaseURL,
				Model:   cfg.MoonshotModel,
			})
		},
	}, cfg.MoonshotMaxTokens)

	// 9. Graceful shutdown
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     api.NewRouter(handler),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		// no WriteTimeout: generation streams stay open until the model finishes
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("port", cfg.Port).Str("model", upstream.Model()).Msg("blog generator starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-quit
	log.Info().Msg("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	svc.Wait()
	log.Info().Msg("server stopped")
}
