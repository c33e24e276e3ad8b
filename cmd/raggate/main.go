package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/fieldmate-ai/raggate/internal/config"
	dbRedis "github.com/fieldmate-ai/raggate/internal/db/redis"
	"github.com/fieldmate-ai/raggate/internal/domain"
	"github.com/fieldmate-ai/raggate/internal/domain/caller"
	logpkg "github.com/fieldmate-ai/raggate/internal/logger"
	"github.com/fieldmate-ai/raggate/internal/metrics"
	"github.com/fieldmate-ai/raggate/internal/repository/embcache"
	rulesrepo "github.com/fieldmate-ai/raggate/internal/repository/rules"
	vectorrepo "github.com/fieldmate-ai/raggate/internal/repository/vector"
	"github.com/fieldmate-ai/raggate/internal/transport/httpapi"
	openaiTransport "github.com/fieldmate-ai/raggate/internal/transport/openai"
	"github.com/fieldmate-ai/raggate/internal/usecase/access"
	"github.com/fieldmate-ai/raggate/internal/usecase/ambiguity"
	"github.com/fieldmate-ai/raggate/internal/usecase/contextbuild"
	"github.com/fieldmate-ai/raggate/internal/usecase/fusion"
	"github.com/fieldmate-ai/raggate/internal/usecase/rag"
	"github.com/fieldmate-ai/raggate/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting raggate API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	// Wait for database to be ready
	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterGenerationMetrics()

	embedder, embedHealth := buildEmbedder(cfg, store, logger)
	logger.Info("Embedder created",
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
		zap.Bool("cache", cfg.Embedding.CacheEnabled),
	)

	generator := openaiTransport.NewGenerator(&openaiTransport.GeneratorConfig{
		APIKey:      cfg.Generation.APIKey,
		BaseURL:     cfg.Generation.BaseURL,
		Model:       cfg.Generation.Model,
		Temperature: cfg.Generation.Temperature,
		MaxTokens:   cfg.Generation.MaxTokens,
		Provider:    cfg.Generation.Provider,
		Logger:      logger,
	})

	vectors := vectorrepo.New(store)
	rules := rulesrepo.New(store, time.Duration(cfg.Rag.Ambiguity.RuleRefreshSec)*time.Second, logger)

	detector := ambiguity.New(ambiguity.Config{
		ScoreThreshold:       cfg.Rag.Ambiguity.ScoreThreshold,
		MinResultsPerType:    cfg.Rag.Ambiguity.MinResultsPerType,
		BypassKeywords:       cfg.Rag.Ambiguity.BypassKeywords,
		DistributionQuestion: cfg.Rag.Ambiguity.DistributionQuestion,
	})

	fuser := fusion.New(fusion.Options{
		HalfLife:       time.Duration(cfg.Rag.Fusion.HalfLifeDays) * 24 * time.Hour,
		MaxBoost:       cfg.Rag.Fusion.MaxBoost,
		PinnedWeight:   cfg.Rag.Fusion.PinnedWeight,
		TypeWeights:    cfg.Rag.Fusion.TypeWeights,
		PriorityFloor:  cfg.Rag.Fusion.PriorityFloor,
		MaxPriorityGap: cfg.Rag.Fusion.MaxPriorityGap,
	})

	pipeline := rag.New(
		embedder,
		vectors,
		rules,
		access.New(),
		detector,
		fuser,
		contextbuild.New(cfg.Rag.ContextBudget),
		generator,
		rag.Config{
			CompanyNamespace: cfg.Rag.CompanyNamespace,
			EmployeePrefix:   cfg.Rag.EmployeePrefix,
			SystemPrompt:     cfg.Rag.SystemPrompt,
			NoContextAnswer:  cfg.Rag.NoContextAnswer,
			EmbedTimeout:     time.Duration(cfg.Rag.EmbedTimeoutSec) * time.Second,
			SearchTimeout:    time.Duration(cfg.Rag.SearchTimeoutSec) * time.Second,
			GenerateTimeout:  time.Duration(cfg.Rag.GenerateTimeoutSec) * time.Second,
		},
	)

	server := httpapi.NewServer(pipeline, store, embedHealth, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))
	r.Use(httpapi.BearerAuthMiddleware(buildAPIKeys(cfg.Auth.APIKeys, logger)))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildAPIKeys maps configured API keys to the caller identities they
// authenticate. Entries with an empty key (unset env placeholder) are skipped.
func buildAPIKeys(entries []config.APIKeyConfig, logger *zap.Logger) []httpapi.APIKey {
	keys := make([]httpapi.APIKey, 0, len(entries))
	for i, e := range entries {
		if e.Key == "" {
			continue
		}
		identity, err := caller.New(e.Role, e.Tier, e.Clearance, e.Employee, e.Department, e.Region)
		if err != nil {
			logger.Fatal("Invalid api key identity", zap.Int("index", i), zap.Error(err))
		}
		keys = append(keys, httpapi.APIKey{Key: e.Key, Identity: identity})
	}
	return keys
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instruction.
// The base provider doubles as the health checker since the decorators do not
// forward HealthCheck.
func buildEmbedder(
	cfg config.Config, store *dbRedis.Store, logger *zap.Logger,
) (domain.Embedder, domain.HealthChecker) {
	base := openaiTransport.NewEmbedder(&openaiTransport.EmbedderConfig{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   cfg.Embedding.Provider,
		Logger:     logger,
	})

	var embedder domain.Embedder = base
	if cfg.Embedding.CacheEnabled {
		embedder = embcache.New(base, store, metrics.EmbeddingCacheTotal, logger)
	}

	// Instruction prefix (outermost — cache key includes instruction)
	if cfg.Embedding.QueryInstruction != "" {
		embedder = domain.NewInstructionEmbedder(embedder, cfg.Embedding.QueryInstruction)
	}

	return embedder, base
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
