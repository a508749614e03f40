package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"cardcrm/internal/common/auth"
	"cardcrm/internal/common/config"
	"cardcrm/internal/common/logging"
	"cardcrm/internal/common/metrics"
	vo "cardcrm/internal/common/value_objects"
	spendingapi "cardcrm/internal/spending/api"
	"cardcrm/internal/spending/application"
	"cardcrm/internal/spending/domain"
	"cardcrm/internal/spending/infrastructure/cache"
	"cardcrm/internal/spending/infrastructure/issuer"
	"cardcrm/internal/spending/infrastructure/memory"
	"cardcrm/internal/spending/infrastructure/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	startupCtx := logging.WithCorrelationID(logging.WithLogger(context.Background(), logger), vo.NewCorrelationID())

	logging.InfoContext(startupCtx, "Starting cardcrm limits service",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"data_store", cfg.DataStore,
		"log_level", cfg.LogLevel,
	)

	loc, err := cfg.Location()
	if err != nil {
		logging.ErrorContext(startupCtx, "Invalid timezone", "error", err)
		os.Exit(1)
	}
	settlement, err := vo.ParseCurrency(cfg.SettlementCurrency)
	if err != nil {
		logging.ErrorContext(startupCtx, "Invalid settlement currency", "error", err)
		os.Exit(1)
	}

	var (
		store application.Store
		pool  *pgxpool.Pool
	)
	if cfg.UsePostgres() {
		pool, err = cfg.NewPostgresPool(startupCtx)
		if err != nil {
			logging.ErrorContext(startupCtx, "Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		pgStore := postgres.NewDataStore(pool)
		go reportPoolStats(startupCtx, pgStore)
		store = pgStore
	} else {
		store = memory.NewDataStore()
	}

	redisClient, err := cfg.NewRedisClient(startupCtx)
	if err != nil {
		logging.WarnContext(startupCtx, "Profile cache disabled", "error", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	service := application.NewLimitsService(store, newRulePlatform(startupCtx, cfg),
		application.WithLocation(loc),
		application.WithSettlementCurrency(settlement),
		application.WithProfileCache(cache.NewProfileCache(redisClient, store.Profiles(), cfg.ProfileCacheTTL)),
	)

	verifier := auth.NewVerifier(cfg.JWTSecret)
	if !verifier.Enabled() {
		logging.WarnContext(startupCtx, "JWT_SECRET not set, profile mutations are unauthenticated")
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(correlationMiddleware(logger))

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(cfg, pool, redisClient))
	r.Handle("/metrics", metrics.Handler())

	spendingapi.NewHandler(service, verifier.RequireRole(auth.RoleAdmin)).RegisterRoutes(r)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logging.InfoContext(startupCtx, "HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.ErrorContext(startupCtx, "HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.InfoContext(startupCtx, "Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logging.ErrorContext(startupCtx, "Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logging.InfoContext(startupCtx, "Server stopped")
}

func newRulePlatform(ctx context.Context, cfg *config.Config) domain.RulePlatform {
	if cfg.IssuerAPIKey == "" {
		logging.WarnContext(ctx, "ISSUER_API_KEY not set, using in-process issuer stub")
		return issuer.NewStub()
	}
	return issuer.NewClient(cfg.IssuerBaseURL, cfg.IssuerAPIKey, cfg.IssuerTimeout)
}

func reportPoolStats(ctx context.Context, store *postgres.DataStore) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.PoolStats()
		}
	}
}

// requestTimeout is the maximum time allowed for processing a single request.
// It covers the issuer calls made after a commit.
const requestTimeout = 30 * time.Second

// correlationMiddleware adds the logger, a correlation ID and a request
// timeout to each request.
func correlationMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			corrID, err := vo.ParseCorrelationID(r.Header.Get("X-Correlation-ID"))
			if err != nil {
				if !errors.Is(err, vo.ErrEmptyCorrelationID) {
					logger.Debug("Replacing inbound correlation ID", "error", err)
				}
				corrID = vo.NewCorrelationID()
			}

			ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
			defer cancel()

			ctx = logging.WithLogger(ctx, logger)
			ctx = logging.WithCorrelationID(ctx, corrID)

			w.Header().Set("X-Correlation-ID", corrID.String())

			logging.InfoContext(ctx, "HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
			)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// healthHandler returns basic health status.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

// readyHandler reports whether the database and cache answer. A missing
// cache degrades but does not fail readiness.
func readyHandler(cfg *config.Config, pool *pgxpool.Pool, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{}
		status := http.StatusOK

		if pool != nil {
			if err := pool.Ping(r.Context()); err != nil {
				checks["database"] = err.Error()
				status = http.StatusServiceUnavailable
			} else {
				checks["database"] = "ok"
			}
		}
		if redisClient != nil {
			if err := redisClient.Ping(r.Context()).Err(); err != nil {
				checks["cache"] = err.Error()
			} else {
				checks["cache"] = "ok"
			}
		}

		state := "ready"
		if status != http.StatusOK {
			state = "not ready"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status":      state,
			"environment": cfg.Environment,
			"checks":      checks,
		})
	}
}
