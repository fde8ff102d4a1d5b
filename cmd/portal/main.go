// Portal service: batch submission, two-factor authorization and payment
// processing for cooperative farmer payments.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dallo7/korosho/internal/auth"
	"github.com/dallo7/korosho/internal/authorization"
	"github.com/dallo7/korosho/internal/batch"
	"github.com/dallo7/korosho/internal/credential"
	"github.com/dallo7/korosho/internal/handler"
	"github.com/dallo7/korosho/internal/ledger"
	"github.com/dallo7/korosho/internal/middleware"
	"github.com/dallo7/korosho/internal/notification"
	"github.com/dallo7/korosho/internal/repository/memory"
	"github.com/dallo7/korosho/internal/repository/postgres"
	"github.com/dallo7/korosho/internal/scheduler"
	"github.com/dallo7/korosho/internal/settlement"
	"github.com/dallo7/korosho/internal/verification"
	"github.com/dallo7/korosho/pkg/cache"
	"github.com/dallo7/korosho/pkg/config"
	"github.com/dallo7/korosho/pkg/logger"
	"github.com/dallo7/korosho/pkg/random"
	"github.com/dallo7/korosho/pkg/validator"
)

// store is what the portal needs from a persistence backend.
type store interface {
	batch.Store
	credential.Repository
	ledger.BookRepository
}

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log := logger.New("portal")

	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	rnd := random.NewFactory(cfg.Simulation.Seed)
	hasher := credential.NewBcryptHasher(0)
	sweeps := scheduler.NewScheduler(log)

	// Persistence
	var (
		st      store
		cleanup = func() {}
	)
	switch cfg.Storage.Driver {
	case "postgres":
		db, err := postgres.Connect(cfg.Database)
		if err != nil {
			log.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
		}
		cleanup = func() { db.Close() }
		st = postgres.NewStore(db)
	case "memory":
		mem := memory.NewStore()
		seeder := credential.NewService(mem, mem, hasher, rnd, log)
		for _, sa := range credential.DefaultSeedAccounts() {
			if _, err := seeder.Seed(context.Background(), sa); err != nil {
				log.Fatal("Failed to seed accounts", map[string]interface{}{"error": err.Error()})
			}
		}
		log.Warn("Using in-memory storage; data is lost on restart", nil)
		st = mem
	}
	defer cleanup()

	// Coordination: Redis when enabled, process memory otherwise
	var (
		leaser      batch.Leaser
		runs        batch.VerificationStore
		sessions    authorization.SessionStore
		limiter     authorization.Limiter
		blacklist   middleware.TokenBlacklist
		idemStore   middleware.IdempotencyStore
		rateLimiter *middleware.RateLimiter
	)
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal("Failed to connect to Redis", map[string]interface{}{"error": err.Error()})
		}
		defer redisCache.Close()

		leaser = batch.NewRedisLeaser(redisCache, 2*time.Minute)
		runs = batch.NewRedisVerificationStore(redisCache, cfg.Simulation.VerificationTTL)
		sessions = authorization.NewRedisSessionStore(redisCache, cfg.Authorization.SessionTTL)
		limiter = authorization.NewRedisLimiter(redisCache, cfg.Authorization.MaxFailedAttempts, cfg.Authorization.LockoutWindow)
		blacklist = middleware.NewRedisTokenBlacklist(redisCache)
		idemStore = middleware.NewRedisIdempotencyStore(redisCache)
		rateLimiter = middleware.NewRateLimiter(redisCache, cfg.Server.RateLimit, cfg.Server.RateWindow)
	} else {
		memSessions := authorization.NewMemorySessionStore(cfg.Authorization.SessionTTL)
		memBlacklist := middleware.NewMemoryTokenBlacklist()
		memIdem := middleware.NewMemoryIdempotencyStore()
		memRuns := batch.NewMemoryVerificationStore(cfg.Simulation.VerificationTTL)
		sweeps.Register("authorization-sessions", memSessions, time.Minute)
		sweeps.Register("verification-runs", memRuns, time.Minute)
		sweeps.Register("revoked-tokens", memBlacklist, 5*time.Minute)
		sweeps.Register("idempotency-responses", memIdem, time.Minute)

		leaser = batch.NewMemoryLeaser()
		runs = memRuns
		sessions = memSessions
		limiter = authorization.NewMemoryLimiter(cfg.Authorization.MaxFailedAttempts, cfg.Authorization.LockoutWindow)
		blacklist = memBlacklist
		idemStore = memIdem
	}
	if cfg.Authorization.MaxFailedAttempts == 0 {
		limiter = authorization.NopLimiter{}
	}

	// Notifications
	hub := notification.NewHub(32, log)
	sink := notification.Multi{notification.NewLogSink(log), hub}

	// Initialize services
	creds := credential.NewService(st, st, hasher, rnd, log)
	batches := batch.NewService(batch.Dependencies{
		Store:         st,
		Verifications: runs,
		Verifier: verification.NewSimulator(
			verification.UploaderPolicy(cfg.Simulation.UploaderFailureRate),
			verification.RecheckPolicy(cfg.Simulation.RecheckFailureRate),
		),
		Settler: settlement.NewService(cfg.Simulation.SettlementSuccessRate, log),
		Ledger:  ledger.NewService(cfg.Pricing),
		Leaser:  leaser,
		Sink:    sink,
		Random:  rnd,
		Ticks:   cfg.Simulation.PipelineTicks,
		Logger:  log,
	})
	protocol := authorization.NewProtocol(creds, batches, sessions, limiter, cfg.Authorization.PINLength, log)
	authService := auth.NewService(creds, st, cfg.JWT.Secret, cfg.JWT.Expiration, log)

	// Initialize handlers
	val := validator.New()
	rt := &handler.Router{
		Auth:          handler.NewAuthHandler(authService, blacklist, val, log),
		Accounts:      handler.NewAccountHandler(creds, val, log),
		Batches:       handler.NewBatchHandler(batches, val, log),
		Authorization: handler.NewAuthorizationHandler(protocol, val, log),
		Ledger:        handler.NewLedgerHandler(ledger.NewBook(st, log), log),
		Notifications: handler.NewNotificationHandler(hub, log),
		Authenticator: middleware.NewAuthMiddleware(cfg.JWT.Secret, blacklist),
		RateLimit:     rateLimiter,
		Idempotency:   middleware.NewIdempotencyMiddleware(idemStore, 24*time.Hour),
		Logger:        log,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if sweeps.Len() > 0 {
		sweeps.Start(ctx)
		defer sweeps.Stop()
	}

	// Start server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      rt.Build(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Portal starting", map[string]interface{}{
			"addr":    srv.Addr,
			"storage": cfg.Storage.Driver,
			"redis":   cfg.Redis.Enabled,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...", nil)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Server exited", nil)
}
