package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/bigdegenenergy/open-cloud-ops/tutor/internal/analytics"
	"github.com/bigdegenenergy/open-cloud-ops/tutor/internal/api"
	"github.com/bigdegenenergy/open-cloud-ops/tutor/internal/budget"
	"github.com/bigdegenenergy/open-cloud-ops/tutor/internal/config"
	"github.com/bigdegenenergy/open-cloud-ops/tutor/internal/conversations"
	"github.com/bigdegenenergy/open-cloud-ops/tutor/internal/database"
	"github.com/bigdegenenergy/open-cloud-ops/tutor/internal/keywords"
	"github.com/bigdegenenergy/open-cloud-ops/tutor/internal/llm"
	"github.com/bigdegenenergy/open-cloud-ops/tutor/internal/logging"
	"github.com/bigdegenenergy/open-cloud-ops/tutor/internal/responsecache"
	"github.com/bigdegenenergy/open-cloud-ops/tutor/internal/router"
	"github.com/bigdegenenergy/open-cloud-ops/tutor/internal/usage"
	"github.com/bigdegenenergy/open-cloud-ops/tutor/pkg/cache"
)

var _ budget.Store = (*database.DB)(nil)

// modelTimeout bounds a single completion call.
const modelTimeout = 60 * time.Second

// ledgerStore is a quota store that must be released on shutdown.
type ledgerStore interface {
	budget.Store
	analytics.Source
}

func openLedger(ctx context.Context, cfg *config.Config) (ledgerStore, func(), error) {
	if cfg.LedgerBackend == config.LedgerSQLite {
		s, err := budget.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		log.WithField("path", cfg.SQLitePath).Info("SQLite ledger opened.")
		return s, func() { _ = s.Close() }, nil
	}

	db, err := database.New(cfg.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("connect %s: %w", cfg.RedactedDSN(), err)
	}
	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.Migrate(migrateCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info("Database connected and migrations applied.")
	return db, db.Close, nil
}

func newModel(ctx context.Context, mc config.ModelConfig, tier string) router.Model {
	if !mc.Enabled() {
		log.WithField("tier", tier).Info("Model tier not configured.")
		return nil
	}
	client, err := llm.NewOpenAI(ctx, mc, modelTimeout)
	if err != nil {
		log.WithError(err).WithField("tier", tier).Warn("Model client unavailable.")
		return nil
	}
	log.WithFields(log.Fields{"tier": tier, "model": client.Name()}).Info("Model client ready.")
	return client
}

func main() {
	fmt.Println("==============================================")
	fmt.Println("  Tutor - math & music chat gateway")
	fmt.Println("==============================================")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer func(c io.Closer) { _ = c.Close() }(logCloser)

	ctx := context.Background()

	store, closeStore, err := openLedger(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open quota ledger: %v", err)
	}
	defer closeStore()
	ledger := budget.NewLedger(store, nil)

	// Redis backs the response cache, usage meter and conversations. Without it
	// the gateway still answers, but nothing is cached or metered.
	deps := api.Deps{Ledger: ledger, Monitor: analytics.NewMonitor(store, nil)}
	routerDeps := router.Deps{Ledger: ledger}

	redisCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	kv, err := cache.NewCache(redisCtx, cache.Options{Addr: cfg.RedisAddr(), Password: cfg.RedisPassword})
	cancel()
	if err != nil {
		log.WithError(err).Warn("Redis unavailable. Response cache, usage metering and conversations are disabled.")
	} else {
		defer kv.Close()
		rc := responsecache.New(kv, nil)
		meter := usage.NewMeter(kv, nil, nil)
		deps.Cache = rc
		deps.Usage = meter
		deps.Conversations = conversations.New(kv, nil)
		routerDeps.Cache = rc
		routerDeps.Usage = meter
		log.Info("Redis connected.")
	}

	matcher, err := keywords.Default()
	if err != nil {
		log.Fatalf("Failed to load keyword table: %v", err)
	}
	deps.Keywords = matcher
	routerDeps.Keywords = matcher

	routerDeps.Cheap = newModel(ctx, cfg.CheapModel, "cheap")
	routerDeps.Expensive = newModel(ctx, cfg.ExpensiveModel, "expensive")
	deps.Router = router.New(routerDeps)

	handlers := api.NewHandlers(deps, api.Options{
		IdentityMode:    cfg.IdentityMode,
		LoginURL:        cfg.LoginURL,
		SupabaseURL:     cfg.SupabaseURL,
		SupabaseAnonKey: cfg.SupabaseAnonKey,
		TrustBodyUserID: cfg.SupabaseJWTSecret == "",
	})

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r, err := api.NewEngine(handlers, api.EngineOptions{
		TrustedPlatform: cfg.TrustedPlatform,
		TrustedProxies:  cfg.TrustedProxies,
		JWTSecret:       cfg.SupabaseJWTSecret,
	})
	if err != nil {
		log.Fatalf("Failed to build HTTP engine: %v", err)
	}

	if cfg.IdentityMode == config.IdentityModeUser && cfg.SupabaseJWTSecret == "" {
		log.Warn("SUPABASE_JWT_SECRET not set. User ids are taken from request bodies unverified.")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * modelTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Infof("Tutor gateway is ready on :%s (identity mode %s)", cfg.Port, cfg.IdentityMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}
	log.Info("Server exited.")
}
