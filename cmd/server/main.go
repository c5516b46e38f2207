package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/coinledger/internal/assets"
	"github.com/ksred/coinledger/internal/auth"
	"github.com/ksred/coinledger/internal/balance"
	"github.com/ksred/coinledger/internal/config"
	"github.com/ksred/coinledger/internal/database"
	"github.com/ksred/coinledger/internal/idempotency"
	"github.com/ksred/coinledger/internal/ledger"
	"github.com/ksred/coinledger/internal/portfolio"
	"github.com/ksred/coinledger/internal/transfer"
	"github.com/ksred/coinledger/internal/types"
	"github.com/ksred/coinledger/pkg/middleware"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// init configures the application logging based on environment settings.
// In development mode, it enables pretty printing with timestamps.
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the trading ledger API server with
// graceful shutdown support.
func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.Logger.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Asset registry seeded with the instruments the ledger trades
	registry := assets.NewRegistry(db)
	if err := registry.Seed(map[string]string{
		"usd": "US Dollar",
		"btc": "Bitcoin",
		"eth": "Ethereum",
		"sol": "Solana",
	}); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to seed asset registry")
	}

	router := gin.Default()

	authService := auth.NewService(cfg.Auth.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	if os.Getenv("ENV") != "production" {
		// Register demo credentials bound to a seeded account
		if err := bootstrapDemoAccount(db); err != nil {
			zlog.Fatal().Err(err).Msg("Failed to bootstrap demo account")
		}
		authService.RegisterAPICredentials("test-api-key", "test-api-secret", 1)
	}

	// Shared serialization point for everything that mutates holdings
	// or cash
	locks := ledger.NewLockManager()
	idemStore := idempotency.NewStore(db, cfg.Idempotency.ProcessingTTL, cfg.Idempotency.DoneTTL)

	balanceStore := balance.NewTieredStore(balance.NewDBStore(db), balance.NewMemoryStore())

	engine := ledger.NewEngine(db, locks, idemStore, registry, balanceStore,
		cfg.Ledger.BaseCurrency, cfg.Ledger.LockWait)
	ledgerHandlers := ledger.NewGinHandlers(engine)

	transferService := transfer.NewService(db, locks, registry, balanceStore,
		cfg.Ledger.BaseCurrency, cfg.Ledger.LockWait)
	transferHandlers := transfer.NewGinHandlers(transferService)

	portfolioService := portfolio.NewService(db, balanceStore, registry)
	portfolioHandlers := portfolio.NewGinHandlers(portfolioService)

	reconciler := balance.NewReconciler(balance.NewDatabase(db), balanceStore, cfg.Reconcile.Workers)
	balanceHandlers := balance.NewGinHandlers(reconciler)

	// Create and start reconciliation processor
	processor := balance.NewProcessor(reconciler, cfg.Reconcile.Interval)
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go processor.Start(processorCtx)

	router.Use(middleware.RateLimit())

	setupRoutes(router, cfg.Auth.JWTSecret, authHandlers, ledgerHandlers,
		transferHandlers, portfolioHandlers, balanceHandlers)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// bootstrapDemoAccount ensures account 1 exists for local development.
func bootstrapDemoAccount(db *gorm.DB) error {
	account := types.Account{AccountID: 1}
	return db.FirstOrCreate(&account, types.Account{AccountID: 1}).Error
}

// setupRoutes configures all API endpoints and their handlers.
// Routes are grouped by functionality:
// - Auth routes: public endpoints for authentication
// - Order/transfer/portfolio routes: protected by JWT authentication
// - Internal routes: settlement and reconciliation triggers
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	transferHandlers *transfer.GinHandlers,
	portfolioHandlers *portfolio.GinHandlers,
	balanceHandlers *balance.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Order routes
		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth(jwtSecret))
		{
			orders.POST("/execute", ledgerHandlers.ExecuteOrderHandler())
			orders.GET("/trades", ledgerHandlers.ListTradesHandler())
			orders.GET("/trades/:trade_id", ledgerHandlers.GetTradeHandler())
		}

		// Transfer routes
		transfers := v1.Group("/transfers")
		transfers.Use(middleware.JWTAuth(jwtSecret))
		{
			transfers.POST("", transferHandlers.CreateTransferHandler())
			transfers.GET("", transferHandlers.ListTransfersHandler())
		}

		// Portfolio routes
		portfolioGroup := v1.Group("/portfolio")
		portfolioGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			portfolioGroup.GET("", portfolioHandlers.GetPortfolioHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/transfers/:transfer_id/settle", transferHandlers.SettleTransferHandler())
			internal.POST("/reconcile", balanceHandlers.ReconcileHandler())
		}
	}
}
