// cmd/server/main.go
// HTTP Server
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"donation-guard/internal/config"
	"donation-guard/internal/handler"
	"donation-guard/internal/middleware"
	"donation-guard/internal/models"
	"donation-guard/internal/repository"
	"donation-guard/internal/service"
	"donation-guard/pkg/database"
	"donation-guard/pkg/logger"
	"donation-guard/pkg/redis"
)

func main() {
	// Initialize logger
	log := logger.NewLogger("donation-guard")
	defer log.Sync()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	// Initialize stores. Without DATABASE_URL the service runs entirely
	// in memory, which is the demo/development mode.
	var (
		transactions service.TransactionStore
		donors       service.DonorStore
		campaigns    service.CampaignStore
		patterns     service.PatternStore
		codes        service.CodeStore
	)

	if cfg.DatabaseURL != "" {
		db, err := database.NewPostgresDB(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		if err := applySchemas(db); err != nil {
			log.Fatal("failed to apply schemas", zap.Error(err))
		}

		redisClient := redis.NewRedisClient(cfg.RedisAddr)
		defer redisClient.Close()

		transactions = repository.NewTransactionRepository(db.DB)
		donors = repository.NewDonorRepository(db.DB)
		campaigns = repository.NewCampaignRepository(db.DB)
		patterns = repository.NewPatternRepository(db.DB)
		codes = repository.NewRedisCodeStore(redisClient)
		log.Info("using postgres and redis stores")
	} else {
		transactions = service.NewMemoryTransactionStore()
		donors = service.NewMemoryDonorStore()
		campaigns = service.NewMemoryCampaignStore()
		patterns = service.NewMemoryPatternStore()
		codes = service.NewMemoryCodeStore()
		log.Info("using in-memory stores")
	}

	// Initialize fraud engine
	engine := service.NewFraudEngine(transactions, donors, service.DefaultFraudConfig(), log)
	if cfg.AIScorerURL != "" {
		engine = engine.WithScorer(service.NewHTTPScorer(cfg.AIScorerURL, cfg.AIScoreTimeout))
		log.Info("using external fraud scorer", zap.String("url", cfg.AIScorerURL))
	}

	// Initialize payment gateway
	var gateway service.PaymentGateway
	if cfg.StripeKey != "" {
		gateway = service.NewStripeGateway(cfg.StripeKey)
		log.Info("using stripe gateway")
	} else {
		gateway = service.SimulatedGateway{}
		log.Info("using simulated gateway")
	}

	// Initialize services
	events := handler.NewEventHub(log)
	donations := service.NewDonationService(transactions, donors, campaigns, patterns, codes, engine, gateway, log).
		WithAnchor(service.SimulatedAnchor{Network: cfg.AnchorNetwork}, cfg.AnchorTimeout).
		WithEmitter(events).
		WithMinAmount(cfg.MinDonationAmount)

	// Initialize handlers
	donationHandler := handler.NewDonationHandler(donations, log)
	adminHandler := handler.NewAdminHandler(donations, log)
	campaignHandler := handler.NewCampaignHandler(donations, log)

	// Setup router
	router := setupRouter(cfg, log, donationHandler, adminHandler, campaignHandler, events)

	// Start server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info("starting server", zap.String("port", cfg.Port), zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}

func applySchemas(db *database.PostgresDB) error {
	for _, schema := range []string{models.TransactionSchema, models.DonorSchema, models.CampaignSchema} {
		if _, err := db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

func setupRouter(
	cfg *config.Config,
	log *zap.Logger,
	donationHandler *handler.DonationHandler,
	adminHandler *handler.AdminHandler,
	campaignHandler *handler.CampaignHandler,
	events *handler.EventHub,
) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS())

	// Health checks
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	// Metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API routes
	v1 := router.Group("/api/v1")
	v1.Use(middleware.Identity())
	{
		donationGroup := v1.Group("/donations")
		{
			donationGroup.POST("/initiate", donationHandler.Initiate)
			donationGroup.GET("/history", donationHandler.History)
			donationGroup.GET("/:transaction_id", donationHandler.GetTransaction)
			donationGroup.POST("/:transaction_id/verify", donationHandler.Verify)
			donationGroup.POST("/:transaction_id/process", donationHandler.ProcessPayment)
		}

		adminGroup := v1.Group("/admin")
		{
			adminGroup.GET("/flagged", adminHandler.ListFlagged)
			adminGroup.POST("/review/:transaction_id", adminHandler.Review)
			adminGroup.GET("/patterns", adminHandler.ListPatterns)
		}

		campaignGroup := v1.Group("/campaigns")
		{
			campaignGroup.POST("/:campaign_id/verification", campaignHandler.SubmitVerification)
			campaignGroup.GET("/:campaign_id/verification", campaignHandler.GetVerification)
		}

		v1.GET("/events", events.Handle)
	}

	return router
}
