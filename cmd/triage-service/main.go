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

	"github.com/gorilla/mux"
	"github.com/smarttriage/platform/pkg/classifier"
	"github.com/smarttriage/platform/pkg/common/config"
	"github.com/smarttriage/platform/pkg/common/database"
	"github.com/smarttriage/platform/pkg/common/kafka"
	"github.com/smarttriage/platform/pkg/common/logger"
	"github.com/smarttriage/platform/pkg/dashboard"
	"github.com/smarttriage/platform/pkg/documents"
	"github.com/smarttriage/platform/pkg/gateway/auth"
	"github.com/smarttriage/platform/pkg/gateway/middleware"
	"github.com/smarttriage/platform/pkg/gateway/routes"
	"github.com/smarttriage/platform/pkg/intake"
	"github.com/smarttriage/platform/pkg/patient"
	"github.com/smarttriage/platform/pkg/results"
	"github.com/smarttriage/platform/pkg/triage"
)

func main() {
	logger.Init("triage-service")
	cfg := config.Load()

	db, err := database.GetPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}
	defer database.ClosePostgres()

	patients := patient.NewRepository(db)
	if err := patients.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate patients table")
	}
	blobs := documents.NewGormBlobStore(db, cfg.DocumentBucket)
	if err := blobs.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate documents table")
	}

	catalog := intake.DefaultCatalog()
	if cfg.CatalogPath != "" {
		catalog, err = intake.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to load intake catalog")
		}
	}

	fn, err := classifier.New(classifier.Config{
		URL:            cfg.ClassifierURL,
		APIKey:         cfg.ClassifierAPIKey,
		Timeout:        cfg.ClassifierTimeout,
		RateLimitRPS:   cfg.ClassifierRateLimitRPS,
		BreakerTimeout: cfg.ClassifierBreakerTimeout,
	})
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to configure triage function client")
	}

	readiness := map[string]routes.Check{
		"postgres": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}

	var guard triage.Guard = triage.NewMemoryGuard()
	if redisClient := database.GetRedis(cfg); redisClient != nil {
		guard = triage.NewRedisGuard(redisClient, cfg.SubmissionLockTTL)
		readiness["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		defer database.CloseRedis()
	} else {
		logger.Log.Warn("Redis not configured, submission keys are guarded per process")
	}

	pipelineOpts := []triage.Option{triage.WithGuard(guard)}
	var dashboardOpts []dashboard.Option
	if cfg.KafkaEnabled() {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.TriageEventsTopic)
		defer producer.Close()
		pipelineOpts = append(pipelineOpts, triage.WithEvents(producer))
		dashboardOpts = append(dashboardOpts, dashboard.WithEvents(producer))
	} else {
		logger.Log.Warn("Kafka not configured, triage events are not published")
	}

	pipeline := triage.NewPipeline(patients, fn, pipelineOpts...)
	aggregator := dashboard.NewAggregator(patients, fn, dashboardOpts...)
	resultsService := results.NewService(patients)
	documentService := documents.NewService(blobs, fn, cfg.MaxUploadBytes)

	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)
	router.Use(middleware.CORS)
	router.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))

	oidcAuth, err := auth.NewOIDCAuthenticator(cfg.OIDCIssuer, cfg.OIDCClientID, cfg.OIDCClientSecret)
	if err != nil {
		logger.Log.WithError(err).Warn("OIDC authentication not configured, running without auth")
	} else {
		router.Use(middleware.Authenticate(oidcAuth, "/", "/health", "/ready", "/metrics"))
	}

	routes.NewHealthHandler("triage-service", readiness).Register(router)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.BodyLimit(cfg.MaxRequestBody + cfg.MaxUploadBytes))
	routes.NewIntakeHandler(catalog, pipeline, documentService, resultsService, aggregator, cfg.MaxUploadBytes).Register(api)
	routes.NewResultsHandler(resultsService).Register(api)
	routes.NewDashboardHandler(aggregator).Register(api)
	routes.NewMetricsHandler(db).Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Triage Service started")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Triage Service...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Triage Service stopped")
}
