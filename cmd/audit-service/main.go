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
	"github.com/smarttriage/platform/pkg/audit"
	"github.com/smarttriage/platform/pkg/common/config"
	"github.com/smarttriage/platform/pkg/common/database"
	"github.com/smarttriage/platform/pkg/common/kafka"
	"github.com/smarttriage/platform/pkg/common/logger"
	"github.com/smarttriage/platform/pkg/dlp"
	"github.com/smarttriage/platform/pkg/gateway/middleware"
	"github.com/smarttriage/platform/pkg/gateway/routes"
)

func main() {
	logger.Init("audit-service")
	cfg := config.Load()

	if !cfg.KafkaEnabled() {
		logger.Log.Fatal("KAFKA_BROKERS is required for the audit service")
	}

	db, err := database.GetPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}
	defer database.ClosePostgres()

	repo := audit.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate audit table")
	}
	rules, err := dlp.LoadRules(cfg.RedactionRules)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load redaction rules")
	}
	redactor, err := dlp.NewRedactor(rules)
	if err != nil {
		logger.Log.WithError(err).Fatal("invalid redaction rules")
	}
	recorder := audit.NewRecorder(repo, redactor)

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.TriageEventsTopic, cfg.KafkaGroupID)
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := consumer.Consume(ctx, recorder.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
			logger.Log.WithError(err).Fatal("consumer error")
		}
	}()

	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)
	routes.NewHealthHandler("audit-service", map[string]routes.Check{
		"postgres": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}).Register(router)
	audit.NewHandler(repo).Register(router.PathPrefix("/api/v1").Subrouter())

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.AuditPort),
		Handler: router,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":  cfg.ServerHost,
			"port":  cfg.AuditPort,
			"topic": cfg.TriageEventsTopic,
		}).Info("Audit Service started")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Audit Service...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Audit Service stopped")
}
