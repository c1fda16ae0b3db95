package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gianluca27/turno-facil-sub000/internal/config"
	"github.com/Gianluca27/turno-facil-sub000/internal/infra"
	"github.com/Gianluca27/turno-facil-sub000/internal/repository"
	"github.com/Gianluca27/turno-facil-sub000/internal/router"
	"github.com/Gianluca27/turno-facil-sub000/internal/worker"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// @title POS Transactions API
// @version 1.0
// @description Sales, refunds, cash register sessions and reporting for salon businesses.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Structured logger: dev pretty, prod JSON
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.Env != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	if cfg.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := infra.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}

	deps := router.Deps{DB: db}
	var refundQueue *worker.RedisRefundQueue

	// Redis: per-sale refund lock + reconciliation queue. Optional.
	if cfg.RedisURL != "" {
		rdb, err := infra.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		deps.Redis = rdb
		deps.Locker = infra.NewRedisLocker(rdb)
		refundQueue = worker.NewRedisRefundQueue(rdb)
		deps.Reconciler = worker.NewDLQReconciler(refundQueue)
	} else {
		log.Warn().Msg("REDIS_URL empty: refunds rely on version checks only, failed gateway refunds are only logged")
	}

	// Scheduling database: appointment payment status. Optional.
	if cfg.MongoURI != "" {
		mc, err := infra.NewMongo(ctx, cfg.MongoURI)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mongo")
		}
		defer func() { _ = mc.Disconnect(context.Background()) }()
		deps.Mongo = mc
		deps.Appointments = infra.NewMongoAppointments(mc.Database(cfg.MongoDatabase))
	}

	// Payment gateway: refunds of gateway-paid sales. Optional.
	if cfg.GatewayURL != "" {
		cb := infra.NewCircuitBreaker(infra.DefaultCBConfig())
		deps.Gateway = infra.NewGatewayClient(cfg.GatewayURL, cfg.GatewayAPIKey,
			time.Duration(cfg.GatewayTimeoutSeconds)*time.Second, cb)
		deps.GatewayBreaker = cb

		if refundQueue != nil {
			cron := worker.NewRefundRetryCron(worker.RetryCronConfig{
				Queue:       refundQueue,
				Gateway:     deps.Gateway,
				CB:          cb,
				MaxAttempts: cfg.GatewayRetryMaxAttempts,
			})
			go cron.Start(ctx)
		}
	}

	// Outbox publisher. Without brokers the services do not write outbox rows.
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		producer, err := infra.NewKafkaProducer(brokers)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create kafka producer")
		}
		defer producer.Close()
		sender := worker.NewOutboxSender(repository.NewOutboxRepository(db), producer, worker.OutboxSenderConfig{
			Topic:      cfg.KafkaTopic,
			Interval:   time.Duration(cfg.OutboxIntervalMS) * time.Millisecond,
			MaxRetries: cfg.OutboxMaxRetries,
		})
		go sender.Start(ctx)
	} else {
		log.Warn().Msg("KAFKA_BROKERS empty: domain events are not recorded or published")
	}

	r := router.New(cfg, deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM
	go func() {
		log.Info().Msgf("POS backend listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server…")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("server exited")
}
