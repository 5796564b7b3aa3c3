package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"MailScheduler/internal/api"
	"MailScheduler/internal/config"
	"MailScheduler/internal/db"
	"MailScheduler/internal/email"
	"MailScheduler/internal/errors"
	"MailScheduler/internal/metrics"
	"MailScheduler/internal/mq"
	"MailScheduler/internal/scheduler"
)

func main() {

	// ------------------------------------------------
	// Logger
	// ------------------------------------------------
	level := zap.NewAtomicLevel()
	zcfg := zap.NewProductionConfig()
	zcfg.Level = level

	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// ------------------------------------------------
	// Config
	// ------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config",
			zap.Error(err),
			zap.Strings("hints", errors.GetAllHints(err)),
		)
	}

	lvl, _ := cfg.Level()
	level.SetLevel(lvl)

	// ------------------------------------------------
	// Root Context + Shutdown
	// ------------------------------------------------
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	// ------------------------------------------------
	// Job Store
	// ------------------------------------------------
	store, err := db.Open(ctx, db.Config{
		Driver:         cfg.StoreDriver,
		DatabaseURL:    cfg.DatabaseURL,
		SQLitePath:     cfg.SQLitePath,
		MongoURI:       cfg.MongoURI,
		MongoDatabase:  cfg.MongoDatabase,
		ConnectRetries: cfg.ConnectRetries,
	}, logger)
	if err != nil {
		logger.Fatal("job store connection failed", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer store.Close()

	logger.Info("job store ready", zap.String("driver", cfg.StoreDriver))

	// ------------------------------------------------
	// Metrics
	// ------------------------------------------------
	metrics.Init()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux,
	}

	go func() {
		logger.Info("metrics server started", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Mail Transport (rate limited)
	// ------------------------------------------------
	timeout := time.Duration(cfg.MailTimeoutSec) * time.Second

	var transport email.Mailer
	switch cfg.MailTransport {
	case "smtp":
		transport = &email.SMTP{
			Host:           cfg.SMTPHost,
			Port:           cfg.SMTPPort,
			User:           cfg.SMTPUser,
			Password:       cfg.SMTPPassword,
			TemplateDir:    cfg.TemplateDir,
			DefaultSubject: cfg.SMTPSubject,
		}
	default:
		transport = email.NewZeptoMail(cfg.ZeptoMailURL, cfg.ZeptoMailToken, timeout, logger)
	}
	mailer := email.NewRateLimited(transport, cfg.RateLimit)

	logger.Info("mail transport ready",
		zap.String("transport", cfg.MailTransport),
		zap.Int("rate_limit", cfg.RateLimit),
	)

	// ------------------------------------------------
	// Job Events (optional)
	// ------------------------------------------------
	var publisher scheduler.EventPublisher
	if cfg.AMQPURL != "" {
		p, err := mq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, job events disabled", zap.Error(err))
		} else {
			defer p.Close()
			publisher = p
		}
	}

	// ------------------------------------------------
	// Scheduler + Recovery
	// ------------------------------------------------
	sched := scheduler.New(scheduler.Config{
		Store:         store,
		Mailer:        mailer,
		FromName:      cfg.MailFromName,
		Publisher:     publisher,
		Logger:        logger,
		Workers:       cfg.WorkerCount,
		RecoverMissed: cfg.RecoverMissed,
	})
	sched.Start(ctx)

	if _, err := sched.Recover(ctx, time.Now()); err != nil {
		logger.Error("failed to recover scheduled emails, continuing without them", zap.Error(err))
	}

	auditor, err := scheduler.NewAuditor(sched, cfg.AuditSpec)
	if err != nil {
		logger.Fatal("invalid audit schedule", zap.Error(err))
	}
	auditor.Start()

	// ------------------------------------------------
	// HTTP API Server
	// ------------------------------------------------
	apiHandler := api.NewHandler(api.Config{
		Store:     store,
		Scheduler: sched,
		Mailer:    mailer,
		FromName:  cfg.MailFromName,
		Logger:    logger,
	})

	apiServer := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           apiHandler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("api server started", zap.String("port", cfg.APIPort))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Wait for shutdown
	// ------------------------------------------------
	<-ctx.Done()

	logger.Info("shutting down services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	// Stop accepting new jobs
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}

	auditor.Stop()

	// Disarm timers and wait for in-flight firings
	sched.Stop()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}

	logger.Info("application shutdown complete")
}
