package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/eggdevsol-del/manuscalendair-notifications/internal/channel"
	"github.com/eggdevsol-del/manuscalendair-notifications/internal/channel/email"
	"github.com/eggdevsol-del/manuscalendair-notifications/internal/channel/push"
	"github.com/eggdevsol-del/manuscalendair-notifications/internal/dispatcher"
	"github.com/eggdevsol-del/manuscalendair-notifications/internal/domain"
	"github.com/eggdevsol-del/manuscalendair-notifications/internal/eventbus"
	"github.com/eggdevsol-del/manuscalendair-notifications/internal/metrics"
	"github.com/eggdevsol-del/manuscalendair-notifications/internal/orchestrator"
	"github.com/eggdevsol-del/manuscalendair-notifications/internal/repository"
	kafkabridge "github.com/eggdevsol-del/manuscalendair-notifications/internal/transport/kafka"
	"github.com/eggdevsol-del/manuscalendair-notifications/pkg/config"
	"github.com/eggdevsol-del/manuscalendair-notifications/pkg/db"
	"github.com/eggdevsol-del/manuscalendair-notifications/pkg/utils"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println(".env not found, using system envs")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.MustLoad()

	tp, err := utils.InitTracer(ctx, "notifier", cfg.Env)
	if err != nil {
		log.Fatalf("Error init tracer: %v", err)
	}

	logger, err := config.NewLogger(config.LoggerConfig{
		Level: utils.ParseWithFallback("LOG_LEVEL", "info"),
		Env:   cfg.Env,
	})
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := db.NewPostgresDB(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("error creating postgres db: %v", err)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer func() {
		_ = rdb.Close()
	}()

	outboxRepo := repository.NewOutboxRepository(pool, logger)

	// Startup lifecycle: construct the bus, subscribe the orchestrator, then
	// start the consumers and the dispatcher.
	bus := eventbus.New(logger)
	orch := orchestrator.New(outboxRepo, logger)
	orch.Register(bus)

	registry := channel.NewRegistry()
	registry.Register(domain.IntentEmailConfirmation, email.NewSMTPSender(cfg.SMTP, logger))
	registry.Register(domain.IntentPushMessage, push.NewHTTPSender(cfg.Push, rdb, logger))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	go func() {
		http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			Registry: reg,
		}))
		log.Printf("Metrics server is listening on %s 📈", cfg.Metrics.Addr)

		if err := http.ListenAndServe(cfg.Metrics.Addr, nil); err != nil {
			log.Printf("Metrics serving failed: %v", err)
		}
	}()

	disp := dispatcher.New(outboxRepo, registry, dispatcher.Options{
		WorkerID:      "notifier-" + uuid.NewString(),
		PollInterval:  cfg.Dispatcher.PollInterval,
		BatchSize:     cfg.Dispatcher.BatchSize,
		Concurrency:   cfg.Dispatcher.Concurrency,
		SendTimeout:   cfg.Dispatcher.SendTimeout,
		LeaseDuration: cfg.Dispatcher.LeaseDuration,
		ReclaimEvery:  cfg.Dispatcher.ReclaimEvery,
		MaxAttempts:   cfg.Dispatcher.MaxAttempts,
		BaseDelay:     cfg.Dispatcher.BaseDelay,
		MaxDelay:      cfg.Dispatcher.MaxDelay,
	}, m, logger)

	consumer := kafkabridge.NewConsumer(bus, pool, cfg.Kafka.Brokers, cfg.Kafka.GroupID, logger)

	go func() {
		if err := consumer.Start(ctx); err != nil {
			logger.Sugar().Errorf("kafka consumer stopped: %v", err)
			stop()
		}
	}()

	done := make(chan struct{})
	go func() {
		disp.Start(ctx)
		close(done)
	}()

	logger.Info("notifier started!")

	<-ctx.Done()

	// Dispatcher drains its in-flight sends itself; give it a bounded window.
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Println("dispatcher drain timed out")
	}

	shutdownCtx, exit := context.WithTimeout(context.Background(), 5*time.Second)
	defer exit()

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error closing telemetry: %v\n", err)
	}

	log.Println("notifier shutdown complete")
}
