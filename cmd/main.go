package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"

	"github.com/zardamhussain/outblog-crawl/internal/config"
	"github.com/zardamhussain/outblog-crawl/internal/core/auth"
	"github.com/zardamhussain/outblog-crawl/internal/core/concurrency"
	"github.com/zardamhussain/outblog-crawl/internal/core/crawl"
	"github.com/zardamhussain/outblog-crawl/internal/core/credit"
	"github.com/zardamhussain/outblog-crawl/internal/core/priority"
	"github.com/zardamhussain/outblog-crawl/internal/core/queue"
	"github.com/zardamhussain/outblog-crawl/internal/core/scrape"
	"github.com/zardamhussain/outblog-crawl/internal/core/stream"
	"github.com/zardamhussain/outblog-crawl/internal/logger"
	"github.com/zardamhussain/outblog-crawl/internal/notify"
	"github.com/zardamhussain/outblog-crawl/internal/platform/billing"
	"github.com/zardamhussain/outblog-crawl/internal/platform/fetchengine"
	"github.com/zardamhussain/outblog-crawl/internal/platform/gcs"
	rds "github.com/zardamhussain/outblog-crawl/internal/platform/redis"
	"github.com/zardamhussain/outblog-crawl/internal/platform/robots"
	"github.com/zardamhussain/outblog-crawl/internal/server"
	"github.com/zardamhussain/outblog-crawl/internal/worker"
)

func main() {
	cfg := config.Load()
	log.Printf("[outblog-crawl] starting at %s (env=%s)\n", cfg.HTTPAddr, cfg.AppEnv)

	logr := logger.New("main")

	redisSvc, err := rds.New(rds.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer redisSvc.Close()

	mirror, err := gcs.New(context.Background(), cfg.GCSBucketName)
	if err != nil {
		log.Fatalf("gcs mirror init: %v", err)
	}
	defer mirror.Close()

	// Queue gateway and asynq server share one Redis.
	limited := concurrency.New(redisSvc)
	queueSvc := queue.New(redisSvc, limited, cfg.TaskMaxRetries)
	defer queueSvc.Close()
	asynqServer := asynq.NewServer(redisSvc.AsynqRedisOpt(), asynq.Config{
		Concurrency: 10,
		Queues:      queue.QueueWeights,
	})

	// Billing: async aggregator in front of the ledger, never on the
	// request path. Without a billing backend, usage accumulates in Redis
	// counters and recharge is unavailable.
	billingAPI := billing.New(os.Getenv("BILLING_API_URL"))
	var ledger credit.Ledger
	var rechargeSource credit.RechargeSource
	var recharger credit.Recharger
	if billingAPI != nil {
		ledger = billingAPI
		rechargeSource = billingAPI
		recharger = billingAPI
	} else {
		ledger = credit.NewRedisLedger(func(ctx context.Context, key string, n int64) error {
			return redisSvc.Client().IncrBy(ctx, key, n).Err()
		})
	}
	aggregator := credit.NewAggregator(ledger)
	defer aggregator.Stop()

	notifier := notify.NewWebhookNotifier(os.Getenv("NOTIFICATION_WEBHOOK_URL"), cfg.WebhookSecret)
	accounts := auth.NewRedisAccountSource(redisSvc)
	gate := credit.NewGate(credit.GateOptions{
		UseDBAuthentication:   cfg.UseDBAuthentication,
		AuthDisabled:          cfg.AuthDisabled(),
		AutoRechargeThreshold: cfg.AutoRechargeThreshold,
	}, redisSvc, rechargeSource, recharger, notifier, aggregator)

	// Core services
	crawlStore := crawl.NewStore(redisSvc, time.Duration(cfg.CrawlTTLHours)*time.Hour)
	prioritySvc := priority.New(limited)
	scrapeSvc := scrape.NewService(gate, queueSvc, prioritySvc, mirror)
	crawlSvc := crawl.NewService(crawlStore, queueSvc, robots.NewClient(), crawl.ServiceOptions{
		UseDBAuthentication: cfg.UseDBAuthentication,
		GCSBucket:           cfg.GCSBucketName,
		Env:                 cfg.Env,
	})

	// Worker side
	engine := fetchengine.New(cfg.FetchEngineURL)
	webhooks := worker.NewWebhookSender(cfg.WebhookSecret)
	workerSvc := worker.NewService(engine, queueSvc, crawlStore, gate, mirror, webhooks)

	mux := worker.NewMux()
	mux.HandleFunc(queue.TaskTypeScrape, workerSvc.HandleScrapeTask)
	mux.HandleFunc(queue.TaskTypeKickoff, workerSvc.HandleKickoffTask)

	go func() {
		if err := asynqServer.Start(mux.Mux()); err != nil {
			log.Printf("[worker] stopped: %v\n", err)
		}
	}()

	// HTTP server
	app := fiber.New(fiber.Config{
		AppName: "Outblog Crawl",
		JSONEncoder: func(v interface{}) ([]byte, error) {
			var buf bytes.Buffer
			encoder := json.NewEncoder(&buf)
			encoder.SetEscapeHTML(false)
			if err := encoder.Encode(v); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
	})

	deps := server.Dependencies{
		Config:   cfg,
		Accounts: accounts,
		Scrape:   scrape.NewHandler(scrapeSvc, crawlStore),
		Crawl:    crawl.NewHandler(crawlSvc, crawlStore),
		Stream:   stream.NewHandler(crawlStore, queueSvc, limited),
		Redis:    redisSvc,
		Queue:    queueSvc,
	}
	healthHandler := server.RegisterRoutes(app, deps)

	go func() {
		time.Sleep(5 * time.Second) // Allow services to fully initialize
		healthHandler.SetReady()
	}()

	// Graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		logr.LogInfo("Shutting down...")
		asynqServer.Shutdown()
		_ = app.ShutdownWithTimeout(5 * time.Second)
	}()

	if err := app.Listen(cfg.HTTPAddr); err != nil {
		log.Fatalf("server listen: %v", err)
	}
}
