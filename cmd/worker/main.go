package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/warehouse-risk/internal/app"
	"github.com/OFFIS-RIT/warehouse-risk/internal/config"
	"github.com/OFFIS-RIT/warehouse-risk/internal/queue"
	"github.com/OFFIS-RIT/warehouse-risk/internal/storage"
	"github.com/OFFIS-RIT/warehouse-risk/internal/util"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/leaselock"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/logger"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  debug,
		JSON:   util.GetEnvBool("LOG_JSON", false),
		Prefix: "worker",
	})
	logger.Init(consoleLogger)

	cfg := config.MustLoad()
	url := cfg.RabbitMQ.URL()
	if url == "" {
		logger.Fatal("RABBITMQ_HOST is required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to start", "err", err)
	}
	defer a.Close()

	opts := []queue.RescorerOption{queue.WithGraphSync(a.Sync)}
	if a.Snapshots != nil {
		hostname, _ := os.Hostname()
		opts = append(opts,
			queue.WithReportStore(a.Snapshots),
			queue.WithLocker(leaselock.New(a.Pool), leaselock.Options{
				TTL:         5 * time.Minute,
				TokenPrefix: hostname + "-",
			}),
		)
	} else {
		logger.Warn("No DATABASE_URL configured, scores are not persisted and runs are not coordinated")
	}
	if cfg.S3.Enabled() {
		client, err := storage.NewS3Client(ctx, cfg.S3)
		if err != nil {
			logger.Fatal("Failed to create S3 client", "err", err)
		}
		opts = append(opts, queue.WithArchive(storage.NewReportArchive(client, cfg.S3.Bucket)))
	}
	rescorer := queue.NewRescorer(a.Scores, opts...)

	conn, err := queue.Dial(url)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()
	if err := queue.SetupQueues(ch, queue.RescoreQueue); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	logger.Info("Listening for snapshot signals", "queue", queue.RescoreQueue)
	if err := queue.Consume(ctx, ch, queue.RescoreQueue, queue.ConsumeOptions{Retry: true}, rescorer.Handle); err != nil {
		logger.Fatal("Consumer stopped", "err", err)
	}
	logger.Info("Shutdown signal received, exiting...")
}
