package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc/v3"

	"github.com/OFFIS-RIT/warehouse-risk/internal/app"
	"github.com/OFFIS-RIT/warehouse-risk/internal/config"
	"github.com/OFFIS-RIT/warehouse-risk/internal/queue"
	"github.com/OFFIS-RIT/warehouse-risk/internal/server"
	mid "github.com/OFFIS-RIT/warehouse-risk/internal/server/middleware"
	"github.com/OFFIS-RIT/warehouse-risk/internal/storage"
	"github.com/OFFIS-RIT/warehouse-risk/internal/util"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/logger"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/logger/console"
	pgxstore "github.com/OFFIS-RIT/warehouse-risk/pkg/store/pgx"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
		JSON:  util.GetEnvBool("LOG_JSON", false),
	})
	logger.Init(consoleLogger)

	cfg := config.MustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL != "" {
		if err := pgxstore.Migrate(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			logger.Fatal("Failed to run migrations", "err", err)
		}
	}

	a, err := app.Open(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to start", "err", err)
	}
	defer a.Close()

	serverApp := &mid.App{App: a, MasterAPIKey: cfg.MasterAPIKey}
	if cfg.AuthURL != "" {
		k, err := keyfunc.NewDefault([]string{cfg.AuthURL + "/jwks"})
		if err != nil {
			logger.Fatal("Failed to load jwks keys", "err", err)
		}
		serverApp.Keyfunc = k.Keyfunc
	}
	if !serverApp.AuthEnabled() {
		logger.Warn("Authentication is disabled, set AUTH_URL or MASTER_API_KEY")
	}

	if cfg.S3.Enabled() {
		client, err := storage.NewS3Client(ctx, cfg.S3)
		if err != nil {
			logger.Fatal("Failed to create S3 client", "err", err)
		}
		serverApp.Archive = storage.NewReportArchive(client, cfg.S3.Bucket)
	}

	if url := cfg.RabbitMQ.URL(); url != "" {
		conn, err := queue.Dial(url)
		if err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", "err", err)
		}
		defer conn.Close()
		ch, err := conn.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		name, err := queue.Subscribe(ch)
		if err != nil {
			logger.Fatal("Failed to subscribe to snapshot signals", "err", err)
		}
		refresher := queue.NewRefresher(a.Sync, a.Scores)
		go func() {
			if err := queue.Consume(ctx, ch, name, queue.ConsumeOptions{}, refresher.Handle); err != nil {
				logger.Error("Snapshot subscriber stopped", "err", err)
			}
		}()
	}

	if cfg.GraphBackend == config.BackendPostgres {
		go pollSnapshots(ctx, a, cfg.SyncInterval)
	}

	if err := server.Run(ctx, server.New(serverApp), cfg.Port); err != nil {
		logger.Fatal("Server stopped", "err", err)
	}
}

// pollSnapshots catches up on snapshot signals missed while disconnected.
func pollSnapshots(ctx context.Context, a *app.App, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := a.Sync(ctx); err != nil {
				logger.Warn("[Graph] Snapshot sync failed", "err", err)
			}
		}
	}
}
