package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"news_monitor/internal/analyzer"
	"news_monitor/internal/backend"
	"news_monitor/internal/config"
	"news_monitor/internal/ingest"
	"news_monitor/internal/notifier"
	"news_monitor/internal/pipeline"
	"news_monitor/internal/scheduler"
	"news_monitor/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Stores
	dedupStore := postgres.NewDedupStore(db)
	subscriberStore := postgres.NewSubscriberStore(db)
	analysisStore := postgres.NewAnalysisStore(db)
	deliveryStore := postgres.NewDeliveryStore(db)
	txManager := postgres.NewTransactionManager(db)

	// Analysis backends and routing
	primary := backend.New(backend.Config{
		Name:    cfg.Backends.Primary.Name,
		BaseURL: cfg.Backends.Primary.BaseURL,
		Model:   cfg.Backends.Primary.Model,
		Timeout: cfg.Backends.Primary.Timeout,
	}, logger)
	secondary := backend.New(backend.Config{
		Name:    cfg.Backends.Secondary.Name,
		BaseURL: cfg.Backends.Secondary.BaseURL,
		Model:   cfg.Backends.Secondary.Model,
		Timeout: cfg.Backends.Secondary.Timeout,
	}, logger)

	router := analyzer.NewRouter(analyzer.RouterConfig{
		Primary:          primary.Name(),
		Secondary:        secondary.Name(),
		Mode:             analyzer.Mode(cfg.Router.Mode),
		ABRatio:          cfg.Router.ABRatio,
		QualityThreshold: cfg.Router.QualityThreshold,
	})
	stats := analyzer.NewModelUsageStats(primary.Name(), secondary.Name())

	postAnalyzer := analyzer.New(
		router,
		[]analyzer.Invoker{primary, secondary},
		stats,
		analyzer.Config{
			MaxRetries:     cfg.Analyzer.MaxRetries,
			InitialBackoff: cfg.Analyzer.InitialBackoff,
			CallTimeout:    cfg.Analyzer.CallTimeout,
			MaxTextLength:  cfg.Analyzer.MaxTextLength,
		},
		logger,
	)

	// Delivery
	transport, err := notifier.NewTelegramTransport(cfg.Telegram.BotToken, logger)
	if err != nil {
		logger.Error("failed to connect to telegram", "error", err)
		os.Exit(1)
	}

	dispatcher := notifier.NewDispatcher(
		transport,
		deliveryStore,
		subscriberStore,
		notifier.Config{
			MaxAttempts: cfg.Dispatcher.MaxAttempts,
			BaseBackoff: cfg.Dispatcher.BaseBackoff,
			MaxBackoff:  cfg.Dispatcher.MaxBackoff,
		},
		logger,
	)

	coordinator := pipeline.NewCoordinator(
		dedupStore,
		postAnalyzer,
		dispatcher,
		subscriberStore,
		analysisStore,
		pipeline.Config{
			Workers:   cfg.Pipeline.Workers,
			QueueSize: cfg.Pipeline.QueueSize,
		},
		logger,
	)

	consumer, err := ingest.NewConsumer(ingest.Config{
		URL:        cfg.RabbitMQ.URL,
		Exchange:   cfg.RabbitMQ.Exchange,
		RoutingKey: cfg.RabbitMQ.RoutingKey,
		QueueName:  cfg.RabbitMQ.QueueName,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	sweeper := scheduler.NewSweeper(
		txManager,
		cfg.Retention.Horizon,
		cfg.Retention.SweepInterval,
		logger,
		dedupStore,
		deliveryStore,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	go func() {
		if err := sweeper.Start(ctx); err != nil && err != context.Canceled {
			logger.Error("retention sweeper error", "error", err)
		}
	}()

	logger.Info("starting news monitor",
		"router_mode", cfg.Router.Mode,
		"primary", primary.Name(),
		"secondary", secondary.Name(),
		"workers", cfg.Pipeline.Workers,
	)

	if err := consumer.Run(ctx, coordinator, cfg.Pipeline.Workers); err != nil && err != context.Canceled {
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}

	for _, usage := range stats.Snapshot() {
		logger.Info("model usage",
			"backend", usage.Backend,
			"invocations", usage.Invocations,
			"fallbacks", usage.Fallbacks,
		)
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
