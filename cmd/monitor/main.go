package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"exitwatch/internal/config"
	"exitwatch/internal/dashboard"
	"exitwatch/internal/executor"
	"exitwatch/internal/monitor"
	"exitwatch/internal/oracle"
	"exitwatch/internal/storage"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Optional .env for ${VAR} expansion in the config file.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Environment.LogLevel)
	logger.WithFields(logrus.Fields{
		"mode":       cfg.Environment.Mode,
		"price_tick": cfg.Monitor.PriceTick,
		"sync_tick":  cfg.Monitor.SyncTick,
	}).Info("Starting position monitor")

	store, err := storage.NewGormStore(cfg.Storage.DSN, cfg.Storage.Table, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open position store")
	}

	priceOracle := oracle.NewCircuitBreakerOracle(
		oracle.NewHTTPOracle(cfg.Oracle.BaseURL, cfg.OracleTimeout()),
		logger,
	)
	swapExecutor := executor.NewHTTPExecutor(cfg.Executor.BaseURL, cfg.ExecutorTimeout())

	engine := monitor.NewEngine(monitor.Config{
		PriceTick:           cfg.PriceTick(),
		SyncTick:            cfg.SyncTick(),
		PriceFetchTimeout:   cfg.PriceFetchTimeout(),
		SwapTimeout:         cfg.ExecutorTimeout(),
		TrailingStopEpsilon: cfg.TrailingStopEpsilon(),
		TrailingStopDefault: cfg.TrailingStopDefaultEnabled(),
		MaxConcurrentChecks: cfg.Monitor.MaxConcurrentChecks,
		StopGrace:           cfg.StopGrace(),
		AmountStep:          cfg.AmountStep(),
	}, store, priceOracle, swapExecutor, nil, logger)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	if err := engine.Start(startCtx); err != nil {
		cancelStart()
		logger.WithError(err).Fatal("Failed to start monitor engine")
	}
	cancelStart()

	server := dashboard.NewServer(dashboard.Config{
		Port:      cfg.Dashboard.Port,
		AuthToken: cfg.Dashboard.AuthToken,
	}, engine, store, logger)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Dashboard server failed")
		}
	}()

	// Log engine events so operators can follow exits in the journal.
	events, cancelEvents := engine.Bus().Subscribe()
	go func() {
		for ev := range events {
			logger.WithFields(logrus.Fields{
				"type":      ev.Type,
				"trade_id":  ev.TradeID,
				"exit_kind": ev.ExitKind,
				"price":     ev.Price,
				"pnl":       ev.ProfitLoss,
			}).Info("Engine event")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received, stopping monitor...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Dashboard shutdown error")
	}
	if err := engine.Stop(); err != nil {
		logger.WithError(err).Warn("Engine stop error")
	}
	cancelEvents()
	engine.Bus().Close()
	logger.Info("Monitor stopped")
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}
