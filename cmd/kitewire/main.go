package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/mkpatil/kitewire/internal/broker"
	"github.com/mkpatil/kitewire/internal/config"
	"github.com/mkpatil/kitewire/internal/instruments"
	"github.com/mkpatil/kitewire/internal/session"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	logger.Infof("Starting kitewire in %s mode", cfg.Environment.Mode)

	client := broker.NewClientWithBaseURLs(
		cfg.Broker.APIBaseURL,
		cfg.Broker.KiteBaseURL,
		cfg.GetTimeout(),
		logger,
	)

	store := session.NewFileTokenStore(cfg.Session.TokenPath)
	manager := session.NewManager(session.Credentials{
		UserID:     cfg.Credentials.UserID,
		Password:   cfg.Credentials.Password,
		TOTPSecret: cfg.Credentials.TOTPSecret,
	}, client, store, logger)

	cutoffHour, cutoffMinute := cfg.RefreshCutoffClock()
	catalog := instruments.NewService(
		instruments.NewFileDatasetStore(cfg.Instruments.DatasetPath),
		client,
		cutoffHour, cutoffMinute,
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received")
		cancel()
	}()

	if err := run(ctx, logger, manager, client, catalog); err != nil {
		logger.Fatalf("kitewire error: %v", err)
	}
}

func run(ctx context.Context, logger *logrus.Logger, manager *session.Manager, client *broker.Client, catalog *instruments.Service) error {
	if err := manager.EnsureSession(ctx); err != nil {
		return err
	}

	if err := catalog.EnsureFresh(ctx); err != nil {
		return err
	}
	logger.Infof("instrument catalog loaded: %d rows", catalog.Catalog().Len())

	// The margins call doubles as a connectivity sanity check; a broken
	// session surfaces here rather than on the first order.
	cb := broker.NewCircuitBreakerBroker(client)
	if _, err := cb.Margins(ctx); err != nil {
		return err
	}
	logger.Info("broker connection verified")

	return nil
}
