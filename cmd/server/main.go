package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/jonc1987/fastmail/internal/api"
	"github.com/jonc1987/fastmail/internal/auth"
	"github.com/jonc1987/fastmail/internal/cache"
	"github.com/jonc1987/fastmail/internal/config"
	"github.com/jonc1987/fastmail/internal/mail"
	"github.com/jonc1987/fastmail/internal/relay"
	"github.com/jonc1987/fastmail/internal/remote"
	"github.com/jonc1987/fastmail/internal/store"
)

var (
	version     = "dev"
	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("fastmail version %s\n", version)
		os.Exit(0)
	}

	// Set up logging
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	// Optional .env for local development
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.WithError(err).Warn("Failed to load .env file")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.Info("Starting fastmail server")

	// Initialize the remote-message cache
	messageCache, err := cache.NewCache(cfg.CachePath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize cache")
	}
	defer messageCache.Close()
	cacheStore := cache.NewStore(messageCache, logger)

	// Outbound relay: real SMTP when configured, otherwise log-only
	var rly relay.Relay
	if cfg.SMTP.Host != "" {
		rly = relay.NewSMTPRelay(relay.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
		}, logger)
	} else {
		rly = relay.NewNopRelay(logger)
	}

	// Wire both backends into the mailbox service
	memStore := store.NewStore()
	adapter := remote.NewAdapter(nil, cacheStore, logger)
	service := mail.NewService(cfg, memStore, adapter, cacheStore, rly, auth.NewHasher(), logger)

	// Seed demo accounts
	for _, demo := range cfg.DemoUsers {
		info, err := service.EnsureUser(mail.EnsureUserInput{
			Email:    demo.Email,
			Password: demo.Password,
			Name:     demo.Name,
		})
		if err != nil {
			logger.WithError(err).WithField("email", demo.Email).Warn("Failed to seed demo user")
			continue
		}
		logger.WithField("email", info.Email).Info("Seeded demo user")
	}

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.NewServer(service, logger).Handler(),
	}

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("Listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig).Info("Received shutdown signal")
	case err := <-errChan:
		logger.WithError(err).Error("Server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown failed")
	}

	logger.Info("Shutting down fastmail server")
}
