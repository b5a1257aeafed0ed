package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"klepsydra/config"
	"klepsydra/internal/api"
	"klepsydra/internal/auth"
	"klepsydra/internal/core"
	"klepsydra/internal/janitor"
	"klepsydra/internal/logging"
	"klepsydra/internal/storage"
	"klepsydra/internal/storage/sqlite"

	"github.com/joho/godotenv"
)

const (
	shutdownTimeout   = 10 * time.Second
	janitorInterval   = time.Hour
	defaultConfigPath = "config.yaml"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	logLevel := flag.String("log-level", "", "Override configured log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "Override configured log format (json, text)")
	flag.Parse()

	// A .env file is optional; its variables feed the config overrides
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}

	logger := logging.NewLogger(logging.LoggerConfig{
		Format: cfg.Log.Format,
		Level:  logging.ParseLevel(cfg.Log.Level),
	})

	logger.Info("Opening database", "path", cfg.DatabasePath)
	var store storage.Storage
	store, err = sqlite.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.SeedChildren(ctx, childrenFromConfig(cfg)); err != nil {
		return fmt.Errorf("failed to seed children: %w", err)
	}
	if err := store.SeedTasks(ctx, tasksFromConfig(cfg)); err != nil {
		return fmt.Errorf("failed to seed tasks: %w", err)
	}
	logger.Info("Catalog seeded", "children", len(cfg.Children), "tasks", len(cfg.Tasks))

	authService := auth.NewService(
		cfg.JWTSecret,
		cfg.TenantID,
		usersFromConfig(cfg),
		store,
		time.Duration(cfg.Session.InactivityDays)*24*time.Hour,
		time.Duration(cfg.Session.TTLDays)*24*time.Hour,
	)

	hub := core.NewHub()
	accounting := core.NewAccounting(store, hub, cfg.Heartbeat.MaxBatch, int64(cfg.Heartbeat.FutureSkewMinutes))

	sessionJanitor := janitor.NewJanitor(store, janitorInterval, logger)
	go sessionJanitor.Start()

	router := api.NewRouter(api.RouterConfig{
		Accounting: logging.NewAccountingLogger(accounting, logger),
		Auth:       authService,
		Hub:        hub,
		Version:    version,
		CORSOrigin: cfg.DevCORSOrigin,
		Logger:     logger,
	})

	server := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No write timeout: event streams stay open indefinitely
		IdleTimeout: 60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			"addr", cfg.ListenAddr,
			"tenant", cfg.TenantID,
			"version", version)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info("Shutting down", "signal", sig.String())

		sessionJanitor.Stop()

		// Closing the hub ends open event streams so Shutdown does not
		// wait out its timeout on them.
		hub.Close()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		logger.Info("Graceful shutdown complete")
	}

	return nil
}

func childrenFromConfig(cfg *config.Config) []core.Child {
	children := make([]core.Child, 0, len(cfg.Children))
	for _, child := range cfg.Children {
		children = append(children, core.Child{ID: child.ID, DisplayName: child.DisplayName})
	}
	return children
}

func tasksFromConfig(cfg *config.Config) []core.Task {
	tasks := make([]core.Task, 0, len(cfg.Tasks))
	for _, task := range cfg.Tasks {
		tasks = append(tasks, core.Task{ID: task.ID, Name: task.Name, Minutes: int64(task.Minutes)})
	}
	return tasks
}

func usersFromConfig(cfg *config.Config) []auth.User {
	users := make([]auth.User, 0, len(cfg.Users))
	for _, user := range cfg.Users {
		users = append(users, auth.User{
			Username:     user.Username,
			PasswordHash: user.PasswordHash,
			Role:         auth.Role(user.Role),
			ChildID:      user.ChildID,
		})
	}
	return users
}
