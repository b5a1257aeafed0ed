package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"klepsydra/internal/agent"
	"klepsydra/internal/logging"
)

const (
	// pendingCapacity caps the offline outbox. It matches the server's
	// default heartbeat batch limit, a full day of minutes.
	pendingCapacity = 1440

	shutdownTimeout = 3 * time.Second
)

var version = "dev" // stamped via -ldflags "-X main.version=..."

func main() {
	if err := run(); err != nil {
		log.Fatalf("klepsydra-agent: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to the agent config file")
	doLogin := flag.Bool("login", false, "Register this device interactively and exit")
	serverURL := flag.String("server", "", "Server URL (login mode)")
	username := flag.String("username", "", "Account to sign in with (login mode)")
	childID := flag.String("child", "", "Child to register for (login mode, parent accounts)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return nil
	}

	if *doLogin {
		logger := logging.NewLoggerTo(os.Stderr, logging.LoggerConfig{
			Format: "text",
			Level:  slog.LevelInfo,
		})
		return agent.RunLogin(context.Background(), agent.LoginOptions{
			ConfigPath: *configPath,
			ServerURL:  *serverURL,
			Username:   *username,
			ChildID:    *childID,
		}, logger)
	}

	path, err := agent.ResolveConfigPath(*configPath)
	if err != nil {
		return err
	}
	cfg, err := agent.Load(path)
	if err != nil {
		return err
	}

	logCfg := logging.LoggerConfig{
		Format: cfg.LogFormat,
		Level:  logging.ParseLevel(cfg.LogLevel),
	}
	var logger *slog.Logger
	if cfg.LogFile != "" {
		file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer file.Close()
		logger = logging.NewLoggerTo(file, logCfg)
	} else {
		logger = logging.NewLogger(logCfg)
	}
	slog.SetDefault(logger)

	mainLogger := logger.With("component", "main")
	mainLogger.Info("Klepsydra agent starting",
		"version", version,
		"server_url", cfg.ServerURL,
		"child_id", cfg.ChildID,
		"device_id", cfg.DeviceID,
		"config", path,
	)

	stateDir := cfg.StateDir
	if stateDir == "" {
		if stateDir, err = agent.DefaultStateDir(); err != nil {
			return err
		}
	}

	tokens := agent.NewTokenStore(stateDir)
	token, err := tokens.Load()
	if err != nil {
		if errors.Is(err, agent.ErrNoToken) {
			return fmt.Errorf("%w: run 'klepsydra-agent -login' first", err)
		}
		return err
	}

	client := agent.NewHTTPServerClient(cfg.ServerURL, logger)
	if err := client.UseDeviceToken(token); err != nil {
		return fmt.Errorf("stored token unusable, run 'klepsydra-agent -login': %w", err)
	}
	if client.ChildID() != cfg.ChildID || client.DeviceID() != cfg.DeviceID {
		mainLogger.Warn("Config and token bindings differ, trusting the token",
			"config_child", cfg.ChildID,
			"token_child", client.ChildID(),
			"config_device", cfg.DeviceID,
			"token_device", client.DeviceID(),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Rotate the session at startup. An expired or revoked session is
	// fatal; a flaky network is not.
	switch renewed, err := client.Renew(ctx); {
	case err == nil:
		if err := tokens.Save(renewed); err != nil {
			mainLogger.Warn("Failed to persist renewed token", "error", err)
		} else {
			mainLogger.Info("Session renewed")
		}
	case errors.Is(err, agent.ErrUnauthorized):
		return fmt.Errorf("session expired, run 'klepsydra-agent -login': %w", err)
	default:
		mainLogger.Warn("Token renewal failed, continuing with stored token", "error", err)
	}

	pending, err := agent.NewPendingMinutes(filepath.Join(stateDir, "pending.json"), pendingCapacity, logger)
	if err != nil {
		return err
	}
	if pending.Len() > 0 {
		mainLogger.Info("Restored pending minutes", "count", pending.Len())
	}

	platform := agent.NewPlatform(cfg, logger)
	clock := agent.RealClock{}

	enforcer := agent.NewEnforcer(client, platform, pending, clock, cfg, logger)
	listener := agent.NewEventListener(client, client.ChildID(), enforcer.HandleRemaining, logger)

	go listener.Start(ctx)

	enforcerErrors := make(chan error, 1)
	go func() {
		enforcerErrors <- enforcer.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-enforcerErrors:
		cancel()
		if err != nil {
			return err
		}
	case sig := <-sigChan:
		mainLogger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
		select {
		case <-enforcerErrors:
		case <-time.After(shutdownTimeout):
		}
	}

	mainLogger.Info("Klepsydra agent stopped")
	return nil
}
