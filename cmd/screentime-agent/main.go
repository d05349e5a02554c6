package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"screentime/config"
	"screentime/internal/agent"
	"screentime/internal/alert"
	"screentime/internal/core"
	"screentime/internal/gateway"
	"screentime/internal/logging"
	"screentime/internal/statusapi"
	"screentime/internal/store"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to JSON config file (env vars used if empty)")
	logLevel := flag.String("log-level", "", "Override log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "", "Override log format: json or text")
	logPath := flag.String("log-path", "", "Override log file path (stdout if empty)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags win over file and environment settings
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *logPath != "" {
		cfg.Log.Path = *logPath
	}

	logConfig := logging.LoggerConfig{
		Format: cfg.Log.Format,
		Level:  logging.ParseLevel(cfg.Log.Level),
	}

	var logger *slog.Logger
	if cfg.Log.Path != "" {
		fileLogger, closer, err := logging.NewFileLogger(cfg.Log.Path, logConfig)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer closer.Close()
		logger = fileLogger
	} else {
		logger = logging.NewLogger(logConfig)
	}
	slog.SetDefault(logger)

	mainLogger := logger.With("component", "main")
	mainLogger.Info("Screentime agent starting",
		"device_id", cfg.Device.ID,
		"device_name", cfg.Device.Name,
		"api_url", cfg.API.BaseURL,
		"poll_interval_seconds", cfg.Agent.PollIntervalSeconds,
	)

	cache, err := store.New(cfg.Agent.CacheDir, logger)
	if err != nil {
		mainLogger.Error("Failed to open local cache", "error", err)
		os.Exit(1)
	}
	defer cache.Close()

	client := gateway.NewHTTPClient(cfg.API.BaseURL, cfg.API.Token, gateway.ClientInfo{
		DeviceID:   cfg.Device.ID,
		DeviceName: cfg.Device.Name,
		FamilyID:   cfg.Device.FamilyID,
		UserID:     cfg.Device.UserID,
		Platform:   core.CurrentPlatform(),
	}, logger)

	agentConfig := &agent.Config{
		DeviceID:         cfg.Device.ID,
		DeviceName:       cfg.Device.Name,
		FamilyID:         cfg.Device.FamilyID,
		UserID:           cfg.Device.UserID,
		PollInterval:     time.Duration(cfg.Agent.PollIntervalSeconds) * time.Second,
		WhitelistRefresh: time.Duration(cfg.Agent.WhitelistRefreshSeconds) * time.Second,
		CacheDir:         cfg.Agent.CacheDir,
	}
	if err := agentConfig.Validate(); err != nil {
		mainLogger.Error("Invalid agent configuration", "error", err)
		os.Exit(1)
	}

	monitor := agent.NewMonitor(
		client,
		cache,
		agent.NewProbe(logger),
		agent.NewPlatform(logger),
		agent.RealClock{},
		agentConfig,
		logger,
	)

	if cfg.AlertsEnabled() {
		notifier, err := alert.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Device.Name, logger)
		if err != nil {
			// Alerts are auxiliary: keep enforcing without them
			mainLogger.Warn("Failed to set up Telegram alerts, continuing without", "error", err)
		} else {
			monitor.AttachAlerter(notifier)
		}
	}

	var statusServer *statusapi.Server
	if cfg.Status.Enabled {
		statusServer = statusapi.NewServer(cfg.Status.ListenAddr, monitor, logger)
		monitor.AttachSink(statusServer)
		go func() {
			if err := statusServer.Start(); err != nil {
				mainLogger.Error("Status API failed", "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	monitorDone := make(chan struct{})
	go func() {
		monitor.Start(ctx)
		close(monitorDone)
	}()

	select {
	case sig := <-sigChan:
		mainLogger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
		// Let the in-flight tick finish
		select {
		case <-monitorDone:
		case <-time.After(shutdownTimeout):
			mainLogger.Warn("Monitor did not stop in time")
		}
	case <-monitorDone:
		// A quit intent stopped the loop from the status API
		mainLogger.Info("Monitor stopped")
	}

	if statusServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			mainLogger.Warn("Status API shutdown failed", "error", err)
		}
	}

	mainLogger.Info("Screentime agent stopped")
}

// loadConfig reads the JSON config when a path is given, otherwise falls
// back to SCREENTIME_* environment variables
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadFromEnv()
	}
	cfg, err := config.Load(path)
	if errors.Is(err, config.ErrConfigFileNotFound) {
		return nil, fmt.Errorf("config file %s not found", path)
	}
	return cfg, err
}
