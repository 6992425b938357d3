// ABOUTME: Entry point for garage-assistant
// ABOUTME: Wires the Matrix bridge, booking flow, credential store and garage backend

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/garage-assistant/internal/auth"
	"github.com/2389/garage-assistant/internal/backend"
	"github.com/2389/garage-assistant/internal/booking"
	"github.com/2389/garage-assistant/internal/config"
	"github.com/2389/garage-assistant/internal/dedupe"
	"github.com/2389/garage-assistant/internal/dispatch"
	"github.com/2389/garage-assistant/internal/matrix"
	"github.com/2389/garage-assistant/internal/store"
)

// Version is set at build time.
var version = "dev"

const banner = `
   __ _  __ _ _ __ __ _  __ _  ___
  / _' |/ _' | '__/ _' |/ _' |/ _ \
 | (_| | (_| | | | (_| | (_| |  __/
  \__, |\__,_|_|  \__,_|\__, |\___|
  |___/   assistant     |___/
`

// getConfigPath returns the config file location.
// Priority: -config flag > GARAGE_CONFIG env var > XDG_CONFIG_HOME/garage/assistant.yaml > ~/.config/garage/assistant.yaml
func getConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if envPath := os.Getenv("GARAGE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "assistant.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "garage", "assistant.yaml")
}

// getDataPath returns the directory for the Matrix crypto store.
// Priority: XDG_DATA_HOME/garage > ~/.local/share/garage
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "garage")
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: reading .env: %v\n", err)
	}

	configFlag := flag.String("config", "", "path to the config file (YAML or TOML)")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: garage-assistant [-config path] [serve|check]")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Commands:")
		fmt.Fprintln(os.Stderr, "  serve   Connect to Matrix and answer booking requests (default)")
		fmt.Fprintln(os.Stderr, "  check   Validate the config and reach the garage backend")
	}
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := getConfigPath(*configFlag)

	var err error
	switch cmd := flag.Arg(0); cmd {
	case "", "serve":
		err = runServe(ctx, configPath)
	case "check":
		err = runCheck(ctx, configPath)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		flag.Usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, configPath string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(cfg.Logging)
	printStartup(configPath, cfg)

	identities, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}
	defer identities.Close()

	client, err := newBackendClient(ctx, cfg.Backend, logger)
	if err != nil {
		return err
	}

	accounts := auth.NewService(identities, client, auth.Options{
		DefaultLifetime:   cfg.Auth.DefaultTokenLifetime,
		RecheckInterval:   cfg.Auth.RecheckInterval,
		StrictRemoteCheck: cfg.Auth.StrictRemoteCheck,
		Extractor:         auth.NewJWTExpiryExtractor(),
		Logger:            logger,
	})

	sessions, closeSessions, err := newSessionStore(ctx, cfg.Sessions, cfg.Booking.SessionTTL)
	if err != nil {
		return err
	}
	defer closeSessions()

	calendar, err := calendarFromConfig(cfg.Booking)
	if err != nil {
		return err
	}

	bridge, err := matrix.NewBridge(cfg.Matrix, logger)
	if err != nil {
		return fmt.Errorf("creating matrix bridge: %w", err)
	}
	if err := bridge.Login(ctx); err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}
	if cfg.Matrix.RecoveryKey != "" {
		enc, err := bridge.EnableEncryption(ctx, cfg.Matrix.RecoveryKey, getDataPath())
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		defer enc.Close()
	} else {
		logger.Info("encryption disabled (no recovery key)")
	}

	flow := booking.New(client, accounts, sessions, bridge, booking.Options{
		Calendar:   calendar,
		ErrorDelay: cfg.Booking.ErrorDelay,
		Menu:       dispatch.MenuText,
		Logger:     logger,
	})

	seen := dedupe.NewWindow(cfg.Dedupe.TTL, cfg.Dedupe.MaxSize)
	go seen.Run(ctx, time.Minute)

	dispatcher := dispatch.New(flow, accounts, client, bridge, dispatch.Options{
		Dedupe: seen,
		Logger: logger,
	})

	if cfg.Metrics.Enabled {
		srv := newMetricsServer(cfg.Metrics)
		go func() {
			logger.Info("metrics listening", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("starting garage-assistant", "version", version, "user_id", bridge.UserID())
	return bridge.Run(ctx, dispatcher)
}

// runCheck validates the config and asks the backend for its service catalog.
func runCheck(ctx context.Context, configPath string) error {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	cfg, err := config.Load(configPath)
	if err != nil {
		red.Print("    ✗ ")
		fmt.Printf("Config:  %v\n", err)
		return err
	}
	green.Print("    ✓ ")
	fmt.Printf("Config:  %s\n", configPath)

	if _, err := calendarFromConfig(cfg.Booking); err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)
	client, err := newBackendClient(ctx, cfg.Backend, logger)
	if err != nil {
		red.Print("    ✗ ")
		fmt.Printf("Backend: %v\n", err)
		return err
	}
	services, err := client.ListServices(ctx, "")
	if err != nil && !backend.IsAuthRejection(err) {
		red.Print("    ✗ ")
		fmt.Printf("Backend: %v\n", err)
		return err
	}
	green.Print("    ✓ ")
	fmt.Printf("Backend: %s reachable (%d services visible without login)\n", client.BaseURL(), len(services))
	return nil
}

func printStartup(configPath string, cfg *config.Config) {
	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	if cfg.Backend.RegistryURL != "" {
		fmt.Printf("Backend:    via registry %s\n", cfg.Backend.RegistryURL)
	} else {
		fmt.Printf("Backend:    %s\n", cfg.Backend.BaseURL)
	}
	green.Print("    ▶ ")
	fmt.Printf("Sessions:   %s\n", cfg.Sessions.Backend)
	if cfg.Matrix.RecoveryKey != "" {
		green.Print("    ▶ ")
		fmt.Println("Encryption: enabled")
	}
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:    http://%s%s\n", cfg.Metrics.Addr, cfg.Metrics.Path)
	}
	fmt.Println()
}

func newMetricsServer(cfg config.MetricsConfig) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
