// ABOUTME: Component construction from configuration
// ABOUTME: Backend client with optional registry lookup, session store and booking calendar

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/garage-assistant/internal/backend"
	"github.com/2389/garage-assistant/internal/booking"
	"github.com/2389/garage-assistant/internal/config"
	"github.com/2389/garage-assistant/internal/session"
)

// newBackendClient resolves the API root through the registry when one is
// configured, then builds the rate limited client.
func newBackendClient(ctx context.Context, cfg config.BackendConfig, logger *slog.Logger) (*backend.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := cfg.BaseURL
	if cfg.RegistryURL != "" {
		resolveCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		resolved, err := backend.ResolveBaseURL(resolveCtx, &http.Client{Timeout: cfg.Timeout}, cfg.RegistryURL)
		if err != nil {
			return nil, fmt.Errorf("resolving backend from registry: %w", err)
		}
		logger.Info("backend resolved from registry", "registry", cfg.RegistryURL, "base_url", resolved)
		baseURL = resolved
	}

	return backend.New(backend.Options{
		BaseURL:       baseURL,
		Timeout:       cfg.Timeout,
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
		Logger:        logger,
	}), nil
}

// newSessionStore returns the configured flow session store and its cleanup.
func newSessionStore(ctx context.Context, cfg config.SessionsConfig, ttl time.Duration) (session.Store, func(), error) {
	switch cfg.Backend {
	case "redis":
		rs, err := session.NewRedisStoreWithURL(cfg.RedisURL, ttl)
		if err != nil {
			return nil, nil, fmt.Errorf("creating redis session store: %w", err)
		}
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return rs, func() { _ = rs.Close() }, nil
	case "", "memory":
		return session.NewMemoryStore(ttl, nil), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

func calendarFromConfig(cfg config.BookingConfig) (booking.Calendar, error) {
	closed, err := config.ParseWeekday(cfg.ClosedWeekday)
	if err != nil {
		return booking.Calendar{}, fmt.Errorf("booking.closed_weekday: %w", err)
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return booking.Calendar{}, fmt.Errorf("booking.timezone: %w", err)
	}
	return booking.Calendar{
		DaysAhead:    cfg.DaysAhead,
		Closed:       closed,
		OpenHour:     cfg.OpenHour,
		CloseHour:    cfg.CloseHour,
		SlotInterval: cfg.SlotInterval,
		Location:     loc,
	}, nil
}
