package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/example/campus-reservation/internal/application"
	"github.com/example/campus-reservation/internal/bus"
	"github.com/example/campus-reservation/internal/config"
	"github.com/example/campus-reservation/internal/endpoint"
	"github.com/example/campus-reservation/internal/notify"
	"github.com/example/campus-reservation/internal/persistence/sqlite"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	store, err := sqlite.Open(cfg.SQLiteDSN)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	if err := store.Migrate(context.Background()); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}

	idGenerator := uuid.NewString
	now := time.Now

	var deliverer notify.Deliverer
	if cfg.AMQPURL != "" {
		deliverer = &notify.AMQPDeliverer{URL: cfg.AMQPURL, Queue: cfg.NotifyQueue, Logger: logger}
		logger.Info("notification delivery via AMQP", "queue", cfg.NotifyQueue)
	} else {
		deliverer = &notify.LogDeliverer{Logger: logger}
		logger.Info("notification delivery via local log")
	}
	coordinator := notify.NewCoordinator(store, store, deliverer, idGenerator, now, cfg.NotifyQueueSize, logger)
	go coordinator.Run(ctx)
	go purgeSessions(ctx, store, logger)

	engine := application.NewReservationServiceWithLogger(store, store, store, store, coordinator, idGenerator, now, logger)
	availabilityService := application.NewAvailabilityService(store, store, store, store, logger)
	spaceService := application.NewSpaceService(store, store, idGenerator, now, logger)
	userService := application.NewUserService(store, store, nil, idGenerator, now, logger)
	authService := application.NewAuthService(store, store, nil, nil, idGenerator, now, cfg.SessionTTL, logger)
	incidentService := application.NewIncidentService(store, engine, store, idGenerator, now, logger)
	adminService := application.NewAdminService(store, store, store, idGenerator, now, logger)
	reportService := application.NewReportService(store, store, store, now, logger)

	handlers := map[string]bus.Handler{
		"auth":  endpoint.NewAuthEndpoint(authService),
		"user":  endpoint.NewUserEndpoint(userService, authService),
		"space": endpoint.NewSpaceEndpoint(spaceService, authService),
		"avail": endpoint.NewAvailabilityEndpoint(engine, availabilityService),
		"book":  endpoint.NewBookingEndpoint(engine, store, authService),
		"incid": endpoint.NewIncidentEndpoint(incidentService, authService),
		"admin": endpoint.NewAdminEndpoint(adminService, authService),
		"notif": endpoint.NewNotificationEndpoint(coordinator, authService),
		"repor": endpoint.NewReportEndpoint(reportService, adminService, authService),
	}

	server := bus.NewServer(handlers, application.ErrorKind, cfg.RequestTimeout, logger)

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "addr", cfg.ListenAddr, "error", err)
		os.Exit(1)
	}

	logger.Info("reservation bus listening", "addr", listener.Addr().String())
	if err := server.Serve(ctx, listener); err != nil && !errors.Is(err, net.ErrClosed) {
		logger.Error("server encountered error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// purgeSessions drops expired sessions once an hour so the table does not
// grow without bound.
func purgeSessions(ctx context.Context, store *sqlite.Store, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := store.PurgeExpiredSessions(ctx, time.Now())
			if err != nil {
				logger.Warn("session purge failed", "error", err)
				continue
			}
			if purged > 0 {
				logger.Info("expired sessions purged", "count", purged)
			}
		}
	}
}
