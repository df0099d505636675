package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	webAdapter "fulfillment-core/internal/adapters/web"
	"fulfillment-core/internal/core"
	"fulfillment-core/internal/db"
	"fulfillment-core/internal/geo"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	pool, err := db.NewPool(ctx)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	warehouseService := core.NewWarehouseService(pool)
	inventoryService := core.NewInventoryService(pool)
	reservationService := core.NewReservationService(pool)
	transferService := core.NewTransferService(pool)
	routingService := core.NewRoutingService(pool, geo.NewStaticResolver())

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go runSweeper(sweepCtx, reservationService, logger)

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	handler := webAdapter.NewHandler(webAdapter.Services{
		Warehouses:   warehouseService,
		Inventory:    inventoryService,
		Reservations: reservationService,
		Transfers:    transferService,
		Routing:      routingService,
	}, logger, os.Getenv("ALLOWED_ORIGINS"))

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("port", port))
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		stopSweep()
		shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	}
}

// runSweeper periodically expires overdue reservations and repairs any
// reserved counter drift. Interval comes from RESERVATION_SWEEP_INTERVAL
// (Go duration syntax), defaulting to 5 minutes.
func runSweeper(ctx context.Context, reservations core.ReservationService, logger *zap.Logger) {
	interval := 5 * time.Minute
	if v := os.Getenv("RESERVATION_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			interval = d
		} else {
			logger.Warn("invalid RESERVATION_SWEEP_INTERVAL, using default", zap.String("value", v))
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := reservations.CleanupExpiredReservations(ctx)
			if err != nil {
				logger.Error("reservation sweep", zap.Error(err))
				continue
			}
			if swept > 0 {
				logger.Info("expired reservations released", zap.Int("count", swept))
			}
			repaired, err := reservations.ReconcileReservedCounters(ctx)
			if err != nil {
				logger.Error("reserved counter reconcile", zap.Error(err))
				continue
			}
			if repaired > 0 {
				logger.Warn("reserved counters repaired", zap.Int("count", repaired))
			}
		}
	}
}
