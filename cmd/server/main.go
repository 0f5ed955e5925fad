package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/example/green-route/internal/config"
	"github.com/example/green-route/internal/dispatch"
	"github.com/example/green-route/internal/fleet"
	httpapi "github.com/example/green-route/internal/http"
	"github.com/example/green-route/internal/logging"
	"github.com/example/green-route/internal/observability"
	"github.com/example/green-route/internal/optimizer"
	"github.com/example/green-route/internal/predict"
	"github.com/example/green-route/internal/tracking"
	"github.com/example/green-route/internal/traffic"
	"github.com/example/green-route/internal/weather"
)

func main() {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger, logCloser := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File, MaxAgeDays: cfg.Log.MaxAgeDays})
	defer logCloser.Close()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	predictor, err := predict.New()
	if err != nil {
		return fmt.Errorf("train predictor: %w", err)
	}
	info := predictor.Info()
	observability.PredictorAccuracy.Set(info.Accuracy)
	logger.Info("predictor trained", "accuracy", info.Accuracy, "data_points", info.DataPoints)

	trafficSim := traffic.NewSimulator(traffic.WithTTL(cfg.TrafficCacheTTL))
	weatherSim := weather.NewSimulator(weather.WithTTL(cfg.WeatherCacheTTL))

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	hub := dispatch.NewHub(logger)
	sink, closeSinks, err := buildSink(cfg, hub, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	opt := &optimizer.Service{
		Traffic:   trafficSim,
		Weather:   weatherSim,
		Predictor: predictor,
		Threshold: cfg.RecalcThreshold,
	}
	tc := tracking.New(tracking.Deps{
		Routes:    st.Store,
		Trucks:    st.Trucks,
		Sink:      sink,
		Optimizer: opt,
		Traffic:   trafficSim,
	}, tracking.Config{
		TickInterval:    cfg.TickInterval,
		CallTimeout:     cfg.TickTimeout,
		Retries:         tracking.DefaultConfig().Retries,
		TrafficInterval: cfg.TrafficUpdateInterval,
		SpeedKmh:        cfg.TruckSpeedKmh,
	}, logger.With("component", "tracking"))
	defer tc.Shutdown()

	svc := fleet.New(fleet.Deps{
		Store:     st.Fleet,
		Locator:   st.Locator,
		Optimizer: opt,
		Traffic:   trafficSim,
		Predictor: predictor,
		Tracker:   tc,
	}, logger.With("component", "fleet"))

	go svc.RunHousekeeping(ctx, cfg.CacheSweepInterval, map[string]fleet.Sweeper{
		"traffic": trafficSim,
		"weather": weatherSim,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(svc, tc, hub, logger.With("component", "http")),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("green-route listening", "addr", cfg.HTTPAddr, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	// open websocket connections are hijacked and not tracked by Shutdown;
	// tracking sessions are stopped by the deferred tc.Shutdown
	return srv.Shutdown(shutdownCtx)
}
