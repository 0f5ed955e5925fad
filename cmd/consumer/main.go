// Command consumer projects truck positions from the route-events topic into
// the Redis GEO index used for proximity queries.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/green-route/internal/config"
	"github.com/example/green-route/internal/logging"
	"github.com/example/green-route/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total route event messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	redisUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_updates_total",
		Help: "Total successful redis updates",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_errors_total",
		Help: "Total redis errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, redisUpdates, redisErrors)
}

var errSkip = errors.New("not a position update")

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	// allow overriding the metrics address for local runs
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address to serve prometheus metrics on")
	flag.Parse()

	logger, logCloser := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File, MaxAgeDays: cfg.Log.MaxAgeDays})
	defer logCloser.Close()

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	go serveHealth(cfg.MetricsAddr, rc, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroup,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)
	consume(ctx, r, &redisAdapter{c: rc}, cfg, logger)
}

func serveHealth(addr string, rc *redis.Client, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := rc.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	logger.Info("metrics/health listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", "error", err)
	}
}

// MessageReader is satisfied by *kafka.Reader.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

func consume(ctx context.Context, r MessageReader, rc RedisUpdater, cfg config.ConsumerConfig, logger *slog.Logger) {
	readBackoff := backoff.NewExponentialBackOff()
	readBackoff.InitialInterval = time.Second
	readBackoff.MaxInterval = 30 * time.Second
	readBackoff.MaxElapsedTime = 0

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			wait := readBackoff.NextBackOff()
			logger.Warn("kafka read failed", "error", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		readBackoff.Reset()
		msgsConsumed.Inc()

		p, err := decodePosition(m.Value)
		if errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "offset", m.Offset, "error", err)
			continue
		}

		if err := updateRedisWithRetry(ctx, rc, cfg.RedisGeoKey, p, cfg.Retries, 200*time.Millisecond); err != nil {
			redisErrors.Inc()
			logger.Error("redis update failed", "truck_id", p.TruckID, "error", err)
			continue
		}
		redisUpdates.Inc()
	}
}

type envelope struct {
	Topic     string          `json:"topic"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// decodePosition extracts a position update from a published envelope.
// Envelopes carrying any other event return errSkip.
func decodePosition(b []byte) (models.PositionUpdate, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return models.PositionUpdate{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event != models.EventPositionUpdated {
		return models.PositionUpdate{}, errSkip
	}
	var p models.PositionUpdate
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return p, fmt.Errorf("decode position: %w", err)
	}
	if err := models.ValidateID("truckId", p.TruckID); err != nil {
		return p, err
	}
	if err := p.Position.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// RedisUpdater defines the small subset of redis operations we need for tests and production.
type RedisUpdater interface {
	GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error
	HSet(ctx context.Context, key string, values map[string]interface{}) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	return r.c.GeoAdd(ctx, key, loc).Err()
}

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	return r.c.HSet(ctx, key, values).Err()
}

// updateRedisWithRetry writes the position and its metadata, retrying the
// pair up to retries more times with exponential backoff starting at delay.
func updateRedisWithRetry(ctx context.Context, rc RedisUpdater, key string, p models.PositionUpdate, retries uint64, delay time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = delay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	op := func() error {
		if err := rc.GeoAdd(ctx, key, &redis.GeoLocation{Longitude: p.Position.Longitude, Latitude: p.Position.Latitude, Name: p.TruckID}); err != nil {
			return err
		}
		return rc.HSet(ctx, "truck:meta:"+p.TruckID, map[string]interface{}{
			"progress": p.Progress,
			"updated":  time.Now().UTC().Format(time.RFC3339),
		})
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx))
}
