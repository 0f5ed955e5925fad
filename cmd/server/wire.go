package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/example/green-route/internal/config"
	"github.com/example/green-route/internal/dispatch"
	"github.com/example/green-route/internal/fleet"
	"github.com/example/green-route/internal/storage"
)

type fleetStore struct {
	storage.RouteStore
	storage.TruckStore
}

// stores is the record backend plus the optional Redis location index laid
// over its truck half.
type stores struct {
	Store   storage.Store
	Trucks  storage.TruckStore
	Fleet   fleet.Store
	Locator storage.Locator
	redis   *redis.Client
}

func (s *stores) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	errs = append(errs, s.Store.Close())
	return errors.Join(errs...)
}

func openStores(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (*stores, error) {
	base, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	st := &stores{Store: base, Trucks: base}
	if loc, ok := base.(storage.Locator); ok {
		st.Locator = loc
	}
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rc.Ping(ctx).Err(); err != nil {
			_ = rc.Close()
			_ = base.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		rl := storage.NewRedisLocations(base, rc, cfg.RedisGeoKey)
		st.Trucks, st.Locator, st.redis = rl, rl, rc
		logger.Info("redis location index enabled", "addr", cfg.RedisAddr, "key", cfg.RedisGeoKey)
	}
	st.Fleet = fleetStore{RouteStore: base, TruckStore: st.Trucks}
	return st, nil
}

func openBackend(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		var pg *storage.PostgresStore
		err := retryConnect(ctx, logger, "postgres", func() (err error) {
			pg, err = storage.NewPostgresStore(cfg.PGDSN)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if cfg.RunMigrations {
			script, err := os.ReadFile(cfg.MigrationsFile)
			if err != nil {
				_ = pg.Close()
				return nil, fmt.Errorf("read migrations: %w", err)
			}
			if err := pg.Migrate(ctx, string(script)); err != nil {
				_ = pg.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			logger.Info("migration applied", "file", cfg.MigrationsFile)
		}
		return pg, nil
	case config.BackendMongo:
		var ms *storage.MongoStore
		err := retryConnect(ctx, logger, "mongo", func() (err error) {
			ms, err = storage.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("mongo: %w", err)
		}
		return ms, nil
	default:
		return storage.NewMemoryStore(), nil
	}
}

// retryConnect gives a backend that starts alongside the server a few
// attempts to come up.
func retryConnect(ctx context.Context, logger *slog.Logger, name string, connect func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second
	return backoff.RetryNotify(connect, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		logger.Warn("backend not ready", "backend", name, "error", err, "retry_in", wait)
	})
}

// buildSink returns the websocket hub fanned out to whichever brokers are
// configured, and a func closing those brokers.
func buildSink(cfg config.ServerConfig, hub *dispatch.Hub, logger *slog.Logger) (dispatch.Sink, func(), error) {
	sinks := dispatch.Fanout{hub}
	var closers []func() error

	if len(cfg.KafkaBrokers) > 0 {
		k := dispatch.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		sinks = append(sinks, k)
		closers = append(closers, k.Close)
		logger.Info("kafka sink enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	if cfg.NATSURL != "" {
		n, err := dispatch.NewNATSSink(cfg.NATSURL, cfg.NATSSubjectPrefix)
		if err != nil {
			for _, c := range closers {
				_ = c()
			}
			return nil, nil, fmt.Errorf("nats %s: %w", cfg.NATSURL, err)
		}
		sinks = append(sinks, n)
		closers = append(closers, n.Close)
		logger.Info("nats sink enabled", "url", cfg.NATSURL)
	}
	if cfg.AlertWebhookURL != "" {
		sinks = append(sinks, dispatch.NewWebhookSink(cfg.AlertWebhookURL, cfg.AlertWebhookToken))
		logger.Info("alert webhook enabled", "url", cfg.AlertWebhookURL)
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("sink close failed", "error", err)
			}
		}
	}
	return sinks, closeAll, nil
}
