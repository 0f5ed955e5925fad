package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Defaults come first, then the optional YAML file named by CONFIG_FILE,
// then environment variables, so the binary runs locally without setup.
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	StoreBackend   string `yaml:"store_backend"`
	PGDSN          string `yaml:"pg_dsn"`
	RunMigrations  bool   `yaml:"migrate"`
	MigrationsFile string `yaml:"migrations_file"`
	MongoURI       string `yaml:"mongo_uri"`
	MongoDatabase  string `yaml:"mongo_database"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisGeoKey   string `yaml:"redis_geo_key"`

	KafkaBrokers      []string `yaml:"kafka_brokers"`
	KafkaTopic        string   `yaml:"kafka_topic"`
	NATSURL           string   `yaml:"nats_url"`
	NATSSubjectPrefix string   `yaml:"nats_subject_prefix"`
	AlertWebhookURL   string   `yaml:"alert_webhook_url"`
	AlertWebhookToken string   `yaml:"alert_webhook_token"`

	TickInterval          time.Duration `yaml:"tracking_tick_interval"`
	TickTimeout           time.Duration `yaml:"tracking_tick_timeout"`
	TrafficUpdateInterval time.Duration `yaml:"traffic_update_interval"`
	TrafficCacheTTL       time.Duration `yaml:"traffic_cache_ttl"`
	WeatherCacheTTL       time.Duration `yaml:"weather_cache_ttl"`
	CacheSweepInterval    time.Duration `yaml:"cache_sweep_interval"`
	RecalcThreshold       float64       `yaml:"recalc_threshold"`
	TruckSpeedKmh         float64       `yaml:"truck_speed_kmh"`

	Log LogConfig `yaml:"log"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:              ":8080",
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          10 * time.Second,
		IdleTimeout:           120 * time.Second,
		ShutdownTimeout:       15 * time.Second,
		StoreBackend:          BackendMemory,
		MigrationsFile:        "migrations/001_create_fleet.sql",
		MongoDatabase:         "green_route",
		RedisGeoKey:           "trucks_geo",
		KafkaTopic:            "route-events",
		NATSSubjectPrefix:     "greenroute",
		TickInterval:          5 * time.Second,
		TickTimeout:           3 * time.Second,
		TrafficUpdateInterval: 30 * time.Second,
		TrafficCacheTTL:       2 * time.Minute,
		WeatherCacheTTL:       5 * time.Minute,
		CacheSweepInterval:    time.Minute,
		RecalcThreshold:       0.3,
		TruckSpeedKmh:         40,
		Log:                   LogConfig{Level: "info", MaxAgeDays: 28},
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			errs = append(errs, err)
		}
	}

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.StoreBackend, "STORE_BACKEND")
	cfg.StoreBackend = strings.ToLower(cfg.StoreBackend)
	setStringFromEnv(&cfg.PGDSN, "PG_DSN")
	setBoolFromEnv(&cfg.RunMigrations, "MIGRATE")
	setStringFromEnv(&cfg.MigrationsFile, "MIGRATIONS_FILE")
	setStringFromEnv(&cfg.MongoURI, "MONGO_URI")
	setStringFromEnv(&cfg.MongoDatabase, "MONGO_DATABASE")

	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.NATSURL, "NATS_URL")
	setStringFromEnv(&cfg.NATSSubjectPrefix, "NATS_SUBJECT_PREFIX")
	setStringFromEnv(&cfg.AlertWebhookURL, "ALERT_WEBHOOK_URL")
	if v := os.Getenv("ALERT_WEBHOOK_TOKEN"); v != "" {
		cfg.AlertWebhookToken = v
	}

	setDurationFromEnv(&cfg.TickInterval, "TRACKING_TICK_INTERVAL", &errs)
	setDurationFromEnv(&cfg.TickTimeout, "TRACKING_TICK_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.TrafficUpdateInterval, "TRAFFIC_UPDATE_INTERVAL", &errs)
	setDurationFromEnv(&cfg.TrafficCacheTTL, "TRAFFIC_CACHE_TTL", &errs)
	setDurationFromEnv(&cfg.WeatherCacheTTL, "WEATHER_CACHE_TTL", &errs)
	setDurationFromEnv(&cfg.CacheSweepInterval, "CACHE_SWEEP_INTERVAL", &errs)
	setFloatFromEnv(&cfg.RecalcThreshold, "RECALC_THRESHOLD", &errs)
	setFloatFromEnv(&cfg.TruckSpeedKmh, "TRUCK_SPEED_KMH", &errs)

	loadLogFromEnv(&cfg.Log, &errs)

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (c ServerConfig) validate() []error {
	var errs []error
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.PGDSN == "" {
			errs = append(errs, errors.New("STORE_BACKEND=postgres requires PG_DSN"))
		}
	case BackendMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("STORE_BACKEND=mongo requires MONGO_URI"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	if c.TickInterval <= 0 || c.TickTimeout <= 0 || c.TrafficUpdateInterval <= 0 {
		errs = append(errs, errors.New("tracking intervals must be > 0"))
	}
	if c.RecalcThreshold <= 0 {
		errs = append(errs, errors.New("RECALC_THRESHOLD must be > 0"))
	}
	if c.TruckSpeedKmh <= 0 {
		errs = append(errs, errors.New("TRUCK_SPEED_KMH must be > 0"))
	}
	return errs
}

// ConsumerConfig configures the Kafka to Redis position projector.
type ConsumerConfig struct {
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string
	MetricsAddr   string
	Retries       uint64
	Log           LogConfig
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "route-events",
		KafkaGroup:   "green-route-positions",
		RedisAddr:    "localhost:6379",
		RedisGeoKey:  "trucks_geo",
		MetricsAddr:  ":2112",
		Retries:      3,
		Log:          LogConfig{Level: "info", MaxAgeDays: 28},
	}
	var errs []error

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")

	retries := int(cfg.Retries)
	setIntFromEnv(&retries, "CONSUMER_RETRIES", &errs)
	if retries < 0 {
		errs = append(errs, errors.New("CONSUMER_RETRIES must be >= 0"))
	} else {
		cfg.Retries = uint64(retries)
	}
	loadLogFromEnv(&cfg.Log, &errs)

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS must name at least one broker"))
	}
	return cfg, errors.Join(errs...)
}

func loadYAML(path string, cfg *ServerConfig) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func loadLogFromEnv(l *LogConfig, errs *[]error) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		l.Level = strings.ToLower(v)
	}
	setStringFromEnv(&l.File, "LOG_FILE")
	setIntFromEnv(&l.MaxAgeDays, "LOG_MAX_AGE_DAYS", errs)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setBoolFromEnv(target *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = strings.EqualFold(v, "true")
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
