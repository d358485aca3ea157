package bootstrap

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/martinez099/ordershop/internal/application"
	"github.com/martinez099/ordershop/internal/domain"
	"github.com/martinez099/ordershop/internal/readmodel"
)

const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	ServiceID string

	HTTPPort int
	GRPCPort int

	LogBackend        string
	RedisURL          string
	RedisStreamPrefix string
	DatabaseURL       string
	MaxDBConns        int32
	PostgresPoll      time.Duration

	KafkaBrokers     []string
	KafkaTopicPrefix string
	RelayTopics      []string

	ReadModelTopics   []string
	EntityCacheTopics []string
	Services          []string

	TailBlock      time.Duration
	TailBatch      int
	BrokerBlock    time.Duration
	BrokerWorkers  int
	RPCTimeout     time.Duration
	BackoffMin     time.Duration
	BackoffMax     time.Duration
	RedeliveryIdle time.Duration

	ConflictRetries int
}

type configFile struct {
	Service struct {
		ID       string   `yaml:"id"`
		HTTPPort int      `yaml:"http_port"`
		GRPCPort int      `yaml:"grpc_port"`
		Services []string `yaml:"services"`
	} `yaml:"service"`
	EventLog struct {
		Backend           string   `yaml:"backend"`
		RedisStreamPrefix string   `yaml:"redis_stream_prefix"`
		PostgresPollMS    int      `yaml:"postgres_poll_ms"`
		TailBlockMS       int      `yaml:"tail_block_ms"`
		TailBatch         int      `yaml:"tail_batch"`
		EntityCacheTopics []string `yaml:"entity_cache_topics"`
		ReadModelTopics   []string `yaml:"read_model_topics"`
	} `yaml:"event_log"`
	Broker struct {
		BlockMS          int `yaml:"block_ms"`
		Workers          int `yaml:"workers"`
		RPCTimeoutMS     int `yaml:"rpc_timeout_ms"`
		BackoffMinMS     int `yaml:"backoff_min_ms"`
		BackoffMaxMS     int `yaml:"backoff_max_ms"`
		RedeliveryIdleMS int `yaml:"redelivery_idle_ms"`
		ConflictRetries  int `yaml:"conflict_retries"`
	} `yaml:"broker"`
	Dependencies struct {
		PostgresURL      string   `yaml:"postgres_url"`
		MaxDBConns       int      `yaml:"max_db_conns"`
		RedisURL         string   `yaml:"redis_url"`
		KafkaBrokers     []string `yaml:"kafka_brokers"`
		KafkaTopicPrefix string   `yaml:"kafka_topic_prefix"`
		RelayTopics      []string `yaml:"relay_topics"`
	} `yaml:"dependencies"`
}

func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:         "ordershop",
		HTTPPort:          8080,
		GRPCPort:          9090,
		LogBackend:        BackendRedis,
		RedisStreamPrefix: "events:",
		MaxDBConns:        20,
		PostgresPoll:      100 * time.Millisecond,
		KafkaTopicPrefix:  "ordershop",
		RelayTopics:       domain.DefaultTopics(),
		ReadModelTopics:   domain.DefaultTopics(),
		Services:          append(application.AllServices(), readmodel.ServiceName),
		TailBlock:         time.Second,
		TailBatch:         100,
		BrokerBlock:       time.Second,
		BrokerWorkers:     1,
		RPCTimeout:        10 * time.Second,
		BackoffMin:        5 * time.Millisecond,
		BackoffMax:        200 * time.Millisecond,
		RedeliveryIdle:    30 * time.Second,
		ConflictRetries:   5,
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err == nil {
			var f configFile
			if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
				return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
			}
			cfg.applyFile(f)
		}
	}

	cfg.ServiceID = envOrDefault("SERVICE_ID", cfg.ServiceID)
	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.Services = envCSV("SERVICES", cfg.Services)
	cfg.LogBackend = strings.ToLower(envOrDefault("EVENT_LOG_BACKEND", cfg.LogBackend))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.RedisStreamPrefix = envOrDefault("REDIS_STREAM_PREFIX", cfg.RedisStreamPrefix)
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.PostgresPoll = envMillis("POSTGRES_POLL_MS", cfg.PostgresPoll)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaTopicPrefix = envOrDefault("KAFKA_TOPIC_PREFIX", cfg.KafkaTopicPrefix)
	cfg.RelayTopics = envCSV("RELAY_TOPICS", cfg.RelayTopics)
	cfg.ReadModelTopics = envCSV("READ_MODEL_TOPICS", cfg.ReadModelTopics)
	cfg.EntityCacheTopics = envCSV("ENTITY_CACHE_TOPICS", cfg.EntityCacheTopics)
	cfg.TailBlock = envMillis("TAIL_BLOCK_MS", cfg.TailBlock)
	cfg.TailBatch = envInt("TAIL_BATCH", cfg.TailBatch)
	cfg.BrokerBlock = envMillis("BROKER_BLOCK_MS", cfg.BrokerBlock)
	cfg.BrokerWorkers = envInt("BROKER_WORKERS", cfg.BrokerWorkers)
	cfg.RPCTimeout = envMillis("RPC_TIMEOUT_MS", cfg.RPCTimeout)
	cfg.BackoffMin = envMillis("RPC_BACKOFF_MIN_MS", cfg.BackoffMin)
	cfg.BackoffMax = envMillis("RPC_BACKOFF_MAX_MS", cfg.BackoffMax)
	cfg.RedeliveryIdle = envMillis("REDELIVERY_IDLE_MS", cfg.RedeliveryIdle)
	cfg.ConflictRetries = envInt("CONFLICT_RETRIES", cfg.ConflictRetries)

	switch cfg.LogBackend {
	case BackendMemory:
	case BackendRedis:
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("missing REDIS_URL")
		}
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("missing DB_URL/POSTGRES_URL")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("missing REDIS_URL")
		}
	default:
		return Config{}, fmt.Errorf("unknown EVENT_LOG_BACKEND %q", cfg.LogBackend)
	}
	if err := cfg.validateNames(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyFile(f configFile) {
	if f.Service.ID != "" {
		cfg.ServiceID = f.Service.ID
	}
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Service.GRPCPort > 0 {
		cfg.GRPCPort = f.Service.GRPCPort
	}
	if len(f.Service.Services) > 0 {
		cfg.Services = trimNonEmpty(f.Service.Services)
	}
	if f.EventLog.Backend != "" {
		cfg.LogBackend = strings.ToLower(f.EventLog.Backend)
	}
	if f.EventLog.RedisStreamPrefix != "" {
		cfg.RedisStreamPrefix = f.EventLog.RedisStreamPrefix
	}
	if f.EventLog.PostgresPollMS > 0 {
		cfg.PostgresPoll = time.Duration(f.EventLog.PostgresPollMS) * time.Millisecond
	}
	if f.EventLog.TailBlockMS > 0 {
		cfg.TailBlock = time.Duration(f.EventLog.TailBlockMS) * time.Millisecond
	}
	if f.EventLog.TailBatch > 0 {
		cfg.TailBatch = f.EventLog.TailBatch
	}
	if len(f.EventLog.EntityCacheTopics) > 0 {
		cfg.EntityCacheTopics = trimNonEmpty(f.EventLog.EntityCacheTopics)
	}
	if len(f.EventLog.ReadModelTopics) > 0 {
		cfg.ReadModelTopics = trimNonEmpty(f.EventLog.ReadModelTopics)
	}
	if f.Broker.BlockMS > 0 {
		cfg.BrokerBlock = time.Duration(f.Broker.BlockMS) * time.Millisecond
	}
	if f.Broker.Workers > 0 {
		cfg.BrokerWorkers = f.Broker.Workers
	}
	if f.Broker.RPCTimeoutMS > 0 {
		cfg.RPCTimeout = time.Duration(f.Broker.RPCTimeoutMS) * time.Millisecond
	}
	if f.Broker.BackoffMinMS > 0 {
		cfg.BackoffMin = time.Duration(f.Broker.BackoffMinMS) * time.Millisecond
	}
	if f.Broker.BackoffMaxMS > 0 {
		cfg.BackoffMax = time.Duration(f.Broker.BackoffMaxMS) * time.Millisecond
	}
	if f.Broker.RedeliveryIdleMS > 0 {
		cfg.RedeliveryIdle = time.Duration(f.Broker.RedeliveryIdleMS) * time.Millisecond
	}
	if f.Broker.ConflictRetries > 0 {
		cfg.ConflictRetries = f.Broker.ConflictRetries
	}
	if f.Dependencies.PostgresURL != "" {
		cfg.DatabaseURL = f.Dependencies.PostgresURL
	}
	if f.Dependencies.MaxDBConns > 0 {
		cfg.MaxDBConns = int32(f.Dependencies.MaxDBConns)
	}
	if f.Dependencies.RedisURL != "" {
		cfg.RedisURL = f.Dependencies.RedisURL
	}
	if len(f.Dependencies.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = trimNonEmpty(f.Dependencies.KafkaBrokers)
	}
	if f.Dependencies.KafkaTopicPrefix != "" {
		cfg.KafkaTopicPrefix = f.Dependencies.KafkaTopicPrefix
	}
	if len(f.Dependencies.RelayTopics) > 0 {
		cfg.RelayTopics = trimNonEmpty(f.Dependencies.RelayTopics)
	}
}

func (cfg Config) validateNames() error {
	known := append(application.AllServices(), readmodel.ServiceName)
	for _, name := range cfg.Services {
		if !slices.Contains(known, name) {
			return fmt.Errorf("unknown service %q", name)
		}
	}
	topics := domain.DefaultTopics()
	for _, group := range [][]string{cfg.RelayTopics, cfg.ReadModelTopics, cfg.EntityCacheTopics} {
		for _, topic := range group {
			if !slices.Contains(topics, topic) {
				return fmt.Errorf("unknown topic %q", topic)
			}
		}
	}
	return nil
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envMillis(name string, fallback time.Duration) time.Duration {
	return time.Duration(envInt(name, int(fallback.Milliseconds()))) * time.Millisecond
}

func envCSV(name string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	items := strings.Split(raw, ",")
	return trimNonEmpty(items)
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
