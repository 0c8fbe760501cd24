package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "PROVENANCE"

// Storage backends.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Server captures process level configuration.
type Server struct {
	Addr        string
	Environment string
	Storage     string
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Reader      ReaderConfig
	Outbox      OutboxConfig
	Tracing     TracingConfig
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrateOnStart  bool
}

// RedisConfig configures the read-side projection. An empty URL disables it.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	KeyPrefix    string
}

// KafkaConfig configures the ledger event stream. No brokers disables it.
type KafkaConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	Partitions    int32
	Replication   int16
}

// ReaderConfig is the retry budget for eventually consistent reads.
type ReaderConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Step         time.Duration
	Backoff      string // linear | exponential
	MaxDelay     time.Duration
}

type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

type TracingConfig struct {
	Enabled     bool
	Exporter    string // none | stdout
	ServiceName string
	SampleRate  float64
}

// IsPostgres reports whether the durable ledger is configured.
func (s Server) IsPostgres() bool {
	return s.Storage == StoragePostgres
}

// FromEnv builds a Server config from PROVENANCE_* environment variables so main stays lean.
func FromEnv() Server {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	return Server{
		Addr:        v.GetString("addr"),
		Environment: v.GetString("env"),
		Storage:     strings.ToLower(v.GetString("storage")),
		Database: DatabaseConfig{
			URL:             v.GetString("database.url"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			MigrateOnStart:  v.GetBool("database.migrate"),
		},
		Redis: RedisConfig{
			URL:          v.GetString("redis.url"),
			PoolSize:     v.GetInt("redis.pool_size"),
			MinIdleConns: v.GetInt("redis.min_idle_conns"),
			DialTimeout:  v.GetDuration("redis.dial_timeout"),
			ReadTimeout:  v.GetDuration("redis.read_timeout"),
			WriteTimeout: v.GetDuration("redis.write_timeout"),
			KeyPrefix:    v.GetString("redis.key_prefix"),
		},
		Kafka: KafkaConfig{
			Brokers:       splitList(v.GetString("kafka.brokers")),
			Topic:         v.GetString("kafka.topic"),
			ConsumerGroup: v.GetString("kafka.consumer_group"),
			Partitions:    v.GetInt32("kafka.partitions"),
			Replication:   int16(v.GetInt("kafka.replication")),
		},
		Reader: ReaderConfig{
			MaxAttempts:  v.GetInt("reader.max_attempts"),
			InitialDelay: v.GetDuration("reader.initial_delay"),
			Step:         v.GetDuration("reader.step"),
			Backoff:      strings.ToLower(v.GetString("reader.backoff")),
			MaxDelay:     v.GetDuration("reader.max_delay"),
		},
		Outbox: OutboxConfig{
			PollInterval: v.GetDuration("outbox.poll_interval"),
			BatchSize:    v.GetInt("outbox.batch_size"),
		},
		Tracing: TracingConfig{
			Enabled:     v.GetBool("tracing.enabled"),
			Exporter:    v.GetString("tracing.exporter"),
			ServiceName: v.GetString("tracing.service_name"),
			SampleRate:  v.GetFloat64("tracing.sample_rate"),
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("env", "development")
	v.SetDefault("storage", StorageMemory)

	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.migrate", false)

	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.key_prefix", "provenance")

	v.SetDefault("kafka.topic", "provenance.ledger.events")
	v.SetDefault("kafka.consumer_group", "provenance-projection")
	v.SetDefault("kafka.partitions", 3)
	v.SetDefault("kafka.replication", 1)

	v.SetDefault("reader.max_attempts", 6)
	v.SetDefault("reader.initial_delay", 0)
	v.SetDefault("reader.step", 250*time.Millisecond)
	v.SetDefault("reader.backoff", "linear")
	v.SetDefault("reader.max_delay", 5*time.Second)

	v.SetDefault("outbox.poll_interval", time.Second)
	v.SetDefault("outbox.batch_size", 100)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.service_name", "provenance-registry")
	v.SetDefault("tracing.sample_rate", 1.0)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
