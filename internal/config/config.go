package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/viper"
)

// Config is the full configuration surface for one fabnode instance.
type Config struct {
	Server         ServerConfig
	WebSocket      WebSocketConfig `mapstructure:"websocket"`
	Node           NodeConfig
	Queue          QueueConfig
	Consumer       ConsumerConfig
	ProducerBatch  ProducerBatchConfig  `mapstructure:"producer_batch"`
	BatchWriter    BatchWriterConfig    `mapstructure:"batch_writer"`
	DLQ            DLQConfig
	WriteSerializer WriteSerializerConfig `mapstructure:"write_serializer"`
	Session        SessionConfig
	Database       DatabaseConfig
	AWS            AWSConfig
	Log            LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

// NodeConfig identifies this node within the fleet and drives partitioning.
type NodeConfig struct {
	ID    string   `mapstructure:"id"`
	List  []string `mapstructure:"list"`
	Rooms int      `mapstructure:"rooms"`
}

type QueueConfig struct {
	Prefix          string        `mapstructure:"prefix"`
	FIFOEnabled     bool          `mapstructure:"fifo_enabled"`
	URLRetryMs      time.Duration `mapstructure:"url_retry_ms"`
}

type ConsumerConfig struct {
	Threads           int           `mapstructure:"threads"`
	MaxMessages       int32         `mapstructure:"max_messages"`
	WaitTime          time.Duration `mapstructure:"wait_time"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
}

type ProducerBatchConfig struct {
	// Enabled switches the Queue Producer to micro-batch mode. The ack
	// sent to the client is then optimistic: it reports success once
	// the message is in the room's in-memory batch, before the network
	// send, and messages whose batch send fails are dropped. When false
	// (the default), each publish is a synchronous send and the ack
	// reflects its outcome.
	Enabled  bool          `mapstructure:"enabled"`
	MaxSize  int           `mapstructure:"max_size"`
	FlushMs  time.Duration `mapstructure:"flush_ms"`
}

type BatchWriterConfig struct {
	Size            int           `mapstructure:"size"`
	FlushMs         time.Duration `mapstructure:"flush_ms"`
	BufferCapacity  int           `mapstructure:"buffer_capacity"`
}

type DLQConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	QueueName string `mapstructure:"queue_name"`
}

type WriteSerializerConfig struct {
	WorkerThreads int `mapstructure:"worker_threads"`
}

type SessionConfig struct {
	WriteQueueCapacity int `mapstructure:"write_queue_capacity"`
}

type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type AWSConfig struct {
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

type LogConfig struct {
	Level  string
	Pretty bool
}

// Load reads configuration from configPath/config.yaml, applies
// defaults and environment overrides, and validates invariants.
func Load(configPath string) (*Config, error) {
	v, err := loadViper(configPath, "config")
	if err != nil {
		return nil, err
	}

	setDefaults(v)
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Queue.URLRetryMs = parseDuration(v, "queue.url_retry_ms", 60*time.Second)
	cfg.Consumer.WaitTime = parseDuration(v, "consumer.wait_time", 20*time.Second)
	cfg.Consumer.VisibilityTimeout = parseDuration(v, "consumer.visibility_timeout", 30*time.Second)
	cfg.ProducerBatch.FlushMs = parseDuration(v, "producer_batch.flush_ms", 100*time.Millisecond)
	cfg.BatchWriter.FlushMs = parseDuration(v, "batch_writer.flush_ms", time.Second)

	sort.Strings(cfg.Node.List)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)

	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 4096)

	v.SetDefault("node.id", "")
	v.SetDefault("node.list", []string{})
	v.SetDefault("node.rooms", 20)

	v.SetDefault("queue.prefix", "chat-room-")
	v.SetDefault("queue.fifo_enabled", true)
	v.SetDefault("queue.url_retry_ms", "60s")

	v.SetDefault("consumer.threads", 40)
	v.SetDefault("consumer.max_messages", 10)
	v.SetDefault("consumer.wait_time", "20s")
	v.SetDefault("consumer.visibility_timeout", "30s")

	v.SetDefault("producer_batch.enabled", false)
	v.SetDefault("producer_batch.max_size", 10)
	v.SetDefault("producer_batch.flush_ms", "100ms")

	v.SetDefault("batch_writer.size", 1000)
	v.SetDefault("batch_writer.flush_ms", "1s")
	v.SetDefault("batch_writer.buffer_capacity", 10000)

	v.SetDefault("dlq.enabled", true)
	v.SetDefault("dlq.queue_name", "chat-dlq")

	v.SetDefault("write_serializer.worker_threads", 50)

	v.SetDefault("session.write_queue_capacity", 1000)

	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("aws.region", "us-east-1")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

func bindEnv(v *viper.Viper) {
	v.BindEnv("server.port", "PORT")
	v.BindEnv("node.id", "NODE_ID")
	v.BindEnv("node.list", "NODE_LIST")
	v.BindEnv("node.rooms", "NODE_ROOMS")
	v.BindEnv("queue.prefix", "QUEUE_PREFIX")
	v.BindEnv("dlq.queue_name", "DLQ_QUEUE_NAME")
	v.BindEnv("database.dsn", "DATABASE_DSN")
	v.BindEnv("aws.region", "AWS_REGION")
	v.BindEnv("aws.endpoint", "AWS_ENDPOINT_URL")
	v.BindEnv("log.level", "LOG_LEVEL")
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate checks configuration invariants. A violation is fatal at
// startup per spec's error-handling policy.
func (c *Config) validate() error {
	if c.BatchWriter.Size > c.BatchWriter.BufferCapacity {
		return fmt.Errorf("batch_writer.size (%d) must not exceed batch_writer.buffer_capacity (%d)",
			c.BatchWriter.Size, c.BatchWriter.BufferCapacity)
	}
	if c.ProducerBatch.Enabled && c.ProducerBatch.MaxSize <= 0 {
		return fmt.Errorf("producer_batch.max_size must be positive when producer_batch.enabled is true")
	}
	if c.Node.Rooms <= 0 {
		return fmt.Errorf("node.rooms must be positive, got %d", c.Node.Rooms)
	}
	if c.WriteSerializer.WorkerThreads <= 0 {
		return fmt.Errorf("write_serializer.worker_threads must be positive, got %d", c.WriteSerializer.WorkerThreads)
	}
	if c.Node.ID != "" && len(c.Node.List) > 0 && !contains(c.Node.List, c.Node.ID) {
		return fmt.Errorf("node.id %q is not present in node.list %v", c.Node.ID, c.Node.List)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// PartitioningEnabled reports whether this node should consume only its
// assigned rooms rather than every room in the fleet.
func (c *Config) PartitioningEnabled() bool {
	return len(c.Node.List) > 0
}
