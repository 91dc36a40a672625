// Package config 提供服务配置加载
package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 服务配置
type Config struct {
	Service  ServiceConfig  `yaml:"service" json:"service"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Redis    RedisConfig    `yaml:"redis" json:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka" json:"kafka"`
	Outbox   OutboxConfig   `yaml:"outbox" json:"outbox"`
	Shard    ShardConfig    `yaml:"shard" json:"shard"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Log      LogConfig      `yaml:"log" json:"log"`
}

// ServiceConfig 服务配置
type ServiceConfig struct {
	Name     string `yaml:"name" json:"name"`
	GRPCPort int    `yaml:"grpc_port" json:"grpc_port"`
	HTTPPort int    `yaml:"http_port" json:"http_port"`
	Env      string `yaml:"env" json:"env"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host                   string `yaml:"host" json:"host"`
	Port                   int    `yaml:"port" json:"port"`
	User                   string `yaml:"user" json:"user"`
	Password               string `yaml:"password" json:"password"`
	Database               string `yaml:"database" json:"database"`
	MaxIdleConns           int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	MaxOpenConns           int    `yaml:"max_open_conns" json:"max_open_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes" json:"conn_max_lifetime_minutes"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	PoolSize int    `yaml:"pool_size" json:"pool_size"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Enabled  bool           `yaml:"enabled" json:"enabled"`
	Brokers  []string       `yaml:"brokers" json:"brokers"`
	GroupID  string         `yaml:"group_id" json:"group_id"`
	Consumer ConsumerConfig `yaml:"consumer" json:"consumer"`
}

// ConsumerConfig Kafka 消费者配置
type ConsumerConfig struct {
	InitialOffset string `yaml:"initial_offset" json:"initial_offset"` // newest, oldest
}

// OutboxConfig Outbox 配置
type OutboxConfig struct {
	RelayIntervalMs   int `yaml:"relay_interval_ms" json:"relay_interval_ms"`     // 轮询间隔 (毫秒)
	BatchSize         int `yaml:"batch_size" json:"batch_size"`                   // 每批处理数量
	MaxRetries        int `yaml:"max_retries" json:"max_retries"`                 // 最大重试次数
	CleanupIntervalMs int `yaml:"cleanup_interval_ms" json:"cleanup_interval_ms"` // 清理间隔 (毫秒)
	RetentionMs       int `yaml:"retention_ms" json:"retention_ms"`               // 已发送事件保留时间 (毫秒)
}

// ShardConfig 分片执行器配置
type ShardConfig struct {
	Count     int `yaml:"count" json:"count"`           // 分片数 (每个分片一个写 goroutine)
	QueueSize int `yaml:"queue_size" json:"queue_size"` // 单分片队列深度
}

// CacheConfig 快照缓存配置
type CacheConfig struct {
	TTLSeconds int `yaml:"ttl_seconds" json:"ttl_seconds"` // 快照过期时间，0 表示不过期
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Load 加载配置
// 优先级: 环境变量 > 配置文件 > 默认值
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	loadFromEnv(cfg)

	return cfg, nil
}

// defaultConfig 返回默认配置
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "hts-account",
			GRPCPort: 50061,
			HTTPPort: 8080,
			Env:      "dev",
		},
		Database: DatabaseConfig{
			Host:                   "localhost",
			Port:                   5432,
			User:                   "postgres",
			Password:               "postgres",
			Database:               "hts_account",
			MaxIdleConns:           10,
			MaxOpenConns:           100,
			ConnMaxLifetimeMinutes: 30,
		},
		Redis: RedisConfig{
			Host:     "localhost",
			Port:     6379,
			Password: "",
			DB:       0,
			PoolSize: 100,
		},
		Kafka: KafkaConfig{
			Enabled: false, // 默认不启用，开发时可以不起 Kafka
			Brokers: []string{"localhost:9092"},
			GroupID: "hts-account",
			Consumer: ConsumerConfig{
				InitialOffset: "newest",
			},
		},
		Outbox: OutboxConfig{
			RelayIntervalMs:   100,
			BatchSize:         100,
			MaxRetries:        5,
			CleanupIntervalMs: 3600000,  // 1 hour
			RetentionMs:       86400000, // 24 hours
		},
		Shard: ShardConfig{
			Count:     16,
			QueueSize: 1024,
		},
		Cache: CacheConfig{
			TTLSeconds: 0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadFromEnv 从环境变量加载配置
func loadFromEnv(cfg *Config) {
	// 数据库配置
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Database.Host = host
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.Database.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if database := os.Getenv("DB_DATABASE"); database != "" {
		cfg.Database.Database = database
	}

	// Redis 配置
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.Redis.Host = host
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	// Kafka 配置
	if enabled := os.Getenv("KAFKA_ENABLED"); enabled == "true" {
		cfg.Kafka.Enabled = true
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	if groupID := os.Getenv("KAFKA_GROUP_ID"); groupID != "" {
		cfg.Kafka.GroupID = groupID
	}

	// 分片配置
	if count := os.Getenv("SHARD_COUNT"); count != "" {
		if n, err := strconv.Atoi(count); err == nil && n > 0 {
			cfg.Shard.Count = n
		}
	}
}
