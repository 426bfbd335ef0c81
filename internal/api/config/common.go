package config

import "time"

// Config 配置主体
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	DB     DBConfig     `mapstructure:"database"`
	Mongo  MongoConfig  `mapstructure:"mongo"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	MinIO  MinIOConfig  `mapstructure:"minio"`
	IM     IMConfig     `mapstructure:"im"`
}

// ServerConfig Server配置
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig 数据库配置
type DBConfig struct {
	DSN         string `mapstructure:"dsn"`
	MaxIdle     int    `mapstructure:"max_idle"`
	MaxOpen     int    `mapstructure:"max_open"`
	MaxLifetime int    `mapstructure:"max_lifetime"`
}

// MongoConfig MongoDB配置
type MongoConfig struct {
	URL      string `mapstructure:"url"`
	Database string `mapstructure:"database"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type KafkaConfig struct {
	Brokers []string   `mapstructure:"brokers"`
	Sasl    SaslConfig `mapstructure:"sasl"`
}

type SaslConfig struct {
	Enable   bool   `mapstructure:"enable"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// MinIOConfig MinIO配置
type MinIOConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	MainBucket string `mapstructure:"main_bucket"`
	UseSSL     bool   `mapstructure:"use_ssl"`
}

// IMConfig 即时通讯参数
type IMConfig struct {
	EditWindow      time.Duration `mapstructure:"edit_window"`       // 消息可编辑时间窗口
	TypingTTL       time.Duration `mapstructure:"typing_ttl"`        // 输入状态自动过期时间
	DefaultPageSize int           `mapstructure:"default_page_size"` // 历史分页默认条数
	StoreTimeout    time.Duration `mapstructure:"store_timeout"`     // 存储操作超时
	ConnTTL         time.Duration `mapstructure:"conn_ttl"`          // Redis 连接集合过期时间
}

func (c *IMConfig) Normalize() {
	if c.EditWindow <= 0 {
		c.EditWindow = 10 * time.Minute
	}
	if c.TypingTTL <= 0 {
		c.TypingTTL = 3 * time.Second
	}
	if c.DefaultPageSize <= 0 {
		c.DefaultPageSize = 20
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 2 * time.Second
	}
	if c.ConnTTL <= 0 {
		c.ConnTTL = 24 * time.Hour
	}
}
