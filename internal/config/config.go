package config

import (
	"sync"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	MinIO    MinIOConfig
	Kafka    KafkaConfig
	JWT      JWTConfig
	Registry RegistryConfig
	Presence PresenceConfig
	Upload   UploadConfig
}

var (
	ConfigInstance *Config
	once           sync.Once
)

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

type RedisConfig struct {
	URI          string
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	Enabled bool
}

type JWTConfig struct {
	Secret         string
	ExpirationTime time.Duration
}

// RegistryConfig controls connection liveness tracking.
type RegistryConfig struct {
	SweepInterval time.Duration
	StaleTimeout  time.Duration
}

// PresenceConfig controls how often an online user's last-seen
// timestamp is refreshed from heartbeats.
type PresenceConfig struct {
	LastSeenRefresh time.Duration
}

type UploadConfig struct {
	SweepInterval     time.Duration
	InactivityTimeout time.Duration
	RetentionWindow   time.Duration
	MaxFileSize       int64
}

func LoadConfig() (*Config, error) {
	once.Do(func() {
		viper.SetDefault("CHAT_HOST", "")
		viper.SetDefault("CHAT_PORT", "8080")
		viper.SetDefault("CHAT_READ_TIMEOUT", 30*time.Second)
		viper.SetDefault("CHAT_WRITE_TIMEOUT", 30*time.Second)
		viper.SetDefault("CHAT_IDLE_TIMEOUT", 60*time.Second)
		viper.SetDefault("CHAT_JWT_SECRET", "secret")
		viper.SetDefault("CHAT_JWT_EXPIRE", "24h")
		viper.SetDefault("MYSQL_USER", "root")
		viper.SetDefault("MYSQL_PASSWORD", "password")
		viper.SetDefault("MYSQL_HOST", "localhost")
		viper.SetDefault("MYSQL_PORT", "3306")
		viper.SetDefault("MYSQL_DB", "chat")
		viper.SetDefault("REDIS_URL", "redis://127.0.0.1:6379/0")
		viper.SetDefault("REDIS_MAX_RETRIES", 3)
		viper.SetDefault("REDIS_POOL_SIZE", 100)
		viper.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
		viper.SetDefault("REDIS_DIAL_TIMEOUT", 5*time.Second)
		viper.SetDefault("REDIS_READ_TIMEOUT", 3*time.Second)
		viper.SetDefault("REDIS_WRITE_TIMEOUT", 3*time.Second)
		viper.SetDefault("MINIO_ENDPOINT", "localhost:9000")
		viper.SetDefault("MINIO_ACCESS_KEY", "minioadmin")
		viper.SetDefault("MINIO_SECRET_KEY", "minioadmin")
		viper.SetDefault("MINIO_BUCKET", "chat-uploads")
		viper.SetDefault("KAFKA_BROKERS", "localhost:9092")
		viper.SetDefault("KAFKA_TOPIC", "chat.events")
		viper.SetDefault("KAFKA_ENABLED", false)
		viper.SetDefault("REGISTRY_SWEEP_INTERVAL", 30*time.Second)
		viper.SetDefault("REGISTRY_STALE_TIMEOUT", 60*time.Second)
		viper.SetDefault("PRESENCE_LAST_SEEN_REFRESH", 60*time.Second)
		viper.SetDefault("UPLOAD_SWEEP_INTERVAL", 5*time.Minute)
		viper.SetDefault("UPLOAD_INACTIVITY_TIMEOUT", time.Hour)
		viper.SetDefault("UPLOAD_RETENTION_WINDOW", 5*time.Minute)
		viper.SetDefault("UPLOAD_MAX_FILE_SIZE", int64(50*1024*1024))
		viper.AutomaticEnv()

		ConfigInstance = &Config{
			Server: ServerConfig{
				Host:         viper.GetString("CHAT_HOST"),
				Port:         viper.GetString("CHAT_PORT"),
				ReadTimeout:  viper.GetDuration("CHAT_READ_TIMEOUT"),
				WriteTimeout: viper.GetDuration("CHAT_WRITE_TIMEOUT"),
				IdleTimeout:  viper.GetDuration("CHAT_IDLE_TIMEOUT"),
			},
			Database: DatabaseConfig{
				Host:     viper.GetString("MYSQL_HOST"),
				Port:     viper.GetString("MYSQL_PORT"),
				User:     viper.GetString("MYSQL_USER"),
				Password: viper.GetString("MYSQL_PASSWORD"),
				DBName:   viper.GetString("MYSQL_DB"),
			},
			Redis: RedisConfig{
				URI:          viper.GetString("REDIS_URL"),
				MaxRetries:   viper.GetInt("REDIS_MAX_RETRIES"),
				DialTimeout:  viper.GetDuration("REDIS_DIAL_TIMEOUT"),
				ReadTimeout:  viper.GetDuration("REDIS_READ_TIMEOUT"),
				WriteTimeout: viper.GetDuration("REDIS_WRITE_TIMEOUT"),
				PoolSize:     viper.GetInt("REDIS_POOL_SIZE"),
				MinIdleConns: viper.GetInt("REDIS_MIN_IDLE_CONNS"),
			},
			MinIO: MinIOConfig{
				Endpoint:  viper.GetString("MINIO_ENDPOINT"),
				AccessKey: viper.GetString("MINIO_ACCESS_KEY"),
				SecretKey: viper.GetString("MINIO_SECRET_KEY"),
				Bucket:    viper.GetString("MINIO_BUCKET"),
			},
			Kafka: KafkaConfig{
				Brokers: viper.GetStringSlice("KAFKA_BROKERS"),
				Topic:   viper.GetString("KAFKA_TOPIC"),
				Enabled: viper.GetBool("KAFKA_ENABLED"),
			},
			JWT: JWTConfig{
				Secret:         viper.GetString("CHAT_JWT_SECRET"),
				ExpirationTime: viper.GetDuration("CHAT_JWT_EXPIRE"),
			},
			Registry: RegistryConfig{
				SweepInterval: viper.GetDuration("REGISTRY_SWEEP_INTERVAL"),
				StaleTimeout:  viper.GetDuration("REGISTRY_STALE_TIMEOUT"),
			},
			Presence: PresenceConfig{
				LastSeenRefresh: viper.GetDuration("PRESENCE_LAST_SEEN_REFRESH"),
			},
			Upload: UploadConfig{
				SweepInterval:     viper.GetDuration("UPLOAD_SWEEP_INTERVAL"),
				InactivityTimeout: viper.GetDuration("UPLOAD_INACTIVITY_TIMEOUT"),
				RetentionWindow:   viper.GetDuration("UPLOAD_RETENTION_WINDOW"),
				MaxFileSize:       viper.GetInt64("UPLOAD_MAX_FILE_SIZE"),
			},
		}
	})

	return ConfigInstance, nil
}
