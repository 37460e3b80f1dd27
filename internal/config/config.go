package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	Connection ConnectionConfig
	Queue      QueueConfig
	Worker     WorkerConfig
	Render     RenderConfig
	Storage    StorageConfig
	Janitor    JanitorConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ConnectionConfig struct {
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectJitter      time.Duration
	MaxReconnectAttempts int
	HealthCheckInterval  time.Duration
	FallbackMaxEntries   int
}

type QueueConfig struct {
	MaxAttempts         int
	BackoffDelay        time.Duration
	Retention           time.Duration
	HealthCheckInterval time.Duration
	MaxFailedJobs       int
	MaxQueuedJobs       int
	MaxProcessingTime   time.Duration
}

type WorkerConfig struct {
	Concurrency         int
	MaxJobTime          time.Duration
	HealthCheckInterval time.Duration
	AutoRestart         bool
	MaxRestarts         int
	RestartDelay        time.Duration
	ShutdownGrace       time.Duration
}

type RenderConfig struct {
	OutputDir         string
	WorkDir           string
	AssetDir          string
	FFmpegPath        string
	FFprobePath       string
	InvocationTimeout time.Duration
}

type StorageConfig struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type JanitorConfig struct {
	Schedule     string
	FailedMaxAge time.Duration
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("STORAGE_ACCESS_KEY_ID")
	readSecret("STORAGE_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("connection.max_reconnect_attempts", "CONNECTION_MAX_RECONNECT_ATTEMPTS")
	_ = viper.BindEnv("queue.max_attempts", "QUEUE_MAX_ATTEMPTS")
	_ = viper.BindEnv("queue.backoff_delay", "QUEUE_BACKOFF_DELAY")
	_ = viper.BindEnv("queue.max_failed_jobs", "QUEUE_MAX_FAILED_JOBS")
	_ = viper.BindEnv("queue.max_queued_jobs", "QUEUE_MAX_QUEUED_JOBS")
	_ = viper.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = viper.BindEnv("worker.max_job_time", "WORKER_MAX_JOB_TIME")
	_ = viper.BindEnv("render.output_dir", "RENDER_OUTPUT_DIR")
	_ = viper.BindEnv("render.work_dir", "RENDER_WORK_DIR")
	_ = viper.BindEnv("render.asset_dir", "RENDER_ASSET_DIR")
	_ = viper.BindEnv("render.ffmpeg_path", "FFMPEG_PATH")
	_ = viper.BindEnv("render.ffprobe_path", "FFPROBE_PATH")
	_ = viper.BindEnv("storage.account_id", "STORAGE_ACCOUNT_ID")
	_ = viper.BindEnv("storage.access_key_id", "STORAGE_ACCESS_KEY_ID")
	_ = viper.BindEnv("storage.secret_access_key", "STORAGE_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("storage.bucket_name", "STORAGE_BUCKET_NAME")
	_ = viper.BindEnv("storage.public_url", "STORAGE_PUBLIC_URL")
	_ = viper.BindEnv("janitor.schedule", "JANITOR_SCHEDULE")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("connection.reconnect_base_delay", "1s")
	viper.SetDefault("connection.reconnect_max_delay", "30s")
	viper.SetDefault("connection.reconnect_jitter", "1s")
	viper.SetDefault("connection.max_reconnect_attempts", 10)
	viper.SetDefault("connection.health_check_interval", "30s")
	viper.SetDefault("connection.fallback_max_entries", 1024)

	viper.SetDefault("queue.max_attempts", 3)
	viper.SetDefault("queue.backoff_delay", "5s")
	viper.SetDefault("queue.retention", "24h")
	viper.SetDefault("queue.health_check_interval", "30s")
	viper.SetDefault("queue.max_failed_jobs", 10)
	viper.SetDefault("queue.max_queued_jobs", 100)
	viper.SetDefault("queue.max_processing_time", "30m")

	viper.SetDefault("worker.concurrency", 1)
	viper.SetDefault("worker.max_job_time", "30m")
	viper.SetDefault("worker.health_check_interval", "30s")
	viper.SetDefault("worker.auto_restart", true)
	viper.SetDefault("worker.max_restarts", 5)
	viper.SetDefault("worker.restart_delay", "5s")
	viper.SetDefault("worker.shutdown_grace", "30s")

	viper.SetDefault("render.output_dir", "./output")
	viper.SetDefault("render.work_dir", "")
	viper.SetDefault("render.asset_dir", "./uploads")
	viper.SetDefault("render.ffmpeg_path", "ffmpeg")
	viper.SetDefault("render.ffprobe_path", "ffprobe")
	viper.SetDefault("render.invocation_timeout", "20m")

	viper.SetDefault("janitor.schedule", "0 3 * * *")
	viper.SetDefault("janitor.failed_max_age", "168h")

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Connection: ConnectionConfig{
			ReconnectBaseDelay:   viper.GetDuration("connection.reconnect_base_delay"),
			ReconnectMaxDelay:    viper.GetDuration("connection.reconnect_max_delay"),
			ReconnectJitter:      viper.GetDuration("connection.reconnect_jitter"),
			MaxReconnectAttempts: viper.GetInt("connection.max_reconnect_attempts"),
			HealthCheckInterval:  viper.GetDuration("connection.health_check_interval"),
			FallbackMaxEntries:   viper.GetInt("connection.fallback_max_entries"),
		},
		Queue: QueueConfig{
			MaxAttempts:         viper.GetInt("queue.max_attempts"),
			BackoffDelay:        viper.GetDuration("queue.backoff_delay"),
			Retention:           viper.GetDuration("queue.retention"),
			HealthCheckInterval: viper.GetDuration("queue.health_check_interval"),
			MaxFailedJobs:       viper.GetInt("queue.max_failed_jobs"),
			MaxQueuedJobs:       viper.GetInt("queue.max_queued_jobs"),
			MaxProcessingTime:   viper.GetDuration("queue.max_processing_time"),
		},
		Worker: WorkerConfig{
			Concurrency:         viper.GetInt("worker.concurrency"),
			MaxJobTime:          viper.GetDuration("worker.max_job_time"),
			HealthCheckInterval: viper.GetDuration("worker.health_check_interval"),
			AutoRestart:         viper.GetBool("worker.auto_restart"),
			MaxRestarts:         viper.GetInt("worker.max_restarts"),
			RestartDelay:        viper.GetDuration("worker.restart_delay"),
			ShutdownGrace:       viper.GetDuration("worker.shutdown_grace"),
		},
		Render: RenderConfig{
			OutputDir:         viper.GetString("render.output_dir"),
			WorkDir:           viper.GetString("render.work_dir"),
			AssetDir:          viper.GetString("render.asset_dir"),
			FFmpegPath:        viper.GetString("render.ffmpeg_path"),
			FFprobePath:       viper.GetString("render.ffprobe_path"),
			InvocationTimeout: viper.GetDuration("render.invocation_timeout"),
		},
		Storage: StorageConfig{
			AccountID:       viper.GetString("storage.account_id"),
			AccessKeyID:     viper.GetString("storage.access_key_id"),
			SecretAccessKey: viper.GetString("storage.secret_access_key"),
			BucketName:      viper.GetString("storage.bucket_name"),
			PublicURL:       viper.GetString("storage.public_url"),
		},
		Janitor: JanitorConfig{
			Schedule:     viper.GetString("janitor.schedule"),
			FailedMaxAge: viper.GetDuration("janitor.failed_max_age"),
		},
	}

	return cfg, nil
}
