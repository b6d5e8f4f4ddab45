package config

import (
	"os"
	"path/filepath"
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
	Server    ServerConfig
	Redis     RedisConfig
	Model     ModelConfig
	Inference InferenceConfig
	Artifacts ArtifactsConfig
	Cleanup   CleanupConfig
	Pipeline  PipelineConfig
	Worker    WorkerConfig
	RateLimit RateLimitConfig
	R2        R2Config
}

type ServerConfig struct {
	Port        string
	Env         string
	LogLevel    string
	BodyLimitMB int
	StaticDir   string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ModelConfig locates the local weights file. DefaultInputLength is used
// when the loaded model does not expose its input shape.
type ModelConfig struct {
	Path               string
	DefaultInputLength int
}

// InferenceConfig switches inference to a remote model server when
// ServiceURL is set.
type InferenceConfig struct {
	ServiceURL string
	ModelName  string
	Timeout    int // seconds
}

type ArtifactsConfig struct {
	Root             string
	RetentionSeconds int
}

// Retention returns the artifact retention window.
func (c ArtifactsConfig) Retention() time.Duration {
	return time.Duration(c.RetentionSeconds) * time.Second
}

type CleanupConfig struct {
	Backend string // "timer" or "queue"
}

type PipelineConfig struct {
	ProgressMode     string // "synthetic" or "staged"
	WarmupTicks      int
	WarmupIntervalMS int
}

// WarmupInterval returns the delay between synthetic progress ticks.
func (c PipelineConfig) WarmupInterval() time.Duration {
	return time.Duration(c.WarmupIntervalMS) * time.Millisecond
}

type WorkerConfig struct {
	Concurrency int
}

type RateLimitConfig struct {
	ConvertPerHour int
	JobsPerHour    int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.body_limit_mb", "BODY_LIMIT_MB")
	_ = v.BindEnv("server.static_dir", "STATIC_DIR")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("model.path", "MODEL_PATH")
	_ = v.BindEnv("model.default_input_length", "MODEL_DEFAULT_INPUT_LENGTH")
	_ = v.BindEnv("inference.service_url", "INFERENCE_SERVICE_URL")
	_ = v.BindEnv("inference.model_name", "INFERENCE_MODEL_NAME")
	_ = v.BindEnv("inference.timeout", "INFERENCE_TIMEOUT")
	_ = v.BindEnv("artifacts.root", "ARTIFACTS_ROOT")
	_ = v.BindEnv("artifacts.retention_seconds", "ARTIFACTS_RETENTION_SECONDS")
	_ = v.BindEnv("cleanup.backend", "CLEANUP_BACKEND")
	_ = v.BindEnv("pipeline.progress_mode", "PROGRESS_MODE")
	_ = v.BindEnv("pipeline.warmup_ticks", "WARMUP_TICKS")
	_ = v.BindEnv("pipeline.warmup_interval_ms", "WARMUP_INTERVAL_MS")
	_ = v.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = v.BindEnv("ratelimit.convert_per_hour", "RATELIMIT_CONVERT_PER_HOUR")
	_ = v.BindEnv("ratelimit.jobs_per_hour", "RATELIMIT_JOBS_PER_HOUR")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")

	// Defaults
	v.SetDefault("server.port", "5002")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.body_limit_mb", 16)
	v.SetDefault("server.static_dir", "")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Model defaults
	v.SetDefault("model.path", "acapella_model.msgpack")
	v.SetDefault("model.default_input_length", 100)
	v.SetDefault("inference.model_name", "acapella")
	v.SetDefault("inference.timeout", 30)

	// Artifact lifecycle defaults
	v.SetDefault("artifacts.root", filepath.Join(os.TempDir(), "acapellify"))
	v.SetDefault("artifacts.retention_seconds", 3600)
	v.SetDefault("cleanup.backend", "timer")

	// Pipeline defaults
	v.SetDefault("pipeline.progress_mode", "synthetic")
	v.SetDefault("pipeline.warmup_ticks", 100)
	v.SetDefault("pipeline.warmup_interval_ms", 100)
	v.SetDefault("worker.concurrency", 4)

	// Rate limits are off unless configured
	v.SetDefault("ratelimit.convert_per_hour", 0)
	v.SetDefault("ratelimit.jobs_per_hour", 0)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:        v.GetString("server.port"),
			Env:         v.GetString("server.env"),
			LogLevel:    v.GetString("server.log_level"),
			BodyLimitMB: v.GetInt("server.body_limit_mb"),
			StaticDir:   v.GetString("server.static_dir"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Model: ModelConfig{
			Path:               v.GetString("model.path"),
			DefaultInputLength: v.GetInt("model.default_input_length"),
		},
		Inference: InferenceConfig{
			ServiceURL: v.GetString("inference.service_url"),
			ModelName:  v.GetString("inference.model_name"),
			Timeout:    v.GetInt("inference.timeout"),
		},
		Artifacts: ArtifactsConfig{
			Root:             v.GetString("artifacts.root"),
			RetentionSeconds: v.GetInt("artifacts.retention_seconds"),
		},
		Cleanup: CleanupConfig{
			Backend: strings.ToLower(v.GetString("cleanup.backend")),
		},
		Pipeline: PipelineConfig{
			ProgressMode:     strings.ToLower(v.GetString("pipeline.progress_mode")),
			WarmupTicks:      v.GetInt("pipeline.warmup_ticks"),
			WarmupIntervalMS: v.GetInt("pipeline.warmup_interval_ms"),
		},
		Worker: WorkerConfig{
			Concurrency: v.GetInt("worker.concurrency"),
		},
		RateLimit: RateLimitConfig{
			ConvertPerHour: v.GetInt("ratelimit.convert_per_hour"),
			JobsPerHour:    v.GetInt("ratelimit.jobs_per_hour"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
	}

	return cfg, nil
}
