package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/yungbote/labtrace-backend/internal/platform/envutil"
)

// ConfigPathEnv names the optional YAML config file.
const ConfigPathEnv = "LABTRACE_CONFIG"

// Config is the process configuration. A YAML file seeds it, and every
// value it carries is exported as the default of the matching environment
// variable, so clients that resolve their own config from the environment
// see the file too. Variables already set always win.
type Config struct {
	LogMode     string   `yaml:"log_mode"`
	Environment string   `yaml:"environment"`
	ServiceName string   `yaml:"service_name"`
	Version     string   `yaml:"-"`
	HTTPAddr    string   `yaml:"http_addr"`
	CORSOrigins []string `yaml:"cors_origins"`

	Database  DatabaseConfig `yaml:"database"`
	Redis     RedisConfig    `yaml:"redis"`
	Qdrant    QdrantConfig   `yaml:"qdrant"`
	OpenAI    OpenAIConfig   `yaml:"openai"`
	Admission ScheduleConfig `yaml:"admission"`
	Purge     ScheduleConfig `yaml:"purge"`
	Worker    WorkerConfig   `yaml:"worker"`

	// Env holds extra variables (GCP processor ids, alert webhooks, ...).
	Env map[string]string `yaml:"env"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type QdrantConfig struct {
	URL           string `yaml:"url"`
	Collection    string `yaml:"collection"`
	RawCollection string `yaml:"raw_collection"`
	VectorDim     int    `yaml:"vector_dim"`
}

// OpenAIConfig never carries the API key; OPENAI_API_KEY stays in the environment.
type OpenAIConfig struct {
	BaseURL         string `yaml:"base_url"`
	Model           string `yaml:"model"`
	EmbedModel      string `yaml:"embed_model"`
	EmbedDimensions int    `yaml:"embed_dimensions"`
}

type ScheduleConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

type WorkerConfig struct {
	Concurrency   int           `yaml:"concurrency"`
	TaskTimeout   time.Duration `yaml:"task_timeout"`
	MaxDeliveries int           `yaml:"max_deliveries"`
}

func defaultConfig() Config {
	return Config{
		LogMode:     "development",
		Environment: "local",
		ServiceName: "labtrace",
		HTTPAddr:    ":8080",
		Qdrant: QdrantConfig{
			Collection:    "lab_reports",
			RawCollection: "lab_reports_raw",
		},
		Admission: ScheduleConfig{Interval: 5 * time.Second, BatchSize: 10},
		Purge:     ScheduleConfig{Interval: time.Hour, BatchSize: 35},
	}
}

// LoadConfig reads .env (if present), then the YAML file at path or
// $LABTRACE_CONFIG (if any), then the environment.
func LoadConfig(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaultConfig()
	if path == "" {
		path = strings.TrimSpace(os.Getenv(ConfigPathEnv))
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	for key, value := range cfg.environ() {
		if strings.TrimSpace(os.Getenv(key)) != "" {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return Config{}, fmt.Errorf("export %s: %w", key, err)
		}
	}
	return cfg.fromEnv(), nil
}

// environ maps every non-zero value to its environment variable.
func (c Config) environ() map[string]string {
	out := map[string]string{}
	set := func(key, value string) {
		if strings.TrimSpace(value) != "" {
			out[key] = value
		}
	}
	setInt := func(key string, v int) {
		if v > 0 {
			out[key] = strconv.Itoa(v)
		}
	}
	setDur := func(key string, d time.Duration) {
		if d > 0 {
			out[key] = d.String()
		}
	}

	for k, v := range c.Env {
		set(k, v)
	}
	set("LOG_MODE", c.LogMode)
	set("ENVIRONMENT", c.Environment)
	set("SERVICE_NAME", c.ServiceName)
	set("HTTP_ADDR", c.HTTPAddr)
	set("CORS_ORIGINS", strings.Join(c.CORSOrigins, ","))

	set("DATABASE_URL", c.Database.URL)
	set("REDIS_ADDR", c.Redis.Addr)
	set("REDIS_PASSWORD", c.Redis.Password)
	setInt("REDIS_DB", c.Redis.DB)
	set("QDRANT_URL", c.Qdrant.URL)
	set("QDRANT_COLLECTION", c.Qdrant.Collection)
	set("QDRANT_RAW_COLLECTION", c.Qdrant.RawCollection)
	setInt("QDRANT_VECTOR_DIM", c.Qdrant.VectorDim)
	set("OPENAI_BASE_URL", c.OpenAI.BaseURL)
	set("OPENAI_MODEL", c.OpenAI.Model)
	set("OPENAI_EMBED_MODEL", c.OpenAI.EmbedModel)
	setInt("OPENAI_EMBED_DIMENSIONS", c.OpenAI.EmbedDimensions)

	setDur("ADMISSION_INTERVAL", c.Admission.Interval)
	setInt("ADMISSION_BATCH_SIZE", c.Admission.BatchSize)
	setDur("PURGE_INTERVAL", c.Purge.Interval)
	setInt("PURGE_BATCH_SIZE", c.Purge.BatchSize)
	setInt("WORKER_CONCURRENCY", c.Worker.Concurrency)
	setDur("WORKER_TASK_TIMEOUT", c.Worker.TaskTimeout)
	setInt("WORKER_MAX_DELIVERIES", c.Worker.MaxDeliveries)
	return out
}

// fromEnv reads back the effective values after overrides.
func (c Config) fromEnv() Config {
	c.LogMode = envutil.String("LOG_MODE", c.LogMode)
	c.Environment = envutil.String("ENVIRONMENT", c.Environment)
	c.ServiceName = envutil.String("SERVICE_NAME", c.ServiceName)
	c.Version = envutil.String("APP_VERSION", c.Version)
	c.HTTPAddr = envutil.String("HTTP_ADDR", c.HTTPAddr)
	c.CORSOrigins = splitList(envutil.String("CORS_ORIGINS", ""))

	c.Database.URL = envutil.String("DATABASE_URL", c.Database.URL)
	c.Redis.Addr = envutil.String("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = envutil.String("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = envutil.Int("REDIS_DB", c.Redis.DB)
	c.Qdrant.URL = envutil.String("QDRANT_URL", c.Qdrant.URL)
	c.Qdrant.Collection = envutil.String("QDRANT_COLLECTION", c.Qdrant.Collection)
	c.Qdrant.RawCollection = envutil.String("QDRANT_RAW_COLLECTION", c.Qdrant.RawCollection)
	c.Qdrant.VectorDim = envutil.Int("QDRANT_VECTOR_DIM", c.Qdrant.VectorDim)
	c.OpenAI.BaseURL = envutil.String("OPENAI_BASE_URL", c.OpenAI.BaseURL)
	c.OpenAI.Model = envutil.String("OPENAI_MODEL", c.OpenAI.Model)
	c.OpenAI.EmbedModel = envutil.String("OPENAI_EMBED_MODEL", c.OpenAI.EmbedModel)
	c.OpenAI.EmbedDimensions = envutil.Int("OPENAI_EMBED_DIMENSIONS", c.OpenAI.EmbedDimensions)

	c.Admission.Interval = envutil.Duration("ADMISSION_INTERVAL", c.Admission.Interval)
	c.Admission.BatchSize = envutil.Int("ADMISSION_BATCH_SIZE", c.Admission.BatchSize)
	c.Purge.Interval = envutil.Duration("PURGE_INTERVAL", c.Purge.Interval)
	c.Purge.BatchSize = envutil.Int("PURGE_BATCH_SIZE", c.Purge.BatchSize)
	c.Worker.Concurrency = envutil.Int("WORKER_CONCURRENCY", c.Worker.Concurrency)
	c.Worker.TaskTimeout = envutil.Duration("WORKER_TASK_TIMEOUT", c.Worker.TaskTimeout)
	c.Worker.MaxDeliveries = envutil.Int("WORKER_MAX_DELIVERIES", c.Worker.MaxDeliveries)
	return c
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
