package redisq

import (
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/labtrace-backend/internal/platform/envutil"
)

const (
	defaultBlockTimeout      = 5 * time.Second
	defaultVisibilityTimeout = 15 * time.Minute
)

type Config struct {
	Addr     string
	Password string
	DB       int
	// BlockTimeout bounds a single BLMOVE wait so consumers notice shutdown.
	BlockTimeout time.Duration
	// VisibilityTimeout is how long a claimed message may sit in the
	// processing list before RequeueStale hands it to another consumer.
	VisibilityTimeout time.Duration
}

type ConfigErrorCode string

const (
	ConfigErrorMissingAddr       ConfigErrorCode = "missing_addr"
	ConfigErrorInvalidDB         ConfigErrorCode = "invalid_db"
	ConfigErrorInvalidBlock      ConfigErrorCode = "invalid_block_timeout"
	ConfigErrorInvalidVisibility ConfigErrorCode = "invalid_visibility_timeout"
)

type ConfigError struct {
	Code  ConfigErrorCode
	Value string
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid redis queue config"
	}
	switch e.Code {
	case ConfigErrorMissingAddr:
		return "missing REDIS_ADDR"
	case ConfigErrorInvalidDB:
		return fmt.Sprintf("invalid REDIS_DB=%q; expected a non-negative integer", e.Value)
	case ConfigErrorInvalidBlock:
		return fmt.Sprintf("invalid REDIS_QUEUE_BLOCK_TIMEOUT=%q; expected at least one second", e.Value)
	case ConfigErrorInvalidVisibility:
		return fmt.Sprintf("invalid REDIS_QUEUE_VISIBILITY_TIMEOUT=%q; must exceed the block timeout", e.Value)
	default:
		return "invalid redis queue config"
	}
}

func ResolveConfigFromEnv() (Config, error) {
	cfg := Config{
		Addr:              strings.TrimSpace(envutil.String("REDIS_ADDR", "")),
		Password:          envutil.String("REDIS_PASSWORD", ""),
		DB:                envutil.Int("REDIS_DB", 0),
		BlockTimeout:      envutil.Duration("REDIS_QUEUE_BLOCK_TIMEOUT", defaultBlockTimeout),
		VisibilityTimeout: envutil.Duration("REDIS_QUEUE_VISIBILITY_TIMEOUT", defaultVisibilityTimeout),
	}
	return cfg, ValidateConfig(cfg)
}

func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return &ConfigError{Code: ConfigErrorMissingAddr}
	}
	if cfg.DB < 0 {
		return &ConfigError{Code: ConfigErrorInvalidDB, Value: fmt.Sprint(cfg.DB)}
	}
	if cfg.BlockTimeout < time.Second {
		return &ConfigError{Code: ConfigErrorInvalidBlock, Value: cfg.BlockTimeout.String()}
	}
	if cfg.VisibilityTimeout <= cfg.BlockTimeout {
		return &ConfigError{Code: ConfigErrorInvalidVisibility, Value: cfg.VisibilityTimeout.String()}
	}
	return nil
}
