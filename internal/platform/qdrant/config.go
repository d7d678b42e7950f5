package qdrant

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DenseVectorName  = "dense_vector"
	SparseVectorName = "sparse_vector"

	DefaultDenseDim      = 384
	DefaultPrefetchLimit = 7

	defaultTimeout = 10 * time.Second
)

type Config struct {
	URL string
	// Collection holds one point per chunk of a structured facet row.
	Collection string
	// RawCollection holds one point per report built from the whole OCR text. Empty disables it.
	RawCollection string
	DenseDim      int
	PrefetchLimit int
	Timeout       time.Duration
}

type ConfigErrorCode string

const (
	ConfigErrorMissingURL        ConfigErrorCode = "missing_url"
	ConfigErrorInvalidURL        ConfigErrorCode = "invalid_url"
	ConfigErrorMissingCollection ConfigErrorCode = "missing_collection"
	ConfigErrorInvalidVectorDim  ConfigErrorCode = "invalid_vector_dim"
	ConfigErrorSameCollection    ConfigErrorCode = "same_collection"
)

type ConfigError struct {
	Code  ConfigErrorCode
	Value string
	Cause error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid qdrant config"
	}
	switch e.Code {
	case ConfigErrorMissingURL:
		return "QDRANT_URL is required"
	case ConfigErrorInvalidURL:
		return fmt.Sprintf(
			"invalid QDRANT_URL=%q; expected absolute URL like http://qdrant:6333",
			e.Value,
		)
	case ConfigErrorMissingCollection:
		return "QDRANT_COLLECTION is required"
	case ConfigErrorInvalidVectorDim:
		return fmt.Sprintf(
			"invalid QDRANT_VECTOR_DIM=%q; expected positive integer",
			e.Value,
		)
	case ConfigErrorSameCollection:
		return fmt.Sprintf("QDRANT_RAW_COLLECTION must differ from QDRANT_COLLECTION (both %q)", e.Value)
	default:
		return "invalid qdrant config"
	}
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func ResolveConfigFromEnv() (Config, error) {
	cfg := Config{
		URL:           strings.TrimSpace(os.Getenv("QDRANT_URL")),
		Collection:    strings.TrimSpace(os.Getenv("QDRANT_COLLECTION")),
		RawCollection: strings.TrimSpace(os.Getenv("QDRANT_RAW_COLLECTION")),
		DenseDim:      DefaultDenseDim,
		PrefetchLimit: DefaultPrefetchLimit,
		Timeout:       defaultTimeout,
	}
	if rawDim := strings.TrimSpace(os.Getenv("QDRANT_VECTOR_DIM")); rawDim != "" {
		parsed, err := strconv.Atoi(rawDim)
		if err != nil {
			return Config{}, &ConfigError{
				Code:  ConfigErrorInvalidVectorDim,
				Value: rawDim,
				Cause: err,
			}
		}
		cfg.DenseDim = parsed
	}
	if raw := strings.TrimSpace(os.Getenv("QDRANT_PREFETCH_LIMIT")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.PrefetchLimit = n
		}
	}
	if raw := strings.TrimSpace(os.Getenv("QDRANT_TIMEOUT_SECONDS")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.Timeout = time.Duration(n) * time.Second
		}
	}

	if err := ValidateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func ValidateConfig(cfg Config) error {
	if cfg.URL == "" {
		return &ConfigError{Code: ConfigErrorMissingURL}
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil || strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
		return &ConfigError{
			Code:  ConfigErrorInvalidURL,
			Value: cfg.URL,
			Cause: err,
		}
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return &ConfigError{Code: ConfigErrorMissingCollection}
	}
	if cfg.RawCollection != "" && cfg.RawCollection == cfg.Collection {
		return &ConfigError{Code: ConfigErrorSameCollection, Value: cfg.Collection}
	}
	if cfg.DenseDim <= 0 {
		return &ConfigError{
			Code:  ConfigErrorInvalidVectorDim,
			Value: strconv.Itoa(cfg.DenseDim),
		}
	}
	return nil
}
