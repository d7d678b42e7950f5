package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
	"github.com/yungbote/labtrace-backend/internal/platform/gcp"
	"github.com/yungbote/labtrace-backend/internal/platform/qdrant"
)

var (
	newObjectReader = gcp.NewObjectReader
	newQdrantStore  = qdrant.NewStore
)

type BootstrapErrorCode string

const (
	BootstrapErrorInvalidConfig BootstrapErrorCode = "invalid_config"
	BootstrapErrorConnectFailed BootstrapErrorCode = "connect_failed"
)

// BootstrapError reports a provider that could not be brought up. Reason
// carries the provider's own config error code when there is one.
type BootstrapError struct {
	Provider string
	Code     BootstrapErrorCode
	Reason   string
	Cause    error
}

func (e *BootstrapError) Error() string {
	if e == nil {
		return "provider bootstrap failed"
	}
	return fmt.Sprintf("%s bootstrap failed (code=%s reason=%q): %v", e.Provider, e.Code, e.Reason, e.Cause)
}

func (e *BootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func classifyBootstrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var storageErr *gcp.StorageConfigError
	if errors.As(err, &storageErr) {
		return &BootstrapError{Provider: provider, Code: BootstrapErrorInvalidConfig, Reason: string(storageErr.Code), Cause: err}
	}
	var qdrantErr *qdrant.ConfigError
	if errors.As(err, &qdrantErr) {
		return &BootstrapError{Provider: provider, Code: BootstrapErrorInvalidConfig, Reason: string(qdrantErr.Code), Cause: err}
	}
	return &BootstrapError{Provider: provider, Code: BootstrapErrorConnectFailed, Cause: err}
}

// resolveObjectReader selects GCS or its emulator for gs:// report media.
func resolveObjectReader(log *logger.Logger) (gcp.ObjectReader, error) {
	cfg, err := gcp.ResolveStorageConfigFromEnv()
	if err != nil {
		err = classifyBootstrapError("object_storage", err)
		log.Error("Object storage provider selection failed", "mode", cfg.Mode, "emulator_host", cfg.EmulatorHost, "error", err)
		return nil, err
	}
	log.Info("Selecting object storage provider", "mode", cfg.Mode, "emulator_host", cfg.EmulatorHost)

	reader, err := newObjectReader(log, cfg)
	if err != nil {
		err = classifyBootstrapError("object_storage", err)
		log.Error("Object storage provider bootstrap failed", "mode", cfg.Mode, "error", err)
		return nil, err
	}
	return reader, nil
}

// resolveVectorStore connects to Qdrant and makes sure both collections exist.
func resolveVectorStore(ctx context.Context, log *logger.Logger) (*qdrant.Store, error) {
	cfg, err := qdrant.ResolveConfigFromEnv()
	if err != nil {
		err = classifyBootstrapError("qdrant", err)
		log.Error("Vector store provider selection failed", "error", err)
		return nil, err
	}
	log.Info(
		"Selecting vector store provider",
		"qdrant_url", cfg.URL,
		"collection", cfg.Collection,
		"raw_collection", cfg.RawCollection,
		"dense_dim", cfg.DenseDim,
	)

	store, err := newQdrantStore(log, cfg)
	if err != nil {
		return nil, classifyBootstrapError("qdrant", err)
	}
	for _, name := range []string{cfg.Collection, cfg.RawCollection} {
		if name == "" {
			continue
		}
		if err := store.EnsureCollection(ctx, name); err != nil {
			err = classifyBootstrapError("qdrant", fmt.Errorf("ensure collection %s: %w", name, err))
			log.Error("Vector store provider bootstrap failed", "collection", name, "error", err)
			return nil, err
		}
	}
	return store, nil
}
