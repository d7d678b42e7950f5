package app

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
	"github.com/yungbote/labtrace-backend/internal/platform/gcp"
	"github.com/yungbote/labtrace-backend/internal/platform/qdrant"
)

func TestClassifyBootstrapError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		code   BootstrapErrorCode
		reason string
	}{
		{
			name:   "storage config",
			err:    &gcp.StorageConfigError{Code: gcp.StorageConfigErrorMissingEmulatorHost},
			code:   BootstrapErrorInvalidConfig,
			reason: string(gcp.StorageConfigErrorMissingEmulatorHost),
		},
		{
			name:   "qdrant config",
			err:    &qdrant.ConfigError{Code: qdrant.ConfigErrorSameCollection, Value: "lab_reports"},
			code:   BootstrapErrorInvalidConfig,
			reason: string(qdrant.ConfigErrorSameCollection),
		},
		{
			name: "connect",
			err:  errors.New("dial tcp: connection refused"),
			code: BootstrapErrorConnectFailed,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyBootstrapError("p", tc.err)
			var got *BootstrapError
			require.ErrorAs(t, err, &got)
			assert.Equal(t, tc.code, got.Code)
			assert.Equal(t, tc.reason, got.Reason)
			assert.ErrorIs(t, err, tc.err)
		})
	}
	assert.NoError(t, classifyBootstrapError("p", nil))
}

func TestResolveVectorStoreRejectsBadConfig(t *testing.T) {
	t.Setenv("QDRANT_URL", "")
	t.Setenv("QDRANT_COLLECTION", "lab_reports")

	_, err := resolveVectorStore(t.Context(), logger.Nop())
	var got *BootstrapError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, BootstrapErrorInvalidConfig, got.Code)
	assert.Equal(t, string(qdrant.ConfigErrorMissingURL), got.Reason)
}

func TestResolveObjectReaderRejectsBadMode(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "ftp")

	_, err := resolveObjectReader(logger.Nop())
	var got *BootstrapError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, string(gcp.StorageConfigErrorInvalidMode), got.Reason)
}
