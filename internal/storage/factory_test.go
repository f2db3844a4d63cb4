package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofrender/internal/config"
	"proofrender/internal/pkg/errors"
)

func TestNewProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("localfs default", func(t *testing.T) {
		p, err := NewProvider(ctx, config.StorageConfig{LocalRoot: t.TempDir()})
		require.NoError(t, err)
		assert.Equal(t, "localfs", p.Provider())
	})

	t.Run("localfs needs a root", func(t *testing.T) {
		_, err := NewProvider(ctx, config.StorageConfig{Provider: "localfs"})
		require.Error(t, err)
		assert.Equal(t, "STORAGE_LOCAL_ROOT", errors.GetFields(err)["field"])
	})

	t.Run("gdrive needs credentials", func(t *testing.T) {
		_, err := NewProvider(ctx, config.StorageConfig{Provider: "gdrive", GDriveClientID: "id"})
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("minio needs an endpoint", func(t *testing.T) {
		_, err := NewProvider(ctx, config.StorageConfig{Provider: "minio", MinioBucket: "b"})
		require.Error(t, err)
		assert.Equal(t, "MINIO_ENDPOINT", errors.GetFields(err)["field"])
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := NewProvider(ctx, config.StorageConfig{Provider: "s3"})
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	})
}

func TestOAuthConfig(t *testing.T) {
	conf := OAuthConfig("id", "secret")
	assert.Equal(t, "id", conf.ClientID)
	assert.Contains(t, conf.Scopes[0], "drive.file")
}
