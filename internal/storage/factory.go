package storage

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"proofrender/internal/adapters/storage/gdrive"
	"proofrender/internal/adapters/storage/localfs"
	miniostore "proofrender/internal/adapters/storage/minio"
	"proofrender/internal/config"
	"proofrender/internal/pkg/errors"
)

// NewProvider builds the artifact store selected by STORAGE_PROVIDER.
func NewProvider(ctx context.Context, cfg config.StorageConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "localfs":
		if cfg.LocalRoot == "" {
			return nil, missing("STORAGE_LOCAL_ROOT")
		}
		return localfs.New(cfg.LocalRoot), nil

	case "gdrive":
		return newGDriveProvider(ctx, cfg)

	case "minio":
		return newMinioProvider(ctx, cfg)

	default:
		return nil, errors.ValidationField("STORAGE_PROVIDER", fmt.Sprintf("unknown storage provider: %s", cfg.Provider))
	}
}

// OAuthConfig is the Drive client configuration shared by the gdrive store
// and the proofctl gdrive-auth helper.
func OAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
	}
}

func newGDriveProvider(ctx context.Context, cfg config.StorageConfig) (Provider, error) {
	for k, v := range map[string]string{
		"GDRIVE_CLIENT_ID":     cfg.GDriveClientID,
		"GDRIVE_CLIENT_SECRET": cfg.GDriveClientSecret,
		"GDRIVE_REFRESH_TOKEN": cfg.GDriveRefreshToken,
	} {
		if v == "" {
			return nil, missing(k)
		}
	}

	conf := OAuthConfig(cfg.GDriveClientID, cfg.GDriveClientSecret)
	tok := &oauth2.Token{RefreshToken: cfg.GDriveRefreshToken}
	httpClient := conf.Client(ctx, tok)

	srv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, errors.Wrap(err, "storage.gdrive", "create drive service")
	}

	return gdrive.NewClient(srv, cfg.GDriveFolderID), nil
}

func newMinioProvider(ctx context.Context, cfg config.StorageConfig) (Provider, error) {
	if cfg.MinioEndpoint == "" {
		return nil, missing("MINIO_ENDPOINT")
	}
	store, err := miniostore.New(
		miniostore.WithEndpoint(cfg.MinioEndpoint),
		miniostore.WithBucket(cfg.MinioBucket),
		miniostore.WithAccessKey(cfg.MinioAccessKey),
		miniostore.WithSecretKey(cfg.MinioSecretKey),
		miniostore.WithSSL(cfg.MinioUseSSL),
		miniostore.WithRegion(cfg.MinioRegion),
	)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func missing(key string) error {
	return errors.ValidationField(key, "missing env: "+key)
}
