// Package minio stores render artifacts in an S3-compatible bucket.
package minio

import (
	"context"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"proofrender/internal/pkg/errors"
	"proofrender/internal/ports"
)

type Opts func(c *config)

type config struct {
	endpoint        string
	bucket          string
	accessKey       string
	secretAccessKey string
	useSSL          bool
	region          string
}

func newConfig(opts ...Opts) *config {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// Store implements ports.StorageProvider on top of a minio client.
type Store struct {
	cfg    *config
	client *minio.Client
}

func New(opts ...Opts) (*Store, error) {
	cfg := newConfig(opts...)
	if cfg.endpoint == "" || cfg.bucket == "" {
		return nil, errors.Validation("minio endpoint and bucket are required")
	}

	client, err := minio.New(cfg.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.accessKey, cfg.secretAccessKey, ""),
		Secure: cfg.useSSL,
		Region: cfg.region,
	})
	if err != nil {
		return nil, errors.Wrap(err, "minio.new", "create minio client")
	}
	return &Store{cfg: cfg, client: client}, nil
}

func (s *Store) Provider() string { return "minio" }

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.bucket)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "minio.bucket", "check bucket")
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.cfg.bucket, minio.MakeBucketOptions{Region: s.cfg.region}); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "minio.bucket", "create bucket "+s.cfg.bucket)
	}
	return nil
}

func (s *Store) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if in.ObjectKey == "" {
		return ports.PutObjectOutput{}, errors.ValidationField("object_key", "object_key is required")
	}
	size := in.Size
	if size <= 0 {
		size = -1
	}
	info, err := s.client.PutObject(ctx, s.cfg.bucket, in.ObjectKey, in.Reader, size, minio.PutObjectOptions{
		ContentType: in.ContentType,
	})
	if err != nil {
		return ports.PutObjectOutput{}, mapErr(err, "minio.put", in.ObjectKey)
	}
	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: info.Size}, nil
}

func (s *Store) GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error) {
	object, err := s.client.GetObject(ctx, s.cfg.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", 0, mapErr(err, "minio.get", objectKey)
	}
	// GetObject is lazy; Stat surfaces a missing key.
	info, err := object.Stat()
	if err != nil {
		object.Close()
		return nil, "", 0, mapErr(err, "minio.get", objectKey)
	}
	return object, info.ContentType, info.Size, nil
}

func (s *Store) StatObject(ctx context.Context, objectKey string) (ports.ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.cfg.bucket, objectKey, minio.StatObjectOptions{})
	if err != nil {
		return ports.ObjectInfo{}, mapErr(err, "minio.stat", objectKey)
	}
	return ports.ObjectInfo{
		ObjectKey:    objectKey,
		ContentType:  info.ContentType,
		Size:         info.Size,
		LastModified: info.LastModified.UTC(),
	}, nil
}

func (s *Store) DeleteObject(ctx context.Context, objectKey string) error {
	if err := s.client.RemoveObject(ctx, s.cfg.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return mapErr(err, "minio.delete", objectKey)
	}
	return nil
}

func mapErr(err error, op, objectKey string) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound:
		return errors.WrapWithCode(err, errors.CodeNotFound, op, "object not found: "+objectKey)
	case resp.StatusCode >= 500 || resp.StatusCode == 0:
		return errors.WrapWithCode(err, errors.CodeUnavailable, op, "object store request failed")
	default:
		return errors.Wrap(err, op, "object store request failed")
	}
}

func WithEndpoint(endpoint string) Opts {
	return func(c *config) {
		c.endpoint = endpoint
	}
}

func WithBucket(bucket string) Opts {
	return func(c *config) {
		c.bucket = bucket
	}
}

func WithAccessKey(accessKey string) Opts {
	return func(c *config) {
		c.accessKey = accessKey
	}
}

func WithSecretKey(secretKey string) Opts {
	return func(c *config) {
		c.secretAccessKey = secretKey
	}
}

func WithSSL(useSSL bool) Opts {
	return func(c *config) {
		c.useSSL = useSSL
	}
}

func WithRegion(region string) Opts {
	return func(c *config) {
		c.region = region
	}
}
