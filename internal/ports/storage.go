package ports

import (
	"context"
	"io"
	"time"
)

type PutObjectInput struct {
	ObjectKey   string
	ContentType string
	Reader      io.Reader
	Size        int64
}

type PutObjectOutput struct {
	// ObjectKey is the key the object can be read back with. localfs and
	// minio echo the input key; gdrive returns the Drive file id.
	ObjectKey string
	Size      int64
}

type ObjectInfo struct {
	ObjectKey    string
	ContentType  string
	Size         int64
	LastModified time.Time
}

// StorageProvider stores render artifacts under keys of the form
// outputs/{job_id}/render.png and outputs/{job_id}/proof.json.
// Implementations: localfs, gdrive, minio.
type StorageProvider interface {
	Provider() string

	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
	GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error)
	StatObject(ctx context.Context, objectKey string) (ObjectInfo, error)
	DeleteObject(ctx context.Context, objectKey string) error
}
