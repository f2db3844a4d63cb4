package localfs

import (
	"context"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"proofrender/internal/pkg/errors"
	"proofrender/internal/ports"
)

// LocalFS implements ports.StorageProvider using the local filesystem.
// It stores objects under a configured root directory.
type LocalFS struct {
	root string
}

func New(root string) *LocalFS {
	return &LocalFS{root: root}
}

func (l *LocalFS) Provider() string { return "localfs" }

// Path resolves an object key to its location on disk. Keys that would
// escape the root are rejected.
func (l *LocalFS) Path(objectKey string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(objectKey))
	if objectKey == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.ValidationField("object_key", "invalid object key: "+objectKey)
	}
	return filepath.Join(l.root, clean), nil
}

// PutObject writes through a temp file in the destination directory and
// renames it into place, so readers never observe a partial object and
// re-putting a file onto its own key is safe.
func (l *LocalFS) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	dst, err := l.Path(in.ObjectKey)
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return ports.PutObjectOutput{}, errors.Wrap(err, "localfs.put", "create object directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return ports.PutObjectOutput{}, errors.Wrap(err, "localfs.put", "create temp file")
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, in.Reader)
	if err != nil {
		tmp.Close()
		return ports.PutObjectOutput{}, errors.Wrap(err, "localfs.put", "write object")
	}
	if err := tmp.Close(); err != nil {
		return ports.PutObjectOutput{}, errors.Wrap(err, "localfs.put", "close object")
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return ports.PutObjectOutput{}, errors.Wrap(err, "localfs.put", "chmod object")
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return ports.PutObjectOutput{}, errors.Wrap(err, "localfs.put", "rename object")
	}

	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: n}, nil
}

func (l *LocalFS) GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error) {
	p, err := l.Path(objectKey)
	if err != nil {
		return nil, "", 0, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, "", 0, notFound(err, objectKey)
	}

	st, statErr := f.Stat()
	if statErr == nil {
		size = st.Size()
	}

	contentType = detectType(p, f)
	return f, contentType, size, nil
}

func (l *LocalFS) StatObject(ctx context.Context, objectKey string) (ports.ObjectInfo, error) {
	p, err := l.Path(objectKey)
	if err != nil {
		return ports.ObjectInfo{}, err
	}
	st, err := os.Stat(p)
	if err != nil {
		return ports.ObjectInfo{}, notFound(err, objectKey)
	}
	if st.IsDir() {
		return ports.ObjectInfo{}, errors.NotFound("object", objectKey)
	}
	return ports.ObjectInfo{
		ObjectKey:    objectKey,
		ContentType:  mime.TypeByExtension(filepath.Ext(p)),
		Size:         st.Size(),
		LastModified: st.ModTime().UTC(),
	}, nil
}

func (l *LocalFS) DeleteObject(ctx context.Context, objectKey string) error {
	p, err := l.Path(objectKey)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return notFound(err, objectKey)
	}
	return nil
}

// detectType prefers the extension; when it is unknown the first bytes
// are sniffed and the file is rewound.
func detectType(p string, f *os.File) string {
	if ct := mime.TypeByExtension(filepath.Ext(p)); ct != "" {
		return ct
	}
	mt, err := mimetype.DetectReader(f)
	_, _ = f.Seek(0, io.SeekStart)
	if err != nil {
		return "application/octet-stream"
	}
	return mt.String()
}

func notFound(err error, objectKey string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return errors.WrapWithCode(err, errors.CodeNotFound, "localfs", "object not found: "+objectKey)
	}
	return errors.Wrap(err, "localfs", "access object "+objectKey)
}
