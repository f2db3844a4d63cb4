package gdrive

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"proofrender/internal/pkg/errors"
	"proofrender/internal/ports"
)

// Client implements ports.StorageProvider backed by Google Drive.
// Objects are Drive files named after their key inside one folder, so a
// key like outputs/{job}/render.png resolves with a name query. Putting an
// existing key replaces the file content.
type Client struct {
	srv      *drive.Service
	folderID string
}

func NewClient(srv *drive.Service, folderID string) *Client {
	return &Client{srv: srv, folderID: folderID}
}

func (c *Client) Provider() string { return "gdrive" }

func (c *Client) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if in.ObjectKey == "" {
		return ports.PutObjectOutput{}, errors.ValidationField("object_key", "object_key is required")
	}

	var opts []googleapi.MediaOption
	if in.ContentType != "" {
		opts = append(opts, googleapi.ContentType(in.ContentType))
	}

	existing, err := c.lookup(ctx, in.ObjectKey)
	if err != nil && !errors.IsNotFound(err) {
		return ports.PutObjectOutput{}, err
	}

	var saved *drive.File
	if existing != nil {
		saved, err = c.srv.Files.Update(existing.Id, &drive.File{}).
			Media(in.Reader, opts...).
			SupportsAllDrives(true).
			Fields("id", "size").
			Context(ctx).
			Do()
	} else {
		file := &drive.File{Name: in.ObjectKey}
		if c.folderID != "" {
			file.Parents = []string{c.folderID}
		}
		saved, err = c.srv.Files.Create(file).
			Media(in.Reader, opts...).
			SupportsAllDrives(true).
			Fields("id", "size").
			Context(ctx).
			Do()
	}
	if err != nil {
		return ports.PutObjectOutput{}, errors.WrapWithCode(err, errors.CodeUnavailable, "gdrive.put", "gdrive upload failed")
	}

	size := saved.Size
	if size == 0 {
		size = in.Size
	}
	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: size}, nil
}

func (c *Client) GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error) {
	f, err := c.lookup(ctx, objectKey)
	if err != nil {
		return nil, "", 0, err
	}
	resp, err := c.srv.Files.Get(f.Id).
		SupportsAllDrives(true).
		Context(ctx).
		Download()
	if err != nil {
		return nil, "", 0, mapErr(err, "gdrive.get", objectKey)
	}

	contentType = resp.Header.Get("Content-Type")
	size = resp.ContentLength
	return resp.Body, contentType, size, nil
}

func (c *Client) StatObject(ctx context.Context, objectKey string) (ports.ObjectInfo, error) {
	f, err := c.lookup(ctx, objectKey)
	if err != nil {
		return ports.ObjectInfo{}, err
	}
	info := ports.ObjectInfo{ObjectKey: objectKey, ContentType: f.MimeType, Size: f.Size}
	if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
		info.LastModified = t.UTC()
	}
	return info, nil
}

func (c *Client) DeleteObject(ctx context.Context, objectKey string) error {
	f, err := c.lookup(ctx, objectKey)
	if err != nil {
		return err
	}
	if err := c.srv.Files.Delete(f.Id).
		SupportsAllDrives(true).
		Context(ctx).
		Do(); err != nil {
		return mapErr(err, "gdrive.delete", objectKey)
	}
	return nil
}

// lookup finds the newest non-trashed file named objectKey in the folder.
func (c *Client) lookup(ctx context.Context, objectKey string) (*drive.File, error) {
	res, err := c.srv.Files.List().
		Q(nameQuery(objectKey, c.folderID)).
		OrderBy("modifiedTime desc").
		PageSize(1).
		Fields("files(id, name, size, mimeType, modifiedTime)").
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapErr(err, "gdrive.lookup", objectKey)
	}
	if len(res.Files) == 0 {
		return nil, errors.NotFound("object", objectKey)
	}
	return res.Files[0], nil
}

func nameQuery(objectKey, folderID string) string {
	q := "name = '" + escapeQuery(objectKey) + "' and trashed = false"
	if folderID != "" {
		q += " and '" + escapeQuery(folderID) + "' in parents"
	}
	return q
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

func mapErr(err error, op, objectKey string) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return errors.WrapWithCode(err, errors.CodeNotFound, op, "object not found: "+objectKey)
	}
	return errors.WrapWithCode(err, errors.CodeUnavailable, op, "gdrive request failed")
}
