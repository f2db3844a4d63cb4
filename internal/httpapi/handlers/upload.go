package handlers

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"

	"proofrender/internal/httpkit"
	"proofrender/internal/models"
	"proofrender/internal/pkg/errors"
	"proofrender/internal/ports"
	"proofrender/internal/worker"
)

// multipartSlack covers boundaries and part headers on top of the file.
const multipartSlack = 1 << 20

var gltfContentTypes = map[string]bool{
	"":                         true,
	"model/gltf+json":          true,
	"application/json":         true,
	"application/octet-stream": true,
}

type uploadResponse struct {
	JobID         string `json:"jobId"`
	Message       string `json:"message"`
	AssetFilename string `json:"assetFilename"`
	AssetSize     int64  `json:"assetSize"`
	NextStep      string `json:"nextStep"`
}

// Upload stores a .gltf asset under a new job id and creates its record.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartSlack)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return errors.TooLarge(h.maxUpload)
		}
		return errors.ValidationField("file", "No file provided. Please upload a .gltf file.")
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		return errors.ValidationField("file", "No file provided. Please upload a .gltf file.")
	}
	defer file.Close()

	filename := path.Base(strings.ReplaceAll(header.Filename, "\\", "/"))
	if err := checkFormat(filename, header.Header.Get("Content-Type")); err != nil {
		return err
	}
	if header.Size > h.maxUpload {
		return errors.TooLarge(h.maxUpload)
	}
	if header.Size == 0 {
		return errors.ValidationField("file", "Empty file uploaded. Please provide a valid .gltf file.")
	}

	jobID := uuid.NewString()
	log := h.log.FromContext(ctx).WithJobID(jobID)
	key := jobID + "/" + worker.AssetFile

	out, err := h.uploads.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   key,
		ContentType: "model/gltf+json",
		Reader:      file,
		Size:        header.Size,
	})
	if err != nil {
		return errors.Wrap(err, "upload", "Failed to save uploaded file. Please try again.")
	}

	if err := h.checkStructure(key); err != nil {
		h.discard(ctx, key)
		return err
	}

	if err := h.jobs.Create(ctx, models.NewJobRecord(jobID, filename, out.Size, h.now())); err != nil {
		h.discard(ctx, key)
		return errors.Wrap(err, "upload", "create job record")
	}

	log.Info("asset uploaded", "filename", filename, "size", out.Size)
	httpkit.WriteJSON(w, http.StatusOK, uploadResponse{
		JobID:         jobID,
		Message:       "Upload successful",
		AssetFilename: filename,
		AssetSize:     out.Size,
		NextStep:      "/api/render",
	})
	return nil
}

func checkFormat(filename, contentType string) error {
	if !strings.HasSuffix(strings.ToLower(filename), ".gltf") {
		return errors.ValidationField("file", "Invalid file format. Only .gltf files are supported.")
	}
	mt := contentType
	if contentType != "" {
		parsed, _, err := mime.ParseMediaType(contentType)
		if err == nil {
			mt = parsed
		}
	}
	if !gltfContentTypes[mt] {
		return errors.ValidationField("file", "Invalid MIME type. Expected model/gltf+json, got "+contentType)
	}
	return nil
}

// gltfDocument is the part of a glTF 2.0 JSON document that must be
// present for a render to have anything to draw.
type gltfDocument struct {
	Scenes []json.RawMessage `json:"scenes"`
	Nodes  []json.RawMessage `json:"nodes"`
}

func (h *Handler) checkStructure(key string) error {
	p, err := h.uploads.Path(key)
	if err != nil {
		return err
	}
	f, err := os.Open(p)
	if err != nil {
		return errors.Wrap(err, "upload", "open stored asset")
	}
	defer f.Close()

	var doc gltfDocument
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return errors.ValidationField("file", "Corrupted .gltf file: "+err.Error())
	}
	if len(doc.Scenes) == 0 {
		return errors.ValidationField("file", "Invalid .gltf file: No scenes found")
	}
	if len(doc.Nodes) == 0 {
		return errors.ValidationField("file", "Invalid .gltf file: No nodes found")
	}
	return nil
}

func (h *Handler) discard(ctx context.Context, key string) {
	if err := h.uploads.DeleteObject(ctx, key); err != nil {
		h.log.FromContext(ctx).Warn("discard rejected upload failed", "key", key, "error", err.Error())
	}
	if p, err := h.uploads.Path(path.Dir(key)); err == nil {
		_ = os.Remove(p)
	}
}
