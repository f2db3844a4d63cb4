package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"proofrender/internal/models"
	"proofrender/internal/pkg/errors"
	"proofrender/internal/worker/monitor"
)

type downloadQuery struct {
	File string `validate:"oneof=render proof"`
}

// Download streams the render or its proof once the job is complete.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobId")

	q := downloadQuery{File: r.URL.Query().Get("file")}
	if q.File == "" {
		q.File = "render"
	}
	if err := h.validate.Struct(&q); err != nil {
		return errors.ValidationField("file", "Invalid file type. Use 'render' or 'proof'.")
	}

	if h.validate.Var(jobID, "required,uuid") != nil {
		return downloadErr(errors.CodeNotFound, "invalid_job_id", jobID, "",
			"Invalid job ID format: "+jobID)
	}

	rec, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.IsNotFound(err) {
			return downloadErr(errors.CodeNotFound, "not_found", jobID, "",
				"Job not found: "+jobID)
		}
		return err
	}

	switch rec.Status {
	case models.StatusComplete:
	case models.StatusFailed:
		msg := "unknown error"
		if rec.Error != nil {
			msg = *rec.Error
		}
		return downloadErr(errors.CodeNotFound, "failed", jobID, rec.Status,
			"Render failed: "+msg+". File not available.")
	default:
		return downloadErr(errors.CodeConflict, "not_complete", jobID, rec.Status,
			"Render not complete. Current status: "+string(rec.Status))
	}

	key, name, contentType := monitor.RenderKey(jobID), jobID+"_render.png", "image/png"
	if q.File == "proof" {
		key, name, contentType = monitor.ProofKey(jobID), jobID+"_proof.json", "application/json"
	}

	rc, storedType, size, err := h.artifacts.GetObject(ctx, key)
	if err != nil {
		if errors.IsNotFound(err) {
			return downloadErr(errors.CodeNotFound, "file_not_found", jobID, rec.Status,
				"File not found: "+q.File+" for job "+jobID)
		}
		return errors.Wrap(err, "download", "read artifact")
	}
	defer rc.Close()

	if storedType != "" && storedType != "application/octet-stream" {
		contentType = storedType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.log.FromContext(ctx).WithJobID(jobID).Warn("download interrupted", "file", q.File, "error", err.Error())
	}
	return nil
}

func downloadErr(code errors.Code, reason, jobID string, status models.Status, msg string) error {
	e := errors.New(code, msg).
		WithField("reason", reason).
		WithField("job_id", jobID)
	if status != "" {
		e = e.WithField("status", string(status))
	}
	return e
}
