package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"proofrender/internal/httpkit"
	"proofrender/internal/pkg/errors"
)

// renderRequest accepts the job id as job_id or jobId.
type renderRequest struct {
	JobID      string `json:"job_id" validate:"required,uuid"`
	JobIDCamel string `json:"jobId" validate:"-"`
	Preset     string `json:"preset" validate:"required,max=64"`
}

// PostRender submits an uploaded job for rendering. The response returns
// as soon as the provider accepted the job.
func (h *Handler) PostRender(w http.ResponseWriter, r *http.Request) error {
	var req renderRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		return errors.Validation("invalid json body")
	}
	if req.JobID == "" {
		req.JobID = req.JobIDCamel
	}
	if err := h.validate.Struct(&req); err != nil {
		return validationError(err)
	}

	sub, err := h.renders.Submit(r.Context(), req.JobID, req.Preset)
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, sub)
	return nil
}

// GetStatus reports the job record with live provider progress.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) error {
	jobID := chi.URLParam(r, "jobId")
	if h.validate.Var(jobID, "required,uuid") != nil {
		return errors.New(errors.CodeNotFound, "Job not found: "+jobID).WithField("job_id", jobID)
	}

	view, err := h.renders.Status(r.Context(), jobID)
	if err != nil {
		if errors.IsNotFound(err) {
			return errors.New(errors.CodeNotFound, "Job not found: "+jobID).WithField("job_id", jobID)
		}
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, view)
	return nil
}

// validationError turns validator failures into a VALIDATION_ERROR that
// lists the failing fields and their rules.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.Validation("invalid request")
	}
	fields := make(map[string]any, len(verrs))
	for _, e := range verrs {
		fields[e.Field()] = e.Tag()
	}
	return errors.Validation("Validation failed").WithFields(fields)
}
