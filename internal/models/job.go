package models

import (
	"time"

	"proofrender/internal/pkg/errors"
)

// JobRecord is the externally visible state of one render job, persisted
// as metadata.json (or a redis/postgres row) under the job id. Unset
// fields serialize as null.
type JobRecord struct {
	JobID                  string     `json:"jobId"`
	Status                 Status     `json:"status"`
	AssetFilename          string     `json:"assetFilename"`
	AssetSize              int64      `json:"assetSize"`
	UploadedAt             time.Time  `json:"uploadedAt"`
	PresetName             *string    `json:"presetName"`
	Provider               *string    `json:"provider"`
	ProviderJobID          *string    `json:"providerJobId"`
	AidpJobID              *string    `json:"aidpJobId"`
	ProgressPercent        int        `json:"progressPercent"`
	EstimatedTimeRemaining *int       `json:"estimatedTimeRemaining"`
	StartedAt              *time.Time `json:"startedAt"`
	CompletedAt            *time.Time `json:"completedAt"`
	RenderURL              *string    `json:"renderUrl"`
	ProofURL               *string    `json:"proofUrl"`
	Error                  *string    `json:"error"`
}

// NewJobRecord returns a freshly uploaded record.
func NewJobRecord(jobID, assetFilename string, assetSize int64, uploadedAt time.Time) JobRecord {
	return JobRecord{
		JobID:         jobID,
		Status:        StatusUploaded,
		AssetFilename: assetFilename,
		AssetSize:     assetSize,
		UploadedAt:    uploadedAt.UTC(),
	}
}

// InFlight reports whether a render was submitted and has not finished.
func (r JobRecord) InFlight() bool {
	return r.Status == StatusQueued || r.Status == StatusProcessing
}

// JobUpdate is a partial field set merged into a JobRecord. Nil fields are
// left untouched.
type JobUpdate struct {
	Status                 *Status
	PresetName             *string
	Provider               *string
	ProviderJobID          *string
	AidpJobID              *string
	ProgressPercent        *int
	EstimatedTimeRemaining *int
	StartedAt              *time.Time
	CompletedAt            *time.Time
	RenderURL              *string
	ProofURL               *string
	Error                  *string

	// Resubmit clears the outcome of a previous render before the other
	// fields are applied and allows leaving a terminal state for queued.
	Resubmit bool
}

// Apply merges u into r and keeps the record invariants:
// completedAt is set iff the status is terminal and error is set iff the
// status is failed. A transition the state machine forbids is a CONFLICT.
func (u JobUpdate) Apply(r *JobRecord, now time.Time) error {
	if u.Resubmit {
		if r.InFlight() {
			return errors.Conflict("job already has a render in progress").
				WithField("job_id", r.JobID).
				WithField("status", string(r.Status))
		}
		r.Status = StatusUploaded
		r.AidpJobID = nil
		r.ProgressPercent = 0
		r.EstimatedTimeRemaining = nil
		r.StartedAt = nil
		r.CompletedAt = nil
		r.RenderURL = nil
		r.ProofURL = nil
		r.Error = nil
	}

	if u.Status != nil && !CanTransition(r.Status, *u.Status) {
		return errors.Newf(errors.CodeConflict, "invalid status transition %s -> %s", r.Status, *u.Status).
			WithField("job_id", r.JobID)
	}

	if u.Status != nil {
		r.Status = *u.Status
	}
	setIf(&r.PresetName, u.PresetName)
	setIf(&r.Provider, u.Provider)
	setIf(&r.ProviderJobID, u.ProviderJobID)
	setIf(&r.AidpJobID, u.AidpJobID)
	// Progress only moves forward; Resubmit has already reset it.
	if u.ProgressPercent != nil {
		r.ProgressPercent = max(r.ProgressPercent, clampPercent(*u.ProgressPercent))
	}
	setIf(&r.EstimatedTimeRemaining, u.EstimatedTimeRemaining)
	setIf(&r.StartedAt, u.StartedAt)
	setIf(&r.CompletedAt, u.CompletedAt)
	setIf(&r.RenderURL, u.RenderURL)
	setIf(&r.ProofURL, u.ProofURL)
	setIf(&r.Error, u.Error)

	if r.Status.IsTerminal() {
		if r.CompletedAt == nil {
			t := now.UTC()
			r.CompletedAt = &t
		}
	} else {
		r.CompletedAt = nil
	}
	if r.Status != StatusFailed {
		r.Error = nil
	} else if r.Error == nil {
		msg := "render failed"
		r.Error = &msg
	}
	return nil
}

func setIf[T any](dst **T, v *T) {
	if v != nil {
		c := *v
		*dst = &c
	}
}

func clampPercent(p int) int {
	return min(max(p, 0), 100)
}

// Ref returns a pointer to a copy of v. It keeps JobUpdate literals short.
func Ref[T any](v T) *T {
	return &v
}
