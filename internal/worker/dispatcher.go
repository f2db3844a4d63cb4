// Package worker accepts render submissions for uploaded jobs and hands
// them to the render provider and the job monitor.
package worker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"proofrender/internal/metrics"
	"proofrender/internal/models"
	"proofrender/internal/pkg/errors"
	"proofrender/internal/pkg/logger"
	"proofrender/internal/ports"
	"proofrender/internal/presets"
	"proofrender/internal/worker/monitor"
	"proofrender/internal/worker/provider"
)

// AssetFile is the stored name of every uploaded asset.
const AssetFile = "asset.gltf"

// Submission is the outcome of an accepted render request.
type Submission struct {
	JobID         string        `json:"jobId"`
	Status        models.Status `json:"status"`
	Message       string        `json:"message"`
	ProviderJobID string        `json:"providerJobId"`
	Provider      string        `json:"provider"`
}

// StatusView is a job record with the provider's live progress laid over
// it while the render is in flight.
type StatusView struct {
	JobID                  string        `json:"jobId"`
	Status                 models.Status `json:"status"`
	ProgressPercent        int           `json:"progressPercent"`
	EstimatedTimeRemaining *int          `json:"estimatedTimeRemaining"`
	EstimatedCompletion    *time.Time    `json:"estimatedCompletion,omitempty"`
	ErrorMessage           *string       `json:"errorMessage"`
	Provider               *string       `json:"provider"`
	ProviderJobID          *string       `json:"providerJobId"`
	PresetName             *string       `json:"presetName"`
	RenderURL              *string       `json:"renderUrl"`
	ProofURL               *string       `json:"proofUrl"`
}

type Dispatcher struct {
	jobs       ports.JobStore
	catalog    *presets.Catalog
	providers  ProviderSource
	monitor    Watcher
	uploadsDir string
	log        *logger.Logger

	submitting sync.Map
}

func NewDispatcher(d Deps) *Dispatcher {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	return &Dispatcher{
		jobs:       d.Jobs,
		catalog:    d.Catalog,
		providers:  d.Providers,
		monitor:    d.Monitor,
		uploadsDir: d.UploadsDir,
		log:        log.WithComponent("dispatcher"),
	}
}

// AssetPath is where the uploaded asset of jobID lives.
func (d *Dispatcher) AssetPath(jobID string) string {
	return filepath.Join(d.uploadsDir, jobID, AssetFile)
}

// Submit validates and submits a render for an uploaded job. Validation
// failures are returned synchronously; render failures only ever show up
// on the job record. The monitor is started and not awaited.
func (d *Dispatcher) Submit(ctx context.Context, jobID, presetName string) (Submission, error) {
	const op = "dispatcher.submit"
	log := d.log.FromContext(ctx).WithJobID(jobID)

	if _, busy := d.submitting.LoadOrStore(jobID, struct{}{}); busy {
		return Submission{}, errors.Conflict("a render submission for this job is already in progress").
			WithField("job_id", jobID)
	}
	defer d.submitting.Delete(jobID)

	rec, err := d.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.IsNotFound(err) {
			return Submission{}, errors.New(errors.CodeNotFound,
				"Job not found: "+jobID+". Upload asset first via POST /api/upload").
				WithField("job_id", jobID)
		}
		return Submission{}, errors.Wrap(err, op, "load job record")
	}
	if rec.InFlight() {
		return Submission{}, errors.Conflict("job already has a render in progress").
			WithField("job_id", jobID).
			WithField("status", string(rec.Status))
	}
	if err := d.catalog.Validate(presetName); err != nil {
		return Submission{}, err
	}

	asset := d.AssetPath(jobID)
	if _, err := os.Stat(asset); err != nil {
		if os.IsNotExist(err) {
			return Submission{}, errors.New(errors.CodeNotFound,
				"Asset file not found for job "+jobID+". Re-upload required.").
				WithField("job_id", jobID)
		}
		return Submission{}, errors.Wrap(err, op, "stat asset")
	}

	p, err := d.providers.Provider()
	if err != nil {
		return Submission{}, err
	}
	providerJobID, err := p.Submit(ctx, jobID, asset, presetName)
	if err != nil {
		return Submission{}, err
	}

	upd := models.JobUpdate{
		Resubmit:      true,
		Status:        models.Ref(models.StatusQueued),
		PresetName:    models.Ref(presetName),
		Provider:      models.Ref(p.Name()),
		ProviderJobID: models.Ref(providerJobID),
	}
	if p.Name() == provider.AIDPName {
		upd.AidpJobID = models.Ref(providerJobID)
	}
	// The provider already owns the render, so it is watched even when the
	// record write fails; the monitor's first update catches the record up.
	if _, err := d.jobs.Update(ctx, jobID, upd); err != nil {
		log.LogError(ctx, "record submission failed", errors.Wrap(err, op, "record submission"),
			"provider_job_id", providerJobID,
		)
	}

	d.monitor.Start(p, monitor.Job{
		ID:            jobID,
		ProviderJobID: providerJobID,
		AssetPath:     asset,
		PresetName:    presetName,
	})
	metrics.IncreaseJobsSubmittedMetric(p.Name())

	log.Info("render submitted",
		"provider", p.Name(),
		"provider_job_id", providerJobID,
		"preset", presetName,
	)
	return Submission{
		JobID:         jobID,
		Status:        models.StatusQueued,
		Message:       "Render job submitted successfully",
		ProviderJobID: providerJobID,
		Provider:      p.Name(),
	}, nil
}

// Status returns the job record. While the job is in flight the provider
// snapshot supplies progress, remaining time and status, as long as it
// does not move the record backwards or claim a terminal state the
// monitor has not recorded yet.
func (d *Dispatcher) Status(ctx context.Context, jobID string) (StatusView, error) {
	rec, err := d.jobs.Get(ctx, jobID)
	if err != nil {
		return StatusView{}, err
	}
	view := StatusView{
		JobID:                  rec.JobID,
		Status:                 rec.Status,
		ProgressPercent:        rec.ProgressPercent,
		EstimatedTimeRemaining: rec.EstimatedTimeRemaining,
		ErrorMessage:           rec.Error,
		Provider:               rec.Provider,
		ProviderJobID:          rec.ProviderJobID,
		PresetName:             rec.PresetName,
		RenderURL:              rec.RenderURL,
		ProofURL:               rec.ProofURL,
	}
	if !rec.InFlight() || rec.ProviderJobID == nil {
		return view, nil
	}

	log := d.log.FromContext(ctx).WithJobID(jobID)
	p, err := d.providers.Provider()
	if err != nil {
		log.Warn("provider unavailable for live status", "error", err.Error())
		return view, nil
	}
	if rec.Provider != nil && *rec.Provider != p.Name() {
		return view, nil
	}
	snap, err := p.Status(ctx, *rec.ProviderJobID)
	if err != nil {
		if errors.IsNotFound(err) {
			view.ErrorMessage = models.Ref("Provider job not found")
			return view, nil
		}
		log.Warn("live status failed", "error", err.Error())
		return view, nil
	}
	if snap.Status.IsTerminal() || snap.Status.Rank() < rec.Status.Rank() {
		return view, nil
	}
	view.Status = snap.Status
	view.ProgressPercent = max(snap.ProgressPercent, rec.ProgressPercent)
	view.EstimatedTimeRemaining = snap.EstimatedTimeRemaining
	view.EstimatedCompletion = snap.EstimatedCompletion
	return view, nil
}
