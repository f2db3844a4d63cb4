package monitor

import (
	"bytes"
	"context"
	"time"

	"proofrender/internal/metrics"
	"proofrender/internal/models"
	"proofrender/internal/pkg/errors"
	"proofrender/internal/pkg/logger"
	"proofrender/internal/ports"
	"proofrender/internal/proof"
	"proofrender/internal/worker/provider"
)

// Artifact keys, relative to both the storage provider and WORK_DIR.
func RenderKey(jobID string) string { return "outputs/" + jobID + "/render.png" }
func ProofKey(jobID string) string  { return "outputs/" + jobID + "/proof.json" }

// URLs written to the job record.
func RenderURL(jobID string) string { return "/" + RenderKey(jobID) }
func ProofURL(jobID string) string  { return "/" + ProofKey(jobID) }

// complete publishes the render and its proof and closes the record in a
// single update. A completed job without output is closed without URLs.
func (m *Monitor) complete(ctx context.Context, p provider.Provider, job Job, snap provider.Snapshot, log *logger.Logger) {
	completedAt := snap.CompletedAt
	if completedAt == nil {
		completedAt = models.Ref(m.now().UTC())
	}
	closing := models.JobUpdate{
		Status:                 models.Ref(models.StatusComplete),
		ProgressPercent:        models.Ref(100),
		EstimatedTimeRemaining: models.Ref(0),
		StartedAt:              snap.StartedAt,
		CompletedAt:            completedAt,
	}

	data, err := p.Result(ctx, job.ProviderJobID)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		if errors.IsNotFound(err) {
			m.markLost(ctx, p, job, log)
			return
		}
		log.Error("fetch result failed", "error", err.Error())
		m.markFailed(ctx, p, job, "failed to fetch render output", nil, log)
		return
	}
	if len(data) == 0 {
		log.Warn("provider reported completion without output")
		if m.update(ctx, job.ID, closing, log) {
			metrics.IncreaseJobsFinishedMetric(p.Name(), string(models.StatusComplete))
		}
		return
	}

	if err := m.put(ctx, RenderKey(job.ID), "image/png", data); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error("store render output failed", "error", err.Error())
		m.markFailed(ctx, p, job, "failed to store render output", nil, log)
		return
	}
	closing.RenderURL = models.Ref(RenderURL(job.ID))

	if err := m.writeProof(ctx, job, data, snap.RenderDuration, log); err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.IncreaseProofsMetric(metrics.ProofFailed)
		log.Error("proof generation failed",
			"code", string(errors.GetCode(err)),
			"error", err.Error(),
		)
	} else {
		metrics.IncreaseProofsMetric(metrics.ProofOK)
		closing.ProofURL = models.Ref(ProofURL(job.ID))
	}

	if m.update(ctx, job.ID, closing, log) {
		metrics.IncreaseJobsFinishedMetric(p.Name(), string(models.StatusComplete))
		log.Info("job complete",
			"render_url", *closing.RenderURL,
			"proof", closing.ProofURL != nil,
		)
	}
}

// writeProof keeps a local copy of the render for hashing, then stores
// proof.json next to it.
func (m *Monitor) writeProof(ctx context.Context, job Job, data []byte, dur time.Duration, log *logger.Logger) error {
	key := RenderKey(job.ID)
	if _, err := m.scratch.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   key,
		ContentType: "image/png",
		Reader:      bytes.NewReader(data),
		Size:        int64(len(data)),
	}); err != nil {
		return errors.Wrap(err, "monitor.proof", "write local render copy")
	}
	outputPath, err := m.scratch.Path(key)
	if err != nil {
		return err
	}

	pr, err := m.proofs.Generate(proof.Input{
		JobID:          job.ID,
		AssetPath:      job.AssetPath,
		PresetName:     job.PresetName,
		OutputPath:     outputPath,
		ProviderJobID:  job.ProviderJobID,
		RenderDuration: dur,
	})
	if err != nil {
		return err
	}
	doc, err := proof.Encode(pr)
	if err != nil {
		return err
	}
	log.Debug("proof encoded", "bytes", len(doc))
	return m.put(ctx, ProofKey(job.ID), "application/json", doc)
}

func (m *Monitor) put(ctx context.Context, key, contentType string, data []byte) error {
	_, err := m.storage.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   key,
		ContentType: contentType,
		Reader:      bytes.NewReader(data),
		Size:        int64(len(data)),
	})
	return err
}
