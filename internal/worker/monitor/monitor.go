// Package monitor reconciles provider job state into persisted job
// records. One Watch runs per accepted submission, outside any request.
package monitor

import (
	"context"
	"time"

	"github.com/lthibault/jitterbug/v2"

	"proofrender/internal/adapters/storage/localfs"
	"proofrender/internal/metrics"
	"proofrender/internal/models"
	"proofrender/internal/pkg/errors"
	"proofrender/internal/pkg/logger"
	"proofrender/internal/ports"
	"proofrender/internal/proof"
	"proofrender/internal/worker/provider"
)

const (
	DefaultPollInterval = 2 * time.Second

	// LostJobMessage is recorded when the provider no longer knows the job.
	LostJobMessage = "Provider lost job during processing"
)

type Deps struct {
	Jobs    ports.JobStore
	Storage ports.StorageProvider
	// Scratch is rooted at WORK_DIR and holds the local copy of each
	// render that proofs are hashed from.
	Scratch *localfs.LocalFS
	Proofs  *proof.Generator
	Spawner provider.Spawner

	PollInterval time.Duration
	PollJitter   time.Duration
	Now          func() time.Time
	Log          *logger.Logger
}

// Job identifies one submission being watched.
type Job struct {
	ID            string
	ProviderJobID string
	AssetPath     string
	PresetName    string
}

type Monitor struct {
	jobs    ports.JobStore
	storage ports.StorageProvider
	scratch *localfs.LocalFS
	proofs  *proof.Generator
	spawn   provider.Spawner
	poll    time.Duration
	jitter  time.Duration
	now     func() time.Time
	log     *logger.Logger
}

func New(d Deps) *Monitor {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	poll := d.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Monitor{
		jobs:    d.Jobs,
		storage: d.Storage,
		scratch: d.Scratch,
		proofs:  d.Proofs,
		spawn:   d.Spawner,
		poll:    poll,
		jitter:  max(d.PollJitter, 0),
		now:     now,
		log:     log.WithComponent("monitor"),
	}
}

// Start watches job on a background unit and returns immediately.
func (m *Monitor) Start(p provider.Provider, job Job) {
	m.spawn.Go("monitor "+job.ID, func(ctx context.Context) {
		_ = m.Watch(ctx, p, job)
	})
}

// Watch polls p until the job is terminal or lost and mirrors each
// snapshot onto the job record. It returns ctx.Err() when canceled and
// writes nothing after cancellation is observed.
func (m *Monitor) Watch(ctx context.Context, p provider.Provider, job Job) error {
	log := m.log.WithJobID(job.ID).WithProviderJob(p.Name(), job.ProviderJobID)
	log.Info("monitor started")

	ticker := jitterbug.New(m.poll, &jitterbug.Norm{Stdev: m.jitter})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("monitor canceled")
			return ctx.Err()
		case <-ticker.C:
		}

		snap, err := p.Status(ctx, job.ProviderJobID)
		if ctx.Err() != nil {
			log.Info("monitor canceled")
			return ctx.Err()
		}
		if err != nil {
			if errors.IsNotFound(err) {
				m.markLost(ctx, p, job, log)
				return nil
			}
			log.Warn("status poll failed", "error", err.Error())
			continue
		}

		switch snap.Status {
		case models.StatusComplete:
			m.complete(ctx, p, job, snap, log)
			return nil
		case models.StatusFailed:
			m.markFailed(ctx, p, job, snap.ErrorMessage, snap.CompletedAt, log)
			return nil
		default:
			m.update(ctx, job.ID, models.JobUpdate{
				Status:                 models.Ref(snap.Status),
				Provider:               models.Ref(p.Name()),
				ProviderJobID:          models.Ref(job.ProviderJobID),
				ProgressPercent:        models.Ref(snap.ProgressPercent),
				EstimatedTimeRemaining: snap.EstimatedTimeRemaining,
				StartedAt:              snap.StartedAt,
			}, log)
		}
	}
}

func (m *Monitor) markLost(ctx context.Context, p provider.Provider, job Job, log *logger.Logger) {
	metrics.IncreaseLostJobsMetric()
	log.Error("provider lost job", "code", string(errors.CodeLost))
	m.markFailed(ctx, p, job, LostJobMessage, nil, log)
}

func (m *Monitor) markFailed(ctx context.Context, p provider.Provider, job Job, msg string, at *time.Time, log *logger.Logger) {
	if msg == "" {
		msg = "render failed"
	}
	if at == nil {
		at = models.Ref(m.now().UTC())
	}
	if m.update(ctx, job.ID, models.JobUpdate{
		Status:                 models.Ref(models.StatusFailed),
		Error:                  models.Ref(msg),
		CompletedAt:            at,
		EstimatedTimeRemaining: models.Ref(0),
	}, log) {
		metrics.IncreaseJobsFinishedMetric(p.Name(), string(models.StatusFailed))
		log.Warn("job failed", "error", msg)
	}
}

// update writes upd unless ctx is done. It reports whether the write
// happened.
func (m *Monitor) update(ctx context.Context, jobID string, upd models.JobUpdate, log *logger.Logger) bool {
	if ctx.Err() != nil {
		return false
	}
	if _, err := m.jobs.Update(ctx, jobID, upd); err != nil {
		log.Error("job record update failed",
			"code", string(errors.GetCode(err)),
			"error", err.Error(),
		)
		return false
	}
	return true
}
