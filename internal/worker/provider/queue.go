package provider

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/lthibault/jitterbug/v2"

	"proofrender/internal/models"
	"proofrender/internal/pkg/errors"
	"proofrender/internal/pkg/logger"
	"proofrender/internal/presets"
	"proofrender/internal/worker/util"
)

const (
	// AIDPName is the name and id prefix of SimulatedQueueProvider.
	AIDPName = "aidp"

	// SimulatedProviderID identifies the simulated GPU network node.
	SimulatedProviderID = "mock-provider-001"

	// LostJobMessage is recorded when the wrapped provider forgets a job.
	LostJobMessage = "Local provider lost job"

	DefaultDelayMin     = 2 * time.Second
	DefaultDelayMax     = 5 * time.Second
	DefaultPollInterval = time.Second
)

// DelayPolicy picks the simulated queue wait for one submission.
type DelayPolicy interface {
	Delay() time.Duration
}

// FixedDelay always waits the same time. Zero skips the queue phase.
type FixedDelay time.Duration

func (d FixedDelay) Delay() time.Duration { return time.Duration(d) }

// UniformDelay draws the wait uniformly from [Min, Max].
type UniformDelay struct {
	Min, Max time.Duration

	mu  sync.Mutex
	src *rand.Rand
}

func NewUniformDelay(lo, hi time.Duration, seed int64) *UniformDelay {
	return &UniformDelay{Min: lo, Max: hi, src: rand.New(rand.NewSource(seed))}
}

func (u *UniformDelay) Delay() time.Duration {
	span := u.Max - u.Min
	if span <= 0 {
		return u.Min
	}
	u.mu.Lock()
	d := jitterbug.Uniform{Source: u.src, Min: u.Min}.Jitter(span)
	u.mu.Unlock()
	return min(max(d, u.Min), u.Max)
}

// SimulatedQueueProvider emulates a remote render queue. Each job waits a
// policy-chosen delay in queued, is then handed to the wrapped provider
// with the same asset and preset, and mirrors the wrapped job's progress
// until it is terminal. Job ids live in their own aidp_ namespace.
type SimulatedQueueProvider struct {
	delegate Provider
	catalog  *presets.Catalog
	spawn    Spawner
	delay    DelayPolicy
	poll     time.Duration
	jobs     *table
	now      func() time.Time
	log      *logger.Logger
}

var _ Provider = (*SimulatedQueueProvider)(nil)

func NewSimulatedQueue(delegate Provider, catalog *presets.Catalog, spawn Spawner, delay DelayPolicy, poll time.Duration, opts ...Option) *SimulatedQueueProvider {
	o := buildOptions(opts)
	if delay == nil {
		delay = NewUniformDelay(DefaultDelayMin, DefaultDelayMax, time.Now().UnixNano())
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &SimulatedQueueProvider{
		delegate: delegate,
		catalog:  catalog,
		spawn:    spawn,
		delay:    delay,
		poll:     poll,
		jobs:     newTable(),
		now:      o.now,
		log:      o.log.WithComponent("provider.aidp"),
	}
}

func (p *SimulatedQueueProvider) Name() string { return AIDPName }

func (p *SimulatedQueueProvider) Submit(ctx context.Context, jobID, assetPath, presetName string) (string, error) {
	if err := checkAsset("provider.aidp.submit", assetPath); err != nil {
		return "", err
	}
	if err := p.catalog.Validate(presetName); err != nil {
		return "", err
	}

	id := util.NewID(AIDPName)
	delay := p.delay.Delay()
	e := newEntry(p.now())
	e.snap.ProviderID = SimulatedProviderID
	p.jobs.put(id, e)

	p.spawn.Go("queue "+id, func(ctx context.Context) {
		p.lifecycle(ctx, id, e, jobID, assetPath, presetName, delay)
	})

	p.log.WithJobID(jobID).Info("job submitted to simulated queue",
		"provider_job_id", id,
		"queue_delay_s", delay.Seconds(),
	)
	return id, nil
}

func (p *SimulatedQueueProvider) lifecycle(ctx context.Context, id string, e *entry, jobID, assetPath, presetName string, delay time.Duration) {
	log := p.log.WithJobID(jobID).WithProviderJob(AIDPName, id)

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.fail(e, "render canceled")
			return
		case <-timer.C:
		}
	}

	started := p.now().UTC()
	e.update(func(s *Snapshot) {
		s.Status = models.StatusProcessing
		s.StartedAt = &started
	})

	delegateID, err := p.delegate.Submit(ctx, jobID, assetPath, presetName)
	if err != nil {
		p.fail(e, errors.Message(err))
		log.Error("delegate submit failed", "error", err.Error())
		return
	}
	e.mu.Lock()
	e.delegateID = delegateID
	e.mu.Unlock()
	log.Info("job left simulated queue", "delegate_job_id", delegateID)

	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.fail(e, "render canceled")
			return
		case <-ticker.C:
		}

		ds, err := p.delegate.Status(ctx, delegateID)
		if err != nil {
			if errors.IsNotFound(err) {
				p.fail(e, LostJobMessage)
				log.Error("delegate lost job", "delegate_job_id", delegateID)
				return
			}
			log.Warn("delegate status failed", "error", err.Error())
			continue
		}

		e.update(func(s *Snapshot) {
			s.ProgressPercent = ds.ProgressPercent
			s.EstimatedTimeRemaining = copyPtr(ds.EstimatedTimeRemaining)
			if !ds.Status.IsTerminal() {
				return
			}
			s.Status = ds.Status
			s.ErrorMessage = ds.ErrorMessage
			s.RenderDuration = ds.RenderDuration
			s.CompletedAt = copyPtr(ds.CompletedAt)
			if s.CompletedAt == nil {
				s.CompletedAt = ptr(p.now().UTC())
			}
		})
		if ds.Status.IsTerminal() {
			log.Info("simulated job finished", "status", string(ds.Status))
			return
		}
	}
}

func (p *SimulatedQueueProvider) fail(e *entry, msg string) {
	done := p.now().UTC()
	e.update(func(s *Snapshot) {
		s.Status = models.StatusFailed
		s.ErrorMessage = msg
		s.CompletedAt = &done
		s.EstimatedTimeRemaining = nil
	})
}

// Status adds the network identifier and an estimated completion time
// derived from the remaining estimate.
func (p *SimulatedQueueProvider) Status(_ context.Context, providerJobID string) (Snapshot, error) {
	e, err := p.jobs.get("provider.aidp.status", providerJobID)
	if err != nil {
		return Snapshot{}, err
	}
	snap := e.snapshot()
	switch {
	case snap.Status.IsTerminal():
		snap.EstimatedCompletion = copyPtr(snap.CompletedAt)
	case snap.Status == models.StatusProcessing && snap.EstimatedTimeRemaining != nil:
		eta := p.now().UTC().Add(time.Duration(*snap.EstimatedTimeRemaining) * time.Second)
		snap.EstimatedCompletion = &eta
	}
	return snap, nil
}

// Result delegates to the wrapped provider. It is nil until the job has
// been handed over and completed.
func (p *SimulatedQueueProvider) Result(ctx context.Context, providerJobID string) ([]byte, error) {
	e, err := p.jobs.get("provider.aidp.result", providerJobID)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	status, delegateID := e.snap.Status, e.delegateID
	e.mu.RUnlock()
	if status != models.StatusComplete || delegateID == "" {
		return nil, nil
	}
	return p.delegate.Result(ctx, delegateID)
}
