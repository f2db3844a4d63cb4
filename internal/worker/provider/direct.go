package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/semaphore"

	"proofrender/internal/metrics"
	"proofrender/internal/models"
	"proofrender/internal/pkg/errors"
	"proofrender/internal/pkg/logger"
	"proofrender/internal/presets"
	"proofrender/internal/worker/renderer"
	"proofrender/internal/worker/util"
)

const (
	// LocalName is the name and id prefix of DirectProvider.
	LocalName = "local"

	// OutputFile is the rendered image inside a job's output directory.
	OutputFile = "render.png"

	initialProgress = 10
	maxEstimate     = 95
)

// DirectConfig sizes a DirectProvider.
type DirectConfig struct {
	// OutputDir holds one directory per job id.
	OutputDir string
	Width     int
	Height    int
	// Samples overrides the preset sample count when positive.
	Samples int
	// Timeout bounds each engine invocation.
	Timeout time.Duration
	// Nominal is the assumed render length used for progress estimates.
	Nominal time.Duration
	// Concurrency is the number of renders that may run at once.
	Concurrency int
}

// DirectProvider runs each job through the render engine on this host.
// Engine calls are bounded by a weighted semaphore sized independently of
// request handling; a job waits in queued until it gets a slot.
type DirectProvider struct {
	engine  renderer.Engine
	catalog *presets.Catalog
	spawn   Spawner
	cfg     DirectConfig
	slots   *semaphore.Weighted
	jobs    *table
	now     func() time.Time
	log     *logger.Logger
}

var _ Provider = (*DirectProvider)(nil)

func NewDirect(engine renderer.Engine, catalog *presets.Catalog, spawn Spawner, cfg DirectConfig, opts ...Option) *DirectProvider {
	o := buildOptions(opts)
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.Nominal <= 0 {
		cfg.Nominal = 60 * time.Second
	}
	return &DirectProvider{
		engine:  engine,
		catalog: catalog,
		spawn:   spawn,
		cfg:     cfg,
		slots:   semaphore.NewWeighted(int64(cfg.Concurrency)),
		jobs:    newTable(),
		now:     o.now,
		log:     o.log.WithComponent("provider.local"),
	}
}

func (p *DirectProvider) Name() string { return LocalName }

func (p *DirectProvider) Submit(ctx context.Context, jobID, assetPath, presetName string) (string, error) {
	const op = "provider.local.submit"

	if err := checkAsset(op, assetPath); err != nil {
		return "", err
	}
	if err := p.catalog.Validate(presetName); err != nil {
		return "", err
	}
	preset, err := p.catalog.Get(presetName)
	if err != nil {
		return "", err
	}

	outDir := filepath.Join(p.cfg.OutputDir, jobID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", errors.Wrap(err, op, "create output directory")
	}

	samples := preset.Samples
	if p.cfg.Samples > 0 {
		samples = p.cfg.Samples
	}
	req := renderer.Request{
		JobID:      jobID,
		AssetPath:  assetPath,
		OutputPath: filepath.Join(outDir, OutputFile),
		Preset:     preset,
		Width:      p.cfg.Width,
		Height:     p.cfg.Height,
		Samples:    samples,
	}

	id := util.NewID(LocalName)
	e := newEntry(p.now())
	e.outputPath = req.OutputPath
	p.jobs.put(id, e)

	p.spawn.Go("render "+id, func(ctx context.Context) {
		p.execute(ctx, id, e, req)
	})

	p.log.WithJobID(jobID).Info("render job queued",
		"provider_job_id", id,
		"preset", presetName,
	)
	return id, nil
}

// execute is the single writer of e.
func (p *DirectProvider) execute(ctx context.Context, id string, e *entry, req renderer.Request) {
	log := p.log.WithJobID(req.JobID).WithProviderJob(LocalName, id)

	if err := p.slots.Acquire(ctx, 1); err != nil {
		p.fail(e, "render canceled")
		log.Warn("render canceled while waiting for a slot")
		return
	}

	started := p.now().UTC()
	e.update(func(s *Snapshot) {
		s.Status = models.StatusProcessing
		s.StartedAt = &started
		s.ProgressPercent = initialProgress
		s.EstimatedTimeRemaining = ptr(int(p.cfg.Timeout.Seconds()))
	})
	log.Info("render started", "preset", req.Preset.Name)

	res, err := p.run(ctx, req)
	if err != nil {
		msg := errors.Message(err)
		if ctx.Err() != nil {
			msg = "render canceled"
		}
		p.fail(e, msg)
		log.Error("render failed", "error", err.Error())
		return
	}

	dur := res.Duration
	if dur <= 0 {
		dur = p.now().Sub(started)
	}
	done := p.now().UTC()
	e.update(func(s *Snapshot) {
		s.Status = models.StatusComplete
		s.ProgressPercent = 100
		s.EstimatedTimeRemaining = ptr(0)
		s.CompletedAt = &done
		s.RenderDuration = dur
	})
	metrics.ObserveRenderDuration(LocalName, dur)
	log.Info("render complete", "duration_s", dur.Seconds())
}

// run invokes the engine under the render timeout. The engine goroutine
// holds the render slot until the engine returns, even when run has
// already given up on it.
func (p *DirectProvider) run(ctx context.Context, req renderer.Request) (renderer.Result, error) {
	rctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	type outcome struct {
		res renderer.Result
		err error
	}
	done := make(chan outcome, 1)

	metrics.RenderStarted()
	go func() {
		defer p.slots.Release(1)
		defer metrics.RenderFinished()
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: errors.Execution(fmt.Sprintf("render engine panicked: %v", r))}
			}
		}()
		res, err := p.engine.Render(rctx, req)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && ctx.Err() == nil && rctx.Err() == context.DeadlineExceeded {
			return renderer.Result{}, renderer.TimeoutError(p.cfg.Timeout)
		}
		return o.res, o.err
	case <-rctx.Done():
		if ctx.Err() != nil {
			return renderer.Result{}, ctx.Err()
		}
		return renderer.Result{}, renderer.TimeoutError(p.cfg.Timeout)
	}
}

func (p *DirectProvider) fail(e *entry, msg string) {
	done := p.now().UTC()
	e.update(func(s *Snapshot) {
		s.Status = models.StatusFailed
		s.ErrorMessage = msg
		s.CompletedAt = &done
		s.EstimatedTimeRemaining = nil
	})
}

// Status recomputes progress for a processing entry from elapsed time:
// min(95, elapsed/nominal*100). The estimate replaces the value the task
// wrote at start and is computed on the copy; the entry is untouched.
func (p *DirectProvider) Status(_ context.Context, providerJobID string) (Snapshot, error) {
	e, err := p.jobs.get("provider.local.status", providerJobID)
	if err != nil {
		return Snapshot{}, err
	}
	snap := e.snapshot()
	if snap.Status == models.StatusProcessing && snap.StartedAt != nil {
		elapsed := max(p.now().Sub(*snap.StartedAt), 0)
		estimate := min(maxEstimate, int(elapsed*100/p.cfg.Nominal))
		snap.ProgressPercent = estimate
		remaining := max(p.cfg.Nominal-elapsed, 0)
		snap.EstimatedTimeRemaining = ptr(int(remaining.Seconds()))
	}
	return snap, nil
}

// Result reads the rendered file. A completed entry whose file is gone
// yields nil and a logged anomaly, not an error.
func (p *DirectProvider) Result(_ context.Context, providerJobID string) ([]byte, error) {
	e, err := p.jobs.get("provider.local.result", providerJobID)
	if err != nil {
		return nil, err
	}
	if e.snapshot().Status != models.StatusComplete {
		return nil, nil
	}
	data, err := os.ReadFile(e.outputPath)
	if err != nil {
		if os.IsNotExist(err) {
			p.log.Warn("render output missing for completed job",
				"provider_job_id", providerJobID,
				"path", e.outputPath,
			)
			return nil, nil
		}
		return nil, errors.Wrap(err, "provider.local.result", "read render output")
	}
	return data, nil
}
