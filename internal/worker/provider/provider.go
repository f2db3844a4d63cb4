// Package provider runs render jobs behind a common contract. A provider
// owns an in-memory table of job entries keyed by its own job ids; each
// entry is written only by the background task that owns it and may be
// read by any number of concurrent Status calls.
package provider

import (
	"context"
	"os"
	"sync"
	"time"

	"proofrender/internal/models"
	"proofrender/internal/pkg/errors"
)

// Provider is a backend that executes render jobs and reports on them.
type Provider interface {
	// Name is the stable name reported on job records ("local", "aidp").
	Name() string

	// Submit schedules a render and returns the provider job id without
	// waiting for it. A missing asset is NOT_FOUND and an unknown preset a
	// VALIDATION_ERROR; neither creates an entry.
	Submit(ctx context.Context, jobID, assetPath, presetName string) (string, error)

	// Status returns a snapshot of the entry, or NOT_FOUND for ids this
	// instance never produced.
	Status(ctx context.Context, providerJobID string) (Snapshot, error)

	// Result returns the rendered bytes once the entry is
	// rendering_complete and nil before that. Unknown ids are NOT_FOUND.
	Result(ctx context.Context, providerJobID string) ([]byte, error)
}

// Snapshot is a point-in-time copy of a provider job entry.
type Snapshot struct {
	Status                 models.Status
	ProgressPercent        int
	EstimatedTimeRemaining *int
	ErrorMessage           string
	QueuedAt               time.Time
	StartedAt              *time.Time
	CompletedAt            *time.Time
	RenderDuration         time.Duration

	// Set by the simulated queue only.
	ProviderID          string
	EstimatedCompletion *time.Time
}

// Spawner starts a named background unit. shutdown.Manager satisfies it,
// so provider tasks are canceled and drained on shutdown.
type Spawner interface {
	Go(name string, fn func(ctx context.Context))
}

// SpawnFunc adapts a function to Spawner.
type SpawnFunc func(name string, fn func(ctx context.Context))

func (f SpawnFunc) Go(name string, fn func(ctx context.Context)) { f(name, fn) }

// entry is one provider job. mu guards snap and delegateID; the owning
// task is the only writer after Submit returns.
type entry struct {
	outputPath string

	mu         sync.RWMutex
	snap       Snapshot
	delegateID string
}

func newEntry(now time.Time) *entry {
	return &entry{snap: Snapshot{
		Status:   models.StatusQueued,
		QueuedAt: now.UTC(),
	}}
}

func (e *entry) snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.snap
	s.EstimatedTimeRemaining = copyPtr(s.EstimatedTimeRemaining)
	s.StartedAt = copyPtr(s.StartedAt)
	s.CompletedAt = copyPtr(s.CompletedAt)
	s.EstimatedCompletion = copyPtr(s.EstimatedCompletion)
	return s
}

// update applies fn under the entry lock unless the entry is already
// terminal. It reports whether fn ran.
func (e *entry) update(fn func(s *Snapshot)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snap.Status.IsTerminal() {
		return false
	}
	fn(&e.snap)
	return true
}

// table maps provider job ids to entries.
type table struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func newTable() *table {
	return &table{entries: make(map[string]*entry)}
}

func (t *table) put(id string, e *entry) {
	t.mu.Lock()
	t.entries[id] = e
	t.mu.Unlock()
}

func (t *table) get(op, id string) (*entry, error) {
	t.mu.RLock()
	e, ok := t.entries[id]
	t.mu.RUnlock()
	if !ok {
		err := errors.NotFound("provider job", id)
		err.Op = op
		return nil, err
	}
	return e, nil
}

func (t *table) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func checkAsset(op, assetPath string) error {
	info, err := os.Stat(assetPath)
	if err != nil {
		if os.IsNotExist(err) {
			e := errors.NotFound("asset", assetPath)
			e.Op = op
			return e
		}
		return errors.Wrap(err, op, "stat asset")
	}
	if info.IsDir() {
		return errors.ValidationField("asset_path", "asset path is a directory: "+assetPath)
	}
	return nil
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func ptr[T any](v T) *T { return &v }
