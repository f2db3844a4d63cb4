package provider

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofrender/internal/config"
	"proofrender/internal/models"
	"proofrender/internal/pkg/errors"
	"proofrender/internal/worker/renderer"
	"proofrender/internal/worker/util"
)

// forgetfulProvider accepts jobs and then denies knowing them.
type forgetfulProvider struct {
	submits atomic.Int32
}

func (f *forgetfulProvider) Name() string { return "forgetful" }

func (f *forgetfulProvider) Submit(ctx context.Context, jobID, assetPath, presetName string) (string, error) {
	f.submits.Add(1)
	return "forgetful_1", nil
}

func (f *forgetfulProvider) Status(ctx context.Context, id string) (Snapshot, error) {
	return Snapshot{}, errors.NotFound("provider job", id)
}

func (f *forgetfulProvider) Result(ctx context.Context, id string) ([]byte, error) {
	return nil, errors.NotFound("provider job", id)
}

func newQueue(t *testing.T, engine renderer.Engine, delay DelayPolicy) *SimulatedQueueProvider {
	spawn := newGoSpawner(t)
	local := NewDirect(engine, catalog(t), spawn, directConfig(t))
	return NewSimulatedQueue(local, catalog(t), spawn, delay, 10*time.Millisecond)
}

func TestQueueSubmitStartsQueued(t *testing.T) {
	p := newQueue(t, writingEngine("png"), FixedDelay(time.Hour))

	id, err := p.Submit(context.Background(), "job-1", writeAsset(t), "studio")
	require.NoError(t, err)
	assert.True(t, util.HasPrefix(id, AIDPName), id)

	snap, err := p.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, snap.Status)
	assert.Equal(t, SimulatedProviderID, snap.ProviderID)
	assert.Nil(t, snap.EstimatedCompletion)

	data, err := p.Result(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, data, "no delegation has happened yet")
}

func TestQueueCompletesThroughDelegate(t *testing.T) {
	p := newQueue(t, writingEngine("rendered"), FixedDelay(0))

	id, err := p.Submit(context.Background(), "job-1", writeAsset(t), "studio")
	require.NoError(t, err)

	snap := waitStatus(t, p, id, models.StatusComplete)
	assert.Equal(t, 100, snap.ProgressPercent)
	assert.Equal(t, 3*time.Second, snap.RenderDuration)
	require.NotNil(t, snap.CompletedAt)
	require.NotNil(t, snap.EstimatedCompletion)
	assert.Equal(t, *snap.CompletedAt, *snap.EstimatedCompletion)

	data, err := p.Result(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "rendered", string(data))
}

func TestQueueMirrorsDelegateFailure(t *testing.T) {
	engine := renderer.EngineFunc(func(ctx context.Context, req renderer.Request) (renderer.Result, error) {
		return renderer.Result{}, errors.Execution("Insufficient RAM for render")
	})
	p := newQueue(t, engine, FixedDelay(0))

	id, err := p.Submit(context.Background(), "job-1", writeAsset(t), "studio")
	require.NoError(t, err)

	snap := waitStatus(t, p, id, models.StatusFailed)
	assert.Equal(t, "Insufficient RAM for render", snap.ErrorMessage)
}

func TestQueueLostJob(t *testing.T) {
	delegate := &forgetfulProvider{}
	p := NewSimulatedQueue(delegate, catalog(t), newGoSpawner(t), FixedDelay(0), 10*time.Millisecond)

	id, err := p.Submit(context.Background(), "job-1", writeAsset(t), "studio")
	require.NoError(t, err)

	snap := waitStatus(t, p, id, models.StatusFailed)
	assert.Equal(t, LostJobMessage, snap.ErrorMessage)
	assert.Equal(t, int32(1), delegate.submits.Load())
}

func TestQueueProcessingEstimate(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	release := make(chan struct{})
	defer close(release)

	spawn := newGoSpawner(t)
	local := NewDirect(blockingEngine(release), catalog(t), spawn, directConfig(t), WithClock(clock.Now))
	p := NewSimulatedQueue(local, catalog(t), spawn, FixedDelay(0), 10*time.Millisecond, WithClock(clock.Now))

	id, err := p.Submit(context.Background(), "job-1", writeAsset(t), "studio")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, err := p.Status(context.Background(), id)
		return err == nil && s.Status == models.StatusProcessing && s.EstimatedTimeRemaining != nil
	}, 5*time.Second, 5*time.Millisecond)

	snap, err := p.Status(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, snap.EstimatedCompletion)
	want := clock.Now().Add(time.Duration(*snap.EstimatedTimeRemaining) * time.Second)
	assert.Equal(t, want, *snap.EstimatedCompletion)
}

func TestQueueRejectsBadInput(t *testing.T) {
	p := newQueue(t, writingEngine("png"), FixedDelay(0))

	_, err := p.Submit(context.Background(), "job-1", filepath.Join(t.TempDir(), "nope.glb"), "studio")
	assert.True(t, errors.IsNotFound(err))

	_, err = p.Submit(context.Background(), "job-1", writeAsset(t), "")
	assert.True(t, errors.IsValidation(err))

	assert.Equal(t, 0, p.jobs.len())

	_, err = p.Status(context.Background(), "aidp_unknown")
	assert.True(t, errors.IsNotFound(err))
	_, err = p.Result(context.Background(), "aidp_unknown")
	assert.True(t, errors.IsNotFound(err))
}

func TestUniformDelay(t *testing.T) {
	d := NewUniformDelay(2*time.Second, 5*time.Second, 1)
	for range 500 {
		v := d.Delay()
		assert.GreaterOrEqual(t, v, 2*time.Second)
		assert.LessOrEqual(t, v, 5*time.Second)
	}

	fixed := NewUniformDelay(time.Second, time.Second, 1)
	assert.Equal(t, time.Second, fixed.Delay())
	assert.Equal(t, 250*time.Millisecond, FixedDelay(250*time.Millisecond).Delay())
}

func TestFactory(t *testing.T) {
	deps := Deps{
		Engine:    writingEngine("png"),
		Catalog:   catalog(t),
		Spawner:   &heldSpawner{},
		Direct:    directConfig(t),
		Delay:     FixedDelay(0),
		QueuePoll: 10 * time.Millisecond,
	}

	t.Run("mock-aidp is the default", func(t *testing.T) {
		f := NewFactory("", deps)
		p, err := f.Provider()
		require.NoError(t, err)
		assert.IsType(t, &SimulatedQueueProvider{}, p)
		assert.Equal(t, AIDPName, p.Name())
	})

	t.Run("local", func(t *testing.T) {
		f := NewFactory(config.ProviderLocal, deps)
		p, err := f.Provider()
		require.NoError(t, err)
		assert.IsType(t, &DirectProvider{}, p)
		assert.Equal(t, LocalName, p.Name())
	})

	t.Run("same instance until reset", func(t *testing.T) {
		f := NewFactory(config.ProviderMockAIDP, deps)
		a, err := f.Provider()
		require.NoError(t, err)
		b, err := f.Provider()
		require.NoError(t, err)
		assert.Same(t, a, b)

		f.Reset()
		c, err := f.Provider()
		require.NoError(t, err)
		assert.NotSame(t, a, c)
	})

	t.Run("replace", func(t *testing.T) {
		f := NewFactory(config.ProviderMockAIDP, deps)
		fake := &forgetfulProvider{}
		f.Replace(fake)
		p, err := f.Provider()
		require.NoError(t, err)
		assert.Same(t, fake, p)
	})

	t.Run("aidp is not implemented", func(t *testing.T) {
		f := NewFactory(config.ProviderAIDP, deps)
		_, err := f.Provider()
		require.Error(t, err)
		assert.True(t, errors.IsUnavailable(err))
		assert.Contains(t, err.Error(), "not implemented")
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := NewFactory("carrier-pigeon", deps).Provider()
		assert.True(t, errors.IsValidation(err))
	})
}

func TestQueueStatusNeverMovesBackward(t *testing.T) {
	p := newQueue(t, sleepingEngine(30*time.Millisecond), FixedDelay(20*time.Millisecond))

	id, err := p.Submit(context.Background(), "job-1", writeAsset(t), "studio")
	require.NoError(t, err)

	seen := pollUntilTerminal(t, p, id)
	assert.Equal(t, models.StatusQueued, seen[0])
	assert.Equal(t, models.StatusComplete, seen[len(seen)-1])
	assert.Contains(t, seen, models.StatusProcessing)
}
