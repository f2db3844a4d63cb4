package provider

import (
	"fmt"
	"sync"
	"time"

	"proofrender/internal/config"
	"proofrender/internal/pkg/errors"
	"proofrender/internal/presets"
	"proofrender/internal/worker/renderer"
)

// Deps are the collaborators every provider variant is built from.
type Deps struct {
	Engine    renderer.Engine
	Catalog   *presets.Catalog
	Spawner   Spawner
	Direct    DirectConfig
	Delay     DelayPolicy
	QueuePoll time.Duration
	Options   []Option
}

// Factory builds the provider selected by RENDER_PROVIDER on first use and
// hands out the same instance afterwards. It is owned by the composition
// root; Reset and Replace exist for tests.
type Factory struct {
	name string
	deps Deps

	mu      sync.Mutex
	current Provider
}

func NewFactory(name string, deps Deps) *Factory {
	return &Factory{name: name, deps: deps}
}

// Provider returns the process provider, constructing it if needed.
// Selecting a backend that does not exist yet is UNAVAILABLE.
func (f *Factory) Provider() (Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current != nil {
		return f.current, nil
	}
	p, err := f.build()
	if err != nil {
		return nil, err
	}
	f.current = p
	return p, nil
}

// Reset drops the instance so the next Provider call rebuilds it.
func (f *Factory) Reset() {
	f.mu.Lock()
	f.current = nil
	f.mu.Unlock()
}

// Replace installs p as the instance.
func (f *Factory) Replace(p Provider) {
	f.mu.Lock()
	f.current = p
	f.mu.Unlock()
}

func (f *Factory) build() (Provider, error) {
	d := f.deps
	switch f.name {
	case config.ProviderLocal:
		return NewDirect(d.Engine, d.Catalog, d.Spawner, d.Direct, d.Options...), nil
	case config.ProviderMockAIDP, "":
		local := NewDirect(d.Engine, d.Catalog, d.Spawner, d.Direct, d.Options...)
		return NewSimulatedQueue(local, d.Catalog, d.Spawner, d.Delay, d.QueuePoll, d.Options...), nil
	case config.ProviderAIDP:
		return nil, errors.New(errors.CodeUnavailable,
			"render provider \"aidp\" is not implemented, use mock-aidp or local").
			WithField("provider", f.name)
	default:
		return nil, errors.ValidationField("RENDER_PROVIDER", fmt.Sprintf("unknown render provider %q", f.name))
	}
}
