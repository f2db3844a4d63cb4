// Package renderer runs the external render engine for one job.
package renderer

import (
	"context"
	"time"

	"proofrender/internal/presets"
)

// Request is one render: import AssetPath, apply Preset, write a PNG to
// OutputPath.
type Request struct {
	JobID      string
	AssetPath  string
	OutputPath string
	Preset     presets.Preset
	Width      int
	Height     int
	Samples    int
}

// Result describes a successful render.
type Result struct {
	OutputPath string
	Duration   time.Duration
}

// Engine is a long-running, possibly crashing render backend. Render must
// honor ctx cancellation. Failures are EXECUTION_FAILED errors, or
// UNAVAILABLE when the engine itself cannot be reached.
type Engine interface {
	Render(ctx context.Context, req Request) (Result, error)
	Version() string
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, req Request) (Result, error)

func (f EngineFunc) Render(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

func (f EngineFunc) Version() string { return "embedded" }
