// Package v0 is the wire contract between the render service and an HTTP
// renderer sidecar (RENDER_ENGINE=http).
package v0

// RenderSpec asks the sidecar to render one asset under one preset. Paths
// are on storage shared with the sidecar.
type RenderSpec struct {
	JobID      string         `json:"job_id"`
	AssetPath  string         `json:"asset_path"`
	OutputPath string         `json:"output_path"`
	Preset     map[string]any `json:"preset"`
	Resolution Resolution     `json:"resolution"`
	Samples    int            `json:"samples"`
}

type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// RenderResult is the sidecar reply. Error is set iff Success is false.
type RenderResult struct {
	Success         bool    `json:"success"`
	OutputPath      string  `json:"output_path"`
	DurationSeconds float64 `json:"duration_seconds"`
	Error           *string `json:"error"`
	EngineVersion   string  `json:"engine_version,omitempty"`
}
