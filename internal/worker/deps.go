package worker

import (
	"proofrender/internal/pkg/logger"
	"proofrender/internal/ports"
	"proofrender/internal/presets"
	"proofrender/internal/worker/monitor"
	"proofrender/internal/worker/provider"
)

// ProviderSource hands out the process render provider.
// *provider.Factory satisfies it.
type ProviderSource interface {
	Provider() (provider.Provider, error)
}

// Watcher starts a background monitor for an accepted submission.
// *monitor.Monitor satisfies it.
type Watcher interface {
	Start(p provider.Provider, job monitor.Job)
}

type Deps struct {
	Jobs      ports.JobStore
	Catalog   *presets.Catalog
	Providers ProviderSource
	Monitor   Watcher
	// UploadsDir holds {job_id}/asset.gltf for every uploaded job.
	UploadsDir string
	Log        *logger.Logger
}
