package ports

import (
	"context"

	"proofrender/internal/models"
)

// JobStore persists job records keyed by job id. Update is an atomic
// read-modify-write: concurrent updates of one record never interleave.
// Get and Update return a NOT_FOUND error for unknown ids.
type JobStore interface {
	Create(ctx context.Context, rec models.JobRecord) error
	Get(ctx context.Context, jobID string) (models.JobRecord, error)
	Update(ctx context.Context, jobID string, upd models.JobUpdate) (models.JobRecord, error)
}
