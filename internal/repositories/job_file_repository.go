package repositories

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"proofrender/internal/models"
	"proofrender/internal/pkg/errors"
	"proofrender/internal/ports"
)

// MetadataFile is the per-job record file under the jobs directory.
const MetadataFile = "metadata.json"

// FileJobRepository keeps each record in {dir}/{job_id}/metadata.json.
// Updates hold a per-job lock and replace the file by rename, so readers
// never see a partial document.
type FileJobRepository struct {
	dir string
	now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ ports.JobStore = (*FileJobRepository)(nil)

func NewFileJobRepository(dir string) *FileJobRepository {
	return &FileJobRepository{
		dir:   dir,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

// Path returns the metadata file of jobID.
func (r *FileJobRepository) Path(jobID string) string {
	return filepath.Join(r.dir, jobID, MetadataFile)
}

func (r *FileJobRepository) Create(ctx context.Context, rec models.JobRecord) error {
	const op = "jobs.file.create"
	if err := validateID(op, rec.JobID); err != nil {
		return err
	}
	unlock := r.lock(rec.JobID)
	defer unlock()

	if _, err := os.Stat(r.Path(rec.JobID)); err == nil {
		e := errors.AlreadyExists("job", rec.JobID)
		e.Op = op
		return e
	}
	return r.write(op, rec)
}

func (r *FileJobRepository) Get(ctx context.Context, jobID string) (models.JobRecord, error) {
	const op = "jobs.file.get"
	if err := validateID(op, jobID); err != nil {
		return models.JobRecord{}, err
	}
	return r.read(op, jobID)
}

func (r *FileJobRepository) Update(ctx context.Context, jobID string, upd models.JobUpdate) (models.JobRecord, error) {
	const op = "jobs.file.update"
	if err := validateID(op, jobID); err != nil {
		return models.JobRecord{}, err
	}
	unlock := r.lock(jobID)
	defer unlock()

	rec, err := r.read(op, jobID)
	if err != nil {
		return models.JobRecord{}, err
	}
	if err := upd.Apply(&rec, r.now()); err != nil {
		return models.JobRecord{}, err
	}
	if err := r.write(op, rec); err != nil {
		return models.JobRecord{}, err
	}
	return rec, nil
}

func (r *FileJobRepository) lock(jobID string) func() {
	r.mu.Lock()
	l, ok := r.locks[jobID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[jobID] = l
	}
	r.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (r *FileJobRepository) read(op, jobID string) (models.JobRecord, error) {
	data, err := os.ReadFile(r.Path(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return models.JobRecord{}, jobNotFound(op, jobID)
		}
		return models.JobRecord{}, errors.Wrap(err, op, "read job metadata")
	}
	return decode(op, data)
}

func (r *FileJobRepository) write(op string, rec models.JobRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.Wrap(err, op, "encode job record")
	}

	dir := filepath.Join(r.dir, rec.JobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, op, "create job directory")
	}
	tmp, err := os.CreateTemp(dir, MetadataFile+".*.tmp")
	if err != nil {
		return errors.Wrap(err, op, "create temp metadata")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, op, "write temp metadata")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, op, "close temp metadata")
	}
	if err := os.Rename(tmp.Name(), r.Path(rec.JobID)); err != nil {
		return errors.Wrap(err, op, "replace metadata")
	}
	return nil
}
