// Package repositories implements ports.JobStore over the filesystem,
// redis and postgres. Every backend stores the JSON form of
// models.JobRecord and applies models.JobUpdate inside an atomic
// read-modify-write.
package repositories

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"proofrender/internal/models"
	"proofrender/internal/pkg/errors"
)

func validateID(op, jobID string) error {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." || filepath.Base(jobID) != jobID {
		return errors.ValidationField("job_id", "invalid job id: "+jobID).WithField("op", op)
	}
	return nil
}

func jobNotFound(op, jobID string) error {
	e := errors.NotFound("job", jobID)
	e.Op = op
	return e
}

func encode(op string, rec models.JobRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, errors.Wrap(err, op, "encode job record")
	}
	return data, nil
}

func decode(op string, data []byte) (models.JobRecord, error) {
	var rec models.JobRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return models.JobRecord{}, errors.Wrap(err, op, "decode job record")
	}
	return rec, nil
}
