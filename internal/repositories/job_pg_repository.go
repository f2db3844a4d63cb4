package repositories

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"proofrender/internal/models"
	"proofrender/internal/pkg/errors"
	"proofrender/internal/ports"
)

// PostgresJobRepository stores each record as a JSONB row. Update locks
// the row with SELECT ... FOR UPDATE inside a transaction.
type PostgresJobRepository struct {
	db  *pgxpool.Pool
	now func() time.Time
}

var _ ports.JobStore = (*PostgresJobRepository)(nil)

func NewPostgresJobRepository(db *pgxpool.Pool) *PostgresJobRepository {
	return &PostgresJobRepository{db: db, now: time.Now}
}

func (r *PostgresJobRepository) Create(ctx context.Context, rec models.JobRecord) error {
	const op = "jobs.pg.create"
	if err := validateID(op, rec.JobID); err != nil {
		return err
	}
	data, err := encode(op, rec)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO render_jobs (id, status, record)
		VALUES ($1, $2, $3)
	`, rec.JobID, string(rec.Status), data)
	if err != nil {
		if IsUniqueViolation(err) {
			e := errors.AlreadyExists("job", rec.JobID)
			e.Op = op
			return e
		}
		return pgErr(err, op, "insert job record")
	}
	return nil
}

func (r *PostgresJobRepository) Get(ctx context.Context, jobID string) (models.JobRecord, error) {
	const op = "jobs.pg.get"
	if err := validateID(op, jobID); err != nil {
		return models.JobRecord{}, err
	}
	var data []byte
	err := r.db.QueryRow(ctx, `SELECT record FROM render_jobs WHERE id=$1`, jobID).Scan(&data)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return models.JobRecord{}, jobNotFound(op, jobID)
		}
		return models.JobRecord{}, pgErr(err, op, "select job record")
	}
	return decode(op, data)
}

func (r *PostgresJobRepository) Update(ctx context.Context, jobID string, upd models.JobUpdate) (models.JobRecord, error) {
	const op = "jobs.pg.update"
	if err := validateID(op, jobID); err != nil {
		return models.JobRecord{}, err
	}

	var out models.JobRecord
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var data []byte
		err := tx.QueryRow(ctx, `SELECT record FROM render_jobs WHERE id=$1 FOR UPDATE`, jobID).Scan(&data)
		if err != nil {
			if stderrors.Is(err, pgx.ErrNoRows) {
				return jobNotFound(op, jobID)
			}
			return pgErr(err, op, "lock job record")
		}
		rec, err := decode(op, data)
		if err != nil {
			return err
		}
		if err := upd.Apply(&rec, r.now()); err != nil {
			return err
		}
		next, err := encode(op, rec)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE render_jobs SET record=$2, status=$3, updated_at=NOW() WHERE id=$1
		`, jobID, next, string(rec.Status)); err != nil {
			return pgErr(err, op, "update job record")
		}
		out = rec
		return nil
	})
	if err != nil {
		var coded *errors.Error
		if errors.As(err, &coded) {
			return models.JobRecord{}, err
		}
		return models.JobRecord{}, pgErr(err, op, "update transaction")
	}
	return out, nil
}

func pgErr(err error, op, msg string) error {
	if IsUndefinedTable(err) {
		return errors.WrapWithCode(err, errors.CodeUnavailable, op, "render_jobs table missing, apply migrations")
	}
	return errors.WrapWithCode(err, errors.CodeUnavailable, op, msg)
}
