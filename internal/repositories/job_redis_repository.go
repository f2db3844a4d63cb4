package repositories

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"

	"proofrender/internal/models"
	"proofrender/internal/pkg/errors"
	"proofrender/internal/ports"
)

const (
	redisKeyPrefix   = "proofrender:job:"
	redisMaxAttempts = 8
)

// RedisJobRepository stores records as JSON strings under
// proofrender:job:{job_id}. Update runs an optimistic WATCH/MULTI
// transaction and retries when another writer got there first.
type RedisJobRepository struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

var _ ports.JobStore = (*RedisJobRepository)(nil)

// NewRedisJobRepository stores records with the given TTL; zero keeps
// them forever.
func NewRedisJobRepository(rdb *redis.Client, ttl time.Duration) *RedisJobRepository {
	return &RedisJobRepository{rdb: rdb, ttl: ttl, now: time.Now}
}

func redisKey(jobID string) string { return redisKeyPrefix + jobID }

func (r *RedisJobRepository) Create(ctx context.Context, rec models.JobRecord) error {
	const op = "jobs.redis.create"
	if err := validateID(op, rec.JobID); err != nil {
		return err
	}
	data, err := encode(op, rec)
	if err != nil {
		return err
	}
	ok, err := r.rdb.SetNX(ctx, redisKey(rec.JobID), data, r.ttl).Result()
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, op, "redis setnx")
	}
	if !ok {
		e := errors.AlreadyExists("job", rec.JobID)
		e.Op = op
		return e
	}
	return nil
}

func (r *RedisJobRepository) Get(ctx context.Context, jobID string) (models.JobRecord, error) {
	const op = "jobs.redis.get"
	if err := validateID(op, jobID); err != nil {
		return models.JobRecord{}, err
	}
	data, err := r.rdb.Get(ctx, redisKey(jobID)).Bytes()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return models.JobRecord{}, jobNotFound(op, jobID)
		}
		return models.JobRecord{}, errors.WrapWithCode(err, errors.CodeUnavailable, op, "redis get")
	}
	return decode(op, data)
}

func (r *RedisJobRepository) Update(ctx context.Context, jobID string, upd models.JobUpdate) (models.JobRecord, error) {
	const op = "jobs.redis.update"
	if err := validateID(op, jobID); err != nil {
		return models.JobRecord{}, err
	}
	key := redisKey(jobID)

	var out models.JobRecord
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if stderrors.Is(err, redis.Nil) {
				return jobNotFound(op, jobID)
			}
			return err
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
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			// KeepTTL preserves the expiry set at creation.
			pipe.SetArgs(ctx, key, next, redis.SetArgs{KeepTTL: true})
			return nil
		})
		if err == nil {
			out = rec
		}
		return err
	}

	for range redisMaxAttempts {
		err := r.rdb.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if stderrors.Is(err, redis.TxFailedErr) {
			continue
		}
		var coded *errors.Error
		if errors.As(err, &coded) {
			return models.JobRecord{}, err
		}
		return models.JobRecord{}, errors.WrapWithCode(err, errors.CodeUnavailable, op, "redis transaction")
	}
	return models.JobRecord{}, errors.Conflict("job record is being updated concurrently").
		WithField("job_id", jobID)
}
