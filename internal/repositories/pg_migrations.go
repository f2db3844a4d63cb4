package repositories

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"proofrender/internal/pkg/errors"
	"proofrender/internal/pkg/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies the embedded render_jobs migrations to the pool's database.
func Migrate(ctx context.Context, pool *pgxpool.Pool, log *logger.Logger) error {
	const op = "jobs.pg.migrate"
	if log == nil {
		log = logger.NewDiscard()
	}
	goose.SetLogger(gooseLogger{log: log.WithComponent("migrations")})
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, op, "set goose dialect")
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, op, "apply migrations")
	}
	return nil
}

type gooseLogger struct {
	log *logger.Logger
}

func (g gooseLogger) Printf(format string, v ...interface{}) {
	g.log.Info(fmt.Sprintf(format, v...))
}

func (g gooseLogger) Fatalf(format string, v ...interface{}) {
	g.log.Error(fmt.Sprintf(format, v...))
}
