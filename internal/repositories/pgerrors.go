package repositories

import (
	stderrors "errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the job repository reacts to.
const (
	sqlstateUniqueViolation = "23505"
	sqlstateUndefinedTable  = "42P01"
)

func sqlState(err error) string {
	var pe *pgconn.PgError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

func IsUniqueViolation(err error) bool { return sqlState(err) == sqlstateUniqueViolation }

func IsUndefinedTable(err error) bool { return sqlState(err) == sqlstateUndefinedTable }
