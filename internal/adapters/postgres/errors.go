package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	UniqueViolationCode     = "23505"
	ForeignKeyViolationCode = "23503"
	CheckViolationCode      = "23514"
)

func AsPgError(err error) (*pgconn.PgError, bool) {
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsViolation reports whether err is a Postgres error with the given code on the named constraint.
// An empty constraint matches any constraint.
func IsViolation(err error, code, constraint string) bool {
	pe, ok := AsPgError(err)
	if !ok || pe.Code != code {
		return false
	}
	return constraint == "" || pe.ConstraintName == constraint
}
