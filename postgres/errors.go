package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrPoolRequired is returned when a nil pool is provided.
	ErrPoolRequired = errors.New("convdispatch postgres: pool is required")
	// ErrSchemaMissing is returned when the stored functions are not installed.
	ErrSchemaMissing = errors.New("convdispatch postgres: schema is missing, run migrate")
	// ErrCleanupBeforeRequired is returned when cleanup cutoff is missing.
	ErrCleanupBeforeRequired = errors.New("convdispatch postgres: cleanup before time is required")
	// ErrCleanupLimitInvalid is returned when cleanup limit is negative.
	ErrCleanupLimitInvalid = errors.New("convdispatch postgres: cleanup limit must be non-negative")
)

const (
	codeUndefinedTable    = "42P01"
	codeUndefinedFunction = "42883"
)

// isSchemaMissing reports whether err was raised because a table or function does not exist.
func isSchemaMissing(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeUndefinedTable || pgErr.Code == codeUndefinedFunction
	}

	return false
}

func classify(err error) error {
	if isSchemaMissing(err) {
		return errors.Join(ErrSchemaMissing, err)
	}

	return err
}
