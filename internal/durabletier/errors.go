package durabletier

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// postgresErrorCode extracts the SQLSTATE code from err, if any, mirroring
// the teacher's database/postgres/errors.go PG-error-code inspection.
func postgresErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// isDuplicateKey reports whether err is a unique-violation (23505),
// the conflict upsert() retries on per spec.md §4.2.
func isDuplicateKey(err error) bool {
	return postgresErrorCode(err) == "23505"
}

// isNoRows reports whether err is pgx's no-rows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// connectionErrorCodes mirrors the teacher's DatabaseError.IsConnectionError
// PG-error-code set.
var connectionErrorCodes = map[string]bool{
	"08006": true, // connection_failure
	"57P01": true, // admin_shutdown
	"57P02": true, // crash_shutdown
	"57P03": true, // cannot_connect_now
	"53300": true, // too_many_connections
}

func isConnectionError(err error) bool {
	return connectionErrorCodes[postgresErrorCode(err)]
}
