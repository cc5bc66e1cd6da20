package pgx

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// isConnError reports failures that say nothing about the statement itself:
// unreachable server, dropped connection, admin shutdown or exhausted
// connection slots.
func isConnError(err error) bool {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "57P01" || pgErr.Code == "53300"
	}
	return false
}
