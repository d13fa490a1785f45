package store

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// Transient reports whether a persistence error is worth retrying.
// Timeouts, broken connections, and serialization conflicts are
// transient; constraint, syntax, and validation errors are permanent
// and retrying them only wastes the backoff budget.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, io.EOF) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		// Class 08: connection exceptions.
		case strings.HasPrefix(pgErr.Code, "08"):
			return true
		// Class 53: insufficient resources (too many connections etc).
		case strings.HasPrefix(pgErr.Code, "53"):
			return true
		// Serialization failure / deadlock detected.
		case pgErr.Code == "40001", pgErr.Code == "40P01":
			return true
		// Admin shutdown family.
		case strings.HasPrefix(pgErr.Code, "57P"):
			return true
		}
		return false
	}

	if pgconn.SafeToRetry(err) {
		return true
	}
	return false
}
