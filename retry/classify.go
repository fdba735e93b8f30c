package retry

import (
	"context"
	"database/sql/driver"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// Markers for the error taxonomy. Stores mark errors they produce so the
// classifier can decide without knowing the driver.
var (
	// ErrConnection marks transient connectivity failures. Retryable.
	ErrConnection = errors.New("connection error")
	// ErrSyntax marks syntax or schema errors. Never retryable.
	ErrSyntax = errors.New("syntax or schema error")
	// ErrExecution marks failures raised while applying changes. Terminal
	// for their transaction scope.
	ErrExecution = errors.New("execution error")
)

// MySQL errors worth retrying: lock wait timeout, deadlock, server gone
// away, lost connection during query.
var retryableMySQLNumbers = map[uint16]struct{}{
	1205: {},
	1213: {},
	2006: {},
	2013: {},
}

// MySQL errors that must never retry, e.g. parse errors.
var terminalMySQLNumbers = map[uint16]struct{}{
	1064: {},
	1146: {},
}

var retryableSubstrings = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"timeout",
	"i/o timeout",
	"lock wait",
	"deadlock",
	"server has gone away",
	"bad connection",
	"try again",
}

var terminalSubstrings = []string{
	"syntax",
}

// IsRetryable classifies a failure as safe to re-issue. Connection-reset,
// timeout, lock-wait and deadlock classes retry; syntax and execution
// errors never do.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrSyntax) || errors.Is(err, ErrExecution) {
		return false
	}
	if errors.Is(err, ErrConnection) || errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		if _, ok := terminalMySQLNumbers[mysqlErr.Number]; ok {
			return false
		}
		if _, ok := retryableMySQLNumbers[mysqlErr.Number]; ok {
			return true
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		// Syntax error or access rule violation class.
		case strings.HasPrefix(pgErr.Code, "42"):
			return false
		// Serialization failure and deadlock detected.
		case pgErr.Code == "40001" || pgErr.Code == "40P01":
			return true
		// Connection exception class.
		case strings.HasPrefix(pgErr.Code, "08"):
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, s := range terminalSubstrings {
		if strings.Contains(msg, s) {
			return false
		}
	}
	for _, s := range retryableSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
