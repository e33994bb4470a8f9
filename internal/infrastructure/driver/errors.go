package driver

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgconn"
	"modernc.org/sqlite"
)

// ErrorKind coarse classification of driver failures
type ErrorKind int

const (
	// KindUnknown any other failure
	KindUnknown ErrorKind = iota
	// KindDuplicate unique key violation
	KindDuplicate
	// KindRetryable deadlock, serialization failure, lock timeout or lost connection
	KindRetryable
	// KindCanceled the caller gave up
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindDuplicate:
		return "duplicate"
	case KindRetryable:
		return "retryable"
	case KindCanceled:
		return "canceled"
	}
	return "unknown"
}

// sqlite result codes, see https://www.sqlite.org/rescode.html
const (
	sqliteBusy             = 5
	sqliteLocked           = 6
	sqliteConstraintUnique = 2067
	sqliteConstraintPK     = 1555
)

// ClassifyError maps driver specific errors of every supported driver to an ErrorKind
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	if errors.Is(err, driver.ErrBadConn) {
		return KindRetryable
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return KindDuplicate
		case "40001", "40P01", "55P03", "57P01":
			return KindRetryable
		}
		if len(pgErr.Code) == 5 && pgErr.Code[:2] == "08" {
			return KindRetryable // connection exception class
		}
		return KindUnknown
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1062:
			return KindDuplicate
		case 1205, 1213:
			return KindRetryable
		}
		return KindUnknown
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqliteConstraintUnique, sqliteConstraintPK:
			return KindDuplicate
		case sqliteBusy, sqliteLocked:
			return KindRetryable
		}
		return KindUnknown
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindRetryable
	}
	return KindUnknown
}
