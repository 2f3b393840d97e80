package db

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrConnection is returned when a tenant handle is nil, closed or unreachable.
var ErrConnection = errors.New("tenant connection unavailable")

// ErrorKind is the machine-readable class of a tenant database error.
// Callers switch on the kind and never on vendor codes.
type ErrorKind string

const (
	KindUndefinedColumn       ErrorKind = "undefined_column"
	KindUndefinedTable        ErrorKind = "undefined_table"
	KindDuplicateObject       ErrorKind = "duplicate_object"
	KindDuplicateTable        ErrorKind = "duplicate_table"
	KindDuplicateColumn       ErrorKind = "duplicate_column"
	KindInsufficientPrivilege ErrorKind = "insufficient_privilege"
	KindConstraintViolation   ErrorKind = "constraint_violation"
	KindSyntaxError           ErrorKind = "syntax_error"
	KindReadOnly              ErrorKind = "read_only_violation"
	KindCanceled              ErrorKind = "canceled"
	KindConnection            ErrorKind = "connection"
	KindUnknown               ErrorKind = "unknown"
)

// Duplicate reports kinds raised when an object being created already exists.
func (k ErrorKind) Duplicate() bool {
	return k == KindDuplicateObject || k == KindDuplicateTable || k == KindDuplicateColumn
}

// Error is a tenant database failure tagged with its kind.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

var sqlstateKinds = map[string]ErrorKind{
	"42703": KindUndefinedColumn,
	"42P01": KindUndefinedTable,
	"42P07": KindDuplicateTable,
	"42701": KindDuplicateColumn,
	"42710": KindDuplicateObject,
	"42P06": KindDuplicateObject,
	"42723": KindDuplicateObject,
	"42501": KindInsufficientPrivilege,
	"42601": KindSyntaxError,
	"25006": KindReadOnly,
	"57014": KindCanceled,
}

// Classify wraps err into an *Error. A nil err stays nil.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return already
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		kind, ok := sqlstateKinds[pgErr.Code]
		switch {
		case ok:
		case strings.HasPrefix(pgErr.Code, "23"):
			kind = KindConstraintViolation
		case strings.HasPrefix(pgErr.Code, "08"):
			kind = KindConnection
		default:
			kind = KindUnknown
		}
		return &Error{Kind: kind, Code: pgErr.Code, Message: pgErr.Message, Err: err}
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindCanceled, Message: err.Error(), Err: err}
	case errors.Is(err, ErrConnection), pgconn.SafeToRetry(err), isNetError(err):
		return &Error{Kind: KindConnection, Message: err.Error(), Err: err}
	}
	return &Error{Kind: KindUnknown, Message: err.Error(), Err: err}
}

// KindOf returns the kind of err, or KindUnknown for untagged errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(Classify(err), &e) {
		return e.Kind
	}
	return KindUnknown
}

func isNetError(err error) bool {
	var netErr net.Error
	var connectErr *pgconn.ConnectError
	return errors.As(err, &netErr) || errors.As(err, &connectErr)
}
