package database

import (
	"context"
	"database/sql/driver"
	"strings"

	"github.com/bitechdev/TableSpec/pkg/common"
	"github.com/bitechdev/TableSpec/pkg/metrics"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

const (
	ClassConstraint = "constraint_violation"
	ClassData       = "data_exception"
	ClassSyntax     = "syntax_or_access"
	ClassConnection = "connection"
	ClassCanceled   = "canceled"
	ClassOther      = "other"
)

// Classify turns a driver error into a KindDatabase error carrying the
// diagnostics the driver exposes. The original error stays in the chain.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	fields := map[string]string{}
	class := ClassOther

	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pgErr):
		fields["sqlstate"] = pgErr.SQLState()
		if pgErr.ConstraintName != "" {
			fields["constraint"] = pgErr.ConstraintName
		}
		if pgErr.ColumnName != "" {
			fields["column"] = pgErr.ColumnName
		}
		if pgErr.Detail != "" {
			fields["detail"] = pgErr.Detail
		}
		class = pgClass(pgErr.SQLState())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		class = ClassCanceled
	case errors.Is(err, driver.ErrBadConn):
		class = ClassConnection
	default:
		class = sqliteClass(err.Error())
	}
	fields["class"] = class

	metrics.DBErrors.WithLabelValues(class).Inc()

	return &common.Error{
		Kind:    common.KindDatabase,
		Op:      op,
		Message: "database operation failed",
		Fields:  fields,
		Err:     errors.WithStack(err),
	}
}

func pgClass(code string) string {
	if len(code) < 2 {
		return ClassOther
	}
	switch code[:2] {
	case "23":
		return ClassConstraint
	case "22":
		return ClassData
	case "42":
		return ClassSyntax
	case "08", "53", "57":
		return ClassConnection
	default:
		return ClassOther
	}
}

// sqliteClass inspects the message; the embedded sqlite driver only exposes
// result codes through its own error type.
func sqliteClass(msg string) string {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "constraint failed"):
		return ClassConstraint
	case strings.Contains(m, "datatype mismatch"), strings.Contains(m, "too big"):
		return ClassData
	case strings.Contains(m, "syntax error"), strings.Contains(m, "no such"):
		return ClassSyntax
	case strings.Contains(m, "database is locked"), strings.Contains(m, "unable to open"):
		return ClassConnection
	default:
		return ClassOther
	}
}
