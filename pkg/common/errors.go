package common

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies failures of the data-access layer. Each kind maps to one
// HTTP status and one stable error code.
type Kind uint8

const (
	KindOther Kind = iota
	KindInvalidRequest
	KindCategoryNotFound
	KindCategoryUnconfigured
	KindTableNotFound
	KindNoValidFields
	KindRecordNotFound
	KindNoKeyColumn
	KindDatabase
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindCategoryNotFound:
		return "category_not_found"
	case KindCategoryUnconfigured:
		return "category_unconfigured"
	case KindTableNotFound:
		return "table_not_found"
	case KindNoValidFields:
		return "no_valid_fields"
	case KindRecordNotFound:
		return "record_not_found"
	case KindNoKeyColumn:
		return "no_key_column"
	case KindDatabase:
		return "database_error"
	default:
		return "internal_error"
	}
}

// Status returns the HTTP status for the kind.
func (k Kind) Status() int {
	switch k {
	case KindCategoryNotFound, KindTableNotFound, KindRecordNotFound:
		return http.StatusNotFound
	case KindInvalidRequest, KindCategoryUnconfigured, KindNoValidFields, KindNoKeyColumn:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error carries the kind plus the category and table the failure happened on.
type Error struct {
	Kind     Kind
	Op       string
	Category string
	Table    string
	Message  string
	// Fields holds driver diagnostics such as sqlstate and constraint.
	Fields map[string]string
	Err    error
}

// Errorf creates an Error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around err.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Category != "" || e.Table != "" {
		fmt.Fprintf(&b, " (category=%q table=%q)", e.Category, e.Table)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode implements the status coder used by the HTTP layer.
func (e *Error) StatusCode() int { return e.Kind.Status() }

// WithOp sets the operation name if none is set yet.
func (e *Error) WithOp(op string) *Error {
	if e.Op == "" {
		e.Op = op
	}
	return e
}

// In attaches category and table, keeping values that are already set.
func (e *Error) In(category, table string) *Error {
	if e.Category == "" {
		e.Category = category
	}
	if e.Table == "" {
		e.Table = table
	}
	return e
}

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of the first *Error in err's chain, or KindOther.
func KindOf(err error) Kind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return KindOther
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Annotate attaches category/table context to err. Errors that are not
// *Error are wrapped as KindOther so nothing is lost.
func Annotate(err error, category, table string) error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		e.In(category, table)
		return err
	}
	return (&Error{Kind: KindOther, Message: "unexpected failure", Err: err}).In(category, table)
}
