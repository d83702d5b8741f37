package graphorm

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// Sentinel errors for common failure cases
var (
	// ErrMapping is matched by every *MappingError.
	ErrMapping = errors.New("graphorm: incorrect mapping")

	// ErrValueResolution is matched by every *ValueResolutionError.
	ErrValueResolution = errors.New("graphorm: cannot resolve relation value")

	// ErrUnsupportedOperation is matched by every *UnsupportedOperationError.
	ErrUnsupportedOperation = errors.New("graphorm: unsupported operation")

	// ErrRecordNotFound is returned by First when a query returns no rows
	ErrRecordNotFound = errors.New("graphorm: record not found")

	// ErrDuplicateKey is returned for unique constraint violations
	ErrDuplicateKey = errors.New("graphorm: duplicate key violation")

	// ErrForeignKey is returned for foreign key constraint violations
	ErrForeignKey = errors.New("graphorm: foreign key constraint violation")

	// ErrNilPointer is returned when a nil entity is passed
	ErrNilPointer = errors.New("graphorm: nil pointer")

	// ErrMissingPrimaryKey is returned when an update, delete or relation
	// load needs the primary key of an entity that has none
	ErrMissingPrimaryKey = errors.New("graphorm: entity has no primary key value")

	// ErrConnectionClosed is returned when a closed Connection is used
	ErrConnectionClosed = errors.New("graphorm: connection closed")
)

// MappingError reports entity metadata that cannot be resolved: a missing
// table or primary key declaration, a bad relation target or an unknown
// property referenced by a predicate.
type MappingError struct {
	Entity string
	Field  string
	Reason string
}

func (e *MappingError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("graphorm: mapping of %s.%s: %s", e.Entity, e.Field, e.Reason)
	}
	return fmt.Sprintf("graphorm: mapping of %s: %s", e.Entity, e.Reason)
}

func (e *MappingError) Is(target error) bool {
	return target == ErrMapping
}

// ValueResolutionError is returned when a relation used as a foreign key
// points at an entity that has no identifier yet.
type ValueResolutionError struct {
	Entity string
	Field  string
	Target string
}

func (e *ValueResolutionError) Error() string {
	return fmt.Sprintf("graphorm: %s.%s references %s without primary key value, persist it first",
		e.Entity, e.Field, e.Target)
}

func (e *ValueResolutionError) Is(target error) bool {
	return target == ErrValueResolution
}

// UnsupportedOperationError is produced when a predicate or order is built
// with an operator, direction or operand shape the compiler cannot emit.
type UnsupportedOperationError struct {
	Kind  string // "operator", "direction" or "operand"
	Value string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("graphorm: unsupported %s %q", e.Kind, e.Value)
}

func (e *UnsupportedOperationError) Is(target error) bool {
	return target == ErrUnsupportedOperation
}

// QueryError wraps database errors with query context for better debugging
type QueryError struct {
	Query     string // The SQL query that failed
	Args      []any  // The query arguments
	Operation string // Operation type: SELECT, COUNT, INSERT, UPDATE, DELETE
	Err       error  // The underlying driver error, never rewritten
	kind      error  // ErrDuplicateKey / ErrForeignKey when classified
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("graphorm: %s failed: %v\nQuery: %s\nArgs: %s",
		e.Operation, e.Err, e.Query, formatArgs(e.Args))
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

func (e *QueryError) Is(target error) bool {
	return e.kind != nil && target == e.kind
}

// WrapQueryError wraps a database error with query context. The driver error
// stays reachable through errors.As; constraint violations additionally
// match ErrDuplicateKey or ErrForeignKey.
func WrapQueryError(operation, query string, args []any, err error) error {
	if err == nil {
		return nil
	}

	return &QueryError{
		Query:     query,
		Args:      args,
		Operation: operation,
		Err:       err,
		kind:      classify(err),
	}
}

func classify(err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1062:
			return ErrDuplicateKey
		case 1451, 1452:
			return ErrForeignKey
		}
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrDuplicateKey
		case "23503":
			return ErrForeignKey
		}
		return nil
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return ErrDuplicateKey
		case sqlite3.ErrConstraintForeignKey:
			return ErrForeignKey
		}
		return nil
	}

	// drivers that only expose a message
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "duplicate key"), strings.Contains(msg, "unique constraint"):
		return ErrDuplicateKey
	case strings.Contains(msg, "foreign key"):
		return ErrForeignKey
	}
	return nil
}

// IsMappingError checks if the error is a *MappingError
func IsMappingError(err error) bool {
	return errors.Is(err, ErrMapping)
}

// IsNotFound checks if the error is ErrRecordNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound) || errors.Is(err, sql.ErrNoRows)
}

// IsConstraintViolation checks if the error is a constraint violation
func IsConstraintViolation(err error) bool {
	return errors.Is(err, ErrDuplicateKey) || errors.Is(err, ErrForeignKey)
}

// IsDuplicateKey checks if the error is a duplicate key violation
func IsDuplicateKey(err error) bool {
	return errors.Is(err, ErrDuplicateKey)
}

// IsForeignKeyViolation checks if the error is a foreign key violation
func IsForeignKeyViolation(err error) bool {
	return errors.Is(err, ErrForeignKey)
}

// formatArgs formats query arguments for error messages
func formatArgs(args []any) string {
	if len(args) == 0 {
		return "[]"
	}

	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = fmt.Sprintf("%v", arg)
	}

	// Limit output length
	result := "[" + strings.Join(parts, ", ") + "]"
	if len(result) > 200 {
		return result[:197] + "...]"
	}
	return result
}
