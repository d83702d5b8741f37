package graphorm

import (
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// TestIsNotFound verifies IsNotFound helper
func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"ErrRecordNotFound", ErrRecordNotFound, true},
		{"sql.ErrNoRows", sql.ErrNoRows, true},
		{"wrapped sql.ErrNoRows", WrapQueryError("COUNT", "SELECT COUNT(*) FROM parents", nil, sql.ErrNoRows), true},
		{"other error", errors.New("some error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.expected {
				t.Errorf("IsNotFound(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

// TestWrapQueryError_Classification checks driver errors are classified
// without being rewritten.
func TestWrapQueryError_Classification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		duplicate  bool
		foreignKey bool
	}{
		{"mysql duplicate", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, true, false},
		{"mysql parent row", &mysql.MySQLError{Number: 1451}, false, true},
		{"mysql child row", &mysql.MySQLError{Number: 1452}, false, true},
		{"mysql other", &mysql.MySQLError{Number: 1146}, false, false},
		{"postgres unique", &pgconn.PgError{Code: "23505"}, true, false},
		{"postgres foreign key", &pgconn.PgError{Code: "23503"}, false, true},
		{"postgres other", &pgconn.PgError{Code: "42P01"}, false, false},
		{"sqlite unique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, true, false},
		{"sqlite primary key", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintPrimaryKey}, true, false},
		{"sqlite foreign key", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey}, false, true},
		{"sqlite check", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintCheck}, false, false},
		{"message only", errors.New("ERROR: duplicate key value violates unique constraint"), true, false},
		{"plain", errors.New("connection reset"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WrapQueryError("INSERT", "INSERT INTO parents (name) VALUES (?)", []any{"p"}, tt.err)

			if got := IsDuplicateKey(err); got != tt.duplicate {
				t.Errorf("IsDuplicateKey = %v, want %v", got, tt.duplicate)
			}
			if got := IsForeignKeyViolation(err); got != tt.foreignKey {
				t.Errorf("IsForeignKeyViolation = %v, want %v", got, tt.foreignKey)
			}
			if got := IsConstraintViolation(err); got != (tt.duplicate || tt.foreignKey) {
				t.Errorf("IsConstraintViolation = %v", got)
			}
			if !errors.Is(err, tt.err) {
				t.Error("expected the driver error to stay reachable")
			}
		})
	}
}

func TestWrapQueryError_Nil(t *testing.T) {
	if err := WrapQueryError("SELECT", "SELECT 1", nil, nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestQueryError_Message(t *testing.T) {
	err := WrapQueryError("UPDATE", "UPDATE parents SET name = ? WHERE id = ?", []any{"x", 1}, errors.New("boom"))

	msg := err.Error()
	for _, want := range []string{"UPDATE failed: boom", "Query: UPDATE parents", "Args: [x, 1]"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in %q", want, msg)
		}
	}

	long := make([]any, 100)
	for i := range long {
		long[i] = "argument"
	}
	if got := formatArgs(long); len(got) != 201 || !strings.HasSuffix(got, "...]") {
		t.Errorf("expected truncated args, got %d chars", len(got))
	}
	if got := formatArgs(nil); got != "[]" {
		t.Errorf("expected [], got %s", got)
	}
}

func TestTypedErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		text     string
	}{
		{"mapping", &MappingError{Entity: "Parent", Field: "Child", Reason: "bad"}, ErrMapping, "mapping of Parent.Child: bad"},
		{"mapping without field", &MappingError{Entity: "Parent", Reason: "bad"}, ErrMapping, "mapping of Parent: bad"},
		{"value resolution", &ValueResolutionError{Entity: "Child", Field: "Parent", Target: "Parent"}, ErrValueResolution, "Child.Parent references Parent"},
		{"unsupported", &UnsupportedOperationError{Kind: "operator", Value: "LIKE"}, ErrUnsupportedOperation, `unsupported operator "LIKE"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("expected %v to match %v", tt.err, tt.sentinel)
			}
			if !strings.Contains(tt.err.Error(), tt.text) {
				t.Errorf("expected %q in %q", tt.text, tt.err.Error())
			}
		})
	}

	if IsMappingError(&ValueResolutionError{}) {
		t.Error("value resolution is not a mapping error")
	}
}
