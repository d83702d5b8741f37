package graphorm

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestOpen_LazyConnection(t *testing.T) {
	ctx := context.Background()
	conn, err := Open(Config{Driver: "sqlite3", DSN: ":memory:", MaxOpenConns: 1, StmtCacheSize: 8, LogLevel: "error"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	conn.Registry = NewRegistry()

	if conn.db != nil {
		t.Fatal("expected no handle before first use")
	}

	db, err := conn.DB(ctx)
	if err != nil {
		t.Fatalf("DB failed: %v", err)
	}
	if _, err := db.Exec(testSchema); err != nil {
		t.Fatal(err)
	}

	s := conn.Session()
	p := newFamily()
	if err := s.Insert(ctx, p); err != nil {
		t.Fatal(err)
	}
	got, err := First[Parent](ctx, s, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Child == nil || len(got.Items) != 2 {
		t.Errorf("unexpected graph %+v", got)
	}
	if conn.stmts.Len() == 0 {
		t.Error("expected statements to be cached")
	}

	if err := conn.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.DB(ctx); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}
	if _, err := CountOf[Parent](ctx, s); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed from a session, got %v", err)
	}
}

func TestOpen_InvalidConfig(t *testing.T) {
	if _, err := Open(Config{Driver: "oracle", DSN: "x"}); err == nil {
		t.Error("expected an error for an unknown driver")
	}
}

func TestPrintSchematic(t *testing.T) {
	conn := NewConnection(nil, Dialects.SQLite3)
	conn.Registry = NewRegistry()
	if err := conn.Registry.Register(&Parent{}); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	conn.PrintSchematic(&buf)
	out := buf.String()

	for _, want := range []string{
		"SQL Dialect: sqlite3",
		"t: parents (Parent)",
		"t: children (Child)",
		"parent_id",
		"-> Parent",
		"parents 1-1 Child => join parent_id, nullable, cascade delete",
		"parents 1-N Item => join parent_id, cascade delete",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in schematic:\n%s", want, out)
		}
	}
}
