package graphorm

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

type Parent struct {
	Tracker
	ID    int64 `graphorm:"primary;autoIncrement"`
	Name  string
	Child *Child  `graphorm:"oneToOne:parent_id;nullable;cascadeDelete"`
	Items []*Item `graphorm:"oneToMany:parent_id;cascadeDelete"`
}

func (Parent) TableName() string { return "parents" }

type Child struct {
	Tracker
	ID     int64 `graphorm:"primary;autoIncrement"`
	Label  string
	Parent *Parent `graphorm:"oneToOne;column:parent_id"`
}

func (Child) TableName() string { return "children" }

type Item struct {
	Tracker
	ID     int64 `graphorm:"primary;autoIncrement"`
	Label  string
	Parent *Parent `graphorm:"oneToOne;column:parent_id"`
}

func (Item) TableName() string { return "items" }

type Author struct {
	Tracker
	ID      int64 `graphorm:"primary;autoIncrement"`
	Name    string
	Books   Lazy[[]*Book]  `graphorm:"oneToMany:author_id;lazy"`
	Profile Lazy[*Profile] `graphorm:"oneToOne:author_id;lazy;cascadeDelete"`
}

func (Author) TableName() string { return "authors" }

type Book struct {
	Tracker
	ID     int64 `graphorm:"primary;autoIncrement"`
	Title  string
	Author *Author `graphorm:"oneToOne;column:author_id"`
}

func (Book) TableName() string { return "books" }

// Profile has no back-reference; its join column is a plain field.
type Profile struct {
	ID       int64 `graphorm:"primary;autoIncrement"`
	Bio      string
	AuthorID int64 `graphorm:"column:author_id"`
}

func (Profile) TableName() string { return "profiles" }

type Tag struct {
	Tracker
	ID   uuid.UUID `graphorm:"primary"`
	Name string
}

func (Tag) TableName() string { return "tags" }

// Employee has no Tracker and refers to its own type.
type Employee struct {
	ID   int64 `graphorm:"primary;autoIncrement"`
	Name string
	Boss *Employee `graphorm:"oneToOne;column:boss_id;nullable"`
}

func (Employee) TableName() string { return "employees" }

const testSchema = `
CREATE TABLE parents (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL);
CREATE TABLE children (id INTEGER PRIMARY KEY AUTOINCREMENT, label TEXT NOT NULL, parent_id INTEGER REFERENCES parents(id));
CREATE TABLE items (id INTEGER PRIMARY KEY AUTOINCREMENT, label TEXT NOT NULL CHECK (length(label) > 0), parent_id INTEGER REFERENCES parents(id));
CREATE TABLE authors (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL);
CREATE TABLE books (id INTEGER PRIMARY KEY AUTOINCREMENT, title TEXT NOT NULL, author_id INTEGER REFERENCES authors(id));
CREATE TABLE profiles (id INTEGER PRIMARY KEY AUTOINCREMENT, bio TEXT NOT NULL, author_id INTEGER NOT NULL);
CREATE TABLE tags (id TEXT PRIMARY KEY, name TEXT NOT NULL);
CREATE TABLE employees (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL, boss_id INTEGER REFERENCES employees(id));
`

// statementLog is a slog handler keeping the statements a session runs.
type statementLog struct {
	mu    sync.Mutex
	stmts []loggedStatement
}

type loggedStatement struct {
	Op  string
	SQL string
}

func (l *statementLog) Enabled(context.Context, slog.Level) bool { return true }

func (l *statementLog) Handle(_ context.Context, r slog.Record) error {
	if r.Message != "graphorm: statement" {
		return nil
	}
	var st loggedStatement
	r.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case "op":
			st.Op = a.Value.String()
		case "sql":
			st.SQL = a.Value.String()
		}
		return true
	})

	l.mu.Lock()
	defer l.mu.Unlock()
	l.stmts = append(l.stmts, st)
	return nil
}

func (l *statementLog) WithAttrs([]slog.Attr) slog.Handler { return l }
func (l *statementLog) WithGroup(string) slog.Handler      { return l }

func (l *statementLog) count(op string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, st := range l.stmts {
		if st.Op == op {
			n++
		}
	}
	return n
}

func (l *statementLog) of(op string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, st := range l.stmts {
		if st.Op == op {
			out = append(out, st.SQL)
		}
	}
	return out
}

func (l *statementLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stmts = nil
}

// setupSession opens an in-memory sqlite database with the test schema.
// The pool is limited to one connection so every statement sees the same
// in-memory database.
func setupSession(t *testing.T) (*Session, *statementLog, *sql.DB) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	log := &statementLog{}
	s := NewSession(db, Dialects.SQLite3, WithRegistry(NewRegistry()), WithLogger(slog.New(log)))
	return s, log, db
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
