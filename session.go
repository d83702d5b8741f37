package graphorm

import (
	"context"
	"database/sql"
	"log/slog"
	"reflect"
)

// Session runs queries and persistence operations against a Connection.
// A session is not safe for concurrent use: it carries the transaction of
// the cascade in progress.
type Session struct {
	conn     *Connection
	registry *Registry
	compiler *Compiler
	logger   *slog.Logger
	tx       *sql.Tx
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger receiving statement and transaction events at
// debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRegistry sets the metadata registry used instead of the connection's.
func WithRegistry(reg *Registry) Option {
	return func(s *Session) {
		if reg != nil {
			s.registry = reg
		}
	}
}

// NewSession is a shorthand for NewConnection(db, dialect).Session(opts...).
func NewSession(db *sql.DB, dialect *Dialect, opts ...Option) *Session {
	return NewConnection(db, dialect).Session(opts...)
}

// Registry returns the metadata registry of the session.
func (s *Session) Registry() *Registry {
	return s.registry
}

// Compiler returns the SQL compiler of the session.
func (s *Session) Compiler() *Compiler {
	return s.compiler
}

// Query holds the optional parts of a select.
type Query struct {
	limit  *int
	offset *int
	join   reflect.Type
	groups []PredicateGroup
	order  Order
}

// NewQuery creates an empty query: no filter, no limit.
func NewQuery() *Query {
	return &Query{}
}

// Limit sets the maximum number of root rows.
func (q *Query) Limit(n int) *Query {
	q.limit = &n
	return q
}

// Offset sets the number of root rows skipped.
func (q *Query) Offset(n int) *Query {
	q.offset = &n
	return q
}

// JoinContext names the type the select is issued on behalf of. Eager
// relations towards it are not joined and are left for the caller to wire.
func (q *Query) JoinContext(t reflect.Type) *Query {
	q.join = indirectType(t)
	return q
}

// Where appends predicate groups; groups are ORed together.
func (q *Query) Where(groups ...PredicateGroup) *Query {
	q.groups = append(q.groups, groups...)
	return q
}

// OrderBy sets the sort order.
func (q *Query) OrderBy(o Order) *Query {
	q.order = o
	return q
}

func (q *Query) guard() []reflect.Type {
	if q.join == nil {
		return nil
	}
	return []reflect.Type{q.join}
}

// Select loads the entities of typ matching q, each with its eager graph.
// Elements are pointers to typ. No match yields an empty slice.
func (s *Session) Select(ctx context.Context, typ reflect.Type, q *Query) ([]any, error) {
	if q == nil {
		q = NewQuery()
	}
	found, err := s.selectGraph(ctx, indirectType(typ), q, q.guard())
	if err != nil {
		return nil, err
	}

	out := make([]any, len(found))
	for i, v := range found {
		out[i] = v.Interface()
	}
	return out, nil
}

// Count returns the number of root rows of typ matching the groups.
func (s *Session) Count(ctx context.Context, typ reflect.Type, groups ...PredicateGroup) (int64, error) {
	plan, err := BuildPlan(s.registry, typ)
	if err != nil {
		return 0, err
	}
	query, args, err := s.compiler.Count(plan, groups)
	if err != nil {
		return 0, err
	}

	var n int64
	if err := s.queryRow(ctx, "COUNT", query, args, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// Find is the typed form of Session.Select.
func Find[T any](ctx context.Context, s *Session, q *Query) ([]*T, error) {
	if q == nil {
		q = NewQuery()
	}
	found, err := s.selectGraph(ctx, TypeOf[T](), q, q.guard())
	if err != nil {
		return nil, err
	}

	out := make([]*T, len(found))
	for i, v := range found {
		out[i] = v.Interface().(*T)
	}
	return out, nil
}

// First returns the first entity matching q, or ErrRecordNotFound.
func First[T any](ctx context.Context, s *Session, q *Query) (*T, error) {
	if q == nil {
		q = NewQuery()
	}
	limited := *q
	limited.Limit(1)

	found, err := Find[T](ctx, s, &limited)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, ErrRecordNotFound
	}
	return found[0], nil
}

// CountOf is the typed form of Session.Count.
func CountOf[T any](ctx context.Context, s *Session, groups ...PredicateGroup) (int64, error) {
	return s.Count(ctx, TypeOf[T](), groups...)
}

func (s *Session) selectGraph(ctx context.Context, typ reflect.Type, q *Query, guard []reflect.Type) ([]reflect.Value, error) {
	plan, err := BuildPlan(s.registry, typ, guard...)
	if err != nil {
		return nil, err
	}
	query, args, err := s.compiler.Select(plan, q.groups, q.order, q.limit, q.offset)
	if err != nil {
		return nil, err
	}

	rows, err := s.fetch(ctx, query, args)
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, plan, rows)
}

// queryer is the execution contract shared by *sql.DB, *sql.Tx and *sql.Stmt
// adapters.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// stmtQueryer runs a prepared statement, ignoring the query text it is given.
type stmtQueryer struct {
	stmt *sql.Stmt
}

func (q stmtQueryer) QueryContext(ctx context.Context, _ string, args ...any) (*sql.Rows, error) {
	return q.stmt.QueryContext(ctx, args...)
}

func (q stmtQueryer) ExecContext(ctx context.Context, _ string, args ...any) (sql.Result, error) {
	return q.stmt.ExecContext(ctx, args...)
}

func (q stmtQueryer) QueryRowContext(ctx context.Context, _ string, args ...any) *sql.Row {
	return q.stmt.QueryRowContext(ctx, args...)
}

// queryer returns the executor for query: the open transaction or the
// database, through a cached prepared statement when the connection has a
// statement cache. release must be called when done.
func (s *Session) queryer(ctx context.Context, query string) (queryer, func(), error) {
	noop := func() {}
	if s.conn.stmts == nil {
		if s.tx != nil {
			return s.tx, noop, nil
		}
		db, err := s.conn.DB(ctx)
		if err != nil {
			return nil, nil, err
		}
		return db, noop, nil
	}

	if s.tx != nil {
		stmt, release := s.conn.stmts.Get(query)
		if stmt == nil {
			if release != nil {
				release()
			}
			// preparing on the pool could wait on the connection held by tx
			return s.tx, noop, nil
		}
		txStmt := s.tx.StmtContext(ctx, stmt)
		return stmtQueryer{stmt: txStmt}, func() {
			_ = txStmt.Close()
			release()
		}, nil
	}

	db, err := s.conn.DB(ctx)
	if err != nil {
		return nil, nil, err
	}
	stmt, release, err := s.conn.stmts.Prepare(ctx, db, query)
	if err != nil {
		return nil, nil, err
	}
	return stmtQueryer{stmt: stmt}, release, nil
}

func (s *Session) logStatement(ctx context.Context, op, query string, args []any) {
	s.logger.DebugContext(ctx, "graphorm: statement", "op", op, "sql", query, "args", args, "tx", s.tx != nil)
}

// fetch runs a select and reads every row before returning, so follow-up
// queries never overlap an open cursor.
func (s *Session) fetch(ctx context.Context, query string, args []any) ([][]any, error) {
	query = s.conn.Dialect.Rebind(query)
	s.logStatement(ctx, "SELECT", query, args)

	q, release, err := s.queryer(ctx, query)
	if err != nil {
		return nil, WrapQueryError("SELECT", query, args, err)
	}
	defer release()

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, WrapQueryError("SELECT", query, args, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, WrapQueryError("SCAN", query, args, err)
	}

	var out [][]any
	for rows.Next() {
		values := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, WrapQueryError("SCAN", query, args, err)
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapQueryError("SELECT", query, args, err)
	}
	return out, nil
}

func (s *Session) exec(ctx context.Context, op, query string, args []any) (sql.Result, error) {
	query = s.conn.Dialect.Rebind(query)
	s.logStatement(ctx, op, query, args)

	q, release, err := s.queryer(ctx, query)
	if err != nil {
		return nil, WrapQueryError(op, query, args, err)
	}
	defer release()

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, WrapQueryError(op, query, args, err)
	}
	return res, nil
}

func (s *Session) queryRow(ctx context.Context, op, query string, args []any, dest ...any) error {
	query = s.conn.Dialect.Rebind(query)
	s.logStatement(ctx, op, query, args)

	q, release, err := s.queryer(ctx, query)
	if err != nil {
		return WrapQueryError(op, query, args, err)
	}
	defer release()

	if err := q.QueryRowContext(ctx, query, args...).Scan(dest...); err != nil {
		return WrapQueryError(op, query, args, err)
	}
	return nil
}
