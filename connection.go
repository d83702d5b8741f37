package graphorm

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/jedib0t/go-pretty/table"
)

// Connection owns a database handle, opened on first use, together with the
// dialect, metadata registry and prepared statement cache shared by the
// sessions created from it.
type Connection struct {
	Dialect  *Dialect
	Registry *Registry

	cfg    Config
	logger *slog.Logger
	stmts  *StmtCache

	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// Open prepares a connection from cfg. No database round trip happens until
// the first statement runs.
func Open(cfg Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dialect, _ := DialectFor(cfg.Driver)
	level, _ := cfg.Level()
	// aliases such as "postgres" open through the dialect's driver
	cfg.Driver = dialect.DriverName

	c := &Connection{
		Dialect:  dialect,
		Registry: DefaultRegistry,
		cfg:      cfg,
		logger:   slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	}
	if cfg.StmtCacheSize > 0 {
		c.stmts = NewStmtCache(cfg.StmtCacheSize)
	}
	return c, nil
}

// NewConnection wraps an already opened handle.
func NewConnection(db *sql.DB, dialect *Dialect) *Connection {
	if dialect == nil {
		dialect = Dialects.SQLite3
	}
	return &Connection{
		Dialect:  dialect,
		Registry: DefaultRegistry,
		cfg:      Config{Driver: dialect.DriverName},
		logger:   slog.New(slog.DiscardHandler),
		db:       db,
	}
}

// EnableStmtCache turns on prepared statement reuse with the given capacity.
func (c *Connection) EnableStmtCache(capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stmts != nil {
		c.stmts.Clear()
	}
	c.stmts = NewStmtCache(capacity)
}

// DB returns the handle, opening and pinging it on first call.
func (c *Connection) DB(ctx context.Context) (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrConnectionClosed
	}
	if c.db != nil {
		return c.db, nil
	}

	db, err := sql.Open(c.cfg.Driver, c.cfg.DSN)
	if err != nil {
		return nil, err
	}
	configurePool(db, c.cfg)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	c.logger.Debug("graphorm: connection opened", "driver", c.cfg.Driver)
	c.db = db
	return db, nil
}

func configurePool(db *sql.DB, cfg Config) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

// Close releases cached statements and the handle.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.stmts != nil {
		_ = c.stmts.Close()
	}
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Session creates a session bound to the connection.
func (c *Connection) Session(opts ...Option) *Session {
	s := &Session{
		conn:     c,
		registry: c.Registry,
		compiler: NewCompiler(c.Dialect),
		logger:   c.logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PrintSchematic writes every resolved entity of the connection registry
// as a table of columns followed by its relations.
func (c *Connection) PrintSchematic(out io.Writer) {
	fmt.Fprintf(out, "SQL Dialect: %s\n", c.Dialect.DriverName)
	for _, meta := range c.Registry.Entities() {
		fmt.Fprintf(out, "t: %s (%s)\n", meta.Table, meta.Name())
		w := table.NewWriter()
		w.AppendHeader(table.Row{"Field", "SQL Name", "Type", "Is Primary Key", "Auto Increment"})
		for _, col := range meta.Columns {
			w.AppendRow(table.Row{col.Field, col.Column, col.Type.String(), col.Primary, col.AutoIncrement})
		}
		for _, rel := range meta.ForeignKeys() {
			w.AppendRow(table.Row{rel.Field, rel.Column, "-> " + rel.Target.Name(), false, false})
		}
		fmt.Fprintln(out, w.Render())

		for _, rel := range meta.Relations {
			fmt.Fprintf(out, "%s %s %s => join %s", meta.Table, rel.Kind, rel.Target.Name(), rel.JoinColumn)
			if rel.Nullable {
				fmt.Fprint(out, ", nullable")
			}
			if rel.CascadeDelete {
				fmt.Fprint(out, ", cascade delete")
			}
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out)
	}
}
