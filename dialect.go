package graphorm

import (
	"fmt"
	"strconv"
	"strings"

	// database/sql drivers for the supported dialects
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect holds the few syntax differences between supported backends.
type Dialect struct {
	DriverName                string
	QuoteChar                 byte
	IncludeIndexInPlaceholder bool // $1, $2 instead of ?
	InsertReturning           bool // read generated keys with RETURNING instead of LastInsertId
}

var Dialects = &struct {
	MySQL      *Dialect
	PostgreSQL *Dialect
	SQLite3    *Dialect
}{
	MySQL: &Dialect{
		DriverName: "mysql",
		QuoteChar:  '`',
	},
	PostgreSQL: &Dialect{
		DriverName:                "pgx",
		QuoteChar:                 '"',
		IncludeIndexInPlaceholder: true,
		InsertReturning:           true,
	},
	SQLite3: &Dialect{
		DriverName: "sqlite3",
		QuoteChar:  '`',
	},
}

// DialectFor returns the dialect registered for a database/sql driver name.
func DialectFor(driver string) (*Dialect, error) {
	switch driver {
	case "mysql":
		return Dialects.MySQL, nil
	case "pgx", "postgres", "postgresql":
		return Dialects.PostgreSQL, nil
	case "sqlite3", "sqlite":
		return Dialects.SQLite3, nil
	}
	return nil, fmt.Errorf("graphorm: no dialect for driver %q", driver)
}

// Quote quotes an identifier.
func (d *Dialect) Quote(ident string) string {
	q := string(d.QuoteChar)
	return q + strings.ReplaceAll(ident, q, q+q) + q
}

// Rebind rewrites ? placeholders for dialects using numbered placeholders.
// Placeholders inside quoted strings and identifiers are left untouched.
func (d *Dialect) Rebind(query string) string {
	if !d.IncludeIndexInPlaceholder {
		return query
	}
	return rebind(query)
}

func rebind(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}

	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	var quote byte
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '?':
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}
