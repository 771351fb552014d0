package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect hides the differences between the supported SQL engines
type Dialect interface {
	Name() string

	// Rebind rewrites `?` placeholders into the engine's native form
	Rebind(query string) string

	// ForUpdate is the row lock suffix for a SELECT, empty where the
	// transaction itself already serializes writers
	ForUpdate() string
}

// Driver names accepted by DialectFor
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// DialectFor returns the dialect of a database/sql driver name
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case DriverSQLite, "sqlite":
		return sqliteDialect{}, nil
	case DriverPostgres, "pgx":
		return postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// sqlite transactions are opened with _txlock=immediate, which takes the
// write lock up front, so no row lock clause is needed
type sqliteDialect struct{}

func (sqliteDialect) Name() string               { return DriverSQLite }
func (sqliteDialect) Rebind(query string) string { return query }
func (sqliteDialect) ForUpdate() string          { return "" }

type postgresDialect struct{}

func (postgresDialect) Name() string      { return DriverPostgres }
func (postgresDialect) ForUpdate() string { return " FOR UPDATE" }

func (postgresDialect) Rebind(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
