package sqlstore

import (
	"fmt"
	"strconv"
	"strings"

	"NeuroVault/internal/store"
)

// Dialect selects the SQL driver and its placeholder style.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ParseDialect accepts the driver names used in configuration.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("sqlstore: unknown dialect %q", s)
	}
}

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	return string(d)
}

// rebind rewrites '?' placeholders into the dialect's native form.
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}

	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func tableFor(tier store.Tier) (string, error) {
	switch tier {
	case store.TierInstance:
		return "vault_instance", nil
	case store.TierPersistent:
		return "vault_persistent", nil
	default:
		return "", store.ErrInvalidTier
	}
}

// sqliteDSN adds the pragmas the store relies on: a busy timeout, WAL for
// file databases, and IMMEDIATE transactions so writers queue up instead of
// failing on lock upgrade.
func sqliteDSN(path string) string {
	if strings.Contains(path, "_pragma=") || strings.Contains(path, "_txlock=") {
		return path
	}

	params := []string{"_pragma=busy_timeout(5000)", "_pragma=foreign_keys(1)", "_txlock=immediate"}
	if path != ":memory:" && !strings.Contains(path, "mode=memory") {
		params = append(params, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(params, "&")
}
