// Package database executes parsed SQL files against a pooled connection and
// streams the results as typed items. One request's statement list owns one
// connection for its whole lifetime; rows are decoded into driver-agnostic
// values as they arrive, never materializing a full result set.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/agentic-research/veneer/internal/httperr"
	"github.com/agentic-research/veneer/internal/sqlparse"
)

// Dialect describes the SQL flavor behind a connection URL.
type Dialect struct {
	// Name is "sqlite" or "postgres".
	Name string
	// Placeholder is the positional placeholder style statements must be
	// rewritten to before binding.
	Placeholder sqlparse.Dialect

	driver      string
	defaultPool int
}

// Options tunes pool sizing and connection establishment.
type Options struct {
	// MaxConnections caps the pool. 0 uses the backend default: 50 for
	// postgres, 16 for sqlite, 1 for in-memory sqlite.
	MaxConnections int
	// Retries is how many extra connection attempts are made when the
	// initial ping fails. 0 tries only once.
	Retries int
	// RetryInterval separates connection attempts. 0 means 5 seconds.
	RetryInterval time.Duration
	// AcquireTimeout bounds waiting for a pooled connection before a
	// request is turned away. 0 means 10 seconds.
	AcquireTimeout time.Duration
}

// Database owns the connection pool and dialect for one database URL.
type Database struct {
	DB *sql.DB

	dialect Dialect
	acquire time.Duration
}

// Open connects to the database named by rawURL, retrying per opts until the
// first ping succeeds. Supported schemes: sqlite:// and postgres://.
func Open(ctx context.Context, rawURL string, opts Options) (*Database, error) {
	dialect, dsn, err := parseURL(rawURL)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(dialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect.Name, err)
	}
	pool := opts.MaxConnections
	if pool <= 0 {
		pool = dialect.defaultPool
	}
	db.SetMaxOpenConns(pool)

	interval := opts.RetryInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	for attempt := 0; ; attempt++ {
		err = db.PingContext(ctx)
		if err == nil {
			break
		}
		if attempt >= opts.Retries {
			_ = db.Close()
			return nil, fmt.Errorf("connecting to the %s database after %d attempts: %w",
				dialect.Name, attempt+1, err)
		}
		slog.Warn("database: connection attempt failed", "attempt", attempt+1, "error", err, "retry_in", interval)
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}

	acquire := opts.AcquireTimeout
	if acquire <= 0 {
		acquire = 10 * time.Second
	}
	return &Database{DB: db, dialect: dialect, acquire: acquire}, nil
}

// Dialect returns the flavor of the connected database.
func (d *Database) Dialect() Dialect { return d.dialect }

func (d *Database) Close() error { return d.DB.Close() }

// takeConn dedicates one pooled connection to a statement list. Pool
// exhaustion surfaces as a 503 so the transport can ask the client to retry.
func (d *Database) takeConn(ctx context.Context) (*sql.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, d.acquire)
	defer cancel()
	conn, err := d.DB.Conn(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			stats := d.DB.Stats()
			return nil, httperr.New(http.StatusServiceUnavailable,
				"unable to acquire a database connection to execute the SQL file: all of the pool's %d connections (max %d) are busy",
				stats.InUse, stats.MaxOpenConnections)
		}
		return nil, fmt.Errorf("acquiring a database connection: %w", err)
	}
	return conn, nil
}

func parseURL(raw string) (Dialect, string, error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return Dialect{}, "", fmt.Errorf("the database URL %q has no scheme", raw)
	}
	switch scheme {
	case "sqlite":
		dsn := rest
		if dsn == "" {
			dsn = ":memory:"
		}
		d := Dialect{Name: "sqlite", driver: "sqlite", Placeholder: sqlparse.SQLite, defaultPool: 16}
		if isMemoryDSN(dsn) {
			// Every new in-memory connection would be a distinct empty
			// database, so the pool must hold exactly one.
			d.defaultPool = 1
		}
		return d, dsn, nil
	case "postgres", "postgresql":
		d := Dialect{Name: "postgres", driver: "pgx", Placeholder: sqlparse.Postgres, defaultPool: 50}
		return d, raw, nil
	default:
		return Dialect{}, "", fmt.Errorf("unsupported database scheme %q: use sqlite:// or postgres://", scheme)
	}
}

func isMemoryDSN(dsn string) bool {
	path, query, _ := strings.Cut(dsn, "?")
	if path == ":memory:" || path == "" {
		return true
	}
	return strings.Contains(query, "mode=memory")
}
