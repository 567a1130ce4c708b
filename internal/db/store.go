// Package db persists the time-series and incident data that outlives a
// single process: pulses and their hourly/daily rollups, plus status-page
// incidents. Monitors, groups, status pages and notification channels are
// configuration, not state — they live in the TOML document loaded by
// internal/config and never touch this package.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/projecthelena/pulsewarden/internal/kinds"
	"github.com/projecthelena/pulsewarden/internal/logging"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrationFS embed.FS

//go:embed migrations/postgres/*.sql
var postgresMigrationFS embed.FS

var log = logging.New("db")

// Config selects and configures the storage backend.
type Config struct {
	Type string // "sqlite" or "postgres"
	Path string // SQLite file path
	URL  string // PostgreSQL connection URL
}

// Store wraps a *sql.DB with the dialect-aware query rebinding the rest of
// the package relies on.
type Store struct {
	db      *sql.DB
	dialect string
}

// NewStore opens the configured backend, pings it, applies SQLite pragmas
// and runs migrations. Postgres requires DialectPostgres + URL; anything
// else defaults to SQLite.
func NewStore(cfg Config) (*Store, error) {
	var (
		database *sql.DB
		err      error
		dialect  string
	)

	switch cfg.Type {
	case DialectPostgres, "postgresql":
		dialect = DialectPostgres
		database, err = sql.Open("postgres", cfg.URL)
		if err != nil {
			return nil, kinds.Wrap(kinds.StorageUnavailable, "open postgres", err)
		}
	default:
		dialect = DialectSQLite
		database, err = sql.Open("sqlite3", cfg.Path)
		if err != nil {
			return nil, kinds.Wrap(kinds.StorageUnavailable, "open sqlite", err)
		}
	}

	if err := database.Ping(); err != nil {
		return nil, kinds.Wrap(kinds.StorageUnavailable, "ping database", err)
	}

	if dialect == DialectSQLite {
		// SQLite only supports one writer at a time; a single pooled
		// connection also keeps :memory: databases from fragmenting
		// across the connection pool.
		database.SetMaxOpenConns(1)
		if _, err := database.Exec("PRAGMA foreign_keys = ON"); err != nil {
			return nil, kinds.Wrap(kinds.StorageUnavailable, "enable foreign keys", err)
		}
	}

	s := &Store{db: database, dialect: dialect}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dialect returns "sqlite" or "postgres".
func (s *Store) Dialect() string { return s.dialect }

func (s *Store) IsSQLite() bool   { return s.dialect == DialectSQLite }
func (s *Store) IsPostgres() bool { return s.dialect == DialectPostgres }

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL. SQLite
// queries pass through unchanged.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var result []byte
	placeholder := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, []byte(fmt.Sprintf("%d", placeholder))...)
			placeholder++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Healthcheck runs a trivial query to confirm the storage backend is
// reachable, used by the self-monitor's liveness probe (§4.7).
func (s *Store) Healthcheck() error {
	var one int
	if err := s.db.QueryRow("SELECT 1").Scan(&one); err != nil {
		return kinds.Wrap(kinds.StorageUnavailable, "healthcheck query", err)
	}
	return nil
}

func (s *Store) migrate() error {
	var (
		embedFS       embed.FS
		migrationPath string
		gooseDialect  goose.Dialect
	)

	switch s.dialect {
	case DialectPostgres:
		embedFS = postgresMigrationFS
		migrationPath = "migrations/postgres"
		gooseDialect = goose.DialectPostgres
	default:
		embedFS = sqliteMigrationFS
		migrationPath = "migrations/sqlite"
		gooseDialect = goose.DialectSQLite3
	}

	migrationsDir, err := fs.Sub(embedFS, migrationPath)
	if err != nil {
		return kinds.Wrap(kinds.Internal, "resolve migrations subtree", err)
	}

	// Provider API is thread-safe, unlike goose's package-level globals,
	// which matters once tests open several in-memory stores concurrently.
	provider, err := goose.NewProvider(gooseDialect, s.db, migrationsDir)
	if err != nil {
		return kinds.Wrap(kinds.StorageUnavailable, "build goose provider", err)
	}

	log.Println("running database migrations")
	if _, err := provider.Up(context.Background()); err != nil {
		return kinds.Wrap(kinds.StorageUnavailable, "apply migrations", err)
	}
	log.Println("database migrations complete")
	return nil
}

// allowedResetTables whitelists the tables Reset is permitted to drop.
var allowedResetTables = map[string]bool{
	"pulses":           true,
	"pulses_hourly":    true,
	"pulses_daily":     true,
	"incidents":        true,
	"incident_updates": true,
	"goose_db_version": true,
}

func isValidTableName(table string) bool {
	return allowedResetTables[table]
}

// Reset drops and recreates every table. It exists for test harnesses.
func (s *Store) Reset() error {
	if s.IsSQLite() {
		if _, err := s.db.Exec("PRAGMA foreign_keys = OFF"); err != nil {
			return kinds.Wrap(kinds.StorageUnavailable, "disable foreign keys", err)
		}
	}

	tables := []string{
		"incident_updates", "incidents", "pulses_daily", "pulses_hourly", "pulses",
		"goose_db_version",
	}

	for _, table := range tables {
		if !isValidTableName(table) {
			return kinds.New(kinds.Internal, "invalid table name: "+table)
		}
		stmt := "DROP TABLE IF EXISTS " + table
		if s.IsPostgres() {
			stmt += " CASCADE"
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return kinds.Wrap(kinds.StorageUnavailable, "drop table "+table, err)
		}
	}

	if s.IsSQLite() {
		if _, err := s.db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			return kinds.Wrap(kinds.StorageUnavailable, "re-enable foreign keys", err)
		}
	}

	return s.migrate()
}
