// Package db stores the run event log and inference call records in SQLite
// (default) or Postgres.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFiles embed.FS

// Dialects.
const (
	DialectSQLite   = "sqlite3"
	DialectPostgres = "postgres"
)

// DB wraps the event log database connection.
type DB struct {
	conn    *sql.DB
	path    string
	dialect string
}

// DefaultDBPath returns ~/.gist/gist.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	dir := filepath.Join(home, ".gist")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}
	return filepath.Join(dir, "gist.db"), nil
}

// IsPostgres reports whether dsn selects the Postgres dialect.
func IsPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Open opens or creates the database. A postgres:// URL connects through
// pgx; anything else is treated as a SQLite file path.
func Open(dsn string) (*DB, error) {
	if IsPostgres(dsn) {
		return openPostgres(dsn)
	}
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	return &DB{conn: conn, path: dsn, dialect: DialectSQLite}, nil
}

func openPostgres(dsn string) (*DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{conn: conn, path: dsn, dialect: DialectPostgres}, nil
}

// NewWithConn wraps an existing connection.
func NewWithConn(conn *sql.DB, dialect string) *DB {
	return &DB{conn: conn, dialect: dialect}
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying *sql.DB for advanced queries.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Dialect returns DialectSQLite or DialectPostgres.
func (d *DB) Dialect() string {
	return d.dialect
}

// Rebind rewrites ? placeholders to $n for Postgres.
func (d *DB) Rebind(query string) string {
	if d.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
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

func (d *DB) migrationsDir() string {
	if d.dialect == DialectPostgres {
		return "migrations/postgres"
	}
	return "migrations/sqlite"
}

func (d *DB) prepareGoose() error {
	goose.SetBaseFS(migrationFiles)
	goose.SetLogger(gooseLogger{})
	if err := goose.SetDialect(d.dialect); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	return nil
}

// Migrate applies pending schema migrations.
func (d *DB) Migrate() error {
	if err := d.prepareGoose(); err != nil {
		return err
	}
	if err := goose.UpContext(context.Background(), d.conn, d.migrationsDir()); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Reset rolls back every migration and re-applies the schema.
func (d *DB) Reset() error {
	if err := d.prepareGoose(); err != nil {
		return err
	}
	if err := goose.Reset(d.conn, d.migrationsDir()); err != nil {
		return fmt.Errorf("reset migrations: %w", err)
	}
	return d.Migrate()
}

// gooseLogger routes migration output to the debug log.
type gooseLogger struct{}

func (gooseLogger) Fatal(v ...interface{}) { log.Fatal().Msg(fmt.Sprint(v...)) }

func (gooseLogger) Fatalf(format string, v ...interface{}) { log.Fatal().Msgf(format, v...) }

func (gooseLogger) Print(v ...interface{}) { log.Debug().Msg(strings.TrimSpace(fmt.Sprint(v...))) }

func (gooseLogger) Println(v ...interface{}) {
	log.Debug().Msg(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (gooseLogger) Printf(format string, v ...interface{}) {
	log.Debug().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
