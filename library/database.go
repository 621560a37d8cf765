package library

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Store is the persistence surface the circulation engine and the manager
// depend on. Every write goes through WithTx.
type Store interface {
	Queries
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Tx is a unit of work. Reads made through a Tx see its own writes and, on
// PostgreSQL, lock the rows they return.
type Tx interface {
	Queries
	Mutations
}

// Database is the SQL-backed Store for SQLite and PostgreSQL.
type Database struct {
	queries
	db *sqlx.DB
}

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	MaxOpen int
	MaxIdle int
}

// NewDatabase opens the database, applies schema migrations, and returns a
// ready Store. For SQLite dsn is a file path; for PostgreSQL a connection URL.
func NewDatabase(driver, dsn string, pool PoolConfig) (*Database, error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch driver {
	case DriverSQLite, "":
		driver = DriverSQLite
		db, err = openSQLite(dsn)
	case DriverPostgres:
		db, err = sqlx.Open(DriverPostgres, dsn)
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if pool.MaxOpen > 0 {
		db.SetMaxOpenConns(pool.MaxOpen)
	}
	if pool.MaxIdle > 0 {
		db.SetMaxIdleConns(pool.MaxIdle)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := applyMigrations(db, driver); err != nil {
		db.Close()
		return nil, err
	}
	return wrapDB(db), nil
}

// NewDatabaseFromDB wraps an existing connection without migrating it.
func NewDatabaseFromDB(db *sql.DB, driver string) *Database {
	return wrapDB(sqlx.NewDb(db, driver))
}

func wrapDB(db *sqlx.DB) *Database {
	return &Database{
		queries: newQueries(db, db.DriverName(), false),
		db:      db,
	}
}

func openSQLite(path string) (*sqlx.DB, error) {
	dsn := path
	if !strings.HasPrefix(path, "file:") {
		// Ensure directory exists so first-run succeeds.
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		// Immediate transactions take the write lock at BEGIN.
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", path)
	}
	return sqlx.Open(DriverSQLite, dsn)
}

// Driver names the underlying SQL driver.
func (d *Database) Driver() string { return d.driver }

// Close closes the connection pool.
func (d *Database) Close() error { return d.db.Close() }

// Ping checks that the database answers.
func (d *Database) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (d *Database) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{queries: newQueries(tx, d.driver, d.driver == DriverPostgres)}); err != nil {
		return err
	}
	return tx.Commit()
}

type sqlTx struct {
	queries
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

// columnTypes differ between the two engines only in key, time and money types.
type columnTypes struct {
	pk, ts, money string
}

var dialectTypes = map[string]columnTypes{
	DriverSQLite:   {pk: "INTEGER PRIMARY KEY AUTOINCREMENT", ts: "DATETIME", money: "NUMERIC"},
	DriverPostgres: {pk: "BIGSERIAL PRIMARY KEY", ts: "TIMESTAMPTZ", money: "NUMERIC(12,2)"},
}

func schemaStatements(driver string) []string {
	t := dialectTypes[driver]
	r := strings.NewReplacer("{pk}", t.pk, "{ts}", t.ts, "{money}", t.money)
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS books (
            id {pk},
            uuid VARCHAR(36) NOT NULL UNIQUE,
            isbn VARCHAR(20) UNIQUE,
            title VARCHAR(500) NOT NULL,
            author VARCHAR(300) NOT NULL,
            publisher VARCHAR(200) NOT NULL DEFAULT '',
            publication_date {ts},
            categories TEXT NOT NULL DEFAULT '',
            description TEXT NOT NULL DEFAULT '',
            language VARCHAR(10) NOT NULL DEFAULT 'en',
            pages INTEGER,
            thumbnail_url VARCHAR(500) NOT NULL DEFAULT '',
            location VARCHAR(100) NOT NULL DEFAULT '',
            status VARCHAR(20) NOT NULL DEFAULT 'available',
            copies_total INTEGER NOT NULL DEFAULT 1,
            copies_available INTEGER NOT NULL DEFAULT 1,
            added_date {ts} NOT NULL,
            last_updated {ts} NOT NULL,
            CHECK (copies_available >= 0 AND copies_available <= copies_total)
        );`,
		`CREATE TABLE IF NOT EXISTS members (
            id {pk},
            member_id VARCHAR(20) NOT NULL UNIQUE,
            first_name VARCHAR(100) NOT NULL,
            last_name VARCHAR(100) NOT NULL,
            email VARCHAR(200) UNIQUE,
            phone VARCHAR(20) NOT NULL DEFAULT '',
            employee_code VARCHAR(50) NOT NULL UNIQUE,
            department VARCHAR(100) NOT NULL DEFAULT '',
            address TEXT NOT NULL DEFAULT '',
            membership_date {ts} NOT NULL,
            membership_type VARCHAR(20) NOT NULL DEFAULT 'regular',
            status VARCHAR(20) NOT NULL DEFAULT 'active',
            max_books INTEGER NOT NULL DEFAULT 5
        );`,
		`CREATE TABLE IF NOT EXISTS transactions (
            id {pk},
            book_id BIGINT NOT NULL REFERENCES books(id),
            member_id BIGINT NOT NULL REFERENCES members(id),
            transaction_type VARCHAR(20) NOT NULL,
            transaction_date {ts} NOT NULL,
            due_date {ts} NOT NULL,
            return_date {ts},
            fine_amount {money} NOT NULL DEFAULT 0,
            status VARCHAR(20) NOT NULL DEFAULT 'active',
            notes TEXT NOT NULL DEFAULT '',
            return_condition VARCHAR(20),
            condition_notes TEXT NOT NULL DEFAULT '',
            condition_fee {money} NOT NULL DEFAULT 0
        );`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_book_status ON transactions(book_id, status);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_member_status ON transactions(member_id, status);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(transaction_date);`,
	}
	for i, s := range stmts {
		stmts[i] = r.Replace(s)
	}
	return stmts
}

func applyMigrations(db *sqlx.DB, driver string) error {
	if driver == DriverSQLite {
		// WAL improves write concurrency.
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("enable WAL: %w", err)
		}
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key VARCHAR(64) PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := append(schemaStatements(driver),
		`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`)

	for _, stmt := range stmts {
		if strings.Contains(stmt, "?") {
			_, err = tx.Exec(tx.Rebind(stmt), fmt.Sprint(schemaVersion))
		} else {
			_, err = tx.Exec(stmt)
		}
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return tx.Commit()
}

// dialect returns the goqu dialect matching the driver.
func dialect(driver string) goqu.DialectWrapper {
	if driver == DriverPostgres {
		return goqu.Dialect("postgres")
	}
	return goqu.Dialect("sqlite3")
}
