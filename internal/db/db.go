package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

const (
	driverSQLite   = "sqlite3"
	driverPostgres = "postgres"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrSlotNotAvailable = errors.New("slot is not available")
	ErrBookingNotActive = errors.New("booking is not active")
	ErrManagerExists    = errors.New("manager already registered")
	ErrNotLinked        = errors.New("specialist does not provide service")
)

// DB wraps sqlx.DB for the salon bot. Queries are written with '?' placeholders
// and rebound for the active driver.
type DB struct {
	*sqlx.DB
	driver string
	path   string
	logger *zerolog.Logger
}

// NewDB opens the database named by dsn and runs migrations. A postgres:// or
// postgresql:// URL selects postgres, anything else is treated as a sqlite file path.
func NewDB(dsn string, logger *zerolog.Logger) (*DB, error) {
	driver, source, path := resolveDSN(dsn)

	if driver == driverSQLite && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	conn, err := sqlx.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	db := &DB{DB: conn, driver: driver, path: path, logger: logger}
	if err := db.createTables(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}

	logger.Info().Str("driver", driver).Msg("Database initialized")
	return db, nil
}

func resolveDSN(dsn string) (driver, source, path string) {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return driverPostgres, dsn, ""
	}

	path = strings.TrimPrefix(strings.TrimPrefix(dsn, "sqlite3://"), "sqlite://")
	if path == "" {
		path = "data/beautybot.db"
	}
	return driverSQLite, path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", path
}

// IsSQLite reports whether the database is a local sqlite file.
func (db *DB) IsSQLite() bool {
	return db.driver == driverSQLite
}

func (db *DB) createTables(ctx context.Context) error {
	pk, ts := "INTEGER PRIMARY KEY AUTOINCREMENT", "TIMESTAMP"
	if db.driver == driverPostgres {
		pk, ts = "BIGSERIAL PRIMARY KEY", "TIMESTAMPTZ"
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			telegram_id BIGINT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			created_at {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS services (
			id {{pk}},
			title TEXT NOT NULL,
			title_key TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			price NUMERIC(10,2) NOT NULL DEFAULT 0,
			duration_minutes INTEGER NOT NULL DEFAULT 60,
			created_at {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS specialists (
			id {{pk}},
			name TEXT NOT NULL,
			name_key TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			work_start TEXT NOT NULL DEFAULT '',
			work_end TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS specialist_services (
			specialist_id BIGINT NOT NULL REFERENCES specialists(id) ON DELETE CASCADE,
			service_id BIGINT NOT NULL REFERENCES services(id) ON DELETE CASCADE,
			PRIMARY KEY (specialist_id, service_id)
		)`,

		`CREATE TABLE IF NOT EXISTS booking_times (
			id {{pk}},
			specialist_id BIGINT NOT NULL REFERENCES specialists(id),
			service_id BIGINT NOT NULL REFERENCES services(id),
			slot_time {{ts}} NOT NULL,
			is_booked BOOLEAN NOT NULL DEFAULT FALSE,
			UNIQUE (specialist_id, service_id, slot_time)
		)`,

		`CREATE TABLE IF NOT EXISTS bookings (
			id {{pk}},
			user_id BIGINT NOT NULL REFERENCES users(telegram_id),
			service_id BIGINT NOT NULL REFERENCES services(id),
			specialist_id BIGINT NOT NULL REFERENCES specialists(id),
			slot_id BIGINT NOT NULL,
			date_time {{ts}} NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			reminded BOOLEAN NOT NULL DEFAULT FALSE,
			created_at {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS user_state (
			user_id BIGINT PRIMARY KEY,
			step TEXT NOT NULL,
			service_id BIGINT,
			specialist_id BIGINT,
			slot_id BIGINT,
			chosen_time {{ts}},
			updated_at {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS managers (
			id {{pk}},
			chat_id BIGINT NOT NULL UNIQUE,
			username TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS notification_settings (
			manager_id BIGINT PRIMARY KEY REFERENCES managers(id) ON DELETE CASCADE,
			notify_new_booking BOOLEAN NOT NULL DEFAULT TRUE,
			notify_cancellation BOOLEAN NOT NULL DEFAULT TRUE,
			notify_reschedule BOOLEAN NOT NULL DEFAULT TRUE
		)`,

		`CREATE TABLE IF NOT EXISTS conversation_messages (
			id {{pk}},
			user_id BIGINT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_booking_times_free ON booking_times (specialist_id, service_id, is_booked)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_user_status ON bookings (user_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_user ON conversation_messages (user_id, id)`,
	}

	replacer := strings.NewReplacer("{{pk}}", pk, "{{ts}}", ts)
	for _, q := range queries {
		if _, err := db.ExecContext(ctx, replacer.Replace(q)); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(q string) string {
	q = strings.Join(strings.Fields(q), " ")
	if len(q) > 60 {
		return q[:60] + "..."
	}
	return q
}

func (db *DB) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return db.ExecContext(ctx, db.Rebind(q), args...)
}

func (db *DB) get(ctx context.Context, dest any, q string, args ...any) error {
	return db.GetContext(ctx, dest, db.Rebind(q), args...)
}

func (db *DB) list(ctx context.Context, dest any, q string, args ...any) error {
	return db.SelectContext(ctx, dest, db.Rebind(q), args...)
}

// nameKey is the case-folded form used for duplicate detection and lookups.
func nameKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
