package deadletter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "github.com/mattn/go-sqlite3"    // registers "sqlite3"

	"github.com/kailas-cloud/listsync/internal/domain/syncerr"
)

// Supported database/sql drivers.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

// Store is the append-only sync_errors log.
type Store struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// Open opens the dead-letter database. SQLite is limited to one connection
// so ":memory:" databases are shared by every caller.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported dead-letter driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	return &Store{db: db, driver: driver, now: time.Now}, nil
}

// WithClock overrides the timestamp source (tests).
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Migrate creates the table and indexes if missing.
func (s *Store) Migrate(ctx context.Context) error {
	ts := "TIMESTAMPTZ"
	if s.driver == DriverSQLite {
		ts = "TIMESTAMP"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sync_errors (
			id          TEXT PRIMARY KEY,
			operation   TEXT NOT NULL,
			listing_id  TEXT NOT NULL,
			payload     TEXT,
			error       TEXT NOT NULL,
			created_at  ` + ts + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_errors_listing ON sync_errors(listing_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_errors_created ON sync_errors(created_at)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate sync_errors: %w", err)
		}
	}
	return nil
}

// Append inserts rec, assigning an ID and timestamp when unset.
func (s *Store) Append(ctx context.Context, rec *syncerr.Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	rec.Timestamp = rec.Timestamp.UTC()

	var payload sql.NullString
	if len(rec.Payload) > 0 {
		payload = sql.NullString{String: string(rec.Payload), Valid: true}
	}

	q := s.rebind(`INSERT INTO sync_errors (id, operation, listing_id, payload, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, q,
		rec.ID, string(rec.Operation), rec.ListingID, payload, rec.Error, rec.Timestamp,
	); err != nil {
		return fmt.Errorf("append sync error for %s: %w", rec.ListingID, err)
	}
	return nil
}

// List returns the newest records first. An empty listingID lists every listing.
func (s *Store) List(ctx context.Context, listingID string, limit int) ([]syncerr.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, operation, listing_id, payload, error, created_at FROM sync_errors`
	args := make([]any, 0, 2)
	if listingID != "" {
		q += ` WHERE listing_id = ?`
		args = append(args, listingID)
	}
	q += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list sync errors: %w", err)
	}
	defer rows.Close()

	var out []syncerr.Record
	for rows.Next() {
		var (
			rec     syncerr.Record
			op      string
			payload sql.NullString
		)
		if err := rows.Scan(&rec.ID, &op, &rec.ListingID, &payload, &rec.Error, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan sync error: %w", err)
		}
		rec.Operation = syncerr.Operation(op)
		if payload.Valid {
			rec.Payload = json.RawMessage(payload.String)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync errors: %w", err)
	}
	return out, nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("dead-letter store: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close() //nolint:wrapcheck // shutdown path
}

// rebind rewrites ? placeholders to $N for PostgreSQL.
func (s *Store) rebind(q string) string {
	if s.driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
