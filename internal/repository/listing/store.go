package listing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kailas-cloud/listsync/internal/domain"
	domlisting "github.com/kailas-cloud/listsync/internal/domain/listing"
)

// querier is the subset of pgxpool.Pool the store reads through (ISP).
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Config holds canonical store connection parameters.
type Config struct {
	DSN      string
	MaxConns int32
}

// Store reads listing snapshots from the canonical PostgreSQL database. It never writes.
type Store struct {
	q    querier
	pool *pgxpool.Pool
}

// Open connects a pgx pool to the canonical database.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse canonical dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect canonical store: %w", err)
	}
	return &Store{q: pool, pool: pool}, nil
}

// New wraps an existing querier (a pool, a transaction, or a test double).
func New(q querier) *Store {
	return &Store{q: q}
}

// selectListing reads nullable text and numeric columns through COALESCE
// so incomplete records still produce a scorable snapshot.
const selectListing = `SELECT
	l.id,
	COALESCE(l.title, ''),
	COALESCE(l.description, ''),
	COALESCE(l.price, 0)::float8,
	COALESCE(l.currency, ''),
	COALESCE(l.bedrooms, 0)::int,
	COALESCE(l.bathrooms, 0)::float8,
	COALESCE(l.area, 0)::float8,
	l.latitude,
	l.longitude,
	COALESCE(l.features, '{}'::text[]),
	COALESCE(l.images, '{}'::text[]),
	COALESCE(l.status, ''),
	COALESCE(l.agent_id, ''),
	a.trust_score,
	l.featured_until,
	COALESCE(l.views, 0)::bigint,
	l.created_at,
	l.updated_at
FROM listings l
LEFT JOIN agents a ON a.id = l.agent_id`

// Get returns the current snapshot of one listing.
func (s *Store) Get(ctx context.Context, id string) (*domlisting.Listing, error) {
	row := s.q.QueryRow(ctx, selectListing+"\nWHERE l.id = $1", id)
	l, err := scanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrListingNotFound
		}
		return nil, fmt.Errorf("get listing %s: %w", id, err)
	}
	return l, nil
}

// ListAfter returns up to limit listings strictly after cursor in (created_at, id) order.
func (s *Store) ListAfter(ctx context.Context, after domlisting.Cursor, limit int) ([]domlisting.Listing, error) {
	sql, args := listAfterQuery(after, limit)
	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list listings after %q: %w", after.String(), err)
	}
	defer rows.Close()

	out := make([]domlisting.Listing, 0, limit)
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		out = append(out, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listings: %w", err)
	}
	return out, nil
}

// Ping checks the pool can reach the database.
func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("canonical store: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func listAfterQuery(after domlisting.Cursor, limit int) (string, []any) {
	var b strings.Builder
	b.WriteString(selectListing)
	args := make([]any, 0, 3)
	if !after.IsZero() {
		b.WriteString("\nWHERE (l.created_at, l.id) > ($1, $2)")
		args = append(args, after.CreatedAt, after.ID)
	}
	args = append(args, limit)
	fmt.Fprintf(&b, "\nORDER BY l.created_at, l.id\nLIMIT $%d", len(args))
	return b.String(), args
}

func scanListing(row pgx.Row) (*domlisting.Listing, error) {
	var (
		l      domlisting.Listing
		status string
	)
	err := row.Scan(
		&l.ID,
		&l.Title,
		&l.Description,
		&l.Price,
		&l.Currency,
		&l.Bedrooms,
		&l.Bathrooms,
		&l.Area,
		&l.Latitude,
		&l.Longitude,
		&l.Features,
		&l.Images,
		&status,
		&l.AgentID,
		&l.AgentTrust,
		&l.FeaturedUntil,
		&l.Views,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers add context
	}
	l.Status = domlisting.Status(status)
	return &l, nil
}
