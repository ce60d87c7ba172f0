package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/speakline/internal/transcript"
)

var (
	_ transcript.Sink   = (*Store)(nil)
	_ transcript.Reader = (*Store)(nil)
)

// Store persists transcript records in PostgreSQL. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Name returns "postgres".
func (s *Store) Name() string { return "postgres" }

// Ping checks the connection. It makes *Store usable as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Write inserts rec. Writing a record whose ID already exists is a no-op.
func (s *Store) Write(ctx context.Context, rec transcript.Record) error {
	const q = `
		INSERT INTO transcripts
		    (id, stream_id, text, raw_text, language, provider, confidence,
		     offset_ns, duration_ns, corrections, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`

	corrections := rec.Corrections
	if corrections == nil {
		corrections = []transcript.Correction{}
	}
	corrJSON, err := json.Marshal(corrections)
	if err != nil {
		return fmt.Errorf("postgres store: marshal corrections: %w", err)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.pool.Exec(ctx, q,
		rec.ID,
		rec.StreamID,
		rec.Text,
		rec.RawText,
		rec.Language,
		rec.Provider,
		rec.Confidence,
		rec.Offset.Nanoseconds(),
		rec.Duration.Nanoseconds(),
		corrJSON,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: write: %w", err)
	}
	return nil
}

// List returns the records matching q, oldest first. q.Text is matched with
// plainto_tsquery, so no operator syntax is required.
func (s *Store) List(ctx context.Context, q transcript.Query) ([]transcript.Record, error) {
	var (
		args       []any
		conditions []string
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.StreamID != "" {
		conditions = append(conditions, "stream_id = "+next(q.StreamID))
	}
	if q.Text != "" {
		conditions = append(conditions,
			"to_tsvector('simple', text) @@ plainto_tsquery('simple', "+next(q.Text)+")")
	}
	if !q.Since.IsZero() {
		conditions = append(conditions, "created_at >= "+next(q.Since))
	}

	inner := "SELECT seq, id, stream_id, text, raw_text, language, provider, confidence,\n" +
		"       offset_ns, duration_ns, corrections, created_at\n" +
		"FROM   transcripts"
	if len(conditions) > 0 {
		inner += "\nWHERE  " + strings.Join(conditions, "\n  AND  ")
	}
	inner += "\nORDER  BY seq DESC"
	if q.Limit > 0 {
		inner += "\nLIMIT " + next(q.Limit)
	}
	query := "SELECT id, stream_id, text, raw_text, language, provider, confidence,\n" +
		"       offset_ns, duration_ns, corrections, created_at\n" +
		"FROM (" + inner + ") recent\nORDER BY seq"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	return collectRecords(rows)
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// collectRecords scans pgx rows into records.
func collectRecords(rows pgx.Rows) ([]transcript.Record, error) {
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (transcript.Record, error) {
		var (
			r                    transcript.Record
			offsetNS, durationNS int64
			corrJSON             []byte
		)
		if err := row.Scan(
			&r.ID,
			&r.StreamID,
			&r.Text,
			&r.RawText,
			&r.Language,
			&r.Provider,
			&r.Confidence,
			&offsetNS,
			&durationNS,
			&corrJSON,
			&r.CreatedAt,
		); err != nil {
			return transcript.Record{}, err
		}
		r.Offset = time.Duration(offsetNS)
		r.Duration = time.Duration(durationNS)
		if len(corrJSON) > 0 {
			if err := json.Unmarshal(corrJSON, &r.Corrections); err != nil {
				return transcript.Record{}, fmt.Errorf("corrections: %w", err)
			}
		}
		if len(r.Corrections) == 0 {
			r.Corrections = nil
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if recs == nil {
		recs = []transcript.Record{}
	}
	return recs, nil
}
