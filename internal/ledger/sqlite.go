package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists totals with modernc.org/sqlite (pure-Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN and migrates it.
func NewSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// :memory: databases and pragmas are per-connection. One connection that
	// is never recycled keeps the schema, the totals and busy_timeout alive
	// for the life of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS cost_ledger (
		org_id TEXT PRIMARY KEY,
		total_eur REAL NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Add(ctx context.Context, orgID string, eur float64) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO cost_ledger (org_id, total_eur, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (org_id)
		DO UPDATE SET
			total_eur = cost_ledger.total_eur + excluded.total_eur,
			updated_at = excluded.updated_at
		RETURNING total_eur`,
		orgID, eur, time.Now().UTC().Format(time.RFC3339Nano),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("upsert cost: %w", err)
	}
	return total, nil
}

func (s *SQLiteStore) Total(ctx context.Context, orgID string) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx,
		`SELECT total_eur FROM cost_ledger WHERE org_id = ?`, orgID).Scan(&total)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *SQLiteStore) All(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT org_id, total_eur FROM cost_ledger`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]float64)
	for rows.Next() {
		var org string
		var total float64
		if err := rows.Scan(&org, &total); err != nil {
			return nil, err
		}
		out[org] = total
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cost_ledger`)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
