package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serroba/datafactory/internal/collector"
)

const schema = `
	CREATE TABLE IF NOT EXISTS metrics (
		ts     TIMESTAMPTZ PRIMARY KEY,
		fields JSONB NOT NULL DEFAULT '{}'::jsonb
	)
`

// PostgresRowStore keeps one row per minute in the metrics table. Concurrent
// writers for the same minute merge their fields.
type PostgresRowStore struct {
	pool *pgxpool.Pool
}

func NewPostgresRowStore(pool *pgxpool.Pool) *PostgresRowStore {
	return &PostgresRowStore{pool: pool}
}

func (p *PostgresRowStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create metrics table: %w", err)
	}

	return nil
}

func (p *PostgresRowStore) Write(ctx context.Context, row collector.Row) error {
	query := `
		INSERT INTO metrics (ts, fields)
		VALUES ($1, $2)
		ON CONFLICT (ts) DO UPDATE SET fields = metrics.fields || EXCLUDED.fields
	`

	payload, err := json.Marshal(row.Fields)
	if err != nil {
		return err
	}

	_, err = p.pool.Exec(ctx, query, row.Time.UTC(), payload)

	return err
}

func (p *PostgresRowStore) Latest(ctx context.Context) (collector.Row, error) {
	query := `
		SELECT ts, fields
		FROM metrics
		ORDER BY ts DESC
		LIMIT 1
	`

	var (
		row     collector.Row
		payload []byte
	)

	err := p.pool.QueryRow(ctx, query).Scan(&row.Time, &payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return collector.Row{}, ErrNotFound
		}

		return collector.Row{}, err
	}

	if err := json.Unmarshal(payload, &row.Fields); err != nil {
		return collector.Row{}, fmt.Errorf("decode fields: %w", err)
	}

	row.Time = row.Time.UTC()

	return row, nil
}
