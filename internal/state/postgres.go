package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists peer states in the peer_states table
// (see migrations/). Payload is stored as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStoreFromPool wraps an existing pool, for callers that manage
// their own connection lifecycle.
func NewPostgresStoreFromPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (p *PostgresStore) Get(ctx context.Context, peerID int64) (*State, error) {
	var s State
	var payload []byte
	err := p.pool.QueryRow(ctx,
		`SELECT group_name, state_name, payload FROM peer_states WHERE peer_id = $1`,
		peerID,
	).Scan(&s.Group, &s.Name, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &s.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode state payload: %w", err)
		}
	}
	return &s, nil
}

func (p *PostgresStore) Set(ctx context.Context, peerID int64, s State) error {
	payload, err := json.Marshal(s.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode state payload: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO peer_states (peer_id, group_name, state_name, payload, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (peer_id) DO UPDATE
		 SET group_name = EXCLUDED.group_name,
		     state_name = EXCLUDED.state_name,
		     payload = EXCLUDED.payload,
		     updated_at = NOW()`,
		peerID, s.Group, s.Name, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return nil
}

func (p *PostgresStore) Clear(ctx context.Context, peerID int64) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM peer_states WHERE peer_id = $1`, peerID); err != nil {
		return fmt.Errorf("failed to clear state: %w", err)
	}
	return nil
}

func (p *PostgresStore) Close() {
	p.pool.Close()
}
