package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallnest/ragflow/store"
)

// DBPool defines the interface for database connection pool
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresCheckpointStore implements store.CheckpointStore using PostgreSQL
type PostgresCheckpointStore struct {
	pool      DBPool
	tableName string
}

var _ store.CheckpointStore = (*PostgresCheckpointStore)(nil)

// PostgresOptions configuration for Postgres connection
type PostgresOptions struct {
	ConnString string
	TableName  string // Default "checkpoints"
}

// NewPostgresCheckpointStore creates a new Postgres checkpoint store
func NewPostgresCheckpointStore(ctx context.Context, opts PostgresOptions) (*PostgresCheckpointStore, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return NewPostgresCheckpointStoreWithPool(pool, opts.TableName), nil
}

// NewPostgresCheckpointStoreWithPool creates a new Postgres checkpoint store with an existing pool
func NewPostgresCheckpointStoreWithPool(pool DBPool, tableName string) *PostgresCheckpointStore {
	if tableName == "" {
		tableName = "checkpoints"
	}
	return &PostgresCheckpointStore{
		pool:      pool,
		tableName: tableName,
	}
}

// InitSchema creates the necessary table if it doesn't exist
func (s *PostgresCheckpointStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT NOT NULL,
			thread_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			node_name TEXT NOT NULL,
			state JSONB NOT NULL,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (thread_id, step)
		);
	`, s.tableName)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (s *PostgresCheckpointStore) Close() {
	s.pool.Close()
}

// Save inserts the checkpoint unless the thread already holds an equal or
// higher step.
func (s *PostgresCheckpointStore) Save(ctx context.Context, checkpoint *store.Checkpoint) error {
	if err := checkpoint.Validate(); err != nil {
		return err
	}
	stateJSON, err := json.Marshal(checkpoint.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	metadataJSON, err := json.Marshal(checkpoint.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := fmt.Sprintf(
		"INSERT INTO %[1]s (id, thread_id, step, node_name, state, metadata, created_at) "+
			"SELECT $1, $2, $3::integer, $4, $5::jsonb, $6::jsonb, $7::timestamptz "+
			"WHERE NOT EXISTS (SELECT 1 FROM %[1]s WHERE thread_id = $2 AND step >= $3) "+
			"ON CONFLICT (thread_id, step) DO NOTHING",
		s.tableName)

	tag, err := s.pool.Exec(ctx, query,
		checkpoint.ID,
		checkpoint.ThreadID,
		checkpoint.Step,
		checkpoint.NodeName,
		stateJSON,
		metadataJSON,
		checkpoint.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var latest int
		maxQuery := fmt.Sprintf("SELECT COALESCE(MAX(step), -1) FROM %s WHERE thread_id = $1", s.tableName)
		if err := s.pool.QueryRow(ctx, maxQuery, checkpoint.ThreadID).Scan(&latest); err != nil {
			return fmt.Errorf("failed to read latest step: %w", err)
		}
		return store.StepConflict(checkpoint.ThreadID, checkpoint.Step, latest)
	}
	return nil
}

func (s *PostgresCheckpointStore) selectColumns() string {
	return fmt.Sprintf("SELECT id, thread_id, step, node_name, state, metadata, created_at FROM %s", s.tableName)
}

func scanCheckpoint(row pgx.Row) (*store.Checkpoint, error) {
	var cp store.Checkpoint
	var stateJSON []byte
	var metadataJSON []byte

	if err := row.Scan(
		&cp.ID,
		&cp.ThreadID,
		&cp.Step,
		&cp.NodeName,
		&stateJSON,
		&metadataJSON,
		&cp.Timestamp,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(stateJSON, &cp.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &cp.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &cp, nil
}

func (s *PostgresCheckpointStore) loadOne(ctx context.Context, threadID, query string, args ...any) (*store.Checkpoint, error) {
	cp, err := scanCheckpoint(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.NotFound(threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

// LoadLatest returns the highest-step checkpoint of a thread.
func (s *PostgresCheckpointStore) LoadLatest(ctx context.Context, threadID string) (*store.Checkpoint, error) {
	query := s.selectColumns() + " WHERE thread_id = $1 ORDER BY step DESC LIMIT 1"
	return s.loadOne(ctx, threadID, query, threadID)
}

// Load retrieves the checkpoint of a thread at step.
func (s *PostgresCheckpointStore) Load(ctx context.Context, threadID string, step int) (*store.Checkpoint, error) {
	query := s.selectColumns() + " WHERE thread_id = $1 AND step = $2"
	return s.loadOne(ctx, threadID, query, threadID, step)
}

// List returns all checkpoints of a thread in step order.
func (s *PostgresCheckpointStore) List(ctx context.Context, threadID string) ([]*store.Checkpoint, error) {
	query := s.selectColumns() + " WHERE thread_id = $1 ORDER BY step ASC"

	rows, err := s.pool.Query(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	checkpoints := []*store.Checkpoint{}
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoint rows: %w", err)
	}
	return checkpoints, nil
}

// Clear removes all checkpoints of a thread.
func (s *PostgresCheckpointStore) Clear(ctx context.Context, threadID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE thread_id = $1", s.tableName)
	if _, err := s.pool.Exec(ctx, query, threadID); err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	return nil
}
