package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/smallnest/ragflow/store"
)

// SqliteCheckpointStore implements store.CheckpointStore using SQLite
type SqliteCheckpointStore struct {
	db        *sql.DB
	tableName string
}

var _ store.CheckpointStore = (*SqliteCheckpointStore)(nil)

// SqliteOptions configuration for SQLite connection
type SqliteOptions struct {
	Path      string
	TableName string // Default "checkpoints"
}

// NewSqliteCheckpointStore opens the database and creates the table.
func NewSqliteCheckpointStore(opts SqliteOptions) (*SqliteCheckpointStore, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}
	// one writer keeps the step guard race-free and ":memory:" on one database
	db.SetMaxOpenConns(1)

	tableName := opts.TableName
	if tableName == "" {
		tableName = "checkpoints"
	}

	s := &SqliteCheckpointStore{
		db:        db,
		tableName: tableName,
	}

	if err := s.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// InitSchema creates the necessary table if it doesn't exist
func (s *SqliteCheckpointStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT NOT NULL,
			thread_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			node_name TEXT NOT NULL,
			state TEXT NOT NULL,
			metadata TEXT,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (thread_id, step)
		);
	`, s.tableName)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SqliteCheckpointStore) Close() error {
	return s.db.Close()
}

// Save inserts the checkpoint unless the thread already holds an equal or
// higher step.
func (s *SqliteCheckpointStore) Save(ctx context.Context, checkpoint *store.Checkpoint) error {
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

	query := fmt.Sprintf(`
		INSERT INTO %[1]s (id, thread_id, step, node_name, state, metadata, created_at)
		SELECT ?1, ?2, ?3, ?4, ?5, ?6, ?7
		WHERE NOT EXISTS (SELECT 1 FROM %[1]s WHERE thread_id = ?2 AND step >= ?3)
	`, s.tableName)

	res, err := s.db.ExecContext(ctx, query,
		checkpoint.ID,
		checkpoint.ThreadID,
		checkpoint.Step,
		checkpoint.NodeName,
		string(stateJSON),
		string(metadataJSON),
		checkpoint.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	if n == 0 {
		var latest int
		maxQuery := fmt.Sprintf("SELECT COALESCE(MAX(step), -1) FROM %s WHERE thread_id = ?", s.tableName)
		if err := s.db.QueryRowContext(ctx, maxQuery, checkpoint.ThreadID).Scan(&latest); err != nil {
			return fmt.Errorf("failed to read latest step: %w", err)
		}
		return store.StepConflict(checkpoint.ThreadID, checkpoint.Step, latest)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row scanner) (*store.Checkpoint, error) {
	var cp store.Checkpoint
	var stateJSON string
	var metadataJSON sql.NullString

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

	if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &cp.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &cp, nil
}

func (s *SqliteCheckpointStore) selectColumns() string {
	return fmt.Sprintf("SELECT id, thread_id, step, node_name, state, metadata, created_at FROM %s", s.tableName)
}

func (s *SqliteCheckpointStore) loadOne(ctx context.Context, threadID, query string, args ...any) (*store.Checkpoint, error) {
	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound(threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

// LoadLatest returns the highest-step checkpoint of a thread.
func (s *SqliteCheckpointStore) LoadLatest(ctx context.Context, threadID string) (*store.Checkpoint, error) {
	return s.loadOne(ctx, threadID, s.selectColumns()+" WHERE thread_id = ? ORDER BY step DESC LIMIT 1", threadID)
}

// Load retrieves the checkpoint of a thread at step.
func (s *SqliteCheckpointStore) Load(ctx context.Context, threadID string, step int) (*store.Checkpoint, error) {
	return s.loadOne(ctx, threadID, s.selectColumns()+" WHERE thread_id = ? AND step = ?", threadID, step)
}

// List returns all checkpoints of a thread in step order.
func (s *SqliteCheckpointStore) List(ctx context.Context, threadID string) ([]*store.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, s.selectColumns()+" WHERE thread_id = ? ORDER BY step ASC", threadID)
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
func (s *SqliteCheckpointStore) Clear(ctx context.Context, threadID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE thread_id = ?", s.tableName)
	if _, err := s.db.ExecContext(ctx, query, threadID); err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	return nil
}
