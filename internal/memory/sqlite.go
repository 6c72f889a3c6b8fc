package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/loomlabs/loom/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
	conversation_id TEXT NOT NULL,
	seq             INTEGER NOT NULL,
	payload         TEXT NOT NULL,
	PRIMARY KEY (conversation_id, seq)
);
`

// SQLiteStore persists conversations as append-only rows, one JSON payload
// per message, ordered by a per-conversation sequence number.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) a store at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memory: open sqlite %s: %w", path, err)
	}
	// Serialized writers; sqlite handles the rest.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory: migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, conversationID string, messages []*models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memory: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var next int64
	row := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?`, conversationID)
	if err := row.Scan(&next); err != nil {
		return fmt.Errorf("memory: next seq: %w", err)
	}
	for i, msg := range messages {
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("memory: marshal: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, seq, payload) VALUES (?, ?, ?)`,
			conversationID, next+int64(i), string(payload)); err != nil {
			return fmt.Errorf("memory: insert: %w", err)
		}
	}
	return tx.Commit()
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, conversationID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM messages WHERE conversation_id = ? ORDER BY seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("memory: query: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("memory: scan: %w", err)
		}
		var msg models.Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return nil, fmt.Errorf("memory: parse: %w", err)
		}
		out = append(out, &msg)
	}
	return out, rows.Err()
}

// Clear implements Store.
func (s *SQLiteStore) Clear(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id = ?`, conversationID)
	return err
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }
