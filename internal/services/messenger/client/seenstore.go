// Package client implements the reconciling message view a messenger
// frontend keeps per conversation: optimistic sends, exactly-once
// merging of pushes and history pages, and reload recovery.
package client

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/paircast/paircast/internal/platform/storage/sqlitemigrate"
	"github.com/paircast/paircast/internal/services/messenger/client/migrations"
	_ "modernc.org/sqlite"
)

// SeenStore persists which message ids a conversation view has already
// rendered, so a reload does not re-append them.
type SeenStore interface {
	Load(ctx context.Context, selfID, peerID string) ([]string, error)
	Add(ctx context.Context, selfID, peerID, messageID string) error
	Clear(ctx context.Context, selfID, peerID string) error
}

// SQLiteSeenStore keeps recovery state in a local SQLite file.
type SQLiteSeenStore struct {
	sqlDB *sql.DB
}

// OpenSeenStore opens the local recovery database.
func OpenSeenStore(path string) (*SQLiteSeenStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteSeenStore{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *SQLiteSeenStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Load returns every recorded message id for the conversation.
func (s *SQLiteSeenStore) Load(ctx context.Context, selfID, peerID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT message_id FROM seen_messages WHERE self_id = ? AND peer_id = ?`,
		selfID,
		peerID,
	)
	if err != nil {
		return nil, fmt.Errorf("load seen ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 64)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("load seen ids: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load seen ids: %w", err)
	}
	return ids, nil
}

// Add records one rendered message id. Re-adding is a no-op.
func (s *SQLiteSeenStore) Add(ctx context.Context, selfID, peerID, messageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO seen_messages (self_id, peer_id, message_id, recorded_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(self_id, peer_id, message_id) DO NOTHING`,
		selfID,
		peerID,
		messageID,
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record seen id: %w", err)
	}
	return nil
}

// Clear drops the conversation's recovery state.
func (s *SQLiteSeenStore) Clear(ctx context.Context, selfID, peerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM seen_messages WHERE self_id = ? AND peer_id = ?`,
		selfID,
		peerID,
	)
	if err != nil {
		return fmt.Errorf("clear seen ids: %w", err)
	}
	return nil
}

var _ SeenStore = (*SQLiteSeenStore)(nil)
