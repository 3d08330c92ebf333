// Package sqlite provides the SQLite-backed message ledger implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/paircast/paircast/internal/platform/storage/sqlitemigrate"
	"github.com/paircast/paircast/internal/services/messenger/storage"
	"github.com/paircast/paircast/internal/services/messenger/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists messenger state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite messenger store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
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
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutMessage inserts one message row.
func (s *Store) PutMessage(ctx context.Context, record storage.MessageRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id := strings.TrimSpace(record.ID)
	if id == "" {
		return fmt.Errorf("message id is required")
	}

	var replyTo any
	if strings.TrimSpace(record.ReplyTo) != "" {
		replyTo = strings.TrimSpace(record.ReplyTo)
	}
	status := record.Status
	if status == "" {
		status = "sent"
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO messages (id, sender_id, receiver_id, content, reply_to, status, deleted, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		record.SenderID,
		record.ReceiverID,
		record.Content,
		replyTo,
		status,
		boolToInt(record.Deleted),
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put message: %w", err)
	}
	return nil
}

// GetMessage returns one message row by id.
func (s *Store) GetMessage(ctx context.Context, id string) (storage.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.MessageRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.MessageRecord{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.MessageRecord{}, fmt.Errorf("message id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, sender_id, receiver_id, content, reply_to, status, deleted, created_at, updated_at
		 FROM messages
		 WHERE id = ?`,
		id,
	)
	record, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.MessageRecord{}, storage.ErrNotFound
		}
		return storage.MessageRecord{}, fmt.Errorf("get message: %w", err)
	}
	return record, nil
}

// ListMessagesBetween returns up to limit non-deleted messages between the
// pair, newest first. A non-zero before bounds the page to createdAt < before.
func (s *Store) ListMessagesBetween(ctx context.Context, userID, peerID string, limit int, before time.Time) ([]storage.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	peerID = strings.TrimSpace(peerID)
	if userID == "" || peerID == "" {
		return nil, fmt.Errorf("user id and peer id are required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	query := `SELECT id, sender_id, receiver_id, content, reply_to, status, deleted, created_at, updated_at
		 FROM messages
		 WHERE ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))
		   AND deleted = 0`
	args := []any{userID, peerID, peerID, userID}
	if !before.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, toMillis(before))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	records := make([]storage.MessageRecord, 0, limit)
	for rows.Next() {
		record, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return records, nil
}

// MarkSeen bulk-transitions sender→receiver messages into seen.
func (s *Store) MarkSeen(ctx context.Context, senderID, receiverID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	senderID = strings.TrimSpace(senderID)
	receiverID = strings.TrimSpace(receiverID)
	if senderID == "" || receiverID == "" {
		return 0, fmt.Errorf("sender id and receiver id are required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE messages
		 SET status = 'seen'
		 WHERE sender_id = ? AND receiver_id = ? AND status != 'seen' AND deleted = 0`,
		senderID,
		receiverID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark seen: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark seen rows: %w", err)
	}
	return int(affected), nil
}

// Tombstone soft-deletes one message: content replaced, row retained.
func (s *Store) Tombstone(ctx context.Context, id, content string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("message id is required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE messages
		 SET deleted = 1, content = ?, updated_at = ?
		 WHERE id = ?`,
		content,
		toMillis(at),
		id,
	)
	if err != nil {
		return fmt.Errorf("tombstone message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("tombstone message rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// PurgeMessage hard-deletes one message and its reactions atomically.
func (s *Store) PurgeMessage(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("message id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin purge: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("purge message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM message_reactions WHERE message_id = ?`, id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("purge reactions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit purge: %w", err)
	}
	return nil
}

// UpsertReaction stores one reaction row per (message, user), replacing
// any prior emoji from that user.
func (s *Store) UpsertReaction(ctx context.Context, messageID, userID, emoji string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	messageID = strings.TrimSpace(messageID)
	userID = strings.TrimSpace(userID)
	emoji = strings.TrimSpace(emoji)
	if messageID == "" || userID == "" || emoji == "" {
		return fmt.Errorf("message id, user id, and emoji are required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO message_reactions (message_id, user_id, emoji, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(message_id, user_id) DO UPDATE SET
		   emoji = excluded.emoji,
		   created_at = excluded.created_at`,
		messageID,
		userID,
		emoji,
		toMillis(at),
	)
	if err != nil {
		return fmt.Errorf("upsert reaction: %w", err)
	}
	return nil
}

// ReactionCounts aggregates the reaction set per emoji, ordered by emoji.
func (s *Store) ReactionCounts(ctx context.Context, messageID string) ([]storage.ReactionCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return nil, fmt.Errorf("message id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT emoji, COUNT(*)
		 FROM message_reactions
		 WHERE message_id = ?
		 GROUP BY emoji
		 ORDER BY emoji`,
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("reaction counts: %w", err)
	}
	defer rows.Close()

	counts := make([]storage.ReactionCount, 0, 4)
	for rows.Next() {
		var count storage.ReactionCount
		if err := rows.Scan(&count.Emoji, &count.Count); err != nil {
			return nil, fmt.Errorf("reaction counts: %w", err)
		}
		counts = append(counts, count)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reaction counts: %w", err)
	}
	return counts, nil
}

// UnreadCounts returns per-sender unread aggregates for a receiver.
func (s *Store) UnreadCounts(ctx context.Context, receiverID string) ([]storage.UnreadCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	receiverID = strings.TrimSpace(receiverID)
	if receiverID == "" {
		return nil, fmt.Errorf("receiver id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT sender_id, COUNT(*)
		 FROM messages
		 WHERE receiver_id = ? AND status != 'seen' AND deleted = 0
		 GROUP BY sender_id
		 ORDER BY sender_id`,
		receiverID,
	)
	if err != nil {
		return nil, fmt.Errorf("unread counts: %w", err)
	}
	defer rows.Close()

	counts := make([]storage.UnreadCount, 0, 8)
	for rows.Next() {
		var count storage.UnreadCount
		if err := rows.Scan(&count.SenderID, &count.Count); err != nil {
			return nil, fmt.Errorf("unread counts: %w", err)
		}
		counts = append(counts, count)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("unread counts: %w", err)
	}
	return counts, nil
}

// LatestMessages returns the newest non-deleted message per peer,
// most recent conversation first.
func (s *Store) LatestMessages(ctx context.Context, userID string) ([]storage.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT m.id, m.sender_id, m.receiver_id, m.content, m.reply_to, m.status, m.deleted, m.created_at, m.updated_at
		 FROM messages m
		 JOIN (
		   SELECT CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END AS peer_id,
		          MAX(created_at) AS last_at
		   FROM messages
		   WHERE (sender_id = ? OR receiver_id = ?) AND deleted = 0
		   GROUP BY peer_id
		 ) latest
		   ON m.created_at = latest.last_at
		  AND ((m.sender_id = ? AND m.receiver_id = latest.peer_id)
		    OR (m.receiver_id = ? AND m.sender_id = latest.peer_id))
		 WHERE m.deleted = 0
		 ORDER BY latest.last_at DESC`,
		userID, userID, userID, userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("latest messages: %w", err)
	}
	defer rows.Close()

	records := make([]storage.MessageRecord, 0, 8)
	for rows.Next() {
		record, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("latest messages: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("latest messages: %w", err)
	}
	return records, nil
}

// SetLastSeen upserts the disconnect timestamp for a user.
func (s *Store) SetLastSeen(ctx context.Context, userID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO last_seen (user_id, seen_at)
		 VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET seen_at = excluded.seen_at`,
		userID,
		toMillis(at),
	)
	if err != nil {
		return fmt.Errorf("set last seen: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (storage.MessageRecord, error) {
	var (
		record    storage.MessageRecord
		replyTo   sql.NullString
		deleted   int
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(
		&record.ID,
		&record.SenderID,
		&record.ReceiverID,
		&record.Content,
		&replyTo,
		&record.Status,
		&deleted,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return storage.MessageRecord{}, err
	}
	record.ReplyTo = replyTo.String
	record.Deleted = deleted != 0
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

var _ storage.MessageStore = (*Store)(nil)
