package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stylemate-rest-api/internal/model"
	"stylemate-rest-api/pkg/uid"
)

// SQLiteThreadRepository stores conversation threads and messages in SQLite.
type SQLiteThreadRepository struct {
	db *sql.DB
}

// NewSQLiteThreadRepository creates a SQLite-backed thread repository.
func NewSQLiteThreadRepository(db *sql.DB) *SQLiteThreadRepository {
	return &SQLiteThreadRepository{db: db}
}

var _ ThreadRepository = (*SQLiteThreadRepository)(nil)

// CreateThread creates a new thread for a user.
func (r *SQLiteThreadRepository) CreateThread(ctx context.Context, userID string) (*model.ChatThread, error) {
	thread := &model.ChatThread{
		ID:        uid.New(),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO chat_threads (id, user_id, created_at) VALUES (?, ?, ?)`,
		thread.ID, thread.UserID, thread.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}
	return thread, nil
}

// GetThread returns the thread only if it belongs to userID. A thread owned
// by another user yields ErrNotFound, never a permission error.
func (r *SQLiteThreadRepository) GetThread(ctx context.Context, userID, threadID string) (*model.ChatThread, error) {
	var thread model.ChatThread
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at FROM chat_threads WHERE id = ? AND user_id = ?`,
		threadID, userID).Scan(&thread.ID, &thread.UserID, &thread.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	return &thread, nil
}

// AppendMessage appends a message to a thread. Missing IDs and timestamps
// are filled in.
func (r *SQLiteThreadRepository) AppendMessage(ctx context.Context, msg *model.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	meta, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("failed to serialize message metadata: %w", err)
	}

	pending := 0
	if msg.Pending {
		pending = 1
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, thread_id, role, content, image_url, pending, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ThreadID, msg.Role, msg.Content, msg.ImageURL, pending, string(meta), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// ListMessages returns up to limit most recent messages, oldest first.
func (r *SQLiteThreadRepository) ListMessages(ctx context.Context, threadID string, limit int) ([]model.ChatMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, thread_id, role, content, image_url, pending, metadata, created_at
		FROM (
			SELECT *, rowid AS rowid FROM chat_messages WHERE thread_id = ?
			ORDER BY created_at DESC, rowid DESC LIMIT ?
		) ORDER BY created_at ASC, rowid ASC`,
		threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []model.ChatMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// LatestAssistant returns the most recent assistant message in a thread.
func (r *SQLiteThreadRepository) LatestAssistant(ctx context.Context, threadID string) (*model.ChatMessage, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, thread_id, role, content, image_url, pending, metadata, created_at
		FROM chat_messages
		WHERE thread_id = ? AND role = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		threadID, model.RoleAssistant)
	return scanMessageRow(row)
}

// LatestPending returns the most recent pending assistant message.
func (r *SQLiteThreadRepository) LatestPending(ctx context.Context, threadID string) (*model.ChatMessage, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, thread_id, role, content, image_url, pending, metadata, created_at
		FROM chat_messages
		WHERE thread_id = ? AND role = ? AND pending = 1
		ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		threadID, model.RoleAssistant)
	return scanMessageRow(row)
}

// ResolvePending rewrites a pending message and clears its flag. The WHERE
// pending = 1 guard makes the transition happen at most once: the caller that
// sees true owns the deferred quota charge.
func (r *SQLiteThreadRepository) ResolvePending(ctx context.Context, messageID, content string, meta model.MessageMetadata) (bool, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return false, fmt.Errorf("failed to serialize message metadata: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE chat_messages SET content = ?, metadata = ?, pending = 0
		WHERE id = ? AND pending = 1`,
		content, string(metaJSON), messageID)
	if err != nil {
		return false, fmt.Errorf("failed to resolve pending message: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*model.ChatMessage, error) {
	var msg model.ChatMessage
	var pending int
	var metaJSON string

	err := row.Scan(&msg.ID, &msg.ThreadID, &msg.Role, &msg.Content,
		&msg.ImageURL, &pending, &metaJSON, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	msg.Pending = pending == 1
	if err := json.Unmarshal([]byte(metaJSON), &msg.Metadata); err != nil {
		return nil, fmt.Errorf("failed to parse message metadata: %w", err)
	}
	return &msg, nil
}

func scanMessageRow(row *sql.Row) (*model.ChatMessage, error) {
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return msg, nil
}
