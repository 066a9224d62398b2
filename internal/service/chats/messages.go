package chats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"tutorchat/internal/models"
)

// AppendMessage stores a message and advances the owning chat's updated_at in the same transaction.
func (s *Service) AppendMessage(ctx context.Context, chatID string, role models.Role, content string) (msg *models.Message, err error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, required("chatId")
	}
	if !role.Valid() {
		return nil, &ValidationError{Field: "role", Message: fmt.Sprintf("invalid role %q", role)}
	}
	if strings.TrimSpace(content) == "" {
		return nil, required("content")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin tx", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	at, err := touchTx(ctx, tx, chatID, s.timestamp())
	if err != nil {
		return nil, err
	}
	msg = &models.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		CreatedAt: at,
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.Role, msg.Content, msg.CreatedAt,
	); err != nil {
		return nil, storageErr("insert message", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, storageErr("commit message", err)
	}
	return msg, nil
}

// ListMessages returns the chat's messages oldest first.
func (s *Service) ListMessages(ctx context.Context, chatID string) ([]*models.Message, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, required("chatId")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, content, created_at FROM messages WHERE chat_id = ? ORDER BY created_at ASC, seq ASC`,
		chatID,
	)
	if err != nil {
		return nil, storageErr("list messages", err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		m := new(models.Message)
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, storageErr("scan message", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list messages", err)
	}
	return messages, nil
}

// GetMessage returns one message of the chat, or ErrNotFound.
func (s *Service) GetMessage(ctx context.Context, chatID, id string) (*models.Message, error) {
	m := new(models.Message)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, role, content, created_at FROM messages WHERE id = ? AND chat_id = ?`,
		id, chatID,
	).Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("get message", err)
	}
	return m, nil
}

// CountMessages returns how many messages the chat holds.
func (s *Service) CountMessages(ctx context.Context, chatID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID).Scan(&n); err != nil {
		return 0, storageErr("count messages", err)
	}
	return n, nil
}

// ClearMessages deletes every message of the chat and reports how many were removed.
func (s *Service) ClearMessages(ctx context.Context, chatID string) (int64, error) {
	if strings.TrimSpace(chatID) == "" {
		return 0, required("chatId")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID)
	if err != nil {
		return 0, storageErr("clear messages", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("clear rows affected", err)
	}
	return n, nil
}

// TruncateAfter deletes everything stored after the given message in the same chat.
// The message itself is kept.
func (s *Service) TruncateAfter(ctx context.Context, chatID, messageID string) (n int64, err error) {
	if strings.TrimSpace(chatID) == "" {
		return 0, required("chatId")
	}
	if strings.TrimSpace(messageID) == "" {
		return 0, required("messageId")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("begin tx", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT seq FROM messages WHERE id = ? AND chat_id = ?`, messageID, chatID,
	).Scan(&seq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, storageErr("find message", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ? AND seq > ?`, chatID, seq)
	if err != nil {
		return 0, storageErr("truncate messages", err)
	}
	if n, err = res.RowsAffected(); err != nil {
		return 0, storageErr("truncate rows affected", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, storageErr("commit truncate", err)
	}
	return n, nil
}
