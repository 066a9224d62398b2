package chats

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"tutorchat/internal/models"
)

const chatColumns = `id, tutor_id, title, created_at, updated_at`

// CreateChat inserts a new chat owned by the tutor.
func (s *Service) CreateChat(ctx context.Context, tutorID string) (*models.Chat, error) {
	tutorID = strings.TrimSpace(tutorID)
	if tutorID == "" {
		return nil, required("tutorId")
	}
	now := s.timestamp()
	chat := &models.Chat{ID: uuid.NewString(), TutorID: tutorID, CreatedAt: now, UpdatedAt: now}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (id, tutor_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		chat.ID, chat.TutorID, chat.Title, chat.CreatedAt, chat.UpdatedAt,
	)
	if err != nil {
		return nil, storageErr("create chat", err)
	}
	return chat, nil
}

// GetChat returns one chat or ErrNotFound.
func (s *Service) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	if strings.TrimSpace(id) == "" {
		return nil, required("chatId")
	}
	var chat models.Chat
	err := s.db.QueryRowContext(ctx,
		`SELECT `+chatColumns+` FROM chats WHERE id = ?`, id,
	).Scan(&chat.ID, &chat.TutorID, &chat.Title, &chat.CreatedAt, &chat.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("get chat", err)
	}
	return &chat, nil
}

// ListChats returns the tutor's chats ordered by last activity.
func (s *Service) ListChats(ctx context.Context, tutorID string) ([]models.Chat, error) {
	if strings.TrimSpace(tutorID) == "" {
		return nil, required("tutorId")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chatColumns+` FROM chats WHERE tutor_id = ? ORDER BY updated_at DESC, created_at DESC`,
		tutorID,
	)
	if err != nil {
		return nil, storageErr("list chats", err)
	}
	defer rows.Close()

	chats := make([]models.Chat, 0)
	for rows.Next() {
		var c models.Chat
		if err := rows.Scan(&c.ID, &c.TutorID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, storageErr("scan chat", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list chats", err)
	}
	return chats, nil
}

// RenameChat sets a user supplied title. updated_at is left alone.
func (s *Service) RenameChat(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return required("title")
	}
	return s.setTitle(ctx, id, title, "rename chat")
}

// SetChatTitle stores a generated title.
func (s *Service) SetChatTitle(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return required("title")
	}
	return s.setTitle(ctx, id, title, "set chat title")
}

func (s *Service) setTitle(ctx context.Context, id, title, op string) error {
	if strings.TrimSpace(id) == "" {
		return required("chatId")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE chats SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return storageErr(op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr(op, err)
	}
	if affected == 0 {
		// mysql reports 0 when the value is unchanged
		if _, err := s.GetChat(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// TouchChat advances updated_at without ever moving it backwards.
func (s *Service) TouchChat(ctx context.Context, id string) (time.Time, error) {
	if strings.TrimSpace(id) == "" {
		return time.Time{}, required("chatId")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, storageErr("begin tx", err)
	}
	at, err := touchTx(ctx, tx, id, s.timestamp())
	if err != nil {
		tx.Rollback()
		return time.Time{}, err
	}
	if err := tx.Commit(); err != nil {
		return time.Time{}, storageErr("commit touch chat", err)
	}
	return at, nil
}

func touchTx(ctx context.Context, tx *sql.Tx, id string, now time.Time) (time.Time, error) {
	var prev time.Time
	err := tx.QueryRowContext(ctx, `SELECT updated_at FROM chats WHERE id = ?`, id).Scan(&prev)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, storageErr("load chat", err)
	}
	if now.Before(prev) {
		now = prev
	}
	if _, err := tx.ExecContext(ctx, `UPDATE chats SET updated_at = ? WHERE id = ?`, now, id); err != nil {
		return time.Time{}, storageErr("touch chat", err)
	}
	return now, nil
}

// DeleteChat removes a chat and all of its messages in one transaction.
func (s *Service) DeleteChat(ctx context.Context, id string) (err error) {
	if strings.TrimSpace(id) == "" {
		return required("chatId")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin tx", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return storageErr("delete chat", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr("chat rows affected", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, id); err != nil {
		return storageErr("delete messages", err)
	}
	if err = tx.Commit(); err != nil {
		return storageErr("commit delete chat", err)
	}
	return nil
}
