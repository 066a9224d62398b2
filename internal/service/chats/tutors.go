package chats

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tutorchat/internal/models"
	"tutorchat/internal/redis"
	"tutorchat/internal/storage"
)

const (
	tutorKeyPrefix = "tutorchat:tutor:"
	tutorListKey   = "tutorchat:tutors"
)

// GetTutor resolves a tutor through the local cache, then redis, then the database.
func (s *Service) GetTutor(ctx context.Context, id string) (*models.Tutor, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, required("tutorId")
	}
	key := tutorKeyPrefix + id
	if v, ok := s.local.Get(key); ok {
		t := v.(models.Tutor)
		return &t, nil
	}
	if t, ok := s.sharedTutor(ctx, key); ok {
		s.local.SetDefault(key, t)
		return &t, nil
	}

	var t models.Tutor
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, subject, description, created_at FROM tutors WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.Subject, &t.Description, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("get tutor", err)
	}
	s.local.SetDefault(key, t)
	s.storeShared(ctx, key, t)
	return &t, nil
}

// ListTutors returns every tutor ordered by name.
func (s *Service) ListTutors(ctx context.Context) ([]models.Tutor, error) {
	if v, ok := s.local.Get(tutorListKey); ok {
		return append([]models.Tutor(nil), v.([]models.Tutor)...), nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, subject, description, created_at FROM tutors ORDER BY name ASC`)
	if err != nil {
		return nil, storageErr("list tutors", err)
	}
	defer rows.Close()

	tutors := make([]models.Tutor, 0)
	for rows.Next() {
		var t models.Tutor
		if err := rows.Scan(&t.ID, &t.Name, &t.Subject, &t.Description, &t.CreatedAt); err != nil {
			return nil, storageErr("scan tutor", err)
		}
		tutors = append(tutors, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list tutors", err)
	}
	s.local.SetDefault(tutorListKey, tutors)
	return append([]models.Tutor(nil), tutors...), nil
}

// SeedTutors inserts the default tutors when the table is empty and reports how many were added.
func (s *Service) SeedTutors(ctx context.Context) (n int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("begin tx", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var count int
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tutors`).Scan(&count); err != nil {
		return 0, storageErr("count tutors", err)
	}
	if count > 0 {
		err = tx.Commit()
		if err != nil {
			return 0, storageErr("commit seed", err)
		}
		return 0, nil
	}
	now := s.timestamp()
	for _, t := range storage.DefaultTutors() {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO tutors (id, name, subject, description, created_at) VALUES (?, ?, ?, ?, ?)`,
			uuid.NewString(), t.Name, t.Subject, t.Description, now,
		); err != nil {
			return 0, storageErr("insert tutor", err)
		}
		n++
	}
	if err = tx.Commit(); err != nil {
		return 0, storageErr("commit seed", err)
	}
	s.local.Delete(tutorListKey)
	return n, nil
}

func (s *Service) sharedTutor(ctx context.Context, key string) (models.Tutor, bool) {
	var t models.Tutor
	if !s.shared.Enabled() {
		return t, false
	}
	raw, err := s.shared.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			s.log.Warn("tutor cache read", zap.String("key", key), zap.Error(err))
		}
		return t, false
	}
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		s.log.Warn("tutor cache decode", zap.String("key", key), zap.Error(err))
		return t, false
	}
	return t, true
}

func (s *Service) storeShared(ctx context.Context, key string, t models.Tutor) {
	if !s.shared.Enabled() {
		return
	}
	data, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := s.shared.Set(ctx, key, data, tutorCacheTTL); err != nil {
		s.log.Warn("tutor cache write", zap.String("key", key), zap.Error(err))
	}
}
