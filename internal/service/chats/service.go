package chats

import (
	"context"
	"database/sql"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"tutorchat/internal/redis"
)

const (
	tutorCacheTTL      = time.Hour
	tutorCacheCleanup  = 10 * time.Minute
	DefaultSweepPeriod = time.Hour
)

// Service is the persistence gateway for tutors, chats and messages.
type Service struct {
	db     *sql.DB
	log    *zap.Logger
	local  *gocache.Cache
	shared *redis.Client
	now    func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithRedis enables the shared tutor cache.
func WithRedis(rdb *redis.Client) Option {
	return func(s *Service) { s.shared = rdb }
}

// WithLogger sets the logger used for cache and sweeper diagnostics.
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds a gateway over an already migrated database.
func NewService(db *sql.DB, opts ...Option) *Service {
	s := &Service{
		db:    db,
		log:   zap.NewNop(),
		local: gocache.New(tutorCacheTTL, tutorCacheCleanup),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC()
}

// StartOrphanSweeper periodically removes messages whose chat no longer exists.
func (s *Service) StartOrphanSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepPeriod
	}
	go s.sweepLoop(ctx, interval)
}

func (s *Service) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepOrphans(ctx)
			if err != nil {
				s.log.Warn("sweep orphan messages", zap.Error(err))
				continue
			}
			if n > 0 {
				s.log.Info("swept orphan messages", zap.Int64("count", n))
			}
		}
	}
}

// SweepOrphans deletes messages that reference a missing chat.
func (s *Service) SweepOrphans(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE NOT EXISTS (SELECT 1 FROM chats WHERE chats.id = messages.chat_id)`)
	if err != nil {
		return 0, storageErr("sweep orphans", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("sweep rows affected", err)
	}
	return n, nil
}
