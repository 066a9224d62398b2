package chats

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutorchat/internal/config"
	"tutorchat/internal/models"
	"tutorchat/internal/redis"
	"tutorchat/internal/storage"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.Open(config.DatabaseConfig{Driver: "sqlite3", DSN: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db, "sqlite3"))
	t.Cleanup(func() { db.Close() })
	return db
}

// steppingClock returns a clock that advances by step on every call.
func steppingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(step)
		return cur
	}
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	return NewService(openTestDB(t), opts...)
}

func TestCreateChatRequiresTutor(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.CreateChat(context.Background(), "  ")
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, "tutorId is required", err.Error())
}

func TestCreateAndGetChat(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	chat, err := svc.CreateChat(ctx, "tutor-1")
	require.NoError(t, err)
	assert.NotEmpty(t, chat.ID)
	assert.Equal(t, chat.CreatedAt, chat.UpdatedAt)

	got, err := svc.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "tutor-1", got.TutorID)
	assert.Empty(t, got.Title)

	_, err = svc.GetChat(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListChatsOrderedByActivity(t *testing.T) {
	svc := newTestService(t, WithClock(steppingClock(time.Now(), time.Second)))
	ctx := context.Background()

	first, err := svc.CreateChat(ctx, "tutor-1")
	require.NoError(t, err)
	second, err := svc.CreateChat(ctx, "tutor-1")
	require.NoError(t, err)
	_, err = svc.CreateChat(ctx, "tutor-2")
	require.NoError(t, err)

	list, err := svc.ListChats(ctx, "tutor-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	_, err = svc.AppendMessage(ctx, first.ID, models.RoleUser, "bump")
	require.NoError(t, err)
	list, err = svc.ListChats(ctx, "tutor-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, list[0].ID)

	empty, err := svc.ListChats(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestRenameChatLeavesUpdatedAt(t *testing.T) {
	svc := newTestService(t, WithClock(steppingClock(time.Now(), time.Second)))
	ctx := context.Background()
	chat, err := svc.CreateChat(ctx, "tutor-1")
	require.NoError(t, err)

	require.NoError(t, svc.RenameChat(ctx, chat.ID, "  Derivatives  "))
	got, err := svc.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "Derivatives", got.Title)
	assert.True(t, got.UpdatedAt.Equal(chat.UpdatedAt))

	// same title again is not a not-found
	require.NoError(t, svc.RenameChat(ctx, chat.ID, "Derivatives"))
	assert.ErrorIs(t, svc.RenameChat(ctx, "missing", "x"), ErrNotFound)
	assert.True(t, IsValidation(svc.RenameChat(ctx, chat.ID, "")))
}

func TestAppendMessageAdvancesUpdatedAt(t *testing.T) {
	svc := newTestService(t, WithClock(steppingClock(time.Now(), time.Millisecond)))
	ctx := context.Background()
	chat, err := svc.CreateChat(ctx, "tutor-1")
	require.NoError(t, err)

	prev := chat.UpdatedAt
	for i := 0; i < 3; i++ {
		msg, err := svc.AppendMessage(ctx, chat.ID, models.RoleUser, "hello")
		require.NoError(t, err)
		got, err := svc.GetChat(ctx, chat.ID)
		require.NoError(t, err)
		assert.False(t, got.UpdatedAt.Before(prev))
		assert.True(t, got.UpdatedAt.Equal(msg.CreatedAt))
		prev = got.UpdatedAt
	}
	got, err := svc.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))
}

func TestTouchChatNeverMovesBackwards(t *testing.T) {
	base := time.Now()
	clock := base
	svc := newTestService(t, WithClock(func() time.Time { return clock }))
	ctx := context.Background()
	chat, err := svc.CreateChat(ctx, "tutor-1")
	require.NoError(t, err)

	clock = base.Add(-time.Hour)
	at, err := svc.TouchChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.True(t, at.Equal(chat.UpdatedAt))

	clock = base.Add(time.Hour)
	at, err = svc.TouchChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.True(t, at.After(chat.UpdatedAt))

	_, err = svc.TouchChat(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendMessageValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	chat, err := svc.CreateChat(ctx, "tutor-1")
	require.NoError(t, err)

	_, err = svc.AppendMessage(ctx, chat.ID, models.Role("system"), "x")
	assert.True(t, IsValidation(err))
	_, err = svc.AppendMessage(ctx, chat.ID, models.RoleUser, "   ")
	assert.True(t, IsValidation(err))
	_, err = svc.AppendMessage(ctx, "missing", models.RoleUser, "x")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := svc.CountMessages(ctx, chat.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListMessagesOrdered(t *testing.T) {
	// a frozen clock forces equal timestamps so ordering falls back to insertion
	frozen := time.Now()
	svc := newTestService(t, WithClock(func() time.Time { return frozen }))
	ctx := context.Background()
	chat, err := svc.CreateChat(ctx, "tutor-1")
	require.NoError(t, err)

	want := []string{"one", "two", "three", "four"}
	for i, c := range want {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		_, err := svc.AppendMessage(ctx, chat.ID, role, c)
		require.NoError(t, err)
	}
	msgs, err := svc.ListMessages(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, len(want))
	for i, m := range msgs {
		assert.Equal(t, want[i], m.Content)
		if i > 0 {
			assert.False(t, m.CreatedAt.Before(msgs[i-1].CreatedAt))
		}
	}
}

func TestDeleteChatCascades(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	chat, err := svc.CreateChat(ctx, "tutor-1")
	require.NoError(t, err)
	other, err := svc.CreateChat(ctx, "tutor-1")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := svc.AppendMessage(ctx, chat.ID, models.RoleUser, "m")
		require.NoError(t, err)
	}
	_, err = svc.AppendMessage(ctx, other.ID, models.RoleUser, "keep")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteChat(ctx, chat.ID))
	_, err = svc.GetChat(ctx, chat.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	n, err := svc.CountMessages(ctx, chat.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = svc.CountMessages(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.ErrorIs(t, svc.DeleteChat(ctx, chat.ID), ErrNotFound)
}

func TestClearMessages(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	chat, err := svc.CreateChat(ctx, "tutor-1")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := svc.AppendMessage(ctx, chat.ID, models.RoleUser, "m")
		require.NoError(t, err)
	}
	n, err := svc.ClearMessages(ctx, chat.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	msgs, err := svc.ListMessages(ctx, chat.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = svc.ClearMessages(ctx, "")
	assert.True(t, IsValidation(err))
}

func TestTruncateAfter(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	chat, err := svc.CreateChat(ctx, "tutor-1")
	require.NoError(t, err)

	var ids []string
	for _, c := range []string{"q1", "a1", "q2", "a2"} {
		role := models.RoleUser
		if c[0] == 'a' {
			role = models.RoleAssistant
		}
		m, err := svc.AppendMessage(ctx, chat.ID, role, c)
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	n, err := svc.TruncateAfter(ctx, chat.ID, ids[0])
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	msgs, err := svc.ListMessages(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "q1", msgs[0].Content)

	_, err = svc.TruncateAfter(ctx, chat.ID, ids[2])
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := svc.GetMessage(ctx, chat.ID, ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, got.Role)
	assert.Equal(t, "q1", got.Content)
	_, err = svc.GetMessage(ctx, "other-chat", ids[0])
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSweepOrphans(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	chat, err := svc.CreateChat(ctx, "tutor-1")
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, chat.ID, models.RoleUser, "keep")
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO messages (id, chat_id, role, content, created_at) VALUES ('o1', 'gone', 'user', 'x', ?)`, time.Now().UTC())
	require.NoError(t, err)

	n, err := svc.SweepOrphans(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	count, err := svc.CountMessages(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSeedAndTutorLookup(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	empty, err := svc.ListTutors(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	n, err := svc.SeedTutors(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	n, err = svc.SeedTutors(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	tutors, err := svc.ListTutors(ctx)
	require.NoError(t, err)
	require.Len(t, tutors, 5)

	var newton models.Tutor
	for _, tu := range tutors {
		if tu.Name == "Dr. Newton" {
			newton = tu
		}
	}
	require.NotEmpty(t, newton.ID)

	got, err := svc.GetTutor(ctx, newton.ID)
	require.NoError(t, err)
	assert.Equal(t, "Mathematics", got.Subject)

	// served from the local cache once the row is gone
	_, err = db.Exec(`DELETE FROM tutors WHERE id = ?`, newton.ID)
	require.NoError(t, err)
	got, err = svc.GetTutor(ctx, newton.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dr. Newton", got.Name)

	_, err = svc.GetTutor(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorageErrorWraps(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	db.Close()

	_, err := svc.CreateChat(context.Background(), "tutor-1")
	require.Error(t, err)
	var se *StorageError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, "create chat", se.Op)
}

func TestTutorCacheUsesRedis(t *testing.T) {
	rdb := newRedisClient(t)
	defer rdb.Close()
	db := openTestDB(t)
	ctx := context.Background()

	seeder := NewService(db)
	_, err := seeder.SeedTutors(ctx)
	require.NoError(t, err)
	tutors, err := seeder.ListTutors(ctx)
	require.NoError(t, err)
	id := tutors[0].ID

	first := NewService(db, WithRedis(rdb))
	_, err = first.GetTutor(ctx, id)
	require.NoError(t, err)
	raw, err := rdb.Get(ctx, tutorKeyPrefix+id)
	require.NoError(t, err)
	assert.Contains(t, raw, tutors[0].Name)

	_, err = db.Exec(`DELETE FROM tutors WHERE id = ?`, id)
	require.NoError(t, err)
	second := NewService(db, WithRedis(rdb))
	got, err := second.GetTutor(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, tutors[0].Name, got.Name)
}

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed cache tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	client, err := redis.NewRedisClient(config.RedisConfig{Enabled: true, Host: host, Port: port})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Raw().FlushDB(ctx).Err())
	return client
}
