package store

import (
	"context"
	"testing"
	"time"

	"github.com/Vonhoon/koalatalk/internal/db"
	"github.com/Vonhoon/koalatalk/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.OpenMemory()
	require.NoError(t, err)
	return gdb
}

func fixedClock(ts int64) Clock {
	return func() time.Time { return time.Unix(ts, 0) }
}

func TestChannelStore_CreateIfAbsentKeepsFirstRow(t *testing.T) {
	ctx := context.Background()
	s := NewChannelStore(openDB(t))

	require.NoError(t, s.CreateIfAbsent(ctx, &models.Channel{Key: "dm:a:b", Title: "a & b", Members: []string{"a", "b"}}))
	require.NoError(t, s.CreateIfAbsent(ctx, &models.Channel{Key: "dm:a:b", Title: "other", Members: []string{"x"}}))

	got, err := s.Get(ctx, "dm:a:b")
	require.NoError(t, err)
	assert.Equal(t, "a & b", got.Title)
	assert.Equal(t, []string{"a", "b"}, got.Members)
}

func TestChannelStore_UpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	s := NewChannelStore(openDB(t))

	require.NoError(t, s.Upsert(ctx, &models.Channel{Key: "public-1", Title: "old", Members: []string{"a"}}))
	require.NoError(t, s.Upsert(ctx, &models.Channel{Key: "public-1", Title: "new", Members: []string{"a", "b"}}))

	got, err := s.Get(ctx, "public-1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Title)
	assert.Equal(t, []string{"a", "b"}, got.Members)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMessageStore_ListBetweenAndCount(t *testing.T) {
	ctx := context.Background()
	gdb := openDB(t)
	ts := int64(1_700_000_000)
	s := NewMessageStore(gdb, fixedClock(ts))

	for _, at := range []int64{ts - 500, ts - 100, ts - 50, ts} {
		require.NoError(t, gdb.Create(&models.Message{Channel: "c", Alias: "a", Type: models.TypeText, Text: "t", CreatedAt: at}).Error)
	}
	require.NoError(t, gdb.Create(&models.Message{Channel: "other", Alias: "a", Type: models.TypeText, Text: "t", CreatedAt: ts}).Error)

	msgs, err := s.ListBetween(ctx, "c", ts-100, ts)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, ts-100, msgs[0].CreatedAt)
	assert.Equal(t, ts, msgs[2].CreatedAt)

	n, err := s.CountBefore(ctx, "c", ts-100)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestMessageStore_CreateAssignsTimestamp(t *testing.T) {
	ctx := context.Background()
	s := NewMessageStore(openDB(t), fixedClock(42))

	m := &models.Message{Channel: "c", Alias: "a", Type: models.TypeText, Text: "hi", CreatedAt: 7}
	require.NoError(t, s.Create(ctx, m))
	assert.NotZero(t, m.ID)
	assert.EqualValues(t, 42, m.CreatedAt)

	require.NoError(t, s.UpdateText(ctx, m.ID, "edited"))
	got, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Text)
	assert.EqualValues(t, 42, got.CreatedAt)

	ok, err := s.Delete(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Delete(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, s.UpdateText(ctx, m.ID, "x"), ErrNotFound)
}

func TestMessageStore_PruneBefore(t *testing.T) {
	ctx := context.Background()
	gdb := openDB(t)
	now := int64(1_700_000_000)
	s := NewMessageStore(gdb, fixedClock(now))

	old := models.Message{Channel: "c", Alias: "a", Type: models.TypeVoice, AudioPath: "/tmp/a.webm", CreatedAt: now - 25*3600}
	fresh := models.Message{Channel: "c", Alias: "a", Type: models.TypeImage, ImagePath: "/tmp/b.png", CreatedAt: now - 3600}
	require.NoError(t, gdb.Create(&old).Error)
	require.NoError(t, gdb.Create(&fresh).Error)

	n, paths, err := s.PruneBefore(ctx, now-24*3600)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, []string{"/tmp/a.webm"}, paths)

	_, err = s.Get(ctx, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestSubscriptionStore_ReplaceKeepsOnePerAlias(t *testing.T) {
	ctx := context.Background()
	s := NewSubscriptionStore(openDB(t), fixedClock(100))

	require.NoError(t, s.Replace(ctx, &models.Subscription{Endpoint: "https://push/1", P256dh: "k", Auth: "a", Alias: "엄마"}))
	require.NoError(t, s.Replace(ctx, &models.Subscription{Endpoint: "https://push/2", P256dh: "k", Auth: "a", Alias: "엄마"}))

	n, err := s.CountForAlias(ctx, "엄마")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	subs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "https://push/2", subs[0].Endpoint)
}

func TestSubscriptionStore_UnknownAliasNotReplaced(t *testing.T) {
	ctx := context.Background()
	s := NewSubscriptionStore(openDB(t), fixedClock(100))

	require.NoError(t, s.Replace(ctx, &models.Subscription{Endpoint: "https://push/1", P256dh: "k", Auth: "a", Alias: UnknownAlias}))
	require.NoError(t, s.Replace(ctx, &models.Subscription{Endpoint: "https://push/2", P256dh: "k", Auth: "a", Alias: UnknownAlias}))
	// 同一 endpoint 重复注册只保留一行
	require.NoError(t, s.Replace(ctx, &models.Subscription{Endpoint: "https://push/2", P256dh: "k2", Auth: "a", Alias: UnknownAlias}))

	subs, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestSubscriptionStore_FailureCounting(t *testing.T) {
	ctx := context.Background()
	now := int64(100)
	s := NewSubscriptionStore(openDB(t), func() time.Time { return time.Unix(now, 0) })

	sub := &models.Subscription{Endpoint: "https://push/1", P256dh: "k", Auth: "a", Alias: "a"}
	require.NoError(t, s.Replace(ctx, sub))

	c, err := s.MarkFailed(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, c)
	c, err = s.MarkFailed(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, c)

	now = 500
	require.NoError(t, s.MarkDelivered(ctx, sub.ID))
	subs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Zero(t, subs[0].FailCount)
	assert.EqualValues(t, 500, subs[0].LastSeen)
}

func TestSubscriptionStore_PruneStale(t *testing.T) {
	ctx := context.Background()
	now := int64(100 * 86400)
	s := NewSubscriptionStore(openDB(t), func() time.Time { return time.Unix(now, 0) })

	require.NoError(t, s.Replace(ctx, &models.Subscription{Endpoint: "https://push/old", P256dh: "k", Auth: "a", Alias: "a"}))
	now += 91 * 86400
	require.NoError(t, s.Replace(ctx, &models.Subscription{Endpoint: "https://push/new", P256dh: "k", Auth: "a", Alias: "b"}))

	n, err := s.PruneStale(ctx, now-90*86400)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	subs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "https://push/new", subs[0].Endpoint)
}
