package store

import (
	"context"
	"os"
	"testing"

	"github.com/Vonhoon/koalatalk/internal/db"
	"github.com/Vonhoon/koalatalk/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/gorm"
)

// openPostgres 启动一次性的 Postgres 容器。设置 KOALA_POSTGRES_TESTS=1 才运行。
func openPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	if os.Getenv("KOALA_POSTGRES_TESTS") == "" || testing.Short() {
		t.Skip("set KOALA_POSTGRES_TESTS=1 to run postgres tests")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("koala"),
		postgres.WithUsername("koala"),
		postgres.WithPassword("koala"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	gdb, err := db.Connect(db.DriverPostgres, dsn)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	return gdb
}

func TestPostgres_Stores(t *testing.T) {
	gdb := openPostgres(t)
	ctx := context.Background()

	channels := NewChannelStore(gdb)
	require.NoError(t, channels.CreateIfAbsent(ctx, &models.Channel{Key: "dm:a:b", Title: "a & b", Members: []string{"a", "b"}}))
	require.NoError(t, channels.CreateIfAbsent(ctx, &models.Channel{Key: "dm:a:b", Title: "other"}))
	ch, err := channels.Get(ctx, "dm:a:b")
	require.NoError(t, err)
	assert.Equal(t, "a & b", ch.Title)
	assert.Equal(t, []string{"a", "b"}, ch.Members)

	messages := NewMessageStore(gdb, fixedClock(1000))
	m := &models.Message{Channel: "dm:a:b", Alias: "a", Type: models.TypeText, Text: "hi"}
	require.NoError(t, messages.Create(ctx, m))
	got, err := messages.ListBetween(ctx, "dm:a:b", 0, 1000)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hi", got[0].Text)

	subs := NewSubscriptionStore(gdb, fixedClock(1000))
	require.NoError(t, subs.Replace(ctx, &models.Subscription{Endpoint: "e1", P256dh: "p", Auth: "a", Alias: "a"}))
	require.NoError(t, subs.Replace(ctx, &models.Subscription{Endpoint: "e2", P256dh: "p", Auth: "a", Alias: "a"}))
	n, err := subs.CountForAlias(ctx, "a")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
