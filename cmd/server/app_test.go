package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/Vonhoon/koalatalk/internal/auth"
	"github.com/Vonhoon/koalatalk/internal/config"
	"github.com/Vonhoon/koalatalk/internal/push"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.Config {
	dir := t.TempDir()
	return config.Config{
		Port:                  "0",
		Env:                   "dev",
		DBDriver:              "sqlite",
		DatabaseDSN:           filepath.Join(dir, "db", "koala.db"),
		JWTSecret:             "secret",
		SessionTTLDays:        1,
		Users:                 []string{"아빠", "엄마"},
		Admins:                []string{"아빠"},
		UserPassword:          "pw",
		PushEnabled:           false,
		PushWorkers:           1,
		HeartbeatSeconds:      15,
		SweepIntervalMinutes:  60,
		MessageTTLHours:       24,
		SubscriptionStaleDays: 90,
		MediaDir:              filepath.Join(dir, "audio"),
		UploadDir:             filepath.Join(dir, "uploads"),
		KeysDir:               filepath.Join(dir, "keys"),
		StaticDir:             filepath.Join(dir, "static"),
		MaxUploadMB:           1,
	}
}

func TestBuildApp(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testConfig(t)

	a, err := buildApp(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(a.limiter.Stop)

	for _, dir := range []string{cfg.MediaDir, cfg.UploadDir, cfg.KeysDir} {
		assert.DirExists(t, dir)
	}
	_, err = os.Stat(cfg.DatabaseDSN)
	assert.NoError(t, err)

	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	res := a.sweeper.RunOnce(context.Background())
	assert.Empty(t, res.Errors)
	a.dispatcher.Wait()
}

func TestPasswordHash(t *testing.T) {
	cfg := testConfig(t)
	hash, err := passwordHash(cfg)
	require.NoError(t, err)
	assert.True(t, auth.VerifyPassword(hash, "pw"))

	cfg.UserPasswordHash = "$2a$10$preset"
	hash, err = passwordHash(cfg)
	require.NoError(t, err)
	assert.Equal(t, "$2a$10$preset", hash)
}

func TestNewTransport(t *testing.T) {
	cfg := testConfig(t)
	assert.IsType(t, push.Disabled{}, newTransport(cfg, push.VAPIDKeys{}))
	cfg.PushEnabled = true
	assert.IsType(t, &push.WebPush{}, newTransport(cfg, push.VAPIDKeys{}))
}
