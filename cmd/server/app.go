package main

import (
	"context"
	"time"

	"github.com/Vonhoon/koalatalk/internal/auth"
	"github.com/Vonhoon/koalatalk/internal/config"
	"github.com/Vonhoon/koalatalk/internal/db"
	"github.com/Vonhoon/koalatalk/internal/media"
	"github.com/Vonhoon/koalatalk/internal/mw"
	"github.com/Vonhoon/koalatalk/internal/push"
	"github.com/Vonhoon/koalatalk/internal/realtime"
	"github.com/Vonhoon/koalatalk/internal/retention"
	"github.com/Vonhoon/koalatalk/internal/server"
	"github.com/Vonhoon/koalatalk/internal/service"
	"github.com/Vonhoon/koalatalk/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// app 持有一个进程内的全部组件。
type app struct {
	cfg        config.Config
	db         *gorm.DB
	hub        *realtime.Hub
	dispatcher *push.Dispatcher
	sweeper    *retention.Sweeper
	limiter    *mw.RL
	engine     *gin.Engine
}

func openDB(cfg config.Config) (*gorm.DB, error) {
	gdb, err := db.Connect(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, errors.Wrap(err, "db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, errors.Wrap(err, "db migrate")
	}
	return gdb, nil
}

func passwordHash(cfg config.Config) (string, error) {
	if cfg.UserPasswordHash != "" {
		return cfg.UserPasswordHash, nil
	}
	return auth.HashPassword(cfg.UserPassword)
}

func newSweeper(cfg config.Config, gdb *gorm.DB, files *media.Store) *retention.Sweeper {
	return retention.NewSweeper(store.NewMessageStore(gdb, nil), store.NewSubscriptionStore(gdb, nil), files,
		retention.Options{
			Interval:   cfg.SweepInterval(),
			MessageTTL: cfg.MessageTTL(),
			StaleAfter: cfg.SubscriptionStale(),
		})
}

func newTransport(cfg config.Config, keys push.VAPIDKeys) push.Transport {
	if !cfg.PushEnabled {
		log.Info().Msg("web push disabled")
		return push.Disabled{}
	}
	return push.NewWebPush(keys, cfg.PushSubscriber, nil)
}

// buildApp 按配置组装存储、实时 hub、推送、服务层与路由。
// ctx 结束时所有流式会话随之结束。
func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	gdb, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	hash, err := passwordHash(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}
	roster := auth.NewRoster(cfg.Users, cfg.Admins, hash)

	keys, created, err := push.LoadOrCreateVAPIDKeys(cfg.KeysDir)
	if err != nil {
		return nil, err
	}
	if created {
		log.Info().Str("dir", cfg.KeysDir).Msg("generated vapid keys")
	}

	files, err := media.NewStore(cfg.MediaDir, cfg.UploadDir, cfg.MaxUploadBytes())
	if err != nil {
		return nil, errors.Wrap(err, "media dirs")
	}

	hub := realtime.NewHub()
	channelStore := store.NewChannelStore(gdb)
	subs := store.NewSubscriptionStore(gdb, nil)
	channels := service.NewChannelService(channelStore, hub, roster.Users())
	if _, err := channels.ResolvePublic(ctx); err != nil {
		return nil, errors.Wrap(err, "resolve public channel")
	}

	dispatcher := push.NewDispatcher(subs, channelStore, hub, newTransport(cfg, keys), push.Options{
		Workers:     cfg.PushWorkers,
		MaxFailures: cfg.PushMaxFailures,
	})
	messages := service.NewMessageService(store.NewMessageStore(gdb, nil), channels, hub, dispatcher, files, roster)
	limiter := mw.NewRateLimiter(rate.Every(time.Second/20), 40, 2*time.Minute)

	engine := server.SetupRouter(cfg, server.Deps{
		Roster:         roster,
		Users:          service.NewUserService(roster, cfg.JWTSecret, cfg.SessionTTL()),
		Channels:       channels,
		Messages:       messages,
		Subscriptions:  subs,
		Hub:            hub,
		VAPIDPublicKey: keys.Public,
		AudioDir:       files.AudioDir(),
		UploadDir:      files.UploadDir(),
		Limiter:        limiter,
		Streams:        ctx,
	})
	return &app{
		cfg:        cfg,
		db:         gdb,
		hub:        hub,
		dispatcher: dispatcher,
		sweeper:    newSweeper(cfg, gdb, files),
		limiter:    limiter,
		engine:     engine,
	}, nil
}
