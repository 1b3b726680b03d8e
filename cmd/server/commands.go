package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Vonhoon/koalatalk/internal/config"
	clog "github.com/Vonhoon/koalatalk/internal/log"
	"github.com/Vonhoon/koalatalk/internal/media"
	"github.com/Vonhoon/koalatalk/internal/push"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var rootCmd = &cobra.Command{
	Use:           "koalatalk",
	Short:         "KoalaTalk family messaging server",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server, push dispatcher and retention sweeper",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update database tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if _, err := openDB(cfg); err != nil {
			return err
		}
		log.Info().Str("driver", cfg.DBDriver).Msg("migrated")
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one retention sweep and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		gdb, err := openDB(cfg)
		if err != nil {
			return err
		}
		files, err := media.NewStore(cfg.MediaDir, cfg.UploadDir, cfg.MaxUploadBytes())
		if err != nil {
			return err
		}
		res := newSweeper(cfg, gdb, files).RunOnce(cmd.Context())
		if len(res.Errors) > 0 {
			return fmt.Errorf("sweep steps failed: %v", res.Errors)
		}
		return nil
	},
}

var vapidCmd = &cobra.Command{
	Use:   "vapid",
	Short: "Print the VAPID public key, generating the key pair if missing",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		keys, _, err := push.LoadOrCreateVAPIDKeys(cfg.KeysDir)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), keys.Public)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, sweepCmd, vapidCmd)
}

func loadConfig() (config.Config, error) {
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		return cfg, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	go a.sweeper.Run(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "server run")
		}
	}

	// 信号到达时 ctx 已结束，流式会话先退出，Shutdown 再排空普通请求。
	stop()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown")
	}
	a.limiter.Stop()
	a.dispatcher.Wait()
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	return nil
}
