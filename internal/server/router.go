package server

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Vonhoon/koalatalk/internal/auth"
	"github.com/Vonhoon/koalatalk/internal/config"
	"github.com/Vonhoon/koalatalk/internal/metrics"
	"github.com/Vonhoon/koalatalk/internal/mw"
	"github.com/Vonhoon/koalatalk/internal/realtime"
	"github.com/Vonhoon/koalatalk/internal/service"
	"github.com/Vonhoon/koalatalk/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Deps 是路由依赖的服务集合，由 main 组装。
type Deps struct {
	Roster         *auth.Roster
	Users          *service.UserService
	Channels       *service.ChannelService
	Messages       *service.MessageService
	Subscriptions  *store.SubscriptionStore
	Hub            *realtime.Hub
	VAPIDPublicKey string
	AudioDir       string
	UploadDir      string
	// Limiter 为空时按默认速率新建。
	Limiter *mw.RL
	// Streams 取消后所有 SSE/WebSocket 会话结束，为空则只随请求结束。
	Streams context.Context
}

var streamPrefixes = []string{"/stream/", "/ws/"}

// SetupRouter 统一初始化 Gin 中间件、REST API、流式端点以及静态文件。
func SetupRouter(cfg config.Config, d Deps) *gin.Engine {
	h := NewHandler(cfg, d)
	limiter := d.Limiter
	if limiter == nil {
		limiter = mw.NewRateLimiter(rate.Every(time.Second/20), 40, 2*time.Minute)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	// 长连接流不计入限速。
	r.Use(limiter.Middleware(streamPrefixes...))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/login", h.Login)
	r.POST("/logout", h.Logout)
	r.GET("/whoami", h.Whoami)
	r.GET("/vapid-public-key", h.VAPIDPublicKey)
	r.GET("/favicon.ico", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	// 需要登录会话的接口。
	authed := r.Group("")
	authed.Use(auth.AuthMiddleware(cfg.JWTSecret, d.Roster))

	authed.POST("/subscribe", h.Subscribe)

	api := authed.Group("/api")
	api.GET("/channels", h.ListChannels)
	api.POST("/channels", h.CreateChannel)
	api.GET("/messages", h.ListMessages)
	api.POST("/messages", h.CreateMessage)
	api.DELETE("/messages/:id", h.DeleteMessage)
	api.POST("/messages/:id/end_call", h.EndCall)
	api.POST("/webrtc/signal", h.Signal)

	authed.GET("/stream/:channel", h.StreamChannel)
	authed.GET("/stream/meta/:alias", h.StreamMeta)
	authed.GET("/ws/:channel", h.WSChannel)
	authed.GET("/ws/meta/:alias", h.WSMeta)

	if d.AudioDir != "" {
		authed.Static("/media", d.AudioDir)
	}
	if d.UploadDir != "" {
		authed.Static("/uploads", d.UploadDir)
	}

	r.NoRoute(staticFallback(cfg.StaticDir))
	return r
}

// staticFallback 提供前端静态文件；无扩展名的路径回退到 index.html。
func staticFallback(dir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		rel := strings.TrimPrefix(filepath.Clean("/"+c.Request.URL.Path), "/")
		if strings.HasPrefix(rel, "api/") || strings.HasPrefix(rel, "stream/") || strings.HasPrefix(rel, "ws/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		if dir == "" || (c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead) {
			c.Status(http.StatusNotFound)
			return
		}
		if rel != "" {
			target := filepath.Join(dir, filepath.FromSlash(rel))
			if fi, err := os.Stat(target); err == nil && !fi.IsDir() {
				c.File(target)
				return
			}
			if strings.Contains(filepath.Base(rel), ".") {
				c.Status(http.StatusNotFound)
				return
			}
		}
		index := filepath.Join(dir, "index.html")
		if _, err := os.Stat(index); err != nil {
			c.Status(http.StatusNotFound)
			return
		}
		c.File(index)
	}
}
