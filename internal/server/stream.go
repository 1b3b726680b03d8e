package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/Vonhoon/koalatalk/internal/auth"
	"github.com/Vonhoon/koalatalk/internal/models"
	"github.com/Vonhoon/koalatalk/internal/realtime"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// channelSession 校验频道可读并创建会话；私聊频道只对成员开放。
func (h *Handler) channelSession(c *gin.Context) (*realtime.Session, bool) {
	key := c.Param("channel")
	alias := auth.GetAlias(c)
	if strings.HasPrefix(key, models.MetaPrefix) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return nil, false
	}
	if models.IsDirectKey(key) {
		ch, err := h.channels.Get(c.Request.Context(), key)
		if err != nil {
			respondError(c, "open stream", err)
			return nil, false
		}
		if !ch.HasMember(alias) {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return nil, false
		}
	}
	return realtime.NewChannelSession(h.hub, key, alias, h.cfg.Heartbeat()), true
}

// metaSession 只允许订阅自己的 meta 流。
func (h *Handler) metaSession(c *gin.Context) (*realtime.Session, bool) {
	alias := c.Param("alias")
	if alias != auth.GetAlias(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return nil, false
	}
	return realtime.NewMetaSession(h.hub, alias, h.cfg.Heartbeat()), true
}

func (h *Handler) StreamChannel(c *gin.Context) {
	if sess, ok := h.channelSession(c); ok {
		h.serveSSE(c, sess)
	}
}

func (h *Handler) StreamMeta(c *gin.Context) {
	if sess, ok := h.metaSession(c); ok {
		h.serveSSE(c, sess)
	}
}

func (h *Handler) WSChannel(c *gin.Context) {
	if sess, ok := h.channelSession(c); ok {
		ctx, cancel := h.streamContext(c)
		defer cancel()
		realtime.ServeWS(ctx, c, sess)
	}
}

func (h *Handler) WSMeta(c *gin.Context) {
	if sess, ok := h.metaSession(c); ok {
		ctx, cancel := h.streamContext(c)
		defer cancel()
		realtime.ServeWS(ctx, c, sess)
	}
}

// streamContext 在客户端断开或服务停止接收流时结束。
// 普通请求不受后者影响，由 http.Server.Shutdown 排空。
func (h *Handler) streamContext(c *gin.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	stop := context.AfterFunc(h.streams, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (h *Handler) serveSSE(c *gin.Context, sess *realtime.Session) {
	w, err := realtime.NewSSEWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx, cancel := h.streamContext(c)
	defer cancel()
	if err := sess.Run(ctx, w); err != nil {
		log.Debug().Err(err).Str("channel", sess.Key()).Msg("sse stream closed")
	}
}
