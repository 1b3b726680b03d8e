package server

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/Vonhoon/koalatalk/internal/auth"
	"github.com/Vonhoon/koalatalk/internal/config"
	"github.com/Vonhoon/koalatalk/internal/media"
	"github.com/Vonhoon/koalatalk/internal/models"
	"github.com/Vonhoon/koalatalk/internal/realtime"
	"github.com/Vonhoon/koalatalk/internal/service"
	"github.com/Vonhoon/koalatalk/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var errUnsupportedContentType = errors.New("unsupported content-type")

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	cfg         config.Config
	roster      *auth.Roster
	users       *service.UserService
	channels    *service.ChannelService
	messages    *service.MessageService
	subs        *store.SubscriptionStore
	hub         *realtime.Hub
	vapidPublic string
	streams     context.Context
}

func NewHandler(cfg config.Config, d Deps) *Handler {
	h := &Handler{
		cfg:         cfg,
		roster:      d.Roster,
		users:       d.Users,
		channels:    d.Channels,
		messages:    d.Messages,
		subs:        d.Subscriptions,
		hub:         d.Hub,
		vapidPublic: d.VAPIDPublicKey,
		streams:     d.Streams,
	}
	if h.streams == nil {
		h.streams = context.Background()
	}
	return h
}

// statusFor 把业务错误映射为 HTTP 状态码。
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrChannelRequired),
		errors.Is(err, service.ErrTextRequired),
		errors.Is(err, service.ErrInvalidType),
		errors.Is(err, service.ErrAttachmentRequired),
		errors.Is(err, service.ErrSignalInvalid),
		errors.Is(err, service.ErrInvalidChannelType),
		errors.Is(err, service.ErrInvalidMembership),
		errors.Is(err, service.ErrUnknownMember):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrChannelNotFound), errors.Is(err, service.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, media.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errUnsupportedContentType):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("alias", auth.GetAlias(c)).Msg(op)
		c.JSON(status, gin.H{"error": "internal"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// Login 处理登录请求，成功后写入会话 cookie。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		ID       string `json:"id"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if strings.TrimSpace(req.ID) == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.users.Login(req.ID, req.Password)
	if err != nil {
		respondError(c, "login", err)
		return
	}
	auth.SetSessionCookie(c, result.Token, h.users.TTL(), h.secureCookies())
	c.JSON(http.StatusOK, gin.H{"ok": true, "user": result.Alias, "admin": result.Admin, "token": result.Token})
}

func (h *Handler) Logout(c *gin.Context) {
	auth.ClearSessionCookie(c, h.secureCookies())
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Whoami 返回当前会话用户，未登录时 user 为 null。
func (h *Handler) Whoami(c *gin.Context) {
	alias, ok := auth.Identify(c.Request, h.cfg.JWTSecret, h.roster)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"user": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": alias, "admin": h.roster.IsAdmin(alias)})
}

func (h *Handler) secureCookies() bool { return h.cfg.Env != "dev" }

// VAPIDPublicKey 返回推送公钥，禁止任何缓存。
func (h *Handler) VAPIDPublicKey(c *gin.Context) {
	c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	c.Header("Pragma", "no-cache")
	c.JSON(http.StatusOK, gin.H{"publicKey": h.vapidPublic})
}

// Subscribe 保存当前用户的浏览器推送订阅，同一用户只保留最新一条。
func (h *Handler) Subscribe(c *gin.Context) {
	var req struct {
		Subscription *struct {
			Endpoint string `json:"endpoint"`
			Keys     struct {
				P256dh string `json:"p256dh"`
				Auth   string `json:"auth"`
			} `json:"keys"`
		} `json:"subscription"`
		UserID string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription"})
		return
	}
	s := req.Subscription
	if s == nil || s.Endpoint == "" || s.Keys.P256dh == "" || s.Keys.Auth == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription"})
		return
	}
	sub := models.Subscription{
		Endpoint: s.Endpoint,
		P256dh:   s.Keys.P256dh,
		Auth:     s.Keys.Auth,
		Alias:    auth.GetAlias(c),
		UserID:   req.UserID,
	}
	if err := h.subs.Replace(c.Request.Context(), &sub); err != nil {
		respondError(c, "subscribe", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "subscription_id": sub.ID})
}

func (h *Handler) ListChannels(c *gin.Context) {
	chans, err := h.channels.ChannelsFor(c.Request.Context(), auth.GetAlias(c))
	if err != nil {
		respondError(c, "list channels", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "channels": chans})
}

// CreateChannel 创建（或取回）与另一名成员的私聊频道。
func (h *Handler) CreateChannel(c *gin.Context) {
	var req struct {
		Type    string   `json:"type"`
		Members []string `json:"members"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	ch, err := h.channels.CreateDirect(c.Request.Context(), auth.GetAlias(c), req.Type, req.Members)
	if err != nil {
		respondError(c, "create channel", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "channel": ch})
}

// ListMessages 按时间窗口返回频道历史：?channel=&days=&before=。
func (h *Handler) ListMessages(c *gin.Context) {
	days, err := queryInt(c, "days")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid days"})
		return
	}
	before, err := queryInt(c, "before")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before"})
		return
	}
	res, err := h.messages.List(c.Request.Context(), c.Query("channel"), auth.GetAlias(c), int(days), before)
	if err != nil {
		respondError(c, "list messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "messages": res.Messages, "has_more": res.HasMore})
}

func queryInt(c *gin.Context, key string) (int64, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

// CreateMessage 接收 JSON 文本消息或 multipart 附件（audio / upload 字段）。
func (h *Handler) CreateMessage(c *gin.Context) {
	ctype, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))
	var (
		msg *service.MessageDTO
		err error
	)
	switch ctype {
	case "multipart/form-data":
		msg, err = h.createAttachment(c)
	case "application/json":
		msg, err = h.createText(c)
	default:
		err = errUnsupportedContentType
	}
	if err != nil {
		respondError(c, "create message", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "message": msg})
}

func (h *Handler) createText(c *gin.Context) (*service.MessageDTO, error) {
	var req struct {
		Channel string          `json:"channel"`
		UserID  string          `json:"user_id"`
		Type    string          `json:"type"`
		Text    string          `json:"text"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, service.ErrTextRequired
	}
	return h.messages.CreateText(c.Request.Context(), service.TextInput{
		Channel: req.Channel,
		Alias:   auth.GetAlias(c),
		UserID:  req.UserID,
		Type:    req.Type,
		Text:    req.Text,
		Payload: req.Payload,
	})
}

func (h *Handler) createAttachment(c *gin.Context) (*service.MessageDTO, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadBytes()+1<<20)
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, media.ErrTooLarge
		}
		return nil, service.ErrAttachmentRequired
	}
	channel := formValue(form, "channel")
	if strings.TrimSpace(channel) == "" {
		return nil, service.ErrChannelRequired
	}

	voice := true
	fh := firstFile(form, "audio")
	if fh == nil {
		voice = false
		fh = firstFile(form, "upload")
	}
	if fh == nil {
		return nil, service.ErrAttachmentRequired
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	name := fh.Filename
	if name == "" {
		name = "file.bin"
	}
	return h.messages.CreateAttachment(c.Request.Context(), service.AttachmentInput{
		Channel:  channel,
		Alias:    auth.GetAlias(c),
		UserID:   formValue(form, "user_id"),
		Voice:    voice,
		FileName: name,
		MIME:     fh.Header.Get("Content-Type"),
		Body:     f,
	})
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func firstFile(form *multipart.Form, key string) *multipart.FileHeader {
	if fs := form.File[key]; len(fs) > 0 {
		return fs[0]
	}
	return nil
}

func messageID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return 0, false
	}
	return uint(id), true
}

func (h *Handler) DeleteMessage(c *gin.Context) {
	id, ok := messageID(c)
	if !ok {
		return
	}
	if err := h.messages.Delete(c.Request.Context(), id, auth.GetAlias(c)); err != nil {
		respondError(c, "delete message", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) EndCall(c *gin.Context) {
	id, ok := messageID(c)
	if !ok {
		return
	}
	msg, err := h.messages.EndCall(c.Request.Context(), id, auth.GetAlias(c))
	if err != nil {
		respondError(c, "end call", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "message": msg})
}

// Signal 把 WebRTC 信令转发到目标用户的 meta 流。
func (h *Handler) Signal(c *gin.Context) {
	var req struct {
		To      string          `json:"to"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, "signal", service.ErrSignalInvalid)
		return
	}
	if _, err := h.messages.Signal(auth.GetAlias(c), req.To, req.Payload); err != nil {
		respondError(c, "signal", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
