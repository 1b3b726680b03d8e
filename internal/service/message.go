package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/Vonhoon/koalatalk/internal/media"
	"github.com/Vonhoon/koalatalk/internal/metrics"
	"github.com/Vonhoon/koalatalk/internal/models"
	"github.com/Vonhoon/koalatalk/internal/push"
	"github.com/Vonhoon/koalatalk/internal/realtime"
	"github.com/Vonhoon/koalatalk/internal/store"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
)

const (
	// CallEndedText 替换已结束通话消息的文本。
	CallEndedText = "📞 통화 종료"

	defaultListDays = 3
	secondsPerDay   = 86400
)

// Notifier 在后台为新消息派发离线推送。
type Notifier interface {
	Go(note push.Notification, msg models.Message)
}

// Admins 判断某个 alias 是否可以删除任意消息。
type Admins interface {
	IsAdmin(alias string) bool
}

// MessageService 封装消息相关的业务逻辑。
type MessageService struct {
	messages *store.MessageStore
	channels *ChannelService
	hub      *realtime.Hub
	notifier Notifier
	files    *media.Store
	admins   Admins
	now      func() time.Time
}

func NewMessageService(messages *store.MessageStore, channels *ChannelService, hub *realtime.Hub,
	notifier Notifier, files *media.Store, admins Admins) *MessageService {
	return &MessageService{
		messages: messages,
		channels: channels,
		hub:      hub,
		notifier: notifier,
		files:    files,
		admins:   admins,
		now:      time.Now,
	}
}

// MessageDTO 是对外输出的消息数据，附件路径换成 URL。
type MessageDTO struct {
	ID        uint            `json:"id"`
	Channel   string          `json:"channel"`
	Alias     string          `json:"alias"`
	UserID    string          `json:"user_id,omitempty"`
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	AudioURL  string          `json:"audio_url,omitempty"`
	ImageURL  string          `json:"image_url,omitempty"`
	FileURL   string          `json:"file_url,omitempty"`
	FileName  string          `json:"file_name,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt int64           `json:"created_at"`
}

func ToDTO(m models.Message) MessageDTO {
	dto := MessageDTO{
		ID:        m.ID,
		Channel:   m.Channel,
		Alias:     m.Alias,
		UserID:    m.UserID,
		Type:      m.Type,
		Text:      m.Text,
		AudioURL:  media.URL(models.TypeVoice, m.AudioPath),
		ImageURL:  media.URL(models.TypeImage, m.ImagePath),
		FileURL:   media.URL(models.TypeFile, m.FilePath),
		FileName:  m.FileName,
		CreatedAt: m.CreatedAt,
	}
	if p := bytes.TrimSpace(m.Payload); len(p) > 0 && !bytes.Equal(p, []byte("null")) {
		dto.Payload = json.RawMessage(p)
	}
	return dto
}

// TextInput 是结构化的文本消息提交。Payload 原样保存，不做解释。
type TextInput struct {
	Channel string
	Alias   string
	UserID  string
	Type    string
	Text    string
	Payload json.RawMessage
}

// AttachmentInput 是二进制附件提交。Voice 对应表单字段 audio，否则为 upload。
type AttachmentInput struct {
	Channel  string
	Alias    string
	UserID   string
	Voice    bool
	FileName string
	MIME     string
	Body     io.Reader
}

// CreateText 校验并保存文本消息，然后发布给直播会话并触发后台推送。
func (s *MessageService) CreateText(ctx context.Context, in TextInput) (*MessageDTO, error) {
	channel := strings.TrimSpace(in.Channel)
	if channel == "" {
		return nil, ErrChannelRequired
	}
	typ := strings.ToLower(strings.TrimSpace(in.Type))
	if typ == "" {
		typ = models.TypeText
	}
	if typ != models.TypeText {
		return nil, ErrInvalidType
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrTextRequired
	}
	ch, err := s.accessibleChannel(ctx, channel, in.Alias)
	if err != nil {
		return nil, err
	}

	msg := models.Message{Channel: channel, Alias: in.Alias, UserID: in.UserID, Type: typ, Text: text}
	if len(bytes.TrimSpace(in.Payload)) > 0 {
		msg.Payload = datatypes.JSON(in.Payload)
	}
	return s.create(ctx, ch, &msg)
}

// CreateAttachment 保存附件文件并写入语音、图片或文件消息。
func (s *MessageService) CreateAttachment(ctx context.Context, in AttachmentInput) (*MessageDTO, error) {
	channel := strings.TrimSpace(in.Channel)
	if channel == "" {
		return nil, ErrChannelRequired
	}
	if in.Body == nil {
		return nil, ErrAttachmentRequired
	}
	ch, err := s.accessibleChannel(ctx, channel, in.Alias)
	if err != nil {
		return nil, err
	}

	saved, err := s.files.Save(in.Voice, in.FileName, in.MIME, in.Body)
	if err != nil {
		return nil, err
	}
	msg := models.Message{Channel: channel, Alias: in.Alias, UserID: in.UserID, Type: saved.Kind}
	switch saved.Kind {
	case models.TypeVoice:
		msg.AudioPath = saved.Path
	case models.TypeImage:
		msg.ImagePath = saved.Path
	default:
		msg.FilePath = saved.Path
		msg.FileName = saved.Name
	}

	dto, err := s.create(ctx, ch, &msg)
	if err != nil {
		_ = s.files.Remove(saved.Path)
		return nil, err
	}
	return dto, nil
}

// accessibleChannel 要求频道存在；私聊频道只允许成员读写。
func (s *MessageService) accessibleChannel(ctx context.Context, key, alias string) (*models.Channel, error) {
	ch, err := s.channels.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if ch.IsDirect() && !ch.HasMember(alias) {
		return nil, ErrForbidden
	}
	return ch, nil
}

func (s *MessageService) create(ctx context.Context, ch *models.Channel, msg *models.Message) (*MessageDTO, error) {
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}
	metrics.MessagesCreated.WithLabelValues(msg.Type).Inc()

	dto := ToDTO(*msg)
	s.hub.Publish(msg.Channel, realtime.Event{Name: realtime.EventMessage, Data: dto})
	if s.notifier != nil {
		s.notifier.Go(push.Render(*msg, ch.Title), *msg)
	}
	return &dto, nil
}

// ListResult 是历史消息查询结果。
type ListResult struct {
	Messages []MessageDTO `json:"messages"`
	HasMore  bool         `json:"has_more"`
}

// List 返回 [before-days*86400, before] 内的消息（按时间升序），
// HasMore 表示窗口起点之前是否还有消息。days<=0 取 3，before<=0 取当前时间。
// 私聊频道只对成员可见。
func (s *MessageService) List(ctx context.Context, channel, actor string, days int, before int64) (*ListResult, error) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return nil, ErrChannelRequired
	}
	if models.IsDirectKey(channel) {
		if _, err := s.accessibleChannel(ctx, channel, actor); err != nil {
			return nil, err
		}
	}
	if days <= 0 {
		days = defaultListDays
	}
	if before <= 0 {
		before = s.now().Unix()
	}
	// 天数超出 before 时窗口从 0 开始。
	var start int64
	if int64(days) <= before/secondsPerDay {
		start = before - int64(days)*secondsPerDay
	}

	msgs, err := s.messages.ListBetween(ctx, channel, start, before)
	if err != nil {
		return nil, err
	}
	older, err := s.messages.CountBefore(ctx, channel, start)
	if err != nil {
		return nil, err
	}
	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ToDTO(m))
	}
	return &ListResult{Messages: out, HasMore: older > 0}, nil
}

// Delete 删除消息：发送者本人或管理员可删。同时删除附件并发布 delete 事件。
func (s *MessageService) Delete(ctx context.Context, id uint, actor string) error {
	msg, err := s.messages.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrMessageNotFound
	}
	if err != nil {
		return err
	}
	if msg.Alias != actor && !s.admins.IsAdmin(actor) {
		return ErrForbidden
	}
	ok, err := s.messages.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrMessageNotFound
	}
	for _, p := range msg.AttachmentPaths() {
		if err := s.files.Remove(p); err != nil {
			log.Warn().Err(err).Uint("message_id", id).Str("path", p).Msg("remove attachment")
		}
	}
	s.hub.Publish(msg.Channel, realtime.Event{Name: realtime.EventDelete, Data: map[string]uint{"id": id}})
	return nil
}

// EndCall 把私聊中的通话消息标记为已结束，只有频道成员可以操作。
func (s *MessageService) EndCall(ctx context.Context, id uint, actor string) (*MessageDTO, error) {
	msg, err := s.messages.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	if !models.IsDirectKey(msg.Channel) || !s.isDirectMember(ctx, msg.Channel, actor) {
		return nil, ErrForbidden
	}
	if err := s.messages.UpdateText(ctx, id, CallEndedText); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	updated, err := s.messages.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := ToDTO(*updated)
	s.hub.Publish(updated.Channel, realtime.Event{Name: realtime.EventMessageUpdate, Data: dto})
	return &dto, nil
}

func (s *MessageService) isDirectMember(ctx context.Context, key, alias string) bool {
	if ch, err := s.channels.Get(ctx, key); err == nil {
		return ch.HasMember(alias)
	}
	parts := strings.Split(strings.TrimPrefix(key, models.DirectPrefix), ":")
	return contains(parts, alias)
}

// SignalEvent 是转发给对方 meta 流的 WebRTC 信令。
type SignalEvent struct {
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

// Signal 把信令原样转发到 meta:<to>，返回收到的会话数。
func (s *MessageService) Signal(from, to string, payload json.RawMessage) (int, error) {
	to = strings.TrimSpace(to)
	p := bytes.TrimSpace(payload)
	if from == "" || to == "" || len(p) == 0 || bytes.Equal(p, []byte("null")) {
		return 0, ErrSignalInvalid
	}
	n := s.hub.Publish(models.MetaKey(to), realtime.Event{
		Name: realtime.EventWebRTCSignal,
		Data: SignalEvent{From: from, Payload: json.RawMessage(p)},
	})
	return n, nil
}
