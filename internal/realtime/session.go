package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Vonhoon/koalatalk/internal/models"

	"github.com/rs/zerolog/log"
)

// DefaultHeartbeat 是空闲时发送 ping 的间隔。
const DefaultHeartbeat = 15 * time.Second

var emptyData = []byte("{}")

// State 是直播会话的状态。
type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EventWriter 把一条带名字的事件写到具体传输上（SSE 或 WebSocket）。
type EventWriter interface {
	WriteEvent(name string, data []byte) error
}

// Session 是单个直播连接的状态机：CONNECTING -> STREAMING -> CLOSED。
type Session struct {
	hub          *Hub
	key          string
	alias        string
	defaultEvent string
	heartbeat    time.Duration

	state     atomic.Int32
	sink      *Sink
	closeOnce sync.Once
}

// NewChannelSession 创建聊天频道会话，alias 非空时参与在线统计。
func NewChannelSession(hub *Hub, key, alias string, heartbeat time.Duration) *Session {
	return newSession(hub, key, alias, EventMessage, heartbeat)
}

// NewMetaSession 创建 meta:<alias> 通知流会话，不参与在线统计。
func NewMetaSession(hub *Hub, alias string, heartbeat time.Duration) *Session {
	return newSession(hub, models.MetaKey(alias), "", EventChannel, heartbeat)
}

func newSession(hub *Hub, key, alias, defaultEvent string, heartbeat time.Duration) *Session {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Session{hub: hub, key: key, alias: alias, defaultEvent: defaultEvent, heartbeat: heartbeat}
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) Key() string { return s.key }

// Run 运行会话直到客户端断开、写出失败或 ctx 结束。
// 无论从哪条路径退出，注销与在线清理都恰好执行一次。
// ctx 结束或 sink 被注销视为正常结束，返回 nil；写出错误原样返回。
func (s *Session) Run(ctx context.Context, w EventWriter) error {
	s.sink = s.hub.Open(s.key, s.alias)
	defer s.close()
	s.state.Store(int32(StateStreaming))

	if err := w.WriteEvent(EventHello, emptyData); err != nil {
		return err
	}
	for {
		ev, err := s.sink.Next(ctx, s.heartbeat)
		switch {
		case err == nil:
			data, err := json.Marshal(ev.Data)
			if err != nil {
				log.Warn().Err(err).Str("channel", s.key).Str("event", ev.Name).Msg("stream encode event")
				continue
			}
			name := ev.Name
			if name == "" {
				name = s.defaultEvent
			}
			if err := w.WriteEvent(name, data); err != nil {
				return err
			}
		case errors.Is(err, ErrIdle):
			if err := w.WriteEvent(EventPing, emptyData); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// close 释放会话资源，可重复调用。外部要结束会话应取消 Run 的 ctx。
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.hub.Close(s.sink)
		s.state.Store(int32(StateClosed))
	})
}
