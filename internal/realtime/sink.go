package realtime

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrIdle 表示在超时时间内没有新事件。
	ErrIdle = errors.New("sink idle")
	// ErrClosed 表示 sink 已被注销。
	ErrClosed = errors.New("sink closed")
)

// Sink 是单个直播会话的投递句柄，带无界 FIFO 邮箱。
// 投递永不阻塞发布方，慢消费者只会让自己的队列变长。
type Sink struct {
	key   string
	alias string

	// released 由 Hub.mu 保护，保证 Close 只生效一次。
	released bool

	mu     sync.Mutex
	queue  []Event
	closed bool
	ready  chan struct{}
}

func newSink(key, alias string) *Sink {
	return &Sink{key: key, alias: alias, ready: make(chan struct{}, 1)}
}

// Key 返回 sink 订阅的频道 key。
func (s *Sink) Key() string { return s.key }

// Len 返回尚未取走的事件数。
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Sink) deliver(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.queue = append(s.queue, ev)
	select {
	case s.ready <- struct{}{}:
	default:
	}
	return true
}

func (s *Sink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.queue = nil
	close(s.ready)
}

// Next 等待下一条事件，最长等待 timeout。等待期间不持有任何 Hub 锁。
// 超时返回 ErrIdle，sink 关闭返回 ErrClosed，ctx 结束返回 ctx.Err()。
func (s *Sink) Next(ctx context.Context, timeout time.Duration) (Event, error) {
	var timer *time.Timer
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Event{}, ErrClosed
		}

		if timer == nil {
			timer = time.NewTimer(timeout)
			defer timer.Stop()
		}
		select {
		case <-s.ready:
		case <-timer.C:
			return Event{}, ErrIdle
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}
