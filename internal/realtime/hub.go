package realtime

import (
	"sync"

	"github.com/Vonhoon/koalatalk/internal/metrics"
)

// Hub 是进程内的订阅表与在线表。二者共用一把锁，会话开始/结束时一起修改，
// 不会出现已订阅但未计为在线（或反之）的窗口。锁只用于簿记，投递在锁外进行。
type Hub struct {
	mu       sync.Mutex
	channels map[string]map[*Sink]struct{}
	present  map[string]int
}

func NewHub() *Hub {
	return &Hub{
		channels: make(map[string]map[*Sink]struct{}),
		present:  make(map[string]int),
	}
}

// Subscribe 为频道创建并注册一个新 sink，调用方在会话期间持有它。
func (h *Hub) Subscribe(key string) *Sink {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subscribeLocked(key, "")
}

// Unsubscribe 注销 sink。重复注销或注销未知 sink 都是空操作。
func (h *Hub) Unsubscribe(key string, s *Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(key, s)
}

// Open 在同一临界区内订阅频道并把 alias 记为在线；alias 为空时不参与在线统计。
func (h *Hub) Open(key, alias string) *Sink {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.subscribeLocked(key, alias)
	if alias != "" {
		h.present[alias]++
	}
	metrics.StreamsActive.Inc()
	return s
}

// Close 撤销 Open 的全部效果，对同一个 sink 只生效一次。
func (h *Hub) Close(s *Sink) {
	if s == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	h.unsubscribeLocked(s.key, s)
	if s.alias != "" {
		h.absentLocked(s.alias)
	}
	metrics.StreamsActive.Dec()
}

// Publish 把事件投递给调用瞬间已注册的全部 sink，返回投递数量。
// 先在锁内拍快照，再在锁外投递。
func (h *Hub) Publish(key string, ev Event) int {
	h.mu.Lock()
	set := h.channels[key]
	snapshot := make([]*Sink, 0, len(set))
	for s := range set {
		snapshot = append(snapshot, s)
	}
	h.mu.Unlock()

	n := 0
	for _, s := range snapshot {
		if s.deliver(ev) {
			n++
		}
	}
	metrics.EventsPublished.WithLabelValues(eventLabel(ev.Name)).Inc()
	return n
}

func (h *Hub) MarkPresent(alias string) {
	h.mu.Lock()
	h.present[alias]++
	h.mu.Unlock()
}

func (h *Hub) MarkAbsent(alias string) {
	h.mu.Lock()
	h.absentLocked(alias)
	h.mu.Unlock()
}

// IsPresent 判断 alias 是否至少有一个打开的直播会话。
func (h *Hub) IsPresent(alias string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.present[alias] > 0
}

// Online 返回频道当前的订阅者数量。
func (h *Hub) Online(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[key])
}

func (h *Hub) subscribeLocked(key, alias string) *Sink {
	s := newSink(key, alias)
	set := h.channels[key]
	if set == nil {
		set = make(map[*Sink]struct{})
		h.channels[key] = set
	}
	set[s] = struct{}{}
	return s
}

func (h *Hub) unsubscribeLocked(key string, s *Sink) {
	if s == nil {
		return
	}
	set, ok := h.channels[key]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	s.close()
	if len(set) == 0 {
		delete(h.channels, key)
	}
}

func (h *Hub) absentLocked(alias string) {
	if n := h.present[alias]; n > 1 {
		h.present[alias] = n - 1
		return
	}
	delete(h.present, alias)
}

func eventLabel(name string) string {
	if name == "" {
		return EventMessage
	}
	return name
}
