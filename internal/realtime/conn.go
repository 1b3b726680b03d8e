package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	maxInboundSize = 4 << 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// WSWriter 把每条事件写成一个 {"event","data"} JSON 文本帧。
type WSWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWSWriter(conn *websocket.Conn) *WSWriter { return &WSWriter{conn: conn} }

func (w *WSWriter) WriteEvent(name string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(wsFrame{Event: name, Data: data})
}

// ServeWS 把请求升级为 WebSocket 并在其上运行会话，直到 ctx 结束或客户端断开。
// 客户端只通过 REST 发消息，读循环仅用于发现断开。
func ServeWS(ctx context.Context, c *gin.Context, sess *Session) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go readPump(conn, cancel)

	w := NewWSWriter(conn)
	if err := sess.Run(ctx, w); err != nil {
		log.Debug().Err(err).Str("channel", sess.Key()).Msg("ws stream closed")
		return
	}
	w.mu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	w.mu.Unlock()
}

func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(maxInboundSize)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
