package realtime

import (
	"errors"
	"io"
	"net/http"
)

// SSEWriter 以 text/event-stream 格式写出事件，每条事件以空行结尾。
type SSEWriter struct {
	w io.Writer
	f http.Flusher
}

// NewSSEWriter 设置流式响应头。底层 ResponseWriter 必须支持 Flush。
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming unsupported")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &SSEWriter{w: w, f: f}, nil
}

func (s *SSEWriter) WriteEvent(name string, data []byte) error {
	buf := make([]byte, 0, len(name)+len(data)+16)
	buf = append(buf, "event: "...)
	buf = append(buf, name...)
	buf = append(buf, "\ndata: "...)
	buf = append(buf, data...)
	buf = append(buf, "\n\n"...)
	if _, err := s.w.Write(buf); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}
