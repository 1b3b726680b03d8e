package push

import (
	"strings"

	"github.com/Vonhoon/koalatalk/internal/models"
)

const (
	NotificationTitle = "KoalaTalk 새 메시지"
	snippetRunes      = 100
)

// Notification 是推送给浏览器 Service Worker 的 JSON 负载。
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

var kindNames = map[string]string{
	models.TypeVoice: "음성 메시지",
	models.TypeImage: "사진",
	models.TypeFile:  "파일",
}

// Render 为新消息生成通知文案。channelTitle 只在非私聊频道中出现。
func Render(msg models.Message, channelTitle string) Notification {
	direct := models.IsDirectKey(msg.Channel)
	text := strings.TrimSpace(msg.Text)

	var body string
	if msg.Type == models.TypeText && text != "" {
		snippet := truncate(text, snippetRunes)
		if direct {
			body = msg.Alias + ": " + snippet
		} else {
			body = msg.Alias + " (" + channelTitle + "): " + snippet
		}
	} else {
		kind, ok := kindNames[msg.Type]
		if !ok {
			kind = "메시지"
		}
		if direct {
			body = msg.Alias + " 님이 " + kind + "를 보냈어요"
		} else {
			body = msg.Alias + " 님이 " + channelTitle + "에 " + kind + "를 보냈어요"
		}
	}
	return Notification{Title: NotificationTitle, Body: body}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
