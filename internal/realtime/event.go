package realtime

// 流上的事件名。
const (
	EventHello         = "hello"
	EventPing          = "ping"
	EventMessage       = "message"
	EventMessageUpdate = "message_update"
	EventDelete        = "delete"
	EventChannel       = "channel"
	EventWebRTCSignal  = "webrtc_signal"
)

// Event 是发布到频道的一条事件，Data 在写出时才做 JSON 编码。
type Event struct {
	Name string
	Data any
}
