// Package push 负责离线推送：VAPID 密钥、通知文案、Web Push 传输与按消息派发。
package push

import (
	"context"

	"github.com/pkg/errors"
)

// Result 是一次推送尝试的分类结果。
type Result int

const (
	Delivered Result = iota
	// Gone 表示 endpoint 已永久失效，订阅应立即删除。
	Gone
	// Transient 表示可稍后重试的失败。
	Transient
)

func (r Result) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case Gone:
		return "gone"
	case Transient:
		return "transient"
	default:
		return "unknown"
	}
}

// ErrDisabled 由关闭推送时使用的传输返回，不计入淘汰。
var ErrDisabled = errors.New("push disabled")

// Target 是一次投递所需的订阅信息。
type Target struct {
	Endpoint string
	P256dh   string
	Auth     string
}

// Transport 把 payload 投递到一个订阅端点。
type Transport interface {
	Send(ctx context.Context, t Target, payload []byte) (Result, error)
}

// Disabled 不做任何网络调用，总是报告 Transient。
type Disabled struct{}

func (Disabled) Send(context.Context, Target, []byte) (Result, error) {
	return Transient, ErrDisabled
}
