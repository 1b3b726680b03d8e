package push

import (
	"context"
	"io"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/pkg/errors"
)

// DefaultTTL 是推送服务保留通知的秒数。
const DefaultTTL = 60

// WebPush 通过 VAPID 签名的 Web Push 协议投递通知。
type WebPush struct {
	keys       VAPIDKeys
	subscriber string
	ttl        int
	client     *http.Client
}

// NewWebPush 创建传输。client 为 nil 时使用 10 秒超时的默认客户端。
func NewWebPush(keys VAPIDKeys, subscriber string, client *http.Client) *WebPush {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebPush{keys: keys, subscriber: subscriber, ttl: DefaultTTL, client: client}
}

func (w *WebPush) Send(ctx context.Context, t Target, payload []byte) (Result, error) {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: t.Endpoint,
		Keys:     webpush.Keys{Auth: t.Auth, P256dh: t.P256dh},
	}, &webpush.Options{
		HTTPClient:      w.client,
		Subscriber:      w.subscriber,
		VAPIDPublicKey:  w.keys.Public,
		VAPIDPrivateKey: w.keys.Private,
		TTL:             w.ttl,
	})
	if err != nil {
		return Transient, errors.Wrap(err, "webpush send")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Delivered, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return Gone, errors.Errorf("push endpoint gone: %d", resp.StatusCode)
	default:
		return Transient, errors.Errorf("push service status %d", resp.StatusCode)
	}
}
