package push

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Vonhoon/koalatalk/internal/metrics"
	"github.com/Vonhoon/koalatalk/internal/models"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// 跳过原因，同时用作指标标签。
const (
	SkipPresent   = "present"
	SkipDuplicate = "duplicate"
	SkipSender    = "sender"
	SkipNonMember = "non_member"
)

// Subscriptions 是派发所需的订阅存储操作。
type Subscriptions interface {
	List(ctx context.Context) ([]models.Subscription, error)
	MarkDelivered(ctx context.Context, id uint) error
	MarkFailed(ctx context.Context, id uint) (int, error)
	Delete(ctx context.Context, id uint) error
}

// Channels 按 key 查频道成员。
type Channels interface {
	Get(ctx context.Context, key string) (*models.Channel, error)
}

// Presence 判断 alias 当前是否在线。
type Presence interface {
	IsPresent(alias string) bool
}

// Options 控制派发并发度与淘汰策略。
type Options struct {
	// Workers 是同时进行的派发数上限，<=0 时取 4。
	Workers int
	// MaxFailures 是连续临时失败的淘汰阈值，0 表示不淘汰。
	MaxFailures int
}

// Report 汇总一次派发的结果。
type Report struct {
	Considered int
	Delivered  int
	Gone       int
	Transient  int
	Evicted    int
	Skipped    map[string]int
}

// Dispatcher 为每条新消息决定推送对象、去重并调用传输。
type Dispatcher struct {
	subs      Subscriptions
	channels  Channels
	presence  Presence
	transport Transport
	opts      Options

	sem chan struct{}
	wg  sync.WaitGroup
}

func NewDispatcher(subs Subscriptions, channels Channels, presence Presence, transport Transport, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxFailures < 0 {
		opts.MaxFailures = 0
	}
	return &Dispatcher{
		subs:      subs,
		channels:  channels,
		presence:  presence,
		transport: transport,
		opts:      opts,
		sem:       make(chan struct{}, opts.Workers),
	}
}

// Go 在后台执行一次派发并立即返回。派发中的 panic 与错误只记录日志。
func (d *Dispatcher) Go(note Notification, msg models.Message) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.sem <- struct{}{}
		defer func() { <-d.sem }()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Uint("message_id", msg.ID).Msg("push dispatch panic")
			}
		}()

		rep, err := d.Dispatch(context.Background(), note, msg)
		if err != nil {
			log.Error().Err(err).Uint("message_id", msg.ID).Msg("push dispatch")
			return
		}
		log.Debug().Uint("message_id", msg.ID).Str("channel", msg.Channel).
			Int("delivered", rep.Delivered).Int("gone", rep.Gone).Int("transient", rep.Transient).
			Int("evicted", rep.Evicted).Msg("push dispatch done")
	}()
}

// Wait 等待所有已启动的派发结束。
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Dispatch 同步执行一次派发。单个订阅的失败不会中止整个派发。
func (d *Dispatcher) Dispatch(ctx context.Context, note Notification, msg models.Message) (Report, error) {
	rep := Report{Skipped: map[string]int{}}
	payload, err := json.Marshal(note)
	if err != nil {
		return rep, errors.Wrap(err, "encode notification")
	}

	subs, err := d.subs.List(ctx)
	if err != nil {
		return rep, err
	}

	var members []string
	if ch, err := d.channels.Get(ctx, msg.Channel); err == nil {
		members = ch.Members
	} else {
		log.Debug().Err(err).Str("channel", msg.Channel).Msg("push dispatch channel lookup")
	}
	direct := models.IsDirectKey(msg.Channel)

	notifiedAlias := map[string]struct{}{}
	notifiedUser := map[string]struct{}{}

	for _, s := range subs {
		rep.Considered++
		if reason := d.skip(s, msg, direct, members, notifiedAlias, notifiedUser); reason != "" {
			rep.Skipped[reason]++
			metrics.PushSkipped.WithLabelValues(reason).Inc()
			continue
		}
		if s.Alias != "" {
			notifiedAlias[s.Alias] = struct{}{}
		}
		if s.UserID != "" {
			notifiedUser[s.UserID] = struct{}{}
		}
		d.deliver(ctx, s, payload, &rep)
	}
	return rep, nil
}

func (d *Dispatcher) skip(s models.Subscription, msg models.Message, direct bool, members []string,
	notifiedAlias, notifiedUser map[string]struct{}) string {
	if s.Alias != "" && d.presence.IsPresent(s.Alias) {
		return SkipPresent
	}
	if _, ok := notifiedAlias[s.Alias]; ok && s.Alias != "" {
		return SkipDuplicate
	}
	if _, ok := notifiedUser[s.UserID]; ok && s.UserID != "" {
		return SkipDuplicate
	}
	if (msg.UserID != "" && s.UserID == msg.UserID) || (msg.Alias != "" && s.Alias == msg.Alias) {
		return SkipSender
	}
	if (direct || len(members) > 0) && !contains(members, s.Alias) {
		return SkipNonMember
	}
	return ""
}

func (d *Dispatcher) deliver(ctx context.Context, s models.Subscription, payload []byte, rep *Report) {
	res, sendErr := d.transport.Send(ctx, Target{Endpoint: s.Endpoint, P256dh: s.P256dh, Auth: s.Auth}, payload)
	metrics.PushResults.WithLabelValues(res.String()).Inc()
	logger := log.With().Uint("subscription_id", s.ID).Str("alias", s.Alias).Logger()

	switch res {
	case Delivered:
		rep.Delivered++
		if err := d.subs.MarkDelivered(ctx, s.ID); err != nil {
			logger.Warn().Err(err).Msg("push mark delivered")
		}
	case Gone:
		rep.Gone++
		logger.Info().Err(sendErr).Msg("push endpoint gone, removing subscription")
		if err := d.subs.Delete(ctx, s.ID); err != nil {
			logger.Warn().Err(err).Msg("push delete gone subscription")
		}
	default:
		rep.Transient++
		count, err := d.subs.MarkFailed(ctx, s.ID)
		if err != nil {
			logger.Warn().Err(err).Msg("push mark failed")
			return
		}
		if errors.Is(sendErr, ErrDisabled) {
			return
		}
		logger.Debug().Err(sendErr).Int("fail_count", count).Msg("push transient failure")
		if d.opts.MaxFailures > 0 && count >= d.opts.MaxFailures {
			if err := d.subs.Delete(ctx, s.ID); err != nil {
				logger.Warn().Err(err).Msg("push evict subscription")
				return
			}
			rep.Evicted++
			logger.Info().Int("fail_count", count).Msg("push subscription evicted")
		}
	}
}

func contains(list []string, s string) bool {
	if s == "" {
		return false
	}
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
