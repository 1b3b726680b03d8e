// Package retention 定期清理过期消息、附件文件与长期未见的推送订阅。
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/Vonhoon/koalatalk/internal/metrics"

	"github.com/rs/zerolog/log"
)

// 默认阈值。
const (
	DefaultInterval   = time.Hour
	DefaultMessageTTL = 24 * time.Hour
	DefaultStaleAfter = 90 * 24 * time.Hour
)

type MessagePruner interface {
	PruneBefore(ctx context.Context, cutoff int64) (int64, []string, error)
}

type SubscriptionPruner interface {
	PruneStale(ctx context.Context, cutoff int64) (int64, error)
}

type FileRemover interface {
	Remove(path string) error
}

type Options struct {
	Interval   time.Duration
	MessageTTL time.Duration
	StaleAfter time.Duration
	Now        func() time.Time
}

// Result 汇总一次清理。Errors 记录失败的步骤名。
type Result struct {
	// Attachments 是被删除消息引用的附件数，Files 是实际删掉的文件数。
	Attachments   int
	Files         int
	Messages      int64
	Subscriptions int64
	Errors        []string
}

const (
	stepMessages      = "messages"
	stepFiles         = "files"
	stepSubscriptions = "subscriptions"
)

type Sweeper struct {
	messages MessagePruner
	subs     SubscriptionPruner
	files    FileRemover
	opts     Options
}

func NewSweeper(messages MessagePruner, subs SubscriptionPruner, files FileRemover, opts Options) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MessageTTL <= 0 {
		opts.MessageTTL = DefaultMessageTTL
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sweeper{messages: messages, subs: subs, files: files, opts: opts}
}

// Run 启动时先清理一次，之后每个周期清理一次，直到 ctx 结束。
func (s *Sweeper) Run(ctx context.Context) {
	s.RunOnce(ctx)
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce 依次执行三步清理。每一步独立：出错或 panic 只记录日志，不影响后续步骤。
func (s *Sweeper) RunOnce(ctx context.Context) Result {
	var res Result
	now := s.opts.Now()

	var paths []string
	s.step(&res, stepMessages, func() error {
		var err error
		res.Messages, paths, err = s.messages.PruneBefore(ctx, now.Add(-s.opts.MessageTTL).Unix())
		res.Attachments = len(paths)
		return err
	})

	s.step(&res, stepFiles, func() error {
		var failed int
		var last error
		for _, p := range paths {
			if err := s.files.Remove(p); err != nil {
				failed++
				last = err
				log.Warn().Err(err).Str("path", p).Msg("sweep remove attachment")
				continue
			}
			res.Files++
		}
		if failed > 0 {
			return fmt.Errorf("%d attachment(s) not removed: %w", failed, last)
		}
		return nil
	})

	s.step(&res, stepSubscriptions, func() error {
		n, err := s.subs.PruneStale(ctx, now.Add(-s.opts.StaleAfter).Unix())
		res.Subscriptions = n
		return err
	})

	metrics.SweepDeleted.WithLabelValues("messages").Add(float64(res.Messages))
	metrics.SweepDeleted.WithLabelValues("attachments").Add(float64(res.Files))
	metrics.SweepDeleted.WithLabelValues("subscriptions").Add(float64(res.Subscriptions))
	log.Info().Int64("messages", res.Messages).Int("attachments", res.Files).Int64("subscriptions", res.Subscriptions).
		Strs("failed_steps", res.Errors).Msg("retention sweep")
	return res
}

func (s *Sweeper) step(res *Result, name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			res.Errors = append(res.Errors, name)
			metrics.SweepErrors.WithLabelValues(name).Inc()
			log.Error().Interface("panic", r).Str("step", name).Msg("retention sweep step panic")
		}
	}()
	if err := fn(); err != nil {
		res.Errors = append(res.Errors, name)
		metrics.SweepErrors.WithLabelValues(name).Inc()
		log.Error().Err(err).Str("step", name).Msg("retention sweep step")
	}
}
