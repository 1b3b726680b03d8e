package store

import (
	"context"

	"github.com/Vonhoon/koalatalk/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// UnknownAlias 是未登录设备注册推送时使用的占位名，不参与按 alias 去重替换。
const UnknownAlias = "unknown"

type SubscriptionStore struct {
	db  *gorm.DB
	now Clock
}

func NewSubscriptionStore(db *gorm.DB, now Clock) *SubscriptionStore {
	return &SubscriptionStore{db: db, now: now}
}

// Replace 在同一事务内删除该 alias（以及同一 endpoint）的旧订阅并写入新订阅，
// 保证每个已知 alias 最多只有一条有效订阅。
func (s *SubscriptionStore) Replace(ctx context.Context, sub *models.Subscription) error {
	ts := s.now.unix()
	sub.ID = 0
	sub.CreatedAt = ts
	sub.LastSeen = ts
	sub.FailCount = 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if sub.Alias != "" && sub.Alias != UnknownAlias {
			if err := tx.Where("alias = ?", sub.Alias).Delete(&models.Subscription{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("endpoint = ?", sub.Endpoint).Delete(&models.Subscription{}).Error; err != nil {
			return err
		}
		return tx.Create(sub).Error
	})
	return errors.Wrap(err, "subscriptionStore.Replace")
}

func (s *SubscriptionStore) List(ctx context.Context) ([]models.Subscription, error) {
	var out []models.Subscription
	if err := s.db.WithContext(ctx).Order("id asc").Find(&out).Error; err != nil {
		return nil, errors.Wrap(err, "subscriptionStore.List")
	}
	return out, nil
}

// MarkDelivered 投递成功：清零失败计数并刷新 last_seen。
func (s *SubscriptionStore) MarkDelivered(ctx context.Context, id uint) error {
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).Where("id = ?", id).
		Updates(map[string]any{"last_seen": s.now.unix(), "fail_count": 0}).Error
	return errors.Wrap(err, "subscriptionStore.MarkDelivered")
}

// MarkFailed 失败计数加一并返回新值。
func (s *SubscriptionStore) MarkFailed(ctx context.Context, id uint) (int, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Subscription{}).Where("id = ?", id).
			UpdateColumn("fail_count", gorm.Expr("fail_count + 1")).Error; err != nil {
			return err
		}
		return tx.Select("id", "fail_count").First(&sub, id).Error
	})
	if err != nil {
		return 0, errors.Wrap(err, "subscriptionStore.MarkFailed")
	}
	return sub.FailCount, nil
}

func (s *SubscriptionStore) Delete(ctx context.Context, id uint) error {
	return errors.Wrap(s.db.WithContext(ctx).Delete(&models.Subscription{}, id).Error, "subscriptionStore.Delete")
}

// CountForAlias 返回某个 alias 的订阅行数。
func (s *SubscriptionStore) CountForAlias(ctx context.Context, alias string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).Where("alias = ?", alias).Count(&n).Error
	return n, errors.Wrap(err, "subscriptionStore.CountForAlias")
}

// PruneStale 删除 last_seen 早于 cutoff 的订阅，返回删除行数。
func (s *SubscriptionStore) PruneStale(ctx context.Context, cutoff int64) (int64, error) {
	res := s.db.WithContext(ctx).Where("last_seen < ?", cutoff).Delete(&models.Subscription{})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "subscriptionStore.PruneStale")
	}
	return res.RowsAffected, nil
}
