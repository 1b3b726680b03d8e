package store

import (
	"context"
	stderrors "errors"

	"github.com/Vonhoon/koalatalk/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type MessageStore struct {
	db  *gorm.DB
	now Clock
}

func NewMessageStore(db *gorm.DB, now Clock) *MessageStore {
	return &MessageStore{db: db, now: now}
}

// Create 写入消息，id 与 created_at 由存储层分配。
func (s *MessageStore) Create(ctx context.Context, m *models.Message) error {
	m.ID = 0
	m.CreatedAt = s.now.unix()
	return errors.Wrap(s.db.WithContext(ctx).Create(m).Error, "messageStore.Create")
}

func (s *MessageStore) Get(ctx context.Context, id uint) (*models.Message, error) {
	var m models.Message
	err := s.db.WithContext(ctx).First(&m, id).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "messageStore.Get")
	}
	return &m, nil
}

// ListBetween 返回 [start, end] 区间内的消息，按时间升序。
func (s *MessageStore) ListBetween(ctx context.Context, channel string, start, end int64) ([]models.Message, error) {
	var out []models.Message
	err := s.db.WithContext(ctx).
		Where("channel = ? AND created_at >= ? AND created_at <= ?", channel, start, end).
		Order("created_at asc, id asc").
		Find(&out).Error
	if err != nil {
		return nil, errors.Wrap(err, "messageStore.ListBetween")
	}
	return out, nil
}

// CountBefore 统计早于 ts 的消息数，用于判断是否还有更早的历史。
func (s *MessageStore) CountBefore(ctx context.Context, channel string, ts int64) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("channel = ? AND created_at < ?", channel, ts).
		Count(&n).Error
	return n, errors.Wrap(err, "messageStore.CountBefore")
}

// Delete 删除消息，返回是否确实删除了一行。
func (s *MessageStore) Delete(ctx context.Context, id uint) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&models.Message{}, id)
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "messageStore.Delete")
	}
	return res.RowsAffected > 0, nil
}

// UpdateText 原地改写文本，不改变 id 与 created_at。
func (s *MessageStore) UpdateText(ctx context.Context, id uint, text string) error {
	res := s.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", id).Update("text", text)
	if res.Error != nil {
		return errors.Wrap(res.Error, "messageStore.UpdateText")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PruneBefore 删除早于 cutoff 的消息，返回删除条数与它们的附件路径。
func (s *MessageStore) PruneBefore(ctx context.Context, cutoff int64) (int64, []string, error) {
	var (
		deleted int64
		paths   []string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var old []models.Message
		if err := tx.Select("id", "audio_path", "image_path", "file_path").
			Where("created_at < ?", cutoff).Find(&old).Error; err != nil {
			return err
		}
		for _, m := range old {
			paths = append(paths, m.AttachmentPaths()...)
		}
		res := tx.Where("created_at < ?", cutoff).Delete(&models.Message{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, nil, errors.Wrap(err, "messageStore.PruneBefore")
	}
	return deleted, paths, nil
}
