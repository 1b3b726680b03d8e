package store

import (
	"context"
	stderrors "errors"

	"github.com/Vonhoon/koalatalk/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ChannelStore struct {
	db *gorm.DB
}

func NewChannelStore(db *gorm.DB) *ChannelStore {
	return &ChannelStore{db: db}
}

// Upsert 写入频道，已存在时覆盖标题与成员。
func (s *ChannelStore) Upsert(ctx context.Context, ch *models.Channel) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "members"}),
	}).Create(ch).Error
	return errors.Wrap(err, "channelStore.Upsert")
}

// CreateIfAbsent 仅在 key 不存在时插入，重复调用不会修改已有行。
func (s *ChannelStore) CreateIfAbsent(ctx context.Context, ch *models.Channel) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(ch).Error
	return errors.Wrap(err, "channelStore.CreateIfAbsent")
}

func (s *ChannelStore) Get(ctx context.Context, key string) (*models.Channel, error) {
	var ch models.Channel
	err := s.db.WithContext(ctx).Where(map[string]any{"key": key}).First(&ch).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "channelStore.Get")
	}
	return &ch, nil
}

// List 返回全部频道，按 key 升序。成员数固定且很少，成员过滤放在上层做。
func (s *ChannelStore) List(ctx context.Context) ([]models.Channel, error) {
	var out []models.Channel
	if err := s.db.WithContext(ctx).Order(clause.OrderByColumn{Column: clause.Column{Name: "key"}}).Find(&out).Error; err != nil {
		return nil, errors.Wrap(err, "channelStore.List")
	}
	return out, nil
}
