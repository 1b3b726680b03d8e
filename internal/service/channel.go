package service

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/Vonhoon/koalatalk/internal/models"
	"github.com/Vonhoon/koalatalk/internal/realtime"
	"github.com/Vonhoon/koalatalk/internal/store"
)

// ChannelService 封装频道与成员关系的业务逻辑。
type ChannelService struct {
	channels *store.ChannelStore
	hub      *realtime.Hub
	roster   []string
}

func NewChannelService(channels *store.ChannelStore, hub *realtime.Hub, roster []string) *ChannelService {
	return &ChannelService{channels: channels, hub: hub, roster: normalizeMembers(roster)}
}

// ChannelDTO 是对外输出的频道数据，附带当前在线订阅数。
type ChannelDTO struct {
	Key     string   `json:"key"`
	Title   string   `json:"title"`
	Members []string `json:"members"`
	Online  int      `json:"online"`
}

func (s *ChannelService) toDTO(ch models.Channel) ChannelDTO {
	return ChannelDTO{Key: ch.Key, Title: ch.Title, Members: ch.Members, Online: s.hub.Online(ch.Key)}
}

// DirectKey 由两个成员按字典序推导私聊频道 key，与参数顺序无关。
func DirectKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return models.DirectPrefix + a + ":" + b
}

// ResolvePublic 幂等地创建或刷新公共频道，成员为完整名单。
func (s *ChannelService) ResolvePublic(ctx context.Context) (*models.Channel, error) {
	ch := &models.Channel{Key: models.PublicChannelKey, Title: models.PublicChannelTitle, Members: s.roster}
	if err := s.channels.Upsert(ctx, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

// GetOrCreateDirect 返回两人之间的私聊频道，不存在时创建。重复调用得到同一行。
func (s *ChannelService) GetOrCreateDirect(ctx context.Context, a, b string) (*models.Channel, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" || a == b {
		return nil, ErrInvalidMembership
	}
	if b < a {
		a, b = b, a
	}
	ch := &models.Channel{Key: DirectKey(a, b), Title: a + " & " + b, Members: []string{a, b}}
	if err := s.channels.CreateIfAbsent(ctx, ch); err != nil {
		return nil, err
	}
	return s.Get(ctx, ch.Key)
}

func (s *ChannelService) Get(ctx context.Context, key string) (*models.Channel, error) {
	ch, err := s.channels.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrChannelNotFound
	}
	return ch, err
}

// ChannelsFor 返回 alias 所在的全部频道：公共频道在前，私聊频道按 key 排序。
func (s *ChannelService) ChannelsFor(ctx context.Context, alias string) ([]ChannelDTO, error) {
	if _, err := s.ResolvePublic(ctx); err != nil {
		return nil, err
	}
	all, err := s.channels.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ChannelDTO, 0, len(all))
	var direct []ChannelDTO
	for _, ch := range all {
		if !ch.HasMember(alias) {
			continue
		}
		if ch.Key == models.PublicChannelKey {
			out = append(out, s.toDTO(ch))
			continue
		}
		direct = append(direct, s.toDTO(ch))
	}
	sort.SliceStable(direct, func(i, j int) bool { return direct[i].Key < direct[j].Key })
	return append(out, direct...), nil
}

// CreateDirect 处理客户端的建私聊请求：actor 自动加入成员，必须恰好两名不同成员。
// 创建后通过对方的 meta 流推送 channel 事件。
func (s *ChannelService) CreateDirect(ctx context.Context, actor, kind string, members []string) (*ChannelDTO, error) {
	if strings.ToLower(strings.TrimSpace(kind)) != "dm" {
		return nil, ErrInvalidChannelType
	}
	members = normalizeMembers(append(append([]string(nil), members...), actor))
	if len(members) != 2 {
		return nil, ErrInvalidMembership
	}
	for _, m := range members {
		if !contains(s.roster, m) {
			return nil, ErrUnknownMember
		}
	}
	ch, err := s.GetOrCreateDirect(ctx, members[0], members[1])
	if err != nil {
		return nil, err
	}
	other := members[0]
	if other == actor {
		other = members[1]
	}
	dto := s.toDTO(*ch)
	s.hub.Publish(models.MetaKey(other), realtime.Event{Name: realtime.EventChannel, Data: dto})
	return &dto, nil
}

// normalizeMembers 去空白、去重并排序。
func normalizeMembers(in []string) []string {
	out := make([]string, 0, len(in))
	for _, m := range in {
		m = strings.TrimSpace(m)
		if m != "" && !contains(out, m) {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
