package models

import (
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	PublicChannelKey   = "public-1"
	PublicChannelTitle = "모두의 방"
	DirectPrefix       = "dm:"
	MetaPrefix         = "meta:"
)

// 消息类型。
const (
	TypeText  = "text"
	TypeVoice = "voice"
	TypeImage = "image"
	TypeFile  = "file"
)

type Channel struct {
	Key     string   `gorm:"primaryKey;size:191" json:"key"`
	Title   string   `gorm:"size:191;not null" json:"title"`
	Members []string `gorm:"type:text;serializer:json" json:"members"`
}

// IsDirect 按 key 形状区分私聊频道。
func (c Channel) IsDirect() bool { return IsDirectKey(c.Key) }

// HasMember 判断 alias 是否在成员列表中。
func (c Channel) HasMember(alias string) bool {
	for _, m := range c.Members {
		if m == alias {
			return true
		}
	}
	return false
}

func IsDirectKey(key string) bool { return strings.HasPrefix(key, DirectPrefix) }

// MetaKey 返回某个用户的 meta 通知流 key。
func MetaKey(alias string) string { return MetaPrefix + alias }

type Message struct {
	ID        uint           `gorm:"primaryKey"`
	Channel   string         `gorm:"size:191;index:idx_messages_channel_created,priority:1;not null"`
	Alias     string         `gorm:"size:64;not null"`
	UserID    string         `gorm:"size:64"`
	Type      string         `gorm:"size:16;not null"`
	Text      string         `gorm:"type:text"`
	AudioPath string         `gorm:"size:512"`
	ImagePath string         `gorm:"size:512"`
	FilePath  string         `gorm:"size:512"`
	FileName  string         `gorm:"size:255"`
	Payload   datatypes.JSON `gorm:"type:text"`
	CreatedAt int64          `gorm:"index:idx_messages_channel_created,priority:2;not null"`
}

// BeforeCreate 保证 payload 列永不为 NULL，读取时 datatypes.JSON 才能正常 Scan。
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if len(m.Payload) == 0 {
		m.Payload = datatypes.JSON("null")
	}
	return nil
}

// AttachmentPaths 返回该消息关联的所有文件路径。
func (m Message) AttachmentPaths() []string {
	var out []string
	for _, p := range []string{m.AudioPath, m.ImagePath, m.FilePath} {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

type Subscription struct {
	ID        uint   `gorm:"primaryKey"`
	Endpoint  string `gorm:"uniqueIndex;size:512;not null"`
	P256dh    string `gorm:"size:255;not null"`
	Auth      string `gorm:"size:255;not null"`
	Alias     string `gorm:"index;size:64"`
	UserID    string `gorm:"size:64"`
	CreatedAt int64  `gorm:"not null"`
	LastSeen  int64  `gorm:"index;not null"`
	FailCount int    `gorm:"not null;default:0"`
}
