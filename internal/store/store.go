// Package store 是 GORM 实现的持久化层：频道、消息与推送订阅。
package store

import (
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound 表示目标记录不存在。
var ErrNotFound = errors.New("record not found")

// Clock 返回当前时间，测试中可替换。
type Clock func() time.Time

func (c Clock) unix() int64 {
	if c == nil {
		return time.Now().Unix()
	}
	return c().Unix()
}
