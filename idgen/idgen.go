// Package idgen 提供全局唯一 ID 生成。
//
// 网关用 UUID v7 生成事件 ID 与关联 ID：时间有序，同一因果链上的
// ID 在日志与消息轨迹中天然按产生顺序排列。
package idgen

import (
	"github.com/google/uuid"
)

// NewUUIDV7 生成 UUID v7（时间排序）
//
// 使用示例:
//
//	uid := idgen.NewUUIDV7()
func NewUUIDV7() string {
	v7, err := uuid.NewV7()
	if err != nil {
		// 熵源异常时退化为 v4，唯一性不受影响
		return NewUUIDV4()
	}
	return v7.String()
}

// NewUUIDV4 生成 UUID v4（随机）
func NewUUIDV4() string {
	return uuid.New().String()
}
