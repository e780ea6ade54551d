package ratelimit

import "github.com/ceyewan/aegis/xerrors"

// 错误定义
var (
	// ErrServiceNameEmpty 服务名为空
	ErrServiceNameEmpty = xerrors.New("ratelimit: service name is empty")

	// ErrInvalidQuota 配额非法（limit 或 period 不是正数，或格式错误）
	ErrInvalidQuota = xerrors.New("ratelimit: invalid quota")
)
