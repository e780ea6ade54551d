package balancer

import "github.com/ceyewan/aegis/xerrors"

// 错误定义
var (
	// ErrNoHealthyInstance 服务当前没有健康实例
	ErrNoHealthyInstance = xerrors.New("balancer: no healthy instance")
)
