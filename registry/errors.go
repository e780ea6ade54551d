package registry

import "github.com/ceyewan/aegis/xerrors"

// 错误定义
var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("registry: config is nil")

	// ErrServiceNameEmpty 服务名为空
	ErrServiceNameEmpty = xerrors.New("registry: service name is empty")

	// ErrInvalidInstance 实例地址无效
	ErrInvalidInstance = xerrors.New("registry: invalid instance")
)
