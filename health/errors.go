package health

import "github.com/ceyewan/aegis/xerrors"

// 错误定义
var (
	// ErrRegistryNil 拓扑为空
	ErrRegistryNil = xerrors.New("health: registry is nil")
)
