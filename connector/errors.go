package connector

import "github.com/ceyewan/aegis/xerrors"

// 错误定义
var (
	ErrConfig       = xerrors.New("connector: invalid config")
	ErrNotConnected = xerrors.New("connector: not connected")
	ErrHealthCheck  = xerrors.New("connector: health check failed")
)
