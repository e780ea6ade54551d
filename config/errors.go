package config

import "github.com/ceyewan/aegis/xerrors"

// 错误定义
var (
	// ErrValidationFailed 配置验证失败
	ErrValidationFailed = xerrors.New("config: validation failed")
)
