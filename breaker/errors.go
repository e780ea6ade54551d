package breaker

import "github.com/ceyewan/aegis/xerrors"

// 错误定义
var (
	// ErrServiceNameEmpty 服务名为空
	ErrServiceNameEmpty = xerrors.New("breaker: service name is empty")

	// ErrOpenState 熔断器处于打开状态（或半开试探名额已被占用）
	ErrOpenState = xerrors.New("breaker: circuit breaker is open")

	// ErrBreakerNotFound 服务尚未创建熔断器
	ErrBreakerNotFound = xerrors.New("breaker: breaker not found")
)

// 指标名定义
const (
	MetricStateChanges = "breaker_state_changes_total"
	MetricRejectsTotal = "breaker_rejects_total"
)
