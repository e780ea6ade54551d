package proxy

import "github.com/ceyewan/aegis/xerrors"

// 错误码定义，HTTP 层据此映射状态码与结构化错误响应
const (
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeCircuitOpen        = "CIRCUIT_OPEN"
	CodeRateLimited        = "RATE_LIMITED"
	CodeUpstreamTimeout    = "UPSTREAM_TIMEOUT"
	CodeUpstreamError      = "UPSTREAM_ERROR"
)

// 错误定义
var (
	// ErrComponentNil 必需组件未提供
	ErrComponentNil = xerrors.New("proxy: component is nil")

	// ErrServiceUnavailable 服务没有健康实例
	ErrServiceUnavailable = xerrors.WithCode(xerrors.New("proxy: no healthy instance"), CodeServiceUnavailable)

	// ErrCircuitOpen 服务熔断中
	ErrCircuitOpen = xerrors.WithCode(xerrors.New("proxy: circuit breaker open"), CodeCircuitOpen)

	// ErrRateLimited 服务配额耗尽
	ErrRateLimited = xerrors.WithCode(xerrors.New("proxy: rate limit exceeded"), CodeRateLimited)

	// ErrUpstreamTimeout 上游调用超过请求截止时间
	ErrUpstreamTimeout = xerrors.WithCode(xerrors.New("proxy: upstream timeout"), CodeUpstreamTimeout)

	// ErrUpstreamError 上游 5xx 或传输失败
	ErrUpstreamError = xerrors.WithCode(xerrors.New("proxy: upstream error"), CodeUpstreamError)
)
