package eventbus

import "github.com/ceyewan/aegis/xerrors"

// 错误定义
var (
	// ErrMalformedEvent 事件信封缺少必填字段或无法解析
	ErrMalformedEvent = xerrors.New("eventbus: malformed event")

	// ErrPublishFailure 发布在重试预算耗尽后仍然失败
	ErrPublishFailure = xerrors.New("eventbus: publish failure")

	// ErrNotSupported 驱动不支持该操作
	ErrNotSupported = xerrors.New("eventbus: operation not supported by driver")

	// ErrBusClosed 总线已关闭
	ErrBusClosed = xerrors.New("eventbus: bus closed")

	// ErrHandlerNil 处理函数为空
	ErrHandlerNil = xerrors.New("eventbus: handler is nil")

	// ErrConnectorNil 连接器为空或类型不受支持
	ErrConnectorNil = xerrors.New("eventbus: connector is nil or unsupported")
)
