// Package connector 提供事件总线依赖的消息中间件连接管理。
//
// 核心特性：
//   - 统一抽象：通过 Connector 接口提供一致的连接管理 API
//   - 类型安全：通过 TypedConnector[T] 泛型接口确保编译时类型检查
//   - 幂等连接：Connect() 可安全重复调用
//   - 延迟连接：NewXXX() 创建连接器但不立即建立连接，Connect() 时才连接
//
// 资源所有权：Connector 拥有底层连接的生命周期，应通过 defer 确保 Close()
// 被调用。组件（如 eventbus）仅借用 Connector，不应调用 Close()。
package connector

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Connector 定义所有连接器的通用行为
//
// 接口方法均为并发安全，可从多个协程同时调用。
type Connector interface {
	// Connect 建立连接
	//
	// 幂等，首次调用时建立连接，后续调用直接返回 nil。
	Connect(ctx context.Context) error

	// Close 关闭连接并释放资源，幂等
	Close() error

	// HealthCheck 发送测试请求验证连接可用性，并更新内部健康状态缓存
	HealthCheck(ctx context.Context) error

	// IsHealthy 返回最后一次 HealthCheck 的缓存结果，无阻塞
	IsHealthy() bool

	// Name 返回连接实例名称，用于日志与指标标识
	Name() string
}

// TypedConnector 提供类型安全的客户端访问
type TypedConnector[T any] interface {
	Connector

	// GetClient 返回底层客户端实例
	//
	// 在 Connect() 之前或 Close() 之后调用可能返回 nil。
	GetClient() T
}

// KafkaConnector Kafka 连接器接口，基于 franz-go 客户端
type KafkaConnector interface {
	TypedConnector[*kgo.Client]

	// Config 返回连接配置（事件总线消费者需要用相同的 seed 创建专用客户端）
	Config() *KafkaConfig
}

// NATSConnector NATS 连接器接口，内置自动重连
type NATSConnector interface {
	TypedConnector[*nats.Conn]
}
