// Package eventbus 提供基于持久化分区日志的事件发布与消费。
//
// 发布方把事件包装成 JSON 信封并附带传输头发送到按事件名派生的主题；
// 消费方运行独立的消费循环，按 event-type 头分发给本地注册的处理函数。
// 发布失败与处理失败都会把现场写入死信主题，消费循环永不因单条消息中断，
// 投递语义为 at-least-once，单个分区内保序。
//
// 支持两种驱动：Kafka（franz-go，含消费组滞后查询与位点改写）与
// NATS JetStream。驱动由传入的连接器类型决定。
//
// 基本使用：
//
//	bus, _ := eventbus.New(&eventbus.Config{
//	    SourceService: "order-service",
//	    Topics:        []string{"events.order"},
//	}, kafkaConn, eventbus.WithLogger(logger))
//
//	_ = bus.On("OrderCreated", func(ctx context.Context, e *eventbus.Event) error {
//	    // ...
//	    return nil
//	})
//	go func() { _ = bus.Run(ctx) }()
//
//	event := eventbus.NewEvent("OrderCreated", "order.created", map[string]any{"order_id": "42"})
//	_ = bus.Publish(ctx, event)
package eventbus

import (
	"context"
	"time"

	"github.com/ceyewan/aegis/clog"
	"github.com/ceyewan/aegis/connector"
)

// HandlerFunc 事件处理函数
//
// 返回非 nil 错误时，该事件连同失败原因写入死信主题；
// 错误不会中断消费循环，后续消息照常投递。
type HandlerFunc func(ctx context.Context, event *Event) error

// Bus 事件总线接口
type Bus interface {
	// Publish 发布单个事件
	//
	// 发送失败在重试预算内指数退避重试；预算耗尽后写死信并返回
	// ErrPublishFailure（死信写入失败只记日志，不掩盖原始错误）。
	Publish(ctx context.Context, event *Event) error

	// PublishBatch 批量发布，按目的主题分组，每个主题发送一批
	//
	// 单个主题批次失败不影响其他主题；任一批次失败时返回 ErrPublishFailure。
	PublishBatch(ctx context.Context, events []*Event) error

	// On 注册事件类型的处理函数，必须在 Run 之前完成注册
	On(eventType string, handler HandlerFunc) error

	// Run 启动消费循环，订阅配置的主题集
	//
	// 阻塞直到 ctx 取消。单条消息的解析失败或处理失败会路由到死信主题，
	// 不会中断循环。
	Run(ctx context.Context) error

	// Lag 返回消费组在订阅主题全部分区上的滞后（管理操作）
	Lag(ctx context.Context) ([]GroupLag, error)

	// ResetOffset 把消费组在主题分区上的已提交位点改写为给定值（人工回放）
	ResetOffset(ctx context.Context, topic string, partition int32, offset int64) error

	// Close 关闭总线，释放消费资源（不关闭借用的连接器）
	Close() error
}

// Config 事件总线配置
type Config struct {
	// SourceService 事件来源服务标识，写入传输头与死信条目（默认："aegis-gateway"）
	SourceService string `json:"source_service" yaml:"source_service" mapstructure:"source_service"`

	// Group 消费组名（默认："aegis-gateway"）
	Group string `json:"group" yaml:"group" mapstructure:"group"`

	// Topics 消费循环订阅的主题集
	Topics []string `json:"topics" yaml:"topics" mapstructure:"topics"`

	// TopicPrefix 事件名派生主题时的前缀（默认："events."）
	TopicPrefix string `json:"topic_prefix" yaml:"topic_prefix" mapstructure:"topic_prefix"`

	// DeadLetterTopic 死信主题（默认："events.dead-letter"）
	DeadLetterTopic string `json:"dead_letter_topic" yaml:"dead_letter_topic" mapstructure:"dead_letter_topic"`

	// Stream JetStream Stream 名称，仅 NATS 驱动使用（默认："AEGIS_EVENTS"）
	Stream string `json:"stream" yaml:"stream" mapstructure:"stream"`

	// PublishRetries 发布失败的最大重试次数（默认：3）
	PublishRetries int `json:"publish_retries" yaml:"publish_retries" mapstructure:"publish_retries"`

	// PublishBackoff 首次重试的退避时间，之后指数增长（默认：100ms）
	PublishBackoff time.Duration `json:"publish_backoff" yaml:"publish_backoff" mapstructure:"publish_backoff"`

	// MaxBackoff 退避时间上限（默认：1s）
	MaxBackoff time.Duration `json:"max_backoff" yaml:"max_backoff" mapstructure:"max_backoff"`
}

func (c *Config) setDefaults() {
	if c.SourceService == "" {
		c.SourceService = "aegis-gateway"
	}
	if c.Group == "" {
		c.Group = "aegis-gateway"
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "events."
	}
	if c.DeadLetterTopic == "" {
		c.DeadLetterTopic = "events.dead-letter"
	}
	if c.Stream == "" {
		c.Stream = "AEGIS_EVENTS"
	}
	if c.PublishRetries == 0 {
		c.PublishRetries = 3
	}
	if c.PublishBackoff == 0 {
		c.PublishBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = time.Second
	}
}

// New 创建事件总线
//
// 驱动由连接器类型决定：KafkaConnector 使用 Kafka 驱动，
// NATSConnector 使用 JetStream 驱动。连接器必须已经 Connect。
func New(cfg *Config, conn connector.Connector, opts ...Option) (Bus, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()

	opt := options{}
	for _, o := range opts {
		o(&opt)
	}
	logger := opt.logger
	if logger == nil {
		logger = clog.Discard()
	}
	logger = logger.With(clog.String("component", "eventbus"))

	var tr transport
	switch c := conn.(type) {
	case connector.KafkaConnector:
		tr = newKafkaTransport(c, logger)
	case connector.NATSConnector:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var err error
		tr, err = newNATSTransport(ctx, c, cfg.Stream, cfg.TopicPrefix, logger)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrConnectorNil
	}

	return newBus(cfg, tr, logger, &opt)
}
