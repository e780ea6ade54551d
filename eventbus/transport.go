package eventbus

import "context"

// outbound 一条待发送的消息
type outbound struct {
	topic   string
	key     []byte
	value   []byte
	headers map[string]string
}

// inbound 一条已送达的消息
type inbound struct {
	topic     string
	partition int32
	offset    int64
	headers   map[string]string
	value     []byte
}

// GroupLag 消费组在单个分区上的滞后（用于管理接口）
type GroupLag struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Committed int64  `json:"committed"`
	End       int64  `json:"end"`
	Lag       int64  `json:"lag"`
}

// transport 传输层抽象，屏蔽 Kafka 与 NATS JetStream 的差异
//
// 实现必须保证：produce 并发安全且不同主题互不串行；consume 对同一分区
// 按到达顺序逐条回调，不同分区可以并发。
type transport interface {
	// produce 同步发送一条消息
	produce(ctx context.Context, msg *outbound) error

	// produceBatch 同步发送同一主题的一批消息
	produceBatch(ctx context.Context, msgs []*outbound) error

	// consume 阻塞消费直到 ctx 取消
	//
	// 每条消息回调一次 fn，fn 返回后提交位点（at-least-once）。
	consume(ctx context.Context, topics []string, group string, fn func(ctx context.Context, msg *inbound)) error

	// lag 返回消费组在给定主题全部分区上的滞后
	lag(ctx context.Context, group string, topics []string) ([]GroupLag, error)

	// resetOffset 把消费组在主题分区上的已提交位点改写为给定值（人工回放）
	resetOffset(ctx context.Context, group, topic string, partition int32, offset int64) error

	// close 释放传输层自有资源（不关闭借用的连接器）
	close() error
}
