package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/aegis/clog"
	"github.com/ceyewan/aegis/xerrors"
)

// fakeTransport 内存传输层，记录全部发送并按队列回放消费
type fakeTransport struct {
	mu         sync.Mutex
	produced   []*outbound
	batchCalls [][]*outbound

	// produceFailures 前 N 次 produce 调用返回错误
	produceFailures int
	// failAll 所有发送（含死信写入）都失败
	failAll bool
	// failBatchTopics 这些主题的批量发送失败
	failBatchTopics map[string]bool

	queue      []*inbound
	lagResult  []GroupLag
	resetCalls []string
	closed     bool
}

func (f *fakeTransport) produce(ctx context.Context, msg *outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failAll {
		return xerrors.New("broker unreachable")
	}
	if f.produceFailures > 0 {
		f.produceFailures--
		return xerrors.New("broker unreachable")
	}
	f.produced = append(f.produced, msg)
	return nil
}

func (f *fakeTransport) produceBatch(ctx context.Context, msgs []*outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(msgs) > 0 && f.failBatchTopics[msgs[0].topic] {
		return xerrors.New("broker unreachable")
	}
	f.batchCalls = append(f.batchCalls, msgs)
	f.produced = append(f.produced, msgs...)
	return nil
}

func (f *fakeTransport) consume(ctx context.Context, topics []string, group string, fn func(ctx context.Context, msg *inbound)) error {
	for _, msg := range f.queue {
		fn(ctx, msg)
	}
	return nil
}

func (f *fakeTransport) lag(ctx context.Context, group string, topics []string) ([]GroupLag, error) {
	return f.lagResult, nil
}

func (f *fakeTransport) resetOffset(ctx context.Context, group, topic string, partition int32, offset int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetCalls = append(f.resetCalls, topic)
	return nil
}

func (f *fakeTransport) close() error {
	f.closed = true
	return nil
}

// producedTo 返回发送到指定主题的消息
func (f *fakeTransport) producedTo(topic string) []*outbound {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*outbound
	for _, msg := range f.produced {
		if msg.topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

func newTestBus(t *testing.T, tr *fakeTransport) *bus {
	t.Helper()

	cfg := &Config{
		SourceService:  "order-service",
		Topics:         []string{"events.order"},
		PublishBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
	cfg.setDefaults()

	b, err := newBus(cfg, tr, clog.Discard(), &options{})
	require.NoError(t, err)
	return b
}

// inboundOf 把事件编码成一条已送达消息
func inboundOf(t *testing.T, b *bus, event *Event) *inbound {
	t.Helper()

	msg, err := b.encode(event)
	require.NoError(t, err)
	return &inbound{
		topic:   msg.topic,
		offset:  1,
		headers: msg.headers,
		value:   msg.value,
	}
}

// ============================================================
// 信封
// ============================================================

func TestNewEvent(t *testing.T) {
	event := NewEvent("OrderCreated", "order.created", map[string]any{"order_id": "42"})

	assert.NotEmpty(t, event.EventID)
	assert.NotEmpty(t, event.CorrelationID)
	assert.Equal(t, "OrderCreated", event.EventType)
	assert.Equal(t, "order.created", event.EventName)
	assert.Equal(t, 1, event.Version)
	assert.False(t, event.OccurredAt.IsZero())

	// EventID 全局唯一
	assert.NotEqual(t, event.EventID, NewEvent("OrderCreated", "order.created", nil).EventID)
}

func TestTopicOf(t *testing.T) {
	assert.Equal(t, "events.order", topicOf("events.", "order.created"))
	assert.Equal(t, "events.order", topicOf("events.", "order.cancelled"))
	assert.Equal(t, "events.ping", topicOf("events.", "ping"))
}

// ============================================================
// 发布
// ============================================================

func TestPublish(t *testing.T) {
	tr := &fakeTransport{}
	b := newTestBus(t, tr)

	event := NewEvent("OrderCreated", "order.created", map[string]any{"order_id": "42"})
	event.AggregateID = "order-42"

	require.NoError(t, b.Publish(context.Background(), event))

	msgs := tr.producedTo("events.order")
	require.Len(t, msgs, 1)
	msg := msgs[0]

	// 传输头
	assert.Equal(t, "OrderCreated", msg.headers[HeaderEventType])
	assert.Equal(t, "1", msg.headers[HeaderEventVersion])
	assert.Equal(t, event.CorrelationID, msg.headers[HeaderCorrelationID])
	assert.Equal(t, "order-service", msg.headers[HeaderSourceService])

	// 分区键为聚合 ID
	assert.Equal(t, []byte("order-42"), msg.key)

	// 信封可解析且字段不变
	decoded, err := parseEvent(msg.value)
	require.NoError(t, err)
	assert.Equal(t, event.EventID, decoded.EventID)
	assert.Equal(t, "42", decoded.Payload["order_id"])
}

func TestPublish_Validation(t *testing.T) {
	b := newTestBus(t, &fakeTransport{})

	err := b.Publish(context.Background(), &Event{EventType: "x"})
	assert.ErrorIs(t, err, ErrMalformedEvent)

	err = b.Publish(context.Background(), nil)
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestPublish_RetryThenSucceed(t *testing.T) {
	tr := &fakeTransport{produceFailures: 2}
	b := newTestBus(t, tr)

	event := NewEvent("OrderCreated", "order.created", nil)
	require.NoError(t, b.Publish(context.Background(), event))

	// 重试成功后不写死信
	assert.Len(t, tr.producedTo("events.order"), 1)
	assert.Empty(t, tr.producedTo("events.dead-letter"))
}

func TestPublish_ExhaustedRetriesWriteDeadLetter(t *testing.T) {
	// 首次 + 3 次重试全部失败，第 5 次调用（死信写入）成功
	tr := &fakeTransport{produceFailures: 4}
	b := newTestBus(t, tr)

	event := NewEvent("OrderCreated", "order.created", nil)
	err := b.Publish(context.Background(), event)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPublishFailure)

	dead := tr.producedTo("events.dead-letter")
	require.Len(t, dead, 1)

	var entry DeadLetterEntry
	require.NoError(t, json.Unmarshal(dead[0].value, &entry))
	require.NotNil(t, entry.OriginalEvent)
	assert.Equal(t, event.EventID, entry.OriginalEvent.EventID)
	assert.Equal(t, KindPublishFailure, entry.Error.Kind)
	assert.Equal(t, "order-service", entry.SourceService)
	assert.Equal(t, 3, entry.RetryCount)
}

func TestPublish_DeadLetterWriteFailureNotPropagated(t *testing.T) {
	tr := &fakeTransport{failAll: true}
	b := newTestBus(t, tr)

	// 死信写入也失败时，调用方看到的仍是发布失败
	err := b.Publish(context.Background(), NewEvent("OrderCreated", "order.created", nil))
	assert.ErrorIs(t, err, ErrPublishFailure)
}

func TestPublishBatch(t *testing.T) {
	tr := &fakeTransport{}
	b := newTestBus(t, tr)

	events := []*Event{
		NewEvent("OrderCreated", "order.created", nil),
		NewEvent("StockReserved", "stock.reserved", nil),
		NewEvent("OrderPaid", "order.paid", nil),
	}
	require.NoError(t, b.PublishBatch(context.Background(), events))

	// 按主题分组：order 两条一批，stock 一条一批
	require.Len(t, tr.batchCalls, 2)
	assert.Len(t, tr.producedTo("events.order"), 2)
	assert.Len(t, tr.producedTo("events.stock"), 1)
}

func TestPublishBatch_PartialFailure(t *testing.T) {
	tr := &fakeTransport{failBatchTopics: map[string]bool{"events.order": true}}
	b := newTestBus(t, tr)

	events := []*Event{
		NewEvent("OrderCreated", "order.created", nil),
		NewEvent("StockReserved", "stock.reserved", nil),
	}
	err := b.PublishBatch(context.Background(), events)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPublishFailure)

	// 失败主题写死信，其他主题照常送达
	assert.Len(t, tr.producedTo("events.stock"), 1)
	assert.Len(t, tr.producedTo("events.dead-letter"), 1)
}

// ============================================================
// 消费
// ============================================================

func TestRun_DispatchToHandlers(t *testing.T) {
	tr := &fakeTransport{}
	b := newTestBus(t, tr)

	first := NewEvent("OrderCreated", "order.created", map[string]any{"seq": "1"})
	second := NewEvent("OrderCreated", "order.created", map[string]any{"seq": "2"})
	tr.queue = []*inbound{inboundOf(t, b, first), inboundOf(t, b, second)}

	var received []*Event
	require.NoError(t, b.On("OrderCreated", func(ctx context.Context, e *Event) error {
		received = append(received, e)
		return nil
	}))

	require.NoError(t, b.Run(context.Background()))

	// 到达顺序投递
	require.Len(t, received, 2)
	assert.Equal(t, first.EventID, received[0].EventID)
	assert.Equal(t, second.EventID, received[1].EventID)
	assert.Empty(t, tr.producedTo("events.dead-letter"))
}

func TestRun_HandlerFailureGoesToDeadLetter(t *testing.T) {
	tr := &fakeTransport{}
	b := newTestBus(t, tr)

	failing := NewEvent("OrderCreated", "order.created", nil)
	next := NewEvent("OrderCreated", "order.created", nil)
	failingMsg := inboundOf(t, b, failing)
	failingMsg.partition = 3
	failingMsg.offset = 9
	tr.queue = []*inbound{failingMsg, inboundOf(t, b, next)}

	var handled []string
	require.NoError(t, b.On("OrderCreated", func(ctx context.Context, e *Event) error {
		handled = append(handled, e.EventID)
		if e.EventID == failing.EventID {
			return xerrors.New("boom")
		}
		return nil
	}))

	require.NoError(t, b.Run(context.Background()))

	// 失败事件恰好产生一条死信，后续消息照常投递
	dead := tr.producedTo("events.dead-letter")
	require.Len(t, dead, 1)

	var entry DeadLetterEntry
	require.NoError(t, json.Unmarshal(dead[0].value, &entry))
	require.NotNil(t, entry.OriginalEvent)
	assert.Equal(t, failing.EventID, entry.OriginalEvent.EventID)
	assert.Equal(t, KindHandlerError, entry.Error.Kind)
	assert.Equal(t, "boom", entry.Error.Message)

	// 死信必须引用原始消息的 topic/partition/offset，否则无法定位重放
	require.NotNil(t, entry.OriginalMessage)
	assert.Equal(t, "events.order", entry.OriginalMessage.Topic)
	assert.EqualValues(t, 3, entry.OriginalMessage.Partition)
	assert.EqualValues(t, 9, entry.OriginalMessage.Offset)

	assert.Equal(t, []string{failing.EventID, next.EventID}, handled)
}

func TestRun_MalformedMessageGoesToDeadLetter(t *testing.T) {
	tr := &fakeTransport{}
	b := newTestBus(t, tr)

	valid := NewEvent("OrderCreated", "order.created", nil)
	tr.queue = []*inbound{
		{topic: "events.order", partition: 2, offset: 7, value: []byte("not json")},
		inboundOf(t, b, valid),
	}

	var handled int
	require.NoError(t, b.On("OrderCreated", func(ctx context.Context, e *Event) error {
		handled++
		return nil
	}))

	require.NoError(t, b.Run(context.Background()))

	dead := tr.producedTo("events.dead-letter")
	require.Len(t, dead, 1)

	var entry DeadLetterEntry
	require.NoError(t, json.Unmarshal(dead[0].value, &entry))
	assert.Nil(t, entry.OriginalEvent)
	require.NotNil(t, entry.OriginalMessage)
	assert.Equal(t, "events.order", entry.OriginalMessage.Topic)
	assert.EqualValues(t, 2, entry.OriginalMessage.Partition)
	assert.EqualValues(t, 7, entry.OriginalMessage.Offset)
	assert.Equal(t, KindMalformedEvent, entry.Error.Kind)

	// 解析失败不中断循环
	assert.Equal(t, 1, handled)
}

func TestRun_MissingEventTypeHeader(t *testing.T) {
	tr := &fakeTransport{}
	b := newTestBus(t, tr)

	event := NewEvent("OrderCreated", "order.created", nil)
	msg := inboundOf(t, b, event)
	delete(msg.headers, HeaderEventType)
	tr.queue = []*inbound{msg}

	require.NoError(t, b.On("OrderCreated", func(ctx context.Context, e *Event) error {
		t.Fatal("缺少 event-type 头的消息不应分发")
		return nil
	}))

	require.NoError(t, b.Run(context.Background()))
	assert.Len(t, tr.producedTo("events.dead-letter"), 1)
}

func TestRun_NoHandlerRegistered(t *testing.T) {
	tr := &fakeTransport{}
	b := newTestBus(t, tr)
	tr.queue = []*inbound{inboundOf(t, b, NewEvent("UnknownType", "order.created", nil))}

	require.NoError(t, b.Run(context.Background()))

	// 无处理函数的消息直接跳过，不算失败
	assert.Empty(t, tr.producedTo("events.dead-letter"))
}

// ============================================================
// 注册与生命周期
// ============================================================

func TestOn_Validation(t *testing.T) {
	b := newTestBus(t, &fakeTransport{})

	assert.ErrorIs(t, b.On("", func(ctx context.Context, e *Event) error { return nil }), ErrHandlerNil)
	assert.ErrorIs(t, b.On("OrderCreated", nil), ErrHandlerNil)
}

func TestBus_Close(t *testing.T) {
	tr := &fakeTransport{}
	b := newTestBus(t, tr)

	require.NoError(t, b.Close())
	assert.True(t, tr.closed)

	// 幂等
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Publish(context.Background(), NewEvent("X", "x.y", nil)), ErrBusClosed)
	assert.ErrorIs(t, b.Run(context.Background()), ErrBusClosed)
}

func TestBus_AdminDelegation(t *testing.T) {
	tr := &fakeTransport{lagResult: []GroupLag{{Topic: "events.order", Partition: 0, Committed: 5, End: 9, Lag: 4}}}
	b := newTestBus(t, tr)

	lags, err := b.Lag(context.Background())
	require.NoError(t, err)
	require.Len(t, lags, 1)
	assert.EqualValues(t, 4, lags[0].Lag)

	require.NoError(t, b.ResetOffset(context.Background(), "events.order", 0, 3))
	assert.Equal(t, []string{"events.order"}, tr.resetCalls)
}
