package eventbus

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/ceyewan/aegis/clog"
	"github.com/ceyewan/aegis/metrics"
	"github.com/ceyewan/aegis/xerrors"
)

// 指标名定义
const (
	MetricPublishedTotal   = "eventbus_published_total"
	MetricConsumedTotal    = "eventbus_consumed_total"
	MetricDeadLettersTotal = "eventbus_dead_letters_total"
)

// bus 事件总线实现（非导出）
type bus struct {
	cfg    *Config
	tr     transport
	logger clog.Logger

	published   metrics.Counter
	consumed    metrics.Counter
	deadLetters metrics.Counter

	mu       sync.RWMutex
	handlers map[string][]HandlerFunc
	closed   bool
}

func newBus(cfg *Config, tr transport, logger clog.Logger, opt *options) (*bus, error) {
	b := &bus{
		cfg:      cfg,
		tr:       tr,
		logger:   logger,
		handlers: make(map[string][]HandlerFunc),
	}

	if opt.meter != nil {
		var err error
		if b.published, err = opt.meter.Counter(MetricPublishedTotal, "Events published by topic"); err != nil {
			return nil, err
		}
		if b.consumed, err = opt.meter.Counter(MetricConsumedTotal, "Events consumed by topic and result"); err != nil {
			return nil, err
		}
		if b.deadLetters, err = opt.meter.Counter(MetricDeadLettersTotal, "Dead letter entries by kind"); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// ============================================================
// 发布
// ============================================================

func (b *bus) Publish(ctx context.Context, event *Event) error {
	if b.isClosed() {
		return ErrBusClosed
	}
	if err := event.validate(); err != nil {
		return err
	}

	msg, err := b.encode(event)
	if err != nil {
		return err
	}

	if err := b.produceWithRetry(ctx, msg); err != nil {
		b.deadLetter(ctx, &DeadLetterEntry{
			OriginalEvent: event,
			Error:         DeadLetterError{Message: err.Error(), Kind: KindPublishFailure},
			FailedAt:      time.Now().UTC(),
			SourceService: b.cfg.SourceService,
			RetryCount:    b.cfg.PublishRetries,
		})
		return xerrors.Wrapf(ErrPublishFailure, "event %s: %v", event.EventID, err)
	}

	if b.published != nil {
		b.published.Inc(ctx, metrics.L("topic", msg.topic))
	}
	return nil
}

func (b *bus) PublishBatch(ctx context.Context, events []*Event) error {
	if b.isClosed() {
		return ErrBusClosed
	}
	if len(events) == 0 {
		return nil
	}

	type entry struct {
		event *Event
		msg   *outbound
	}

	// 按目的主题分组，保持主题首现顺序
	var order []string
	groups := make(map[string][]entry)
	for _, event := range events {
		if err := event.validate(); err != nil {
			return err
		}
		msg, err := b.encode(event)
		if err != nil {
			return err
		}
		if _, ok := groups[msg.topic]; !ok {
			order = append(order, msg.topic)
		}
		groups[msg.topic] = append(groups[msg.topic], entry{event: event, msg: msg})
	}

	var failed int
	for _, topic := range order {
		batch := groups[topic]
		msgs := make([]*outbound, len(batch))
		for i, e := range batch {
			msgs[i] = e.msg
		}

		err := b.withRetry(ctx, func() error {
			return b.tr.produceBatch(ctx, msgs)
		})
		if err != nil {
			// 整批写死信，其他主题的批次继续发送
			failed += len(batch)
			b.logger.Error("batch publish failed",
				clog.String("topic", topic),
				clog.Int("events", len(batch)),
				clog.Error(err))
			for _, e := range batch {
				b.deadLetter(ctx, &DeadLetterEntry{
					OriginalEvent: e.event,
					Error:         DeadLetterError{Message: err.Error(), Kind: KindPublishFailure},
					FailedAt:      time.Now().UTC(),
					SourceService: b.cfg.SourceService,
					RetryCount:    b.cfg.PublishRetries,
				})
			}
			continue
		}

		if b.published != nil {
			b.published.Add(ctx, float64(len(batch)), metrics.L("topic", topic))
		}
	}

	if failed > 0 {
		return xerrors.Wrapf(ErrPublishFailure, "%d/%d events failed", failed, len(events))
	}
	return nil
}

// encode 把事件编码为待发送消息
func (b *bus) encode(event *Event) (*outbound, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return nil, xerrors.Wrapf(ErrMalformedEvent, "encode event %s: %v", event.EventID, err)
	}

	return &outbound{
		topic: topicOf(b.cfg.TopicPrefix, event.EventName),
		key:   event.partitionKey(),
		value: value,
		headers: map[string]string{
			HeaderEventType:     event.EventType,
			HeaderEventVersion:  strconv.Itoa(event.Version),
			HeaderCorrelationID: event.CorrelationID,
			HeaderSourceService: b.cfg.SourceService,
		},
	}, nil
}

func (b *bus) produceWithRetry(ctx context.Context, msg *outbound) error {
	return b.withRetry(ctx, func() error {
		return b.tr.produce(ctx, msg)
	})
}

// withRetry 指数退避重试
func (b *bus) withRetry(ctx context.Context, fn func() error) error {
	var err error
	backoff := b.cfg.PublishBackoff

	for attempt := 0; attempt <= b.cfg.PublishRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == b.cfg.PublishRetries {
			break
		}

		b.logger.Warn("publish attempt failed",
			clog.Int("attempt", attempt+1),
			clog.Duration("backoff", backoff),
			clog.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > b.cfg.MaxBackoff {
			backoff = b.cfg.MaxBackoff
		}
	}
	return err
}

// deadLetter 写入死信主题
//
// 死信写入失败只记录 Error 日志，不向调用方抛出第二个错误，
// 调用方看到的始终是原始失败。
func (b *bus) deadLetter(ctx context.Context, entry *DeadLetterEntry) {
	if b.deadLetters != nil {
		b.deadLetters.Inc(ctx, metrics.L("kind", entry.Error.Kind))
	}

	value, err := json.Marshal(entry)
	if err != nil {
		b.logger.Error("dead letter encode failed", clog.Error(err))
		return
	}

	msg := &outbound{topic: b.cfg.DeadLetterTopic, value: value}
	if entry.OriginalEvent != nil {
		msg.key = []byte(entry.OriginalEvent.EventID)
	}

	if err := b.tr.produce(ctx, msg); err != nil {
		b.logger.Error("dead letter write failed",
			clog.String("kind", entry.Error.Kind),
			clog.Error(err))
	}
}

// ============================================================
// 消费
// ============================================================

func (b *bus) On(eventType string, handler HandlerFunc) error {
	if eventType == "" {
		return xerrors.Wrapf(ErrHandlerNil, "event type is empty")
	}
	if handler == nil {
		return ErrHandlerNil
	}

	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.mu.Unlock()
	return nil
}

func (b *bus) Run(ctx context.Context) error {
	if b.isClosed() {
		return ErrBusClosed
	}
	if len(b.cfg.Topics) == 0 {
		return xerrors.New("eventbus: no topics configured")
	}

	b.logger.Info("consumer loop starting",
		clog.Any("topics", b.cfg.Topics),
		clog.String("group", b.cfg.Group))

	return b.tr.consume(ctx, b.cfg.Topics, b.cfg.Group, b.handleMessage)
}

// handleMessage 处理一条已送达的消息
//
// 任何失败都路由到死信主题并返回，让消费循环继续处理下一条。
func (b *bus) handleMessage(ctx context.Context, msg *inbound) {
	event, err := parseEvent(msg.value)
	if err != nil {
		b.logger.Warn("malformed message routed to dead letter",
			clog.String("topic", msg.topic),
			clog.Int64("offset", msg.offset),
			clog.Error(err))
		b.deadLetterRaw(ctx, msg, err.Error())
		b.observeConsume(ctx, msg.topic, "malformed")
		return
	}

	eventType := msg.headers[HeaderEventType]
	if eventType == "" {
		b.logger.Warn("message without event-type header routed to dead letter",
			clog.String("topic", msg.topic),
			clog.Int64("offset", msg.offset))
		b.deadLetterRaw(ctx, msg, "missing event-type header")
		b.observeConsume(ctx, msg.topic, "malformed")
		return
	}

	b.mu.RLock()
	handlers := b.handlers[eventType]
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Debug("no handler registered",
			clog.String("event_type", eventType),
			clog.String("topic", msg.topic))
		b.observeConsume(ctx, msg.topic, "unhandled")
		return
	}

	result := "ok"
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			result = "handler_error"
			b.logger.Warn("handler failed, event routed to dead letter",
				clog.String("event_type", eventType),
				clog.String("event_id", event.EventID),
				clog.Error(err))
			// 死信同时携带事件与原始消息引用，便于按 topic/partition/offset 定位重放
			b.deadLetter(ctx, &DeadLetterEntry{
				OriginalEvent:   event,
				OriginalMessage: rawMessageOf(msg),
				Error:           DeadLetterError{Message: err.Error(), Kind: KindHandlerError},
				FailedAt:        time.Now().UTC(),
				SourceService:   b.cfg.SourceService,
			})
		}
	}
	b.observeConsume(ctx, msg.topic, result)
}

// deadLetterRaw 把无法解析的原始消息写入死信主题
func (b *bus) deadLetterRaw(ctx context.Context, msg *inbound, reason string) {
	b.deadLetter(ctx, &DeadLetterEntry{
		OriginalMessage: rawMessageOf(msg),
		Error:           DeadLetterError{Message: reason, Kind: KindMalformedEvent},
		FailedAt:        time.Now().UTC(),
		SourceService:   b.cfg.SourceService,
	})
}

// rawMessageOf 截取已送达消息的原始快照
func rawMessageOf(msg *inbound) *RawMessage {
	return &RawMessage{
		Topic:     msg.topic,
		Partition: msg.partition,
		Offset:    msg.offset,
		Headers:   msg.headers,
		Body:      msg.value,
	}
}

func (b *bus) observeConsume(ctx context.Context, topic, result string) {
	if b.consumed != nil {
		b.consumed.Inc(ctx,
			metrics.L("topic", topic),
			metrics.L("result", result))
	}
}

// ============================================================
// 管理与生命周期
// ============================================================

func (b *bus) Lag(ctx context.Context) ([]GroupLag, error) {
	return b.tr.lag(ctx, b.cfg.Group, b.cfg.Topics)
}

func (b *bus) ResetOffset(ctx context.Context, topic string, partition int32, offset int64) error {
	return b.tr.resetOffset(ctx, b.cfg.Group, topic, partition, offset)
}

func (b *bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	return b.tr.close()
}

func (b *bus) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}
