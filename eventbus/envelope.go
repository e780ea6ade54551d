package eventbus

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ceyewan/aegis/idgen"
	"github.com/ceyewan/aegis/xerrors"
)

// 传输头定义，随消息一起跨越进程边界
const (
	HeaderEventType     = "event-type"
	HeaderEventVersion  = "event-version"
	HeaderCorrelationID = "correlation-id"
	HeaderSourceService = "source-service"
)

// Event 事件信封，发布后不可变
//
// EventID 全局唯一且不复用；CorrelationID 在同一条因果链上原样传递。
type Event struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	EventName     string            `json:"event_name"`
	Version       int               `json:"version"`
	OccurredAt    time.Time         `json:"occurred_at"`
	CorrelationID string            `json:"correlation_id"`
	CausationID   string            `json:"causation_id,omitempty"`
	AggregateID   string            `json:"aggregate_id,omitempty"`
	AggregateType string            `json:"aggregate_type,omitempty"`
	Payload       map[string]any    `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewEvent 创建一个填好身份字段的事件
//
// EventID 与 CorrelationID 使用 UUID v7，Version 为 1，OccurredAt 为当前时间。
// 派生事件应覆盖 CorrelationID（沿用因果链）并设置 CausationID。
func NewEvent(eventType, eventName string, payload map[string]any) *Event {
	return &Event{
		EventID:       idgen.NewUUIDV7(),
		EventType:     eventType,
		EventName:     eventName,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		CorrelationID: idgen.NewUUIDV7(),
		Payload:       payload,
	}
}

// validate 检查事件是否可发布
func (e *Event) validate() error {
	if e == nil {
		return xerrors.Wrapf(ErrMalformedEvent, "event is nil")
	}
	if e.EventID == "" || e.EventType == "" || e.EventName == "" {
		return xerrors.Wrapf(ErrMalformedEvent, "event_id, event_type and event_name are required")
	}
	return nil
}

// partitionKey 分区键：同一聚合的事件落在同一分区，保证顺序
func (e *Event) partitionKey() []byte {
	if e.AggregateID != "" {
		return []byte(e.AggregateID)
	}
	return []byte(e.EventID)
}

// parseEvent 解析事件信封
func parseEvent(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, xerrors.Wrapf(ErrMalformedEvent, "decode envelope: %v", err)
	}
	if err := event.validate(); err != nil {
		return nil, err
	}
	return &event, nil
}

// topicOf 由事件名派生目的主题
//
// 取事件名第一段作为业务域，如 "order.created" -> "events.order"。
func topicOf(prefix, eventName string) string {
	domain := eventName
	if i := strings.IndexByte(eventName, '.'); i > 0 {
		domain = eventName[:i]
	}
	return prefix + domain
}

// ============================================================
// 死信
// ============================================================

// DeadLetterError 死信失败原因
type DeadLetterError struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

// 死信失败种类
const (
	KindPublishFailure = "publish_failure"
	KindMalformedEvent = "malformed_event"
	KindHandlerError   = "handler_error"
)

// RawMessage 无法解析为事件时的原始消息快照
type RawMessage struct {
	Topic     string            `json:"topic"`
	Partition int32             `json:"partition"`
	Offset    int64             `json:"offset"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      []byte            `json:"body"`
}

// DeadLetterEntry 死信条目，只追加不修改
//
// 发布失败带 OriginalEvent；处理失败同时带 OriginalEvent 与 OriginalMessage
// （按 topic/partition/offset 定位重放）；信封解析失败只能带 OriginalMessage。
type DeadLetterEntry struct {
	OriginalEvent   *Event          `json:"original_event,omitempty"`
	OriginalMessage *RawMessage     `json:"original_message,omitempty"`
	Error           DeadLetterError `json:"error"`
	FailedAt        time.Time       `json:"failed_at"`
	SourceService   string          `json:"source_service"`
	RetryCount      int             `json:"retry_count"`
}
