package eventbus

import (
	"context"
	"regexp"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/ceyewan/aegis/clog"
	"github.com/ceyewan/aegis/connector"
	"github.com/ceyewan/aegis/xerrors"
)

// natsTransport 基于 NATS JetStream 的传输层
//
// 所有事件主题共享一个 Stream（subjects 为主题前缀通配）。消费组滞后查询
// 与位点改写是 Kafka 专属的管理操作，这里返回 ErrNotSupported。
type natsTransport struct {
	js     jetstream.JetStream
	stream string
	logger clog.Logger

	mu   sync.Mutex
	iter jetstream.MessagesContext
}

func newNATSTransport(ctx context.Context, conn connector.NATSConnector, stream, subjectPrefix string, logger clog.Logger) (*natsTransport, error) {
	js, err := jetstream.New(conn.GetClient())
	if err != nil {
		return nil, xerrors.Wrap(err, "eventbus: create jetstream context")
	}

	// 前缀通配覆盖全部事件主题与死信主题
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     stream,
		Subjects: []string{subjectPrefix + ">"},
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "eventbus: ensure stream %s", stream)
	}

	return &natsTransport{
		js:     js,
		stream: stream,
		logger: logger.With(clog.String("driver", "nats")),
	}, nil
}

func (t *natsTransport) produce(ctx context.Context, msg *outbound) error {
	_, err := t.js.PublishMsg(ctx, toNATSMsg(msg))
	return err
}

func (t *natsTransport) produceBatch(ctx context.Context, msgs []*outbound) error {
	for _, msg := range msgs {
		if _, err := t.js.PublishMsg(ctx, toNATSMsg(msg)); err != nil {
			return err
		}
	}
	return nil
}

func (t *natsTransport) consume(ctx context.Context, topics []string, group string, fn func(ctx context.Context, msg *inbound)) error {
	consumer, err := t.js.CreateOrUpdateConsumer(ctx, t.stream, jetstream.ConsumerConfig{
		Durable:        sanitizeName(group),
		AckPolicy:      jetstream.AckExplicitPolicy,
		FilterSubjects: topics,
	})
	if err != nil {
		return xerrors.Wrapf(err, "eventbus: create consumer %s", group)
	}

	iter, err := consumer.Messages()
	if err != nil {
		return xerrors.Wrap(err, "eventbus: start message iterator")
	}

	t.mu.Lock()
	t.iter = iter
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		iter.Stop()
	}()

	for {
		msg, err := iter.Next()
		if err != nil {
			// 迭代器停止（ctx 取消或 Stop）后结束消费
			return ctx.Err()
		}

		var offset int64
		if meta, metaErr := msg.Metadata(); metaErr == nil {
			offset = int64(meta.Sequence.Stream)
		}

		fn(ctx, &inbound{
			topic:   msg.Subject(),
			offset:  offset,
			headers: flattenNATSHeader(msg.Headers()),
			value:   msg.Data(),
		})

		if err := msg.Ack(); err != nil && ctx.Err() == nil {
			t.logger.Error("ack failed",
				clog.String("subject", msg.Subject()),
				clog.Error(err))
		}
	}
}

func (t *natsTransport) lag(ctx context.Context, group string, topics []string) ([]GroupLag, error) {
	return nil, ErrNotSupported
}

func (t *natsTransport) resetOffset(ctx context.Context, group, topic string, partition int32, offset int64) error {
	return ErrNotSupported
}

func (t *natsTransport) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.iter != nil {
		t.iter.Stop()
		t.iter = nil
	}
	return nil
}

func toNATSMsg(msg *outbound) *nats.Msg {
	header := nats.Header{}
	for key, value := range msg.headers {
		header.Set(key, value)
	}
	return &nats.Msg{
		Subject: msg.topic,
		Data:    msg.value,
		Header:  header,
	}
}

func flattenNATSHeader(header nats.Header) map[string]string {
	if len(header) == 0 {
		return nil
	}
	out := make(map[string]string, len(header))
	for key := range header {
		out[key] = header.Get(key)
	}
	return out
}

// sanitizeName 清理 JetStream 名称中的非法字符
var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

func sanitizeName(name string) string {
	return invalidNameChars.ReplaceAllString(name, "_")
}
