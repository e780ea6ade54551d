package eventbus

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/ceyewan/aegis/clog"
	"github.com/ceyewan/aegis/connector"
	"github.com/ceyewan/aegis/xerrors"
)

// kafkaTransport 基于 franz-go 的 Kafka 传输层
//
// 生产复用连接器的共享客户端；消费使用带消费组的专用客户端，
// 关闭自动提交，由消费循环在处理完成后逐条提交。
type kafkaTransport struct {
	conn   connector.KafkaConnector
	logger clog.Logger

	mu       sync.Mutex
	consumer *kgo.Client
}

func newKafkaTransport(conn connector.KafkaConnector, logger clog.Logger) *kafkaTransport {
	return &kafkaTransport{
		conn:   conn,
		logger: logger.With(clog.String("driver", "kafka")),
	}
}

func (t *kafkaTransport) produce(ctx context.Context, msg *outbound) error {
	return t.conn.GetClient().ProduceSync(ctx, toRecord(msg)).FirstErr()
}

func (t *kafkaTransport) produceBatch(ctx context.Context, msgs []*outbound) error {
	records := make([]*kgo.Record, len(msgs))
	for i, msg := range msgs {
		records[i] = toRecord(msg)
	}
	return t.conn.GetClient().ProduceSync(ctx, records...).FirstErr()
}

func (t *kafkaTransport) consume(ctx context.Context, topics []string, group string, fn func(ctx context.Context, msg *inbound)) error {
	opts := append(connector.ClientOpts(t.conn.Config(), t.logger),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
	)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return xerrors.Wrap(err, "eventbus: create kafka consumer")
	}

	t.mu.Lock()
	t.consumer = client
	t.mu.Unlock()
	defer client.Close()

	for {
		fetches := client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return ctx.Err()
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fetchErr := range errs {
				t.logger.Error("kafka poll error",
					clog.String("topic", fetchErr.Topic),
					clog.Error(fetchErr.Err))
			}
			// 瞬时错误退避后继续轮询
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		// 同一分区内按到达顺序逐条处理并提交
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			for _, record := range p.Records {
				fn(ctx, &inbound{
					topic:     record.Topic,
					partition: record.Partition,
					offset:    record.Offset,
					headers:   headersOf(record),
					value:     record.Value,
				})
				if err := client.CommitRecords(ctx, record); err != nil && ctx.Err() == nil {
					t.logger.Error("commit offset failed",
						clog.String("topic", record.Topic),
						clog.Int("partition", int(record.Partition)),
						clog.Int64("offset", record.Offset),
						clog.Error(err))
				}
			}
		})
	}
}

func (t *kafkaTransport) lag(ctx context.Context, group string, topics []string) ([]GroupLag, error) {
	adm := kadm.NewClient(t.conn.GetClient())

	committed, err := adm.FetchOffsets(ctx, group)
	if err != nil {
		return nil, xerrors.Wrapf(err, "eventbus: fetch offsets for group %s", group)
	}
	ends, err := adm.ListEndOffsets(ctx, topics...)
	if err != nil {
		return nil, xerrors.Wrap(err, "eventbus: list end offsets")
	}

	var lags []GroupLag
	ends.Each(func(end kadm.ListedOffset) {
		var at int64
		if resp, ok := committed.Lookup(end.Topic, end.Partition); ok && resp.At > 0 {
			at = resp.At
		}
		lags = append(lags, GroupLag{
			Topic:     end.Topic,
			Partition: end.Partition,
			Committed: at,
			End:       end.Offset,
			Lag:       end.Offset - at,
		})
	})

	sort.Slice(lags, func(i, j int) bool {
		if lags[i].Topic != lags[j].Topic {
			return lags[i].Topic < lags[j].Topic
		}
		return lags[i].Partition < lags[j].Partition
	})
	return lags, nil
}

func (t *kafkaTransport) resetOffset(ctx context.Context, group, topic string, partition int32, offset int64) error {
	adm := kadm.NewClient(t.conn.GetClient())

	offsets := make(kadm.Offsets)
	offsets.Add(kadm.Offset{Topic: topic, Partition: partition, At: offset, LeaderEpoch: -1})

	responses, err := adm.CommitOffsets(ctx, group, offsets)
	if err != nil {
		return xerrors.Wrapf(err, "eventbus: reset offset %s[%d] to %d", topic, partition, offset)
	}
	if err := responses.Error(); err != nil {
		return xerrors.Wrapf(err, "eventbus: reset offset %s[%d] to %d", topic, partition, offset)
	}

	t.logger.Info("consumer offset reset",
		clog.String("group", group),
		clog.String("topic", topic),
		clog.Int("partition", int(partition)),
		clog.Int64("offset", offset))
	return nil
}

func (t *kafkaTransport) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.consumer != nil {
		t.consumer.Close()
		t.consumer = nil
	}
	return nil
}

func toRecord(msg *outbound) *kgo.Record {
	headers := make([]kgo.RecordHeader, 0, len(msg.headers))
	for key, value := range msg.headers {
		headers = append(headers, kgo.RecordHeader{Key: key, Value: []byte(value)})
	}
	return &kgo.Record{
		Topic:   msg.topic,
		Key:     msg.key,
		Value:   msg.value,
		Headers: headers,
	}
}

func headersOf(record *kgo.Record) map[string]string {
	if len(record.Headers) == 0 {
		return nil
	}
	headers := make(map[string]string, len(record.Headers))
	for _, h := range record.Headers {
		headers[h.Key] = string(h.Value)
	}
	return headers
}
