package connector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"

	"github.com/ceyewan/aegis/clog"
	"github.com/ceyewan/aegis/metrics"
	"github.com/ceyewan/aegis/xerrors"
)

type kafkaConnector struct {
	cfg     *KafkaConfig
	logger  clog.Logger
	meter   metrics.Meter
	healthy atomic.Bool

	mu     sync.RWMutex
	client *kgo.Client
}

// NewKafka 创建 Kafka 连接器
func NewKafka(cfg *KafkaConfig, opts ...Option) (KafkaConnector, error) {
	if cfg == nil {
		return nil, xerrors.Wrapf(ErrConfig, "kafka config is nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opt := &options{}
	for _, o := range opts {
		o(opt)
	}
	logger := opt.logger
	if logger == nil {
		logger = clog.Discard()
	}

	return &kafkaConnector{
		cfg:    cfg,
		logger: logger.With(clog.String("connector", "kafka"), clog.String("name", cfg.Name)),
		meter:  opt.meter,
	}, nil
}

func (c *kafkaConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	c.logger.Info("attempting to connect to kafka", clog.Any("seeds", c.cfg.Seed))

	client, err := kgo.NewClient(ClientOpts(c.cfg, c.logger)...)
	if err != nil {
		c.logger.Error("failed to create kafka client", clog.Error(err))
		return xerrors.Wrapf(ErrNotConnected, "kafka connector[%s]: create client: %v", c.cfg.Name, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		client.Close()
		c.logger.Error("failed to connect to kafka seeds", clog.Error(err))
		return xerrors.Wrapf(ErrNotConnected, "kafka connector[%s]: ping: %v", c.cfg.Name, err)
	}

	c.client = client
	c.healthy.Store(true)
	c.logger.Info("successfully connected to kafka")
	return nil
}

func (c *kafkaConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.healthy.Store(false)
	if c.client != nil {
		c.client.Close()
		c.client = nil
		c.logger.Info("kafka connection closed")
	}
	return nil
}

func (c *kafkaConnector) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil {
		c.healthy.Store(false)
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		c.healthy.Store(false)
		return xerrors.Wrapf(ErrHealthCheck, "kafka connector[%s]: %v", c.cfg.Name, err)
	}
	c.healthy.Store(true)
	return nil
}

func (c *kafkaConnector) IsHealthy() bool {
	return c.healthy.Load()
}

func (c *kafkaConnector) Name() string {
	return c.cfg.Name
}

func (c *kafkaConnector) GetClient() *kgo.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

func (c *kafkaConnector) Config() *KafkaConfig {
	return c.cfg
}

// ClientOpts 返回配置对应的基础 kgo 选项
//
// 事件总线消费者需要带消费组的专用客户端，用同一份连接配置派生。
func ClientOpts(cfg *KafkaConfig, logger clog.Logger) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Seed...),
		kgo.ClientID(cfg.ClientID),
		kgo.WithLogger(&kgoLogger{logger: logger}),
		kgo.AllowAutoTopicCreation(),
	}

	if cfg.User != "" && cfg.Password != "" {
		auth := plain.Auth{User: cfg.User, Pass: cfg.Password}
		opts = append(opts, kgo.SASL(auth.AsMechanism()))
	}

	return opts
}

// kgoLogger 把 franz-go 日志桥接到 clog
type kgoLogger struct {
	logger clog.Logger
}

func (l *kgoLogger) Level() kgo.LogLevel {
	return kgo.LogLevelInfo
}

func (l *kgoLogger) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	var fields []clog.Field
	for i := 0; i+1 < len(keyvals); i += 2 {
		if key, ok := keyvals[i].(string); ok {
			fields = append(fields, clog.Any(key, keyvals[i+1]))
		}
	}

	switch level {
	case kgo.LogLevelError:
		l.logger.Error(msg, fields...)
	case kgo.LogLevelWarn:
		l.logger.Warn(msg, fields...)
	case kgo.LogLevelInfo:
		l.logger.Info(msg, fields...)
	case kgo.LogLevelDebug:
		l.logger.Debug(msg, fields...)
	}
}
