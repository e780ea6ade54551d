package main

import (
	"time"

	"github.com/ceyewan/aegis/breaker"
	"github.com/ceyewan/aegis/clog"
	"github.com/ceyewan/aegis/connector"
	"github.com/ceyewan/aegis/eventbus"
	"github.com/ceyewan/aegis/health"
	"github.com/ceyewan/aegis/metrics"
	"github.com/ceyewan/aegis/proxy"
	"github.com/ceyewan/aegis/ratelimit"
	"github.com/ceyewan/aegis/registry"
)

// AppConfig 网关进程的完整配置，由 config 加载器反序列化
type AppConfig struct {
	Server    ServerConfig     `mapstructure:"server"`
	Log       clog.Config      `mapstructure:"log"`
	Metrics   metrics.Config   `mapstructure:"metrics"`
	Registry  registry.Config  `mapstructure:"registry"`
	Health    health.Config    `mapstructure:"health"`
	Breaker   breaker.Config   `mapstructure:"breaker"`
	RateLimit ratelimit.Config `mapstructure:"ratelimit"`
	Proxy     proxy.Config     `mapstructure:"proxy"`
	EventBus  EventBusConfig   `mapstructure:"eventbus"`
}

// ServerConfig HTTP 入口配置
type ServerConfig struct {
	// Addr 监听地址（默认：":8080"）
	Addr string `mapstructure:"addr"`

	// ShutdownTimeout 优雅关闭的等待上限（默认：15s）
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (c *ServerConfig) setDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 15 * time.Second
	}
}

// EventBusConfig 事件总线配置，Driver 选择底层连接器
type EventBusConfig struct {
	// Enabled 是否启动事件总线（默认关闭，网关核心链路不依赖它）
	Enabled bool `mapstructure:"enabled"`

	// Driver 驱动类型："kafka" 或 "nats"
	Driver string `mapstructure:"driver"`

	Kafka connector.KafkaConfig `mapstructure:"kafka"`
	NATS  connector.NATSConfig  `mapstructure:"nats"`

	Bus eventbus.Config `mapstructure:"bus"`
}
