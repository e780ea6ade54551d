package connector

import (
	"time"

	"github.com/ceyewan/aegis/xerrors"
)

// KafkaConfig Kafka 连接配置
type KafkaConfig struct {
	// Name 连接器名称（默认："default"）
	Name string `json:"name" yaml:"name" mapstructure:"name"`

	// Seed 初始连接节点 (Brokers)，必填
	Seed []string `json:"seed" yaml:"seed" mapstructure:"seed"`

	// User SASL 用户名，可选
	User string `json:"user" yaml:"user" mapstructure:"user"`

	// Password SASL 密码，可选
	Password string `json:"password" yaml:"password" mapstructure:"password"`

	// ClientID 客户端 ID（默认："aegis-connector"）
	ClientID string `json:"client_id" yaml:"client_id" mapstructure:"client_id"`

	// ConnectTimeout 连接超时（默认：10s）
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout" mapstructure:"connect_timeout"`
}

func (c *KafkaConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.ClientID == "" {
		c.ClientID = "aegis-connector"
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
}

func (c *KafkaConfig) validate() error {
	c.setDefaults()
	if len(c.Seed) == 0 {
		return xerrors.Wrapf(ErrConfig, "kafka seed brokers are required")
	}
	return nil
}

// NATSConfig NATS 连接配置
type NATSConfig struct {
	// Name 连接器名称（默认："default"）
	Name string `json:"name" yaml:"name" mapstructure:"name"`

	// URL 连接地址，如 "nats://127.0.0.1:4222"，必填
	URL string `json:"url" yaml:"url" mapstructure:"url"`

	// Username 用户名，可选
	Username string `json:"username" yaml:"username" mapstructure:"username"`

	// Password 密码，可选
	Password string `json:"password" yaml:"password" mapstructure:"password"`

	// Token 令牌，可选
	Token string `json:"token" yaml:"token" mapstructure:"token"`

	// Timeout 连接超时（默认：5s）
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// MaxReconnects 最大重连次数（默认：60）
	MaxReconnects int `json:"max_reconnects" yaml:"max_reconnects" mapstructure:"max_reconnects"`

	// ReconnectWait 重连等待时间（默认：2s）
	ReconnectWait time.Duration `json:"reconnect_wait" yaml:"reconnect_wait" mapstructure:"reconnect_wait"`

	// PingInterval ping 间隔（默认：2m）
	PingInterval time.Duration `json:"ping_interval" yaml:"ping_interval" mapstructure:"ping_interval"`
}

func (c *NATSConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 60
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 2 * time.Minute
	}
}

func (c *NATSConfig) validate() error {
	c.setDefaults()
	if c.URL == "" {
		return xerrors.Wrapf(ErrConfig, "nats url is required")
	}
	return nil
}
