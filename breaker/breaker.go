// Package breaker 提供服务级熔断器，用于网关到后端服务的故障隔离与自动恢复。
//
// breaker 基于 gobreaker 实现，按目标服务名独立熔断：
//   - Closed: 正常放行，统计连续失败次数
//   - Open: 立即拒绝，不发起网络调用
//   - Half-Open: 冷却结束后恰好放行一个试探请求
//
// 采用两段式（two-step）接口：Allow 申请放行并返回回执函数，调用结果通过
// 回执反馈给状态机。Half-Open 下的单试探名额由 Allow 原子抢占，并发竞争
// 失败的调用方得到与 Open 相同的拒绝。
//
// 基本使用：
//
//	brk, _ := breaker.New(&breaker.Config{
//	    Threshold: 5,
//	    Cooldown:  30 * time.Second,
//	}, breaker.WithLogger(logger))
//
//	done, err := brk.Allow("order-service")
//	if err != nil {
//	    // 熔断中，快速失败
//	}
//	resp, callErr := forward(...)
//	done(callErr == nil)
package breaker

import (
	"time"
)

// Phase 熔断器阶段
type Phase string

const (
	// PhaseClosed 闭合（正常）
	PhaseClosed Phase = "closed"
	// PhaseOpen 打开（快速失败）
	PhaseOpen Phase = "open"
	// PhaseHalfOpen 半开（单试探）
	PhaseHalfOpen Phase = "half_open"
)

// State 单个服务的熔断器状态快照（用于管理接口）
type State struct {
	Service             string     `json:"service"`
	Phase               Phase      `json:"phase"`
	ConsecutiveFailures uint32     `json:"consecutive_failures"`
	OpenedAt            *time.Time `json:"opened_at,omitempty"`
}

// Breaker 熔断器核心接口
type Breaker interface {
	// Allow 申请对服务发起一次调用
	//
	// 返回 nil 错误表示放行，调用方必须在调用结束后恰好调用一次 done，
	// 以结果反馈状态机。返回 ErrOpenState 表示处于 Open 状态或在
	// Half-Open 下未抢到试探名额，此时不得发起网络调用。
	Allow(serviceName string) (done func(success bool), err error)

	// Phase 返回服务当前所处的阶段，不产生任何副作用
	//
	// 未知服务返回 PhaseClosed。只用于只读判定（如网关的前置拦截），
	// Half-Open 下的试探名额仍由 Allow 原子抢占。
	Phase(serviceName string) Phase

	// Snapshot 返回全部已知服务的状态快照，按服务名排序
	Snapshot() []State

	// Reset 将服务的熔断器重置回初始 Closed 状态（管理操作）
	Reset(serviceName string) error
}

// ServiceConfig 单个服务的熔断参数覆盖
type ServiceConfig struct {
	// Threshold 连续失败阈值
	Threshold uint32 `json:"threshold" yaml:"threshold" mapstructure:"threshold"`

	// Cooldown Open 状态持续时间，超时后进入 Half-Open
	Cooldown time.Duration `json:"cooldown" yaml:"cooldown" mapstructure:"cooldown"`
}

// Config 熔断器配置
type Config struct {
	// Threshold 连续失败阈值（默认：5）
	Threshold uint32 `json:"threshold" yaml:"threshold" mapstructure:"threshold"`

	// Cooldown Open 状态持续时间（默认：30s）
	Cooldown time.Duration `json:"cooldown" yaml:"cooldown" mapstructure:"cooldown"`

	// Interval 闭合状态下的统计周期（默认：0，不清空统计）
	Interval time.Duration `json:"interval" yaml:"interval" mapstructure:"interval"`

	// Services 服务级参数覆盖，键为服务名
	Services map[string]ServiceConfig `json:"services" yaml:"services" mapstructure:"services"`
}

func (c *Config) setDefaults() {
	if c.Threshold == 0 {
		c.Threshold = 5
	}
	if c.Cooldown == 0 {
		c.Cooldown = 30 * time.Second
	}
}

// settingsFor 返回服务生效的 (阈值, 冷却时间)
func (c *Config) settingsFor(serviceName string) (uint32, time.Duration) {
	threshold, cooldown := c.Threshold, c.Cooldown
	if sc, ok := c.Services[serviceName]; ok {
		if sc.Threshold > 0 {
			threshold = sc.Threshold
		}
		if sc.Cooldown > 0 {
			cooldown = sc.Cooldown
		}
	}
	return threshold, cooldown
}

// New 创建熔断器实例
//
// 参数:
//   - cfg: 熔断器配置，nil 时使用默认值
//   - opts: 可选参数 (Logger, Meter)
func New(cfg *Config, opts ...Option) (Breaker, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()

	opt := options{}
	for _, o := range opts {
		o(&opt)
	}

	return newBreaker(cfg, &opt), nil
}
