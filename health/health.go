// Package health 提供实例级健康检查与结果缓存。
//
// 健康状态以 (服务名, 实例) 为键缓存在进程内的 otter 缓存中，写入后经过 TTL
// 自动过期。无论探测成功还是失败，结果都会缓存完整的 TTL 窗口：一个刚恢复的
// 实例在缓存过期前仍被报告为不健康，这是有意的陈旧性/可用性权衡。
//
// 探测失败（超时、非 2xx、连接错误）只记录 Warn 日志，从不向调用方抛出。
//
// 基本使用：
//
//	checker, _ := health.New(reg, &health.Config{TTL: 30 * time.Second},
//	    health.WithLogger(logger))
//	go checker.Run(ctx)
//
//	instances := checker.HealthyInstances(ctx, "order-service")
package health

import (
	"context"
	"time"

	"github.com/ceyewan/aegis/registry"
)

// Record 一条健康检查结果
//
// 每个 (服务名, 实例) 只有一条记录，每次探测整条覆盖。
type Record struct {
	Service   string            `json:"service"`
	Instance  registry.Instance `json:"instance"`
	Healthy   bool              `json:"healthy"`
	CheckedAt time.Time         `json:"checked_at"`
}

// Checker 健康检查接口
type Checker interface {
	// IsHealthy 返回实例的健康状态
	//
	// 缓存命中直接返回缓存结果；未命中或已过期时发起一次带超时的探测，
	// 并把结果（无论好坏）缓存 TTL 窗口。
	IsHealthy(ctx context.Context, serviceName string, inst registry.Instance) bool

	// HealthyInstances 返回服务当前健康的实例集
	//
	// 等价于 Registry.Resolve 经 IsHealthy 过滤。
	HealthyInstances(ctx context.Context, serviceName string) []registry.Instance

	// Snapshot 返回服务所有实例的缓存记录（用于管理接口）
	//
	// 只读缓存，不触发探测；缓存中没有记录的实例不出现在结果里。
	Snapshot(serviceName string) []Record

	// Run 启动后台探测循环，按固定间隔刷新全部实例
	//
	// 阻塞直到 ctx 取消。探测频率受全局速率限制约束。
	Run(ctx context.Context)

	// Close 释放探测使用的连接资源
	Close() error
}

// Config 健康检查配置
type Config struct {
	// TTL 健康结果缓存时长（默认：30s）
	TTL time.Duration `json:"ttl" yaml:"ttl" mapstructure:"ttl"`

	// ProbeTimeout 单次探测超时（默认：5s）
	ProbeTimeout time.Duration `json:"probe_timeout" yaml:"probe_timeout" mapstructure:"probe_timeout"`

	// ProbeInterval 后台探测循环的间隔（默认：15s）
	ProbeInterval time.Duration `json:"probe_interval" yaml:"probe_interval" mapstructure:"probe_interval"`

	// ProbePath 实例存活端点路径（默认："/health"）
	ProbePath string `json:"probe_path" yaml:"probe_path" mapstructure:"probe_path"`

	// ProbeRate 后台探测的全局速率上限，次/秒（默认：50）
	ProbeRate float64 `json:"probe_rate" yaml:"probe_rate" mapstructure:"probe_rate"`
}

func (c *Config) setDefaults() {
	if c.TTL == 0 {
		c.TTL = 30 * time.Second
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.ProbeInterval == 0 {
		c.ProbeInterval = 15 * time.Second
	}
	if c.ProbePath == "" {
		c.ProbePath = "/health"
	}
	if c.ProbeRate == 0 {
		c.ProbeRate = 50
	}
}

// New 创建健康检查器
//
// 参数:
//   - reg: 服务拓扑
//   - cfg: 健康检查配置，nil 时使用默认值
//   - opts: 可选参数 (Logger, Meter)
func New(reg registry.Registry, cfg *Config, opts ...Option) (Checker, error) {
	if reg == nil {
		return nil, ErrRegistryNil
	}
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()

	opt := options{}
	for _, o := range opts {
		o(&opt)
	}

	return newChecker(reg, cfg, &opt)
}
