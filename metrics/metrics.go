// Package metrics 为网关提供统一的指标收集能力。
// 基于 OpenTelemetry 标准构建，内置 Prometheus HTTP 服务器暴露指标。
//
// 快速开始：
//
//	meter, _ := metrics.New(&metrics.Config{
//	    Enabled:     true,
//	    ServiceName: "aegis-gateway",
//	    Port:        9090,
//	    Path:        "/metrics",
//	})
//
//	counter, _ := meter.Counter("gateway_requests_total", "请求总数")
//	counter.Inc(ctx, metrics.L("service", "order-service"), metrics.L("outcome", "success"))
package metrics

import "context"

// Label 指标标签（键值对）
type Label struct {
	Key   string
	Value string
}

// L 创建一个标签
func L(key, value string) Label {
	return Label{Key: key, Value: value}
}

// Counter 计数器接口，记录只增不减的累计值
type Counter interface {
	// Inc 将计数器增加 1
	Inc(ctx context.Context, labels ...Label)

	// Add 将计数器增加给定的值
	Add(ctx context.Context, val float64, labels ...Label)
}

// Gauge 仪表盘接口，记录可任意增减的瞬时值
type Gauge interface {
	// Set 记录当前值
	Set(ctx context.Context, val float64, labels ...Label)
}

// Histogram 直方图接口，记录值的分布（如请求耗时）
type Histogram interface {
	// Record 记录一个观测值
	Record(ctx context.Context, val float64, labels ...Label)
}

// Meter 指标工厂接口
type Meter interface {
	Counter(name, desc string) (Counter, error)
	Gauge(name, desc string) (Gauge, error)
	Histogram(name, desc string) (Histogram, error)

	// Shutdown 停止指标导出并释放资源
	Shutdown(ctx context.Context) error
}

// Config 指标配置
type Config struct {
	// Enabled 是否启用指标收集，关闭时 New 返回 noop 实现
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`

	// ServiceName 服务标识
	ServiceName string `json:"service_name" yaml:"service_name" mapstructure:"service_name"`

	// Version 服务版本
	Version string `json:"version" yaml:"version" mapstructure:"version"`

	// Port Prometheus 抓取端口，0 表示不启动内置 HTTP 服务器
	Port int `json:"port" yaml:"port" mapstructure:"port"`

	// Path 抓取路径（默认："/metrics"）
	Path string `json:"path" yaml:"path" mapstructure:"path"`
}

// New 创建 Meter 实例
//
// cfg.Enabled 为 false 时返回 noop 实现，所有记录调用为空操作。
func New(cfg *Config) (Meter, error) {
	if cfg == nil || !cfg.Enabled {
		return Noop(), nil
	}
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	return newMeter(cfg)
}

// Noop 返回一个空操作的 Meter
func Noop() Meter {
	return &noopMeter{}
}

// ============================================================
// noop 实现
// ============================================================

type noopMeter struct{}

func (m *noopMeter) Counter(name, desc string) (Counter, error)     { return noopInstrument{}, nil }
func (m *noopMeter) Gauge(name, desc string) (Gauge, error)         { return noopInstrument{}, nil }
func (m *noopMeter) Histogram(name, desc string) (Histogram, error) { return noopInstrument{}, nil }
func (m *noopMeter) Shutdown(ctx context.Context) error             { return nil }

type noopInstrument struct{}

func (noopInstrument) Inc(ctx context.Context, labels ...Label)                 {}
func (noopInstrument) Add(ctx context.Context, val float64, labels ...Label)    {}
func (noopInstrument) Set(ctx context.Context, val float64, labels ...Label)    {}
func (noopInstrument) Record(ctx context.Context, val float64, labels ...Label) {}
