// Package proxy 提供网关的请求调度管道。
//
// 每个入站请求按固定顺序通过拦截链：健康检查、熔断器、限流器。任何一道
// 拦截失败都立即短路，不发起上游网络调用，并以稳定的错误码暴露给调用方。
// 全部通过后由负载均衡选择实例、转发请求，并把调用结果反馈给熔断器。
//
// 基本使用：
//
//	d, _ := proxy.New(&proxy.Config{SourceService: "aegis-gateway"}, proxy.Components{
//	    Checker:  checker,
//	    Breaker:  brk,
//	    Limiter:  limiter,
//	    Balancer: lb,
//	}, proxy.WithLogger(logger))
//
//	resp, err := d.Dispatch(ctx, &proxy.Request{
//	    Service: "order-service",
//	    Method:  http.MethodGet,
//	    Path:    "/orders/42",
//	})
package proxy

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/ceyewan/aegis/balancer"
	"github.com/ceyewan/aegis/breaker"
	"github.com/ceyewan/aegis/clog"
	"github.com/ceyewan/aegis/health"
	"github.com/ceyewan/aegis/ratelimit"
)

// Request 一次待转发的入站请求
type Request struct {
	// Service 目标逻辑服务名
	Service string

	// Method HTTP 方法
	Method string

	// Path 转发给实例的路径（不含服务名前缀）
	Path string

	// RawQuery 原始查询串，不解析不改写
	RawQuery string

	// Header 入站请求头，转发前会剥离逐跳头与内部头
	Header http.Header

	// Body 请求体，可为 nil
	Body io.Reader
}

// Response 上游响应
//
// 2xx 到 4xx 的上游响应原样返回；5xx 与传输失败统一折叠为错误。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Gate 请求拦截器
//
// Check 返回 nil 表示放行；返回的错误必须携带稳定错误码（xerrors.WithCode），
// HTTP 层据此生成结构化错误响应。
type Gate interface {
	// Name 拦截器名称（用于日志与指标）
	Name() string

	// Check 判定请求是否放行，不得产生影响后续调用的副作用
	Check(ctx context.Context, req *Request) error
}

// Dispatcher 请求调度接口
type Dispatcher interface {
	// Dispatch 调度一次请求：依次通过拦截链、选取实例、转发并反馈结果
	//
	// 拦截失败与上游失败均以带错误码的错误返回，调用方通过
	// xerrors.GetCode 区分种类。ctx 的截止时间约束整个上游调用。
	Dispatch(ctx context.Context, req *Request) (*Response, error)
}

// Components 调度器依赖的网关组件
type Components struct {
	Checker  health.Checker
	Breaker  breaker.Breaker
	Limiter  ratelimit.Limiter
	Balancer balancer.Balancer
}

// Config 调度器配置
type Config struct {
	// SourceService 注入 X-Source-Service 头的网关身份（默认："aegis-gateway"）
	SourceService string `json:"source_service" yaml:"source_service" mapstructure:"source_service"`

	// UpstreamTimeout 无请求级截止时间时的兜底上游超时（默认：30s）
	UpstreamTimeout time.Duration `json:"upstream_timeout" yaml:"upstream_timeout" mapstructure:"upstream_timeout"`

	// MaxIdleConnsPerHost 到单个实例的最大空闲连接数（默认：16）
	MaxIdleConnsPerHost int `json:"max_idle_conns_per_host" yaml:"max_idle_conns_per_host" mapstructure:"max_idle_conns_per_host"`
}

func (c *Config) setDefaults() {
	if c.SourceService == "" {
		c.SourceService = "aegis-gateway"
	}
	if c.UpstreamTimeout == 0 {
		c.UpstreamTimeout = 30 * time.Second
	}
	if c.MaxIdleConnsPerHost == 0 {
		c.MaxIdleConnsPerHost = 16
	}
}

// New 创建请求调度器
//
// 拦截链固定为 健康检查 -> 熔断器 -> 限流器，顺序即错误优先级：
// 一个同时被熔断与限流的请求报告熔断。
//
// 熔断器的名额抢占发生在拦截链之后、转发之前（抢占不可撤销，提前抢占会
// 占死 Half-Open 的试探名额）。因此 Half-Open 下输掉试探竞争的请求已经
// 消耗了一次限流窗口配额。
func New(cfg *Config, comps Components, opts ...Option) (Dispatcher, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()

	if comps.Checker == nil || comps.Breaker == nil || comps.Limiter == nil || comps.Balancer == nil {
		return nil, ErrComponentNil
	}

	opt := options{}
	for _, o := range opts {
		o(&opt)
	}
	logger := opt.logger
	if logger == nil {
		logger = clog.Discard()
	}
	logger = logger.With(clog.String("component", "proxy"))

	d := &dispatcher{
		cfg:    cfg,
		comps:  comps,
		logger: logger,
		gates: []Gate{
			NewHealthGate(comps.Checker),
			NewBreakerGate(comps.Breaker),
			NewRateLimitGate(comps.Limiter),
		},
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
			},
		},
	}

	if opt.meter != nil {
		var err error
		d.requests, err = opt.meter.Counter(MetricRequestsTotal, "Gateway requests by service and outcome")
		if err != nil {
			return nil, err
		}
		d.latency, err = opt.meter.Histogram(MetricForwardSeconds, "Upstream forward latency in seconds")
		if err != nil {
			return nil, err
		}
	}

	return d, nil
}

// 指标名定义
const (
	MetricRequestsTotal  = "gateway_requests_total"
	MetricForwardSeconds = "gateway_forward_duration_seconds"
)

var _ Dispatcher = (*dispatcher)(nil)
