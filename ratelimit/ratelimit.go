// Package ratelimit 提供基于固定窗口的服务级限流能力。
//
// 每个服务维护独立的配额（窗口内允许的请求数 + 窗口周期），窗口边界对齐到
// 第一次请求的时刻，周期结束后计数归零。未配置配额的服务不限流。
//
// 快速开始：
//
//	limiter, _ := ratelimit.New(&ratelimit.Config{
//	    Quotas: map[string]string{
//	        "order-service": "100,60", // 每 60 秒 100 个请求
//	    },
//	}, ratelimit.WithLogger(logger))
//
//	allowed, _ := limiter.Allow(ctx, "order-service")
//	if !allowed {
//	    // 返回 429
//	}
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ceyewan/aegis/clog"
	"github.com/ceyewan/aegis/xerrors"
)

// Quota 服务配额：Period 时间内最多 Limit 个请求
type Quota struct {
	Limit  int           `json:"limit" yaml:"limit" mapstructure:"limit"`
	Period time.Duration `json:"period" yaml:"period" mapstructure:"period"`
}

// String 返回 "<limit>,<periodSeconds>" 格式的配额表示
func (q Quota) String() string {
	return fmt.Sprintf("%d,%d", q.Limit, int(q.Period.Seconds()))
}

// ParseQuota 解析 "<limit>,<periodSeconds>" 格式的配额字符串
//
// 例如 "100,60" 表示每 60 秒最多 100 个请求。limit 和 period 都必须为正整数。
func ParseQuota(s string) (Quota, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return Quota{}, xerrors.Wrapf(ErrInvalidQuota, "ratelimit: %q", s)
	}

	limit, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || limit <= 0 {
		return Quota{}, xerrors.Wrapf(ErrInvalidQuota, "ratelimit: limit in %q", s)
	}

	seconds, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || seconds <= 0 {
		return Quota{}, xerrors.Wrapf(ErrInvalidQuota, "ratelimit: period in %q", s)
	}

	return Quota{Limit: limit, Period: time.Duration(seconds) * time.Second}, nil
}

// ServiceQuota 服务配额快照
type ServiceQuota struct {
	Service string `json:"service"`
	Quota   Quota  `json:"quota"`

	// WindowCount 当前窗口内已放行的请求数
	WindowCount int `json:"window_count"`

	// WindowStart 当前窗口起点，窗口尚未开始时为零值
	WindowStart time.Time `json:"window_start"`
}

// Limiter 限流器接口
type Limiter interface {
	// Allow 判断服务的一次请求是否放行
	//
	// 未配置配额的服务总是放行。被拒绝的请求不计入窗口计数。
	Allow(ctx context.Context, service string) (bool, error)

	// SetQuota 设置或更新服务配额，立即生效并重置该服务的当前窗口
	SetQuota(service string, quota Quota) error

	// Snapshot 返回所有已配置服务的配额与窗口状态，按服务名排序
	Snapshot() []ServiceQuota
}

// Config 限流器配置
type Config struct {
	// Quotas 服务名到配额字符串（"<limit>,<periodSeconds>"）的映射
	Quotas map[string]string `json:"quotas" yaml:"quotas" mapstructure:"quotas"`
}

func (c *Config) validate() error {
	for service, s := range c.Quotas {
		if service == "" {
			return ErrServiceNameEmpty
		}
		if _, err := ParseQuota(s); err != nil {
			return err
		}
	}
	return nil
}

// New 创建限流器实例
func New(cfg *Config, opts ...Option) (Limiter, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	options := &options{}
	for _, opt := range opts {
		opt(options)
	}

	logger := options.logger
	if logger == nil {
		logger = clog.Discard()
	}
	logger = logger.With(clog.String("component", "ratelimit"))

	l := &fixedWindowLimiter{
		logger:  logger,
		windows: make(map[string]*window),
	}

	for service, s := range cfg.Quotas {
		quota, _ := ParseQuota(s) // validate 已保证合法
		l.windows[service] = &window{quota: quota}
	}

	logger.Info("rate limiter created", clog.Int("quotas", len(l.windows)))
	return l, nil
}
