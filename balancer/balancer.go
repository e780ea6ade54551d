// Package balancer 提供面向健康实例集的轮询负载均衡。
//
// 每个服务维护独立的轮询游标，彼此不竞争。健康实例集为空时立即返回
// ErrNoHealthyInstance，不会联系任何实例。
//
// 基本使用：
//
//	lb := balancer.New(checker, balancer.WithLogger(logger))
//	inst, err := lb.Pick(ctx, "order-service")
package balancer

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ceyewan/aegis/clog"
	"github.com/ceyewan/aegis/health"
	"github.com/ceyewan/aegis/registry"
)

// Balancer 实例选择接口
type Balancer interface {
	// Pick 为服务选择一个健康实例
	//
	// 选择策略为轮询；健康集为空时返回 ErrNoHealthyInstance。
	Pick(ctx context.Context, serviceName string) (registry.Instance, error)
}

// New 创建轮询负载均衡器
func New(checker health.Checker, opts ...Option) Balancer {
	opt := options{}
	for _, o := range opts {
		o(&opt)
	}
	logger := opt.logger
	if logger == nil {
		logger = clog.Discard()
	}

	return &roundRobin{
		checker: checker,
		logger:  logger.With(clog.String("component", "balancer")),
	}
}

// roundRobin 轮询实现（非导出）
type roundRobin struct {
	checker health.Checker
	logger  clog.Logger

	// 服务级轮询游标
	cursors sync.Map // map[string]*atomic.Uint64
}

func (r *roundRobin) Pick(ctx context.Context, serviceName string) (registry.Instance, error) {
	healthy := r.checker.HealthyInstances(ctx, serviceName)
	if len(healthy) == 0 {
		r.logger.Debug("no healthy instance", clog.String("service", serviceName))
		return registry.Instance{}, ErrNoHealthyInstance
	}

	cursor := r.getCursor(serviceName)
	idx := (cursor.Add(1) - 1) % uint64(len(healthy))
	return healthy[idx], nil
}

func (r *roundRobin) getCursor(serviceName string) *atomic.Uint64 {
	if v, ok := r.cursors.Load(serviceName); ok {
		return v.(*atomic.Uint64)
	}
	actual, _ := r.cursors.LoadOrStore(serviceName, &atomic.Uint64{})
	return actual.(*atomic.Uint64)
}
