package proxy

import (
	"context"

	"github.com/ceyewan/aegis/breaker"
	"github.com/ceyewan/aegis/health"
	"github.com/ceyewan/aegis/ratelimit"
	"github.com/ceyewan/aegis/xerrors"
)

// healthGate 拒绝没有健康实例的服务
type healthGate struct {
	checker health.Checker
}

// NewHealthGate 创建健康检查拦截器
func NewHealthGate(checker health.Checker) Gate {
	return &healthGate{checker: checker}
}

func (g *healthGate) Name() string { return "health" }

func (g *healthGate) Check(ctx context.Context, req *Request) error {
	if len(g.checker.HealthyInstances(ctx, req.Service)) == 0 {
		return xerrors.Wrapf(ErrServiceUnavailable, "service %s", req.Service)
	}
	return nil
}

// breakerGate 拒绝处于 Open 状态的服务
//
// 只做无副作用的状态读取。Half-Open 下的试探名额由调度器在转发前
// 通过 Allow 原子抢占，抢占失败同样映射为熔断拒绝。
type breakerGate struct {
	brk breaker.Breaker
}

// NewBreakerGate 创建熔断拦截器
func NewBreakerGate(brk breaker.Breaker) Gate {
	return &breakerGate{brk: brk}
}

func (g *breakerGate) Name() string { return "breaker" }

func (g *breakerGate) Check(ctx context.Context, req *Request) error {
	if g.brk.Phase(req.Service) == breaker.PhaseOpen {
		return xerrors.Wrapf(ErrCircuitOpen, "service %s", req.Service)
	}
	return nil
}

// ratelimitGate 拒绝窗口配额耗尽的服务
type ratelimitGate struct {
	limiter ratelimit.Limiter
}

// NewRateLimitGate 创建限流拦截器
func NewRateLimitGate(limiter ratelimit.Limiter) Gate {
	return &ratelimitGate{limiter: limiter}
}

func (g *ratelimitGate) Name() string { return "ratelimit" }

func (g *ratelimitGate) Check(ctx context.Context, req *Request) error {
	allowed, err := g.limiter.Allow(ctx, req.Service)
	if err != nil {
		return err
	}
	if !allowed {
		return xerrors.Wrapf(ErrRateLimited, "service %s", req.Service)
	}
	return nil
}
