package breaker

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/ceyewan/aegis/clog"
	"github.com/ceyewan/aegis/metrics"
)

// serviceBreaker 单个服务的熔断器及其展示状态
type serviceBreaker struct {
	tscb      *gobreaker.TwoStepCircuitBreaker[any]
	threshold uint32

	// failures 连续失败计数，成功清零（仅用于状态展示，转移判定在 gobreaker 内）
	failures atomic.Uint32

	mu       sync.Mutex
	openedAt time.Time
}

// circuitBreaker 熔断器实现（非导出）
type circuitBreaker struct {
	cfg    *Config
	logger clog.Logger
	meter  metrics.Meter

	// 服务级熔断器管理
	breakers sync.Map // map[string]*serviceBreaker
}

func newBreaker(cfg *Config, opt *options) *circuitBreaker {
	logger := opt.logger
	if logger == nil {
		logger = clog.Discard()
	}

	cb := &circuitBreaker{
		cfg:    cfg,
		logger: logger.With(clog.String("component", "breaker")),
		meter:  opt.meter,
	}

	cb.logger.Info("circuit breaker created",
		clog.Int("threshold", int(cfg.Threshold)),
		clog.Duration("cooldown", cfg.Cooldown))

	return cb
}

func (cb *circuitBreaker) Allow(serviceName string) (func(success bool), error) {
	if serviceName == "" {
		return nil, ErrServiceNameEmpty
	}

	sb := cb.getOrCreate(serviceName)

	done, err := sb.tscb.Allow()
	if err != nil {
		// Open 状态与 Half-Open 抢试探名额失败统一视为熔断拒绝
		cb.recordRejection(serviceName)
		return nil, ErrOpenState
	}

	return func(success bool) {
		if success {
			sb.failures.Store(0)
		} else {
			sb.recordFailure()
		}
		done(success)
	}, nil
}

// recordFailure 递增展示用失败计数，达到阈值后封顶
//
// 熔断后的试探失败不再增长计数，保证快照里的计数不超过转移阈值。
func (sb *serviceBreaker) recordFailure() {
	for {
		cur := sb.failures.Load()
		if cur >= sb.threshold {
			return
		}
		if sb.failures.CompareAndSwap(cur, cur+1) {
			return
		}
	}
}

func (cb *circuitBreaker) Phase(serviceName string) Phase {
	if v, ok := cb.breakers.Load(serviceName); ok {
		return phaseOf(v.(*serviceBreaker).tscb.State())
	}
	return PhaseClosed
}

func (cb *circuitBreaker) Snapshot() []State {
	var states []State
	cb.breakers.Range(func(key, value any) bool {
		name := key.(string)
		sb := value.(*serviceBreaker)

		st := State{
			Service:             name,
			Phase:               phaseOf(sb.tscb.State()),
			ConsecutiveFailures: sb.failures.Load(),
		}

		sb.mu.Lock()
		if !sb.openedAt.IsZero() {
			openedAt := sb.openedAt
			st.OpenedAt = &openedAt
		}
		sb.mu.Unlock()

		states = append(states, st)
		return true
	})

	sort.Slice(states, func(i, j int) bool { return states[i].Service < states[j].Service })
	return states
}

func (cb *circuitBreaker) Reset(serviceName string) error {
	if serviceName == "" {
		return ErrServiceNameEmpty
	}
	if _, ok := cb.breakers.Load(serviceName); !ok {
		return ErrBreakerNotFound
	}

	// 用全新的 Closed 熔断器替换，等价于状态机回到初始状态
	cb.breakers.Delete(serviceName)
	cb.logger.Info("circuit breaker reset", clog.String("service", serviceName))
	return nil
}

// getOrCreate 获取或创建服务级熔断器
func (cb *circuitBreaker) getOrCreate(serviceName string) *serviceBreaker {
	if v, ok := cb.breakers.Load(serviceName); ok {
		return v.(*serviceBreaker)
	}

	threshold, cooldown := cb.cfg.settingsFor(serviceName)

	sb := &serviceBreaker{threshold: threshold}
	settings := gobreaker.Settings{
		Name: serviceName,
		// Half-Open 下恰好一个试探请求，其余并发 Allow 返回 ErrTooManyRequests
		MaxRequests: 1,
		Interval:    cb.cfg.Interval,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			cb.onStateChange(sb, name, from, to)
		},
	}
	sb.tscb = gobreaker.NewTwoStepCircuitBreaker[any](settings)

	// 可能有并发创建，使用 LoadOrStore
	actual, loaded := cb.breakers.LoadOrStore(serviceName, sb)
	if loaded {
		return actual.(*serviceBreaker)
	}
	return sb
}

// onStateChange 状态变更回调
func (cb *circuitBreaker) onStateChange(sb *serviceBreaker, name string, from, to gobreaker.State) {
	sb.mu.Lock()
	switch to {
	case gobreaker.StateOpen:
		sb.openedAt = time.Now()
	case gobreaker.StateClosed:
		sb.openedAt = time.Time{}
	}
	sb.mu.Unlock()

	cb.logger.Info("circuit breaker state changed",
		clog.String("service", name),
		clog.String("from", string(phaseOf(from))),
		clog.String("to", string(phaseOf(to))))

	if cb.meter != nil {
		if counter, err := cb.meter.Counter(MetricStateChanges, "Circuit breaker state changes"); err == nil {
			counter.Inc(context.Background(),
				metrics.L("service", name),
				metrics.L("from", string(phaseOf(from))),
				metrics.L("to", string(phaseOf(to))))
		}
	}
}

func (cb *circuitBreaker) recordRejection(serviceName string) {
	cb.logger.Warn("call rejected by circuit breaker", clog.String("service", serviceName))

	if cb.meter != nil {
		if counter, err := cb.meter.Counter(MetricRejectsTotal, "Calls rejected by open circuit"); err == nil {
			counter.Inc(context.Background(), metrics.L("service", serviceName))
		}
	}
}

// phaseOf 将 gobreaker.State 转换为 Phase
func phaseOf(state gobreaker.State) Phase {
	switch state {
	case gobreaker.StateOpen:
		return PhaseOpen
	case gobreaker.StateHalfOpen:
		return PhaseHalfOpen
	default:
		return PhaseClosed
	}
}
