package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ceyewan/aegis/clog"
)

// window 单个服务的固定窗口状态，mu 保护计数与窗口起点
type window struct {
	mu    sync.Mutex
	quota Quota
	start time.Time
	count int
}

// fixedWindowLimiter 固定窗口限流器实现（非导出）
type fixedWindowLimiter struct {
	logger clog.Logger

	// mu 保护 windows 映射本身，窗口内部状态由各自的锁保护
	mu      sync.RWMutex
	windows map[string]*window
}

func (l *fixedWindowLimiter) Allow(ctx context.Context, service string) (bool, error) {
	if service == "" {
		return false, ErrServiceNameEmpty
	}

	l.mu.RLock()
	w, ok := l.windows[service]
	l.mu.RUnlock()
	if !ok {
		// 未配置配额的服务不限流
		return true, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	if w.start.IsZero() || now.Sub(w.start) >= w.quota.Period {
		// 窗口滚动，计数归零
		w.start = now
		w.count = 0
	}

	if w.count >= w.quota.Limit {
		l.logger.Debug("request rejected",
			clog.String("service", service),
			clog.Int("limit", w.quota.Limit),
			clog.Duration("period", w.quota.Period))
		return false, nil
	}

	w.count++
	return true, nil
}

func (l *fixedWindowLimiter) SetQuota(service string, quota Quota) error {
	if service == "" {
		return ErrServiceNameEmpty
	}
	if quota.Limit <= 0 || quota.Period <= 0 {
		return ErrInvalidQuota
	}

	l.mu.Lock()
	l.windows[service] = &window{quota: quota}
	l.mu.Unlock()

	l.logger.Info("quota updated",
		clog.String("service", service),
		clog.Int("limit", quota.Limit),
		clog.Duration("period", quota.Period))
	return nil
}

func (l *fixedWindowLimiter) Snapshot() []ServiceQuota {
	l.mu.RLock()
	quotas := make([]ServiceQuota, 0, len(l.windows))
	for service, w := range l.windows {
		w.mu.Lock()
		quotas = append(quotas, ServiceQuota{
			Service:     service,
			Quota:       w.quota,
			WindowCount: w.count,
			WindowStart: w.start,
		})
		w.mu.Unlock()
	}
	l.mu.RUnlock()

	sort.Slice(quotas, func(i, j int) bool {
		return quotas[i].Service < quotas[j].Service
	})
	return quotas
}
