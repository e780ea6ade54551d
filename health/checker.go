package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"
	"golang.org/x/time/rate"

	"github.com/ceyewan/aegis/clog"
	"github.com/ceyewan/aegis/registry"
	"github.com/ceyewan/aegis/xerrors"
)

// cacheKey 健康缓存键，(服务名, 实例) 唯一确定一条记录
//
// 使用类型化的结构体键而不是拼接字符串，排除键冲突的可能。
type cacheKey struct {
	service string
	host    string
	port    int
}

// checker 健康检查实现（非导出）
type checker struct {
	reg     registry.Registry
	cfg     *Config
	cache   *otter.Cache[cacheKey, Record]
	client  *http.Client
	limiter *rate.Limiter
	logger  clog.Logger
}

func newChecker(reg registry.Registry, cfg *Config, opt *options) (Checker, error) {
	logger := opt.logger
	if logger == nil {
		logger = clog.Discard()
	}
	logger = logger.With(clog.String("component", "health"))

	// 写入过期策略：TTL 从写入开始计算，读取不续期。
	// 这保证了陈旧度上界为 TTL 加一次探测往返。
	cache, err := otter.New(&otter.Options[cacheKey, Record]{
		MaximumSize:      65536,
		ExpiryCalculator: otter.ExpiryWriting[cacheKey, Record](cfg.TTL),
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "health: build result cache")
	}

	return &checker{
		reg:     reg,
		cfg:     cfg,
		cache:   cache,
		client:  &http.Client{Timeout: cfg.ProbeTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.ProbeRate), 1),
		logger:  logger,
	}, nil
}

func (c *checker) IsHealthy(ctx context.Context, serviceName string, inst registry.Instance) bool {
	key := cacheKey{service: serviceName, host: inst.Host, port: inst.Port}

	if rec, ok := c.cache.GetIfPresent(key); ok {
		return rec.Healthy
	}

	// 缓存未命中或已过期，发起一次探测并缓存结果
	rec := c.probe(ctx, serviceName, inst)
	c.cache.Set(key, rec)
	return rec.Healthy
}

func (c *checker) HealthyInstances(ctx context.Context, serviceName string) []registry.Instance {
	instances := c.reg.Resolve(serviceName)
	healthy := make([]registry.Instance, 0, len(instances))
	for _, inst := range instances {
		if c.IsHealthy(ctx, serviceName, inst) {
			healthy = append(healthy, inst)
		}
	}
	return healthy
}

func (c *checker) Snapshot(serviceName string) []Record {
	var records []Record
	for _, inst := range c.reg.Resolve(serviceName) {
		key := cacheKey{service: serviceName, host: inst.Host, port: inst.Port}
		if rec, ok := c.cache.GetIfPresent(key); ok {
			records = append(records, rec)
		}
	}
	return records
}

func (c *checker) Run(ctx context.Context) {
	c.logger.Info("probe loop started",
		clog.Duration("interval", c.cfg.ProbeInterval),
		clog.Duration("ttl", c.cfg.TTL))

	ticker := time.NewTicker(c.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("probe loop stopped")
			return
		case <-ticker.C:
			c.refreshAll(ctx)
		}
	}
}

// refreshAll 探测拓扑中的全部实例并覆盖缓存
func (c *checker) refreshAll(ctx context.Context) {
	for _, def := range c.reg.Services() {
		for _, inst := range def.Instances {
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}
			rec := c.probe(ctx, def.Name, inst)
			c.cache.Set(cacheKey{service: def.Name, host: inst.Host, port: inst.Port}, rec)
		}
	}
}

// probe 对单个实例执行一次存活探测
//
// 健康的判定条件：2xx 响应且响应体报告 ok/healthy/up 状态。
// 任何错误都归结为不健康并记录 Warn，从不返回给调用方。
func (c *checker) probe(ctx context.Context, serviceName string, inst registry.Instance) Record {
	rec := Record{
		Service:   serviceName,
		Instance:  inst,
		CheckedAt: time.Now(),
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s%s", inst.Addr(), c.cfg.ProbePath)
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		c.logger.Warn("probe request build failed",
			clog.String("service", serviceName),
			clog.String("instance", inst.Addr()),
			clog.Error(err))
		return rec
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("probe failed",
			clog.String("service", serviceName),
			clog.String("instance", inst.Addr()),
			clog.Error(err))
		return rec
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("probe returned non-2xx",
			clog.String("service", serviceName),
			clog.String("instance", inst.Addr()),
			clog.Int("status", resp.StatusCode))
		return rec
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		c.logger.Warn("probe body read failed",
			clog.String("service", serviceName),
			clog.String("instance", inst.Addr()),
			clog.Error(err))
		return rec
	}

	if !reportsHealthy(string(body)) {
		c.logger.Warn("probe body reports unhealthy",
			clog.String("service", serviceName),
			clog.String("instance", inst.Addr()))
		return rec
	}

	rec.Healthy = true
	return rec
}

// reportsHealthy 判断存活端点的响应体是否报告健康
//
// 兼容纯文本（"ok"）和 JSON（{"status":"healthy"}）两种常见形式。
// 精确匹配状态词，避免 "unhealthy" 之类的值被误判。
func reportsHealthy(body string) bool {
	status := strings.ToLower(strings.TrimSpace(body))

	var payload struct {
		Status string `json:"status"`
	}
	if json.Unmarshal([]byte(body), &payload) == nil && payload.Status != "" {
		status = strings.ToLower(payload.Status)
	}

	switch status {
	case "ok", "healthy", "up", "pass":
		return true
	}
	return false
}

func (c *checker) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
