package proxy

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ceyewan/aegis/clog"
	"github.com/ceyewan/aegis/idgen"
	"github.com/ceyewan/aegis/metrics"
	"github.com/ceyewan/aegis/xerrors"
)

// 请求头定义
const (
	// HeaderCorrelationID 关联 ID，缺失时由网关生成并注入
	HeaderCorrelationID = "X-Correlation-Id"

	// HeaderSourceService 调用方身份，由网关强制覆盖
	HeaderSourceService = "X-Source-Service"

	// internalHeaderPrefix 内部头前缀，双向剥离，不跨越网关边界
	internalHeaderPrefix = "X-Internal-"
)

// hopByHopHeaders RFC 7230 逐跳头，不随请求跨越代理
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// dispatcher 请求调度器实现（非导出）
type dispatcher struct {
	cfg    *Config
	comps  Components
	logger clog.Logger
	gates  []Gate
	client *http.Client

	requests metrics.Counter
	latency  metrics.Histogram
}

func (d *dispatcher) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	resp, err := d.dispatch(ctx, req)
	d.observe(ctx, req.Service, err, time.Since(start))
	return resp, err
}

func (d *dispatcher) dispatch(ctx context.Context, req *Request) (*Response, error) {
	for _, gate := range d.gates {
		if err := gate.Check(ctx, req); err != nil {
			d.logger.Debug("request rejected",
				clog.String("service", req.Service),
				clog.String("gate", gate.Name()),
				clog.Error(err))
			return nil, err
		}
	}

	// 无请求级截止时间时使用兜底超时
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.UpstreamTimeout)
		defer cancel()
	}

	inst, err := d.comps.Balancer.Pick(ctx, req.Service)
	if err != nil {
		// 拦截链通过后健康集可能已经清空
		return nil, xerrors.Wrapf(ErrServiceUnavailable, "service %s", req.Service)
	}

	// 原子抢占调用名额，Half-Open 下竞争失败同样视为熔断
	done, err := d.comps.Breaker.Allow(req.Service)
	if err != nil {
		return nil, xerrors.Wrapf(ErrCircuitOpen, "service %s", req.Service)
	}

	return d.forward(ctx, req, inst.Addr(), done)
}

// forward 转发请求并把调用结果反馈给熔断器
//
// 结果判定：2xx-4xx 为成功（4xx 是调用方问题，不是服务故障）；
// 网络错误、截止超时与 5xx 为失败。
func (d *dispatcher) forward(ctx context.Context, req *Request, addr string, done func(success bool)) (*Response, error) {
	target := url.URL{
		Scheme:   "http",
		Host:     addr,
		Path:     req.Path,
		RawQuery: req.RawQuery,
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), req.Body)
	if err != nil {
		done(false)
		return nil, xerrors.Wrapf(ErrUpstreamError, "service %s: build request", req.Service)
	}
	httpReq.Header = sanitizeHeader(req.Header)

	// 注入关联 ID 与调用方身份
	if httpReq.Header.Get(HeaderCorrelationID) == "" {
		httpReq.Header.Set(HeaderCorrelationID, idgen.NewUUIDV7())
	}
	httpReq.Header.Set(HeaderSourceService, d.cfg.SourceService)

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		done(false)
		if ctx.Err() == context.DeadlineExceeded {
			d.logger.Warn("upstream timeout",
				clog.String("service", req.Service),
				clog.String("instance", addr))
			return nil, xerrors.Wrapf(ErrUpstreamTimeout, "service %s instance %s", req.Service, addr)
		}
		d.logger.Warn("upstream call failed",
			clog.String("service", req.Service),
			clog.String("instance", addr),
			clog.Error(err))
		return nil, xerrors.Wrapf(ErrUpstreamError, "service %s instance %s", req.Service, addr)
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		done(false)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, xerrors.Wrapf(ErrUpstreamTimeout, "service %s instance %s", req.Service, addr)
		}
		return nil, xerrors.Wrapf(ErrUpstreamError, "service %s instance %s: read body", req.Service, addr)
	}

	if httpResp.StatusCode >= http.StatusInternalServerError {
		done(false)
		d.logger.Warn("upstream returned server error",
			clog.String("service", req.Service),
			clog.String("instance", addr),
			clog.Int("status", httpResp.StatusCode))
		return nil, xerrors.Wrapf(ErrUpstreamError, "service %s instance %s: status %d",
			req.Service, addr, httpResp.StatusCode)
	}

	done(true)
	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     sanitizeHeader(httpResp.Header),
		Body:       body,
	}, nil
}

// sanitizeHeader 拷贝头部并剥离逐跳头与内部头
func sanitizeHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for key, values := range h {
		if strings.HasPrefix(key, internalHeaderPrefix) {
			continue
		}
		out[key] = append([]string(nil), values...)
	}
	for _, key := range hopByHopHeaders {
		out.Del(key)
	}
	return out
}

// observe 记录请求指标
func (d *dispatcher) observe(ctx context.Context, service string, err error, elapsed time.Duration) {
	if d.requests == nil {
		return
	}

	outcome := "success"
	if err != nil {
		if code := xerrors.GetCode(err); code != "" {
			outcome = strings.ToLower(code)
		} else {
			outcome = "error"
		}
	}

	d.requests.Inc(ctx,
		metrics.L("service", service),
		metrics.L("outcome", outcome))
	d.latency.Record(ctx, elapsed.Seconds(),
		metrics.L("service", service))
}
