package proxy

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/aegis/breaker"
	"github.com/ceyewan/aegis/clog"
	"github.com/ceyewan/aegis/idgen"
	"github.com/ceyewan/aegis/ratelimit"
	"github.com/ceyewan/aegis/registry"
	"github.com/ceyewan/aegis/xerrors"
)

// Handler 网关 HTTP 入口，注册转发路由与管理接口
type Handler struct {
	dispatcher Dispatcher
	registry   registry.Registry
	comps      Components
	logger     clog.Logger
}

// NewHandler 创建 HTTP 入口
func NewHandler(d Dispatcher, reg registry.Registry, comps Components, opts ...Option) *Handler {
	opt := options{}
	for _, o := range opts {
		o(&opt)
	}
	logger := opt.logger
	if logger == nil {
		logger = clog.Discard()
	}

	return &Handler{
		dispatcher: d,
		registry:   reg,
		comps:      comps,
		logger:     logger.With(clog.String("component", "proxy.handler")),
	}
}

// Register 注册全部路由
//
// 管理接口为静态路由，优先于转发通配路由匹配。
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/services", h.listServices)
	r.GET("/services/:name/health", h.serviceHealth)

	gw := r.Group("/gateway")
	gw.GET("/circuit-breakers", h.listBreakers)
	gw.POST("/circuit-breakers/:name/reset", h.resetBreaker)
	gw.GET("/rate-limits", h.listQuotas)
	gw.PUT("/rate-limits/:name", h.updateQuota)

	r.NoRoute(h.forward)
}

// ============================================================
// 转发
// ============================================================

// forward 处理 ANY /{service}/{path...}
//
// 通过 NoRoute 兜底实现通配转发，静态管理路由不会落到这里。
func (h *Handler) forward(c *gin.Context) {
	service, path := splitServicePath(c.Request.URL.Path)
	if service == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{
			"code":    "NOT_FOUND",
			"message": "request path must be /{service}/{path}",
		}})
		return
	}

	// 在拦截链之前确定关联 ID，保证错误响应也能携带
	correlationID := c.GetHeader(HeaderCorrelationID)
	if correlationID == "" {
		correlationID = idgen.NewUUIDV7()
		c.Request.Header.Set(HeaderCorrelationID, correlationID)
	}

	resp, err := h.dispatcher.Dispatch(c.Request.Context(), &Request{
		Service:  service,
		Method:   c.Request.Method,
		Path:     path,
		RawQuery: c.Request.URL.RawQuery,
		Header:   c.Request.Header,
		Body:     c.Request.Body,
	})
	if err != nil {
		h.writeError(c, service, correlationID, err)
		return
	}

	header := c.Writer.Header()
	for key, values := range resp.Header {
		for _, v := range values {
			header.Add(key, v)
		}
	}
	c.Data(resp.StatusCode, resp.Header.Get("Content-Type"), resp.Body)
}

// splitServicePath 把 /{service}/{path...} 拆为服务名与转发路径
func splitServicePath(requestPath string) (service, path string) {
	if len(requestPath) < 2 || requestPath[0] != '/' {
		return "", ""
	}
	rest := requestPath[1:]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], rest[i:]
		}
	}
	return rest, "/"
}

// writeError 把带错误码的调度错误映射为结构化错误响应
func (h *Handler) writeError(c *gin.Context, service, correlationID string, err error) {
	code := xerrors.GetCode(err)

	var status int
	switch code {
	case CodeServiceUnavailable, CodeCircuitOpen:
		status = http.StatusServiceUnavailable
	case CodeRateLimited:
		status = http.StatusTooManyRequests
	case CodeUpstreamTimeout:
		status = http.StatusGatewayTimeout
	case CodeUpstreamError:
		status = http.StatusBadGateway
	default:
		code = "INTERNAL"
		status = http.StatusInternalServerError
		h.logger.Error("dispatch failed with uncoded error",
			clog.String("service", service),
			clog.Error(err))
	}

	c.JSON(status, gin.H{"error": gin.H{
		"code":           code,
		"message":        err.Error(),
		"service":        service,
		"correlation_id": correlationID,
	}})
}

// ============================================================
// 管理接口
// ============================================================

func (h *Handler) listServices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"services": h.registry.Services()})
}

func (h *Handler) serviceHealth(c *gin.Context) {
	name := c.Param("name")
	instances := h.registry.Resolve(name)
	if len(instances) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{
			"code":    "UNKNOWN_SERVICE",
			"message": "service not found: " + name,
		}})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"service":   name,
		"instances": instances,
		"records":   h.comps.Checker.Snapshot(name),
	})
}

func (h *Handler) listBreakers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"circuit_breakers": h.comps.Breaker.Snapshot()})
}

func (h *Handler) resetBreaker(c *gin.Context) {
	name := c.Param("name")
	if err := h.comps.Breaker.Reset(name); err != nil {
		status := http.StatusInternalServerError
		if xerrors.Is(err, breaker.ErrBreakerNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": gin.H{
			"code":    "RESET_FAILED",
			"message": err.Error(),
		}})
		return
	}

	h.logger.Info("circuit breaker reset via admin api", clog.String("service", name))
	c.JSON(http.StatusOK, gin.H{"service": name, "status": "reset"})
}

func (h *Handler) listQuotas(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rate_limits": h.comps.Limiter.Snapshot()})
}

// updateQuotaRequest PUT /gateway/rate-limits/{name} 请求体
type updateQuotaRequest struct {
	// Quota "<limit>,<periodSeconds>" 格式的配额串
	Quota string `json:"quota" binding:"required"`
}

func (h *Handler) updateQuota(c *gin.Context) {
	name := c.Param("name")

	var req updateQuotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{
			"code":    "INVALID_BODY",
			"message": err.Error(),
		}})
		return
	}

	quota, err := ratelimit.ParseQuota(req.Quota)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{
			"code":    "INVALID_QUOTA",
			"message": err.Error(),
		}})
		return
	}

	if err := h.comps.Limiter.SetQuota(name, quota); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{
			"code":    "UPDATE_FAILED",
			"message": err.Error(),
		}})
		return
	}

	h.logger.Info("rate limit quota updated via admin api",
		clog.String("service", name),
		clog.String("quota", quota.String()))
	c.JSON(http.StatusOK, gin.H{"service": name, "quota": quota.String()})
}
