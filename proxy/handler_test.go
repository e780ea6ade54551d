package proxy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/aegis/balancer"
	"github.com/ceyewan/aegis/breaker"
	"github.com/ceyewan/aegis/ratelimit"
	"github.com/ceyewan/aegis/registry"
)

func newTestRouter(t *testing.T, topology map[string][]registry.Instance, quotas map[string]string) (*gin.Engine, *testEnv) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg, err := registry.New(&registry.Config{Services: topology})
	require.NoError(t, err)

	checker := &stubChecker{healthy: topology}
	brk, err := breaker.New(&breaker.Config{Threshold: 5, Cooldown: time.Minute})
	require.NoError(t, err)
	limiter, err := ratelimit.New(&ratelimit.Config{Quotas: quotas})
	require.NoError(t, err)
	lb := balancer.New(checker)

	comps := Components{Checker: checker, Breaker: brk, Limiter: limiter, Balancer: lb}
	d, err := New(nil, comps)
	require.NoError(t, err)

	r := gin.New()
	NewHandler(d, reg, comps).Register(r)

	return r, &testEnv{dispatcher: d, breaker: brk, limiter: limiter, checker: checker}
}

func doRequest(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSplitServicePath(t *testing.T) {
	tests := []struct {
		in      string
		service string
		path    string
	}{
		{"/order-service/orders/42", "order-service", "/orders/42"},
		{"/order-service/", "order-service", "/"},
		{"/order-service", "order-service", "/"},
		{"/", "", ""},
		{"", "", ""},
	}
	for _, tt := range tests {
		service, path := splitServicePath(tt.in)
		assert.Equal(t, tt.service, service, "输入: %q", tt.in)
		assert.Equal(t, tt.path, path, "输入: %q", tt.in)
	}
}

func TestHandler_Forward(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"order":42}`))
	}))
	defer upstream.Close()

	topology := map[string][]registry.Instance{
		"order-service": {instanceOf(t, upstream)},
	}
	r, _ := newTestRouter(t, topology, nil)

	w := doRequest(r, http.MethodGet, "/order-service/orders/42", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"order":42}`, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestHandler_ForwardErrorMapping(t *testing.T) {
	t.Run("无健康实例返回 503 与结构化错误", func(t *testing.T) {
		topology := map[string][]registry.Instance{
			"order-service": {{Host: "10.0.0.1", Port: 8081}},
		}
		r, env := newTestRouter(t, topology, nil)
		env.checker.healthy = map[string][]registry.Instance{} // 清空健康集

		w := doRequest(r, http.MethodGet, "/order-service/orders/42", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		var body struct {
			Error struct {
				Code          string `json:"code"`
				Message       string `json:"message"`
				Service       string `json:"service"`
				CorrelationID string `json:"correlation_id"`
			} `json:"error"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, CodeServiceUnavailable, body.Error.Code)
		assert.Equal(t, "order-service", body.Error.Service)
		assert.NotEmpty(t, body.Error.CorrelationID)
	})

	t.Run("限流返回 429", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer upstream.Close()

		topology := map[string][]registry.Instance{
			"search-service": {instanceOf(t, upstream)},
		}
		r, _ := newTestRouter(t, topology, map[string]string{"search-service": "1,60"})

		w := doRequest(r, http.MethodGet, "/search-service/q", "")
		assert.Equal(t, http.StatusOK, w.Code)

		w = doRequest(r, http.MethodGet, "/search-service/q", "")
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Contains(t, w.Body.String(), CodeRateLimited)
	})
}

func TestHandler_AdminServices(t *testing.T) {
	topology := map[string][]registry.Instance{
		"order-service":  {{Host: "10.0.0.1", Port: 8081}},
		"search-service": {{Host: "10.0.0.2", Port: 8082}},
	}
	r, _ := newTestRouter(t, topology, nil)

	t.Run("列出全部服务", func(t *testing.T) {
		w := doRequest(r, http.MethodGet, "/services", "")
		assert.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Services []registry.ServiceDefinition `json:"services"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Len(t, body.Services, 2)
		assert.Equal(t, "order-service", body.Services[0].Name)
		assert.Equal(t, "search-service", body.Services[1].Name)
	})

	t.Run("查询服务健康状态", func(t *testing.T) {
		w := doRequest(r, http.MethodGet, "/services/order-service/health", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "10.0.0.1")
	})

	t.Run("未知服务返回 404", func(t *testing.T) {
		w := doRequest(r, http.MethodGet, "/services/unknown/health", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandler_AdminCircuitBreakers(t *testing.T) {
	topology := map[string][]registry.Instance{
		"order-service": {{Host: "10.0.0.1", Port: 8081}},
	}
	r, env := newTestRouter(t, topology, nil)

	// 制造一个已知服务的熔断器状态
	done, err := env.breaker.Allow("order-service")
	require.NoError(t, err)
	done(false)

	t.Run("列出熔断器状态", func(t *testing.T) {
		w := doRequest(r, http.MethodGet, "/gateway/circuit-breakers", "")
		assert.Equal(t, http.StatusOK, w.Code)

		var body struct {
			CircuitBreakers []breaker.State `json:"circuit_breakers"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Len(t, body.CircuitBreakers, 1)
		assert.Equal(t, "order-service", body.CircuitBreakers[0].Service)
		assert.EqualValues(t, 1, body.CircuitBreakers[0].ConsecutiveFailures)
	})

	t.Run("重置熔断器", func(t *testing.T) {
		w := doRequest(r, http.MethodPost, "/gateway/circuit-breakers/order-service/reset", "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("重置未知服务返回 404", func(t *testing.T) {
		w := doRequest(r, http.MethodPost, "/gateway/circuit-breakers/unknown/reset", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandler_AdminRateLimits(t *testing.T) {
	topology := map[string][]registry.Instance{
		"search-service": {{Host: "10.0.0.2", Port: 8082}},
	}
	r, _ := newTestRouter(t, topology, map[string]string{"search-service": "500,60"})

	t.Run("列出配额", func(t *testing.T) {
		w := doRequest(r, http.MethodGet, "/gateway/rate-limits", "")
		assert.Equal(t, http.StatusOK, w.Code)

		var body struct {
			RateLimits []ratelimit.ServiceQuota `json:"rate_limits"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Len(t, body.RateLimits, 1)
		assert.Equal(t, "search-service", body.RateLimits[0].Service)
		assert.Equal(t, 500, body.RateLimits[0].Quota.Limit)
	})

	t.Run("更新配额", func(t *testing.T) {
		w := doRequest(r, http.MethodPut, "/gateway/rate-limits/search-service", `{"quota":"100,30"}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "100,30")
	})

	t.Run("非法配额返回 400", func(t *testing.T) {
		w := doRequest(r, http.MethodPut, "/gateway/rate-limits/search-service", `{"quota":"bogus"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("缺少请求体返回 400", func(t *testing.T) {
		w := doRequest(r, http.MethodPut, "/gateway/rate-limits/search-service", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
