// gateway 是 aegis 的可运行进程：一个带弹性能力的 HTTP 服务网关。
//
// 启动流程：加载配置 → 初始化日志与指标 → 构建服务拓扑、健康检查、
// 负载均衡、熔断与限流 → 组装请求调度器与 HTTP 入口 → 按配置启动
// 事件总线 → 等待 SIGINT/SIGTERM 优雅退出。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/aegis/balancer"
	"github.com/ceyewan/aegis/breaker"
	"github.com/ceyewan/aegis/clog"
	"github.com/ceyewan/aegis/config"
	"github.com/ceyewan/aegis/connector"
	"github.com/ceyewan/aegis/eventbus"
	"github.com/ceyewan/aegis/health"
	"github.com/ceyewan/aegis/metrics"
	"github.com/ceyewan/aegis/proxy"
	"github.com/ceyewan/aegis/ratelimit"
	"github.com/ceyewan/aegis/registry"
)

func main() {
	var (
		configName = flag.String("config", "config", "config file name without extension")
		configPath = flag.String("config-path", "./configs", "config search path")
	)
	flag.Parse()

	if err := run(*configName, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func run(configName, configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 配置
	loader, err := config.New(&config.Config{Name: configName, Paths: []string{configPath, "."}})
	if err != nil {
		return err
	}
	if err := loader.Load(ctx); err != nil {
		return err
	}
	var cfg AppConfig
	if err := loader.Unmarshal(&cfg); err != nil {
		return err
	}
	cfg.Server.setDefaults()

	// 日志
	logger, err := clog.New(&cfg.Log)
	if err != nil {
		return err
	}
	logger = logger.With(clog.String("service", "aegis-gateway"))

	// 指标
	meter, err := metrics.New(&cfg.Metrics)
	if err != nil {
		return err
	}
	defer meter.Shutdown(context.Background())

	// 服务拓扑与健康检查
	reg, err := registry.New(&cfg.Registry, registry.WithLogger(logger))
	if err != nil {
		return err
	}
	checker, err := health.New(reg, &cfg.Health, health.WithLogger(logger))
	if err != nil {
		return err
	}
	defer checker.Close()
	go checker.Run(ctx)

	// 弹性组件
	brk, err := breaker.New(&cfg.Breaker, breaker.WithLogger(logger), breaker.WithMeter(meter))
	if err != nil {
		return err
	}
	limiter, err := ratelimit.New(&cfg.RateLimit, ratelimit.WithLogger(logger))
	if err != nil {
		return err
	}
	lb := balancer.New(checker, balancer.WithLogger(logger))

	comps := proxy.Components{
		Checker:  checker,
		Breaker:  brk,
		Limiter:  limiter,
		Balancer: lb,
	}
	dispatcher, err := proxy.New(&cfg.Proxy, comps, proxy.WithLogger(logger), proxy.WithMeter(meter))
	if err != nil {
		return err
	}

	// HTTP 入口
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	proxy.NewHandler(dispatcher, reg, comps, proxy.WithLogger(logger)).Register(engine)

	// 事件总线（可选），管理接口挂在 /gateway/eventbus 下
	if cfg.EventBus.Enabled {
		bus, cleanup, err := startEventBus(ctx, &cfg.EventBus, logger, meter)
		if err != nil {
			return err
		}
		defer cleanup()
		registerBusAdmin(engine, bus, logger)
	}

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", clog.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// startEventBus 按配置的驱动建立连接器并启动消费循环
//
// 返回的 cleanup 先关总线再关连接器，连接器归进程所有。
func startEventBus(ctx context.Context, cfg *EventBusConfig, logger clog.Logger, meter metrics.Meter) (eventbus.Bus, func(), error) {
	var conn connector.Connector
	var err error

	switch cfg.Driver {
	case "kafka":
		conn, err = connector.NewKafka(&cfg.Kafka, connector.WithLogger(logger))
	case "nats":
		conn, err = connector.NewNATS(&cfg.NATS, connector.WithLogger(logger))
	default:
		return nil, nil, fmt.Errorf("unknown eventbus driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, nil, err
	}
	if err := conn.Connect(ctx); err != nil {
		return nil, nil, err
	}

	bus, err := eventbus.New(&cfg.Bus, conn, eventbus.WithLogger(logger), eventbus.WithMeter(meter))
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	go func() {
		if err := bus.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("eventbus consumer stopped", clog.Error(err))
		}
	}()

	cleanup := func() {
		if err := bus.Close(); err != nil {
			logger.Error("eventbus close failed", clog.Error(err))
		}
		if err := conn.Close(); err != nil {
			logger.Error("connector close failed", clog.Error(err))
		}
	}
	return bus, cleanup, nil
}
