// Package registry 提供网关的静态服务拓扑。
//
// 拓扑在进程启动时从外部配置加载一次，请求期间只读。
// 未知服务名返回空实例集而不是错误：是否拒绝请求由调度层决定。
//
// 基本使用：
//
//	reg, _ := registry.New(&registry.Config{
//	    Services: map[string][]registry.Instance{
//	        "order-service": {{Host: "10.0.0.1", Port: 8081}},
//	    },
//	})
//	instances := reg.Resolve("order-service")
package registry

import (
	"fmt"
	"sort"

	"github.com/ceyewan/aegis/clog"
)

// Instance 服务实例，身份由 (Host, Port) 决定
//
// 实例本身不携带健康状态，健康状态由 health 组件独立跟踪。
type Instance struct {
	Host string `json:"host" yaml:"host" mapstructure:"host"`
	Port int    `json:"port" yaml:"port" mapstructure:"port"`
}

// Addr 返回 host:port 形式的地址
func (i Instance) Addr() string {
	return fmt.Sprintf("%s:%d", i.Host, i.Port)
}

// ServiceDefinition 一个逻辑服务及其配置的实例集
type ServiceDefinition struct {
	Name      string     `json:"name"`
	Instances []Instance `json:"instances"`
}

// Registry 服务拓扑接口
type Registry interface {
	// Resolve 返回服务的实例集
	//
	// 未知服务名返回空集，不返回错误。
	Resolve(serviceName string) []Instance

	// Services 返回全部服务定义，按服务名排序（用于管理接口）
	Services() []ServiceDefinition
}

// Config 拓扑配置
type Config struct {
	Services map[string][]Instance `json:"services" yaml:"services" mapstructure:"services"`
}

// New 创建静态拓扑 Registry
//
// 配置在创建时校验并拷贝，之后不可变。
func New(cfg *Config, opts ...Option) (Registry, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}

	opt := options{}
	for _, o := range opts {
		o(&opt)
	}
	logger := opt.logger
	if logger == nil {
		logger = clog.Discard()
	}
	logger = logger.With(clog.String("component", "registry"))

	services := make(map[string][]Instance, len(cfg.Services))
	for name, instances := range cfg.Services {
		if name == "" {
			return nil, ErrServiceNameEmpty
		}
		copied := make([]Instance, len(instances))
		for i, inst := range instances {
			if inst.Host == "" || inst.Port <= 0 || inst.Port > 65535 {
				return nil, fmt.Errorf("%w: service %s instance %s", ErrInvalidInstance, name, inst.Addr())
			}
			copied[i] = inst
		}
		services[name] = copied
	}

	logger.Info("service topology loaded", clog.Int("services", len(services)))

	return &staticRegistry{services: services}, nil
}

// staticRegistry 静态拓扑实现（非导出）
type staticRegistry struct {
	services map[string][]Instance
}

func (r *staticRegistry) Resolve(serviceName string) []Instance {
	instances, ok := r.services[serviceName]
	if !ok {
		return nil
	}
	// 返回拷贝，保证拓扑不可变
	out := make([]Instance, len(instances))
	copy(out, instances)
	return out
}

func (r *staticRegistry) Services() []ServiceDefinition {
	defs := make([]ServiceDefinition, 0, len(r.services))
	for name := range r.services {
		defs = append(defs, ServiceDefinition{Name: name, Instances: r.Resolve(name)})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
