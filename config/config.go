// Package config 提供网关的多源配置加载，基于 Viper 实现。
//
// 配置优先级：环境变量 > .env 文件 > 环境特定配置 > 基础配置。
// 环境特定配置通过 AEGIS_ENV 选择，如 AEGIS_ENV=prod 时额外合并
// config.prod.yaml。
//
// 基本使用：
//
//	loader, err := config.New(&config.Config{
//	    Name:  "config",
//	    Paths: []string{"./configs"},
//	})
//	if err != nil {
//	    return err
//	}
//	if err := loader.Load(context.Background()); err != nil {
//	    return err
//	}
//
//	var cfg AppConfig
//	if err := loader.Unmarshal(&cfg); err != nil {
//	    return err
//	}
package config

import (
	"context"
	"strings"
)

// Loader 配置加载器接口
type Loader interface {
	// Load 从所有来源加载配置
	Load(ctx context.Context) error

	// Get 获取原始配置值
	Get(key string) any

	// Unmarshal 将整个配置反序列化到结构体
	Unmarshal(v any) error

	// UnmarshalKey 将指定 key 的配置反序列化到结构体
	UnmarshalKey(key string, v any) error

	// Validate 验证当前配置的有效性
	Validate() error
}

// Config 加载器配置
type Config struct {
	// Name 配置文件名称，不含扩展名（默认："config"）
	Name string
	// Paths 配置文件搜索路径（默认：[".", "./configs"]）
	Paths []string
	// FileType 配置文件类型（默认："yaml"）
	FileType string
	// EnvPrefix 环境变量前缀（默认："AEGIS"）
	EnvPrefix string
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "config"
	}
	if c.Paths == nil {
		c.Paths = []string{".", "./configs"}
	}
	if c.FileType == "" {
		c.FileType = "yaml"
	}
	if c.EnvPrefix == "" {
		c.EnvPrefix = "AEGIS"
	}
	c.EnvPrefix = strings.ToUpper(c.EnvPrefix)
}

// New 创建配置加载器，cfg 为 nil 时使用默认配置
func New(cfg *Config) (Loader, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()
	return newLoader(cfg), nil
}
