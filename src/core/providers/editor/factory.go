package editor

import (
	"fmt"
	"sort"
	"sync"

	"magic-studio-go/src/core/utils"
)

// Factory 编辑提供者工厂函数类型
type Factory func(config *Config, logger *utils.Logger) (Provider, error)

var (
	factories   = make(map[string]Factory)
	factoriesMu sync.RWMutex
)

// Register 注册编辑提供者工厂
func Register(name string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

// Create 创建并初始化编辑提供者实例
func Create(name string, config *Config, logger *utils.Logger) (Provider, error) {
	factoriesMu.RLock()
	factory, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("未知的Editor提供者: %s", name)
	}

	provider, err := factory(config, logger)
	if err != nil {
		return nil, fmt.Errorf("创建Editor提供者失败: %w", err)
	}

	if err := provider.Initialize(); err != nil {
		return nil, fmt.Errorf("初始化Editor提供者失败: %w", err)
	}

	logger.Debug("Editor提供者创建成功", map[string]interface{}{
		"name":       name,
		"model_name": config.ModelName,
	})

	return provider, nil
}

// GetRegisteredProviders 获取已注册的提供者列表
func GetRegisteredProviders() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
