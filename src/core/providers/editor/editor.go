package editor

import (
	"context"
	"time"

	"magic-studio-go/src/configs"
	"magic-studio-go/src/core/image"
	"magic-studio-go/src/core/providers"
)

// Config 图片编辑提供者配置
type Config struct {
	Type          string
	ModelName     string
	BaseURL       string
	APIKey        string
	InputMimeType string
	Timeout       time.Duration
	Data          map[string]interface{}
}

// ConfigFrom 从配置文件结构转换
func ConfigFrom(cfg configs.EditorConfig) *Config {
	return &Config{
		Type:          cfg.Type,
		ModelName:     cfg.ModelName,
		BaseURL:       cfg.BaseURL,
		APIKey:        cfg.APIKey,
		InputMimeType: cfg.InputMimeType,
		Timeout:       cfg.Timeout,
		Data:          cfg.Extra,
	}
}

// Provider 图片编辑提供者：一次远程调用，把原图和指令变成新图
type Provider interface {
	providers.Provider

	// Name 提供者名称，用于日志和指标
	Name() string

	// Edit 调用远程模型编辑图片，失败时返回 *EditError
	Edit(ctx context.Context, original image.Payload, prompt string) (image.Payload, error)
}
