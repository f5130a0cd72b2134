package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"magic-studio-go/src/core/image"
	"magic-studio-go/src/core/providers/editor"
	"magic-studio-go/src/core/utils"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sashabaranov/go-openai"
)

const (
	// DefaultModel 默认的图片编辑模型
	DefaultModel = "gpt-image-1"

	fallbackMessage = "Failed to process image with OpenAI."
)

// Provider OpenAI兼容接口的图片编辑提供者
type Provider struct {
	config *editor.Config
	logger *utils.Logger
	client *openai.Client
}

// NewProvider 创建OpenAI编辑提供者
func NewProvider(config *editor.Config, logger *utils.Logger) (editor.Provider, error) {
	return &Provider{
		config: config,
		logger: logger,
	}, nil
}

// Name 提供者名称
func (p *Provider) Name() string {
	return "openai"
}

// Initialize 初始化客户端
func (p *Provider) Initialize() error {
	if p.config.APIKey == "" {
		return fmt.Errorf("OpenAI API key is required")
	}
	if p.config.ModelName == "" {
		p.config.ModelName = DefaultModel
	}

	clientConfig := openai.DefaultConfig(p.config.APIKey)
	if p.config.BaseURL != "" {
		clientConfig.BaseURL = p.config.BaseURL
	}
	p.client = openai.NewClientWithConfig(clientConfig)

	p.logger.Debug("OpenAI Editor初始化成功", map[string]interface{}{
		"model_name": p.config.ModelName,
		"base_url":   clientConfig.BaseURL,
	})
	return nil
}

// Cleanup 清理资源
func (p *Provider) Cleanup() error {
	return nil
}

// responseFormat 部分模型不接受 response_format，可在配置中置空
func (p *Provider) responseFormat() string {
	if v, ok := p.config.Data["response_format"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return openai.CreateImageResponseFormatB64JSON
}

// Edit 调用图片编辑接口
func (p *Provider) Edit(ctx context.Context, original image.Payload, prompt string) (image.Payload, error) {
	if original.IsEmpty() {
		return image.Payload{}, editor.InvalidInput("original image is empty")
	}
	if strings.TrimSpace(prompt) == "" {
		return image.Payload{}, editor.InvalidInput("prompt is empty")
	}

	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	// multipart 表单依赖文件名推断类型
	file, err := writeTempImage(original)
	if err != nil {
		return image.Payload{}, editor.Transport(err, "", fallbackMessage)
	}
	defer func() {
		file.Close()
		os.Remove(file.Name())
	}()

	start := time.Now()
	resp, err := p.client.CreateEditImage(ctx, openai.ImageEditRequest{
		Image:          file,
		Prompt:         prompt,
		Model:          p.config.ModelName,
		N:              1,
		ResponseFormat: p.responseFormat(),
	})
	if err != nil {
		p.logger.Error("OpenAI图片编辑调用失败", map[string]interface{}{
			"model_name": p.config.ModelName,
			"error":      err.Error(),
			"elapsed":    time.Since(start).String(),
		})
		return image.Payload{}, editor.Transport(err, transportDetail(err), fallbackMessage)
	}

	if len(resp.Data) == 0 {
		return image.Payload{}, editor.NoOutput()
	}
	for _, item := range resp.Data {
		if item.B64JSON == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return image.Payload{}, editor.Transport(err, "", fallbackMessage)
		}
		p.logger.Info("OpenAI图片编辑完成", map[string]interface{}{
			"model_name": p.config.ModelName,
			"size":       len(data),
			"elapsed":    time.Since(start).String(),
		})
		return image.NewPayload("image/png", data), nil
	}
	return image.Payload{}, editor.NoImagePart()
}

func writeTempImage(p image.Payload) (*os.File, error) {
	ext := mimetype.Detect(p.Data).Extension()
	if ext == "" {
		ext = ".png"
	}
	file, err := os.CreateTemp("", "magic-edit-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("创建临时文件失败: %w", err)
	}
	if _, err := file.Write(p.Data); err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, fmt.Errorf("写入临时文件失败: %w", err)
	}
	if _, err := file.Seek(0, 0); err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, fmt.Errorf("重置临时文件失败: %w", err)
	}
	return file, nil
}

func transportDetail(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.Err != nil {
		return reqErr.Err.Error()
	}
	return err.Error()
}

func init() {
	editor.Register("openai", NewProvider)
}
