package gemini

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"magic-studio-go/src/core/image"
	"magic-studio-go/src/core/providers/editor"
	"magic-studio-go/src/core/utils"

	"google.golang.org/genai"
)

const (
	// DefaultModel 默认的图片编辑模型
	DefaultModel = "gemini-2.5-flash-image"
	// DefaultInputMimeType 上传给模型时声明的图片类型
	DefaultInputMimeType = "image/jpeg"
	// OutputMimeType 返回的图片统一按PNG展示
	OutputMimeType = "image/png"

	fallbackMessage = "Failed to process image with Gemini."
)

// contentGenerator 对应 genai.Models 的最小调用面
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Provider Gemini图片编辑提供者
type Provider struct {
	config     *editor.Config
	logger     *utils.Logger
	httpClient *http.Client

	// 每次调用都新建客户端，缺少密钥时在调用时报错
	newGenerator func(ctx context.Context) (contentGenerator, error)
}

// NewProvider 创建Gemini编辑提供者
func NewProvider(config *editor.Config, logger *utils.Logger) (editor.Provider, error) {
	p := &Provider{
		config:     config,
		logger:     logger,
		httpClient: &http.Client{},
	}
	p.newGenerator = p.defaultGenerator
	return p, nil
}

// Name 提供者名称
func (p *Provider) Name() string {
	return "gemini"
}

// Initialize 补全默认模型参数
func (p *Provider) Initialize() error {
	if p.config.ModelName == "" {
		p.config.ModelName = DefaultModel
	}
	if p.config.InputMimeType == "" {
		p.config.InputMimeType = DefaultInputMimeType
	}
	if p.config.APIKey == "" {
		p.logger.Warn("Gemini API key 未配置，编辑请求将会失败")
	}

	p.logger.Debug("Gemini Editor初始化成功", map[string]interface{}{
		"model_name": p.config.ModelName,
		"base_url":   p.config.BaseURL,
	})
	return nil
}

// Cleanup 清理资源
func (p *Provider) Cleanup() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

func (p *Provider) defaultGenerator(ctx context.Context) (contentGenerator, error) {
	clientConfig := &genai.ClientConfig{
		APIKey:     p.config.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: p.httpClient,
	}
	if p.config.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: p.config.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, err
	}
	return client.Models, nil
}

// Edit 发送原图和指令，返回模型生成的第一张图片
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

	generator, err := p.newGenerator(ctx)
	if err != nil {
		p.logger.Error("创建Gemini客户端失败", err)
		return image.Payload{}, editor.Transport(err, transportDetail(err), fallbackMessage)
	}

	// 无论原图实际格式如何都按配置的类型声明
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(original.Data, p.config.InputMimeType),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}

	start := time.Now()
	resp, err := generator.GenerateContent(ctx, p.config.ModelName, contents, nil)
	if err != nil {
		p.logger.Error("Gemini API调用失败", map[string]interface{}{
			"model_name": p.config.ModelName,
			"error":      err.Error(),
			"elapsed":    time.Since(start).String(),
		})
		return image.Payload{}, editor.Transport(err, transportDetail(err), fallbackMessage)
	}

	result, err := extractImage(resp)
	if err != nil {
		p.logger.Warn("Gemini响应中没有图片", map[string]interface{}{
			"model_name": p.config.ModelName,
			"kind":       string(editor.KindOf(err)),
		})
		return image.Payload{}, err
	}

	p.logger.Info("Gemini图片编辑完成", map[string]interface{}{
		"model_name": p.config.ModelName,
		"input_size": len(original.Data),
		"size":       len(result.Data),
		"elapsed":    time.Since(start).String(),
	})
	return result, nil
}

// extractImage 取第一个候选结果中第一个带内联数据的部分
func extractImage(resp *genai.GenerateContentResponse) (image.Payload, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return image.Payload{}, editor.NoOutput()
	}
	candidate := resp.Candidates[0]
	if candidate == nil || candidate.Content == nil || candidate.Content.Parts == nil {
		return image.Payload{}, editor.NoOutput()
	}

	for _, part := range candidate.Content.Parts {
		if part != nil && part.InlineData != nil {
			return image.NewPayload(OutputMimeType, part.InlineData.Data), nil
		}
	}
	return image.Payload{}, editor.NoImagePart()
}

// transportDetail 优先使用服务端返回的错误信息
func transportDetail(err error) string {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil && apiErrPtr.Message != "" {
		return apiErrPtr.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Request to Gemini timed out."
	}
	return err.Error()
}

func init() {
	editor.Register("gemini", NewProvider)
}
