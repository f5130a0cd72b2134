package server

import (
	"context"
	"net/http"
	"time"

	"magic-studio-go/src/configs"
	"magic-studio-go/src/core/providers/editor"
	"magic-studio-go/src/core/utils"

	"github.com/gin-gonic/gin"
)

// StatusFunc 返回附加在健康检查结果里的运行状态
type StatusFunc func() map[string]interface{}

type DefaultCfgService struct {
	logger    *utils.Logger
	config    *configs.Config
	status    StatusFunc
	startedAt time.Time
}

// EditorInfo 当前选中的编辑模型，不包含密钥
type EditorInfo struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	ModelName string   `json:"model_name"`
	Available []string `json:"available"`
}

// CfgInfo GET /cfg 的返回内容
type CfgInfo struct {
	Editor           EditorInfo `json:"editor"`
	DefaultPrompt    string     `json:"default_prompt"`
	Suggestions      []string   `json:"suggestions"`
	DownloadFilename string     `json:"download_filename"`
	MaxFileSize      int64      `json:"max_file_size"`
	ValidateUploads  bool       `json:"validate_uploads"`
	HistoryEnabled   bool       `json:"history_enabled"`
}

// NewDefaultCfgService 构造函数，status 可以为 nil
func NewDefaultCfgService(config *configs.Config, logger *utils.Logger, status StatusFunc) (*DefaultCfgService, error) {
	service := &DefaultCfgService{
		logger:    logger,
		config:    config,
		status:    status,
		startedAt: time.Now(),
	}

	return service, nil
}

// Start 实现 CfgService 接口，注册配置查询和健康检查路由
func (s *DefaultCfgService) Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error {
	engine.GET("/health", s.handleHealth)

	apiGroup.GET("/cfg", s.handleGet)
	apiGroup.OPTIONS("/cfg", s.handleOptions)

	s.logger.Info("Cfg HTTP服务路由注册完成")
	return nil
}

func (s *DefaultCfgService) info() CfgInfo {
	info := CfgInfo{
		DefaultPrompt:    s.config.Studio.DefaultPrompt,
		Suggestions:      s.config.Studio.Suggestions,
		DownloadFilename: s.config.Studio.DownloadFilename,
		ValidateUploads:  s.config.Studio.ValidateUploads,
		HistoryEnabled:   s.config.DatabaseURL != "",
	}
	info.Editor.Available = editor.GetRegisteredProviders()

	if name, editorCfg, err := s.config.SelectedEditor(); err == nil {
		info.Editor.Name = name
		info.Editor.Type = editorCfg.Type
		info.Editor.ModelName = editorCfg.ModelName
		info.MaxFileSize = editorCfg.Security.MaxFileSize
	}
	return info
}

func (s *DefaultCfgService) handleGet(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"data":   s.info(),
	})
}

func (s *DefaultCfgService) handleHealth(c *gin.Context) {
	body := gin.H{
		"status": "ok",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.status != nil {
		for k, v := range s.status() {
			body[k] = v
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *DefaultCfgService) handleOptions(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Content-Type")
	c.Status(http.StatusNoContent)
}
