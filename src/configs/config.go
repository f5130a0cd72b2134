package configs

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultPrompt 新会话的初始编辑指令
	DefaultPrompt = "ajoute des couleurs vives et un fond foret entre les arbres à coté du rivière pleine des poissons qui nagent."
	// DefaultDownloadFilename 下载编辑结果时建议的文件名
	DefaultDownloadFilename = "gemini-magic.png"
)

// DefaultSuggestions 页面上展示的预设指令
var DefaultSuggestions = []string{
	"Add vibrant sunset colors and a forest background",
	"Make it a retro oil painting style",
	"Change the background to a futuristic neon city",
	"Add a cinematic lighting and depth of field",
	"Turn the sky into a starry night with aurora borealis",
}

// Config 主配置结构
type Config struct {
	Server struct {
		IP    string `yaml:"ip"`
		Token string `yaml:"token"` // 会话cookie签名密钥
	} `yaml:"server"`

	Log struct {
		LogFormat string `yaml:"log_format"`
		LogLevel  string `yaml:"log_level"`
		LogDir    string `yaml:"log_dir"`
		LogFile   string `yaml:"log_file"`
	} `yaml:"log"`

	Web struct {
		Port int `yaml:"port"`
	} `yaml:"web"`

	Studio StudioConfig `yaml:"studio"`

	SelectedModule map[string]string `yaml:"selected_module"`

	Editor map[string]EditorConfig `yaml:"Editor"`

	DatabaseURL string `yaml:"database_url"`
}

// StudioConfig 编辑工作室配置
type StudioConfig struct {
	DefaultPrompt    string        `yaml:"default_prompt"`
	Suggestions      []string      `yaml:"suggestions"`
	DownloadFilename string        `yaml:"download_filename"`
	SessionTTL       time.Duration `yaml:"session_ttl"`
	MaxWorkers       int           `yaml:"max_workers"`
	RateLimit        float64       `yaml:"rate_limit"` // 每秒允许提交的编辑次数，0表示不限制
	RateBurst        int           `yaml:"rate_burst"`
	ValidateUploads  bool          `yaml:"validate_uploads"`
}

// SecurityConfig 图片安全配置结构
type SecurityConfig struct {
	MaxFileSize    int64    `yaml:"max_file_size"`   // 最大文件大小（字节）
	MaxPixels      int64    `yaml:"max_pixels"`      // 最大像素数量
	MaxWidth       int      `yaml:"max_width"`       // 最大宽度
	MaxHeight      int      `yaml:"max_height"`      // 最大高度
	AllowedFormats []string `yaml:"allowed_formats"` // 允许的图片格式
	EnableDeepScan bool     `yaml:"enable_deep_scan"`
}

// EditorConfig 图片编辑模型配置
type EditorConfig struct {
	Type          string                 `yaml:"type"`       // gemini / openai
	ModelName     string                 `yaml:"model_name"` // 模型名称
	BaseURL       string                 `yaml:"url"`        // API地址，留空使用官方地址
	APIKey        string                 `yaml:"api_key"`    // API密钥，留空时从环境变量读取
	InputMimeType string                 `yaml:"input_mime_type"`
	Timeout       time.Duration          `yaml:"timeout"` // 0 表示不设置超时
	Security      SecurityConfig         `yaml:"security"`
	Extra         map[string]interface{} `yaml:",inline"`
}

// LoadConfig 从文件加载配置
func LoadConfig() (*Config, string, error) {
	path := ".config.yaml"
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = "config.yaml"
	}
	config, err := LoadConfigFrom(path)
	return config, path, err
}

// LoadConfigFrom 从指定路径加载配置并补全默认值
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	config.applyEnv()
	config.applyDefaults()
	return config, nil
}

// applyEnv 环境变量覆盖，密钥只从这里注入到编辑器配置
func (c *Config) applyEnv() {
	apiKey := firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("API_KEY"))
	for name, editorCfg := range c.Editor {
		if editorCfg.APIKey == "" {
			switch strings.ToLower(editorCfg.Type) {
			case "openai":
				editorCfg.APIKey = os.Getenv("OPENAI_API_KEY")
			default:
				editorCfg.APIKey = apiKey
			}
			c.Editor[name] = editorCfg
		}
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.DatabaseURL = dsn
	}
	if token := os.Getenv("SESSION_SECRET"); token != "" {
		c.Server.Token = token
	}
}

func (c *Config) applyDefaults() {
	if c.Server.IP == "" {
		c.Server.IP = "0.0.0.0"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.Log.LogLevel == "" {
		c.Log.LogLevel = "INFO"
	}
	if c.Log.LogDir == "" {
		c.Log.LogDir = "logs"
	}
	if c.Log.LogFile == "" {
		c.Log.LogFile = "server.log"
	}

	if c.Studio.DefaultPrompt == "" {
		c.Studio.DefaultPrompt = DefaultPrompt
	}
	if len(c.Studio.Suggestions) == 0 {
		c.Studio.Suggestions = append([]string(nil), DefaultSuggestions...)
	}
	if c.Studio.DownloadFilename == "" {
		c.Studio.DownloadFilename = DefaultDownloadFilename
	}
	if c.Studio.SessionTTL == 0 {
		c.Studio.SessionTTL = 2 * time.Hour
	}
	if c.Studio.MaxWorkers == 0 {
		c.Studio.MaxWorkers = 8
	}
	if c.Studio.RateBurst == 0 {
		c.Studio.RateBurst = 1
	}

	if c.SelectedModule == nil {
		c.SelectedModule = map[string]string{}
	}
	if c.SelectedModule["Editor"] == "" {
		c.SelectedModule["Editor"] = "GeminiEditor"
	}
	if c.Editor == nil {
		c.Editor = map[string]EditorConfig{}
	}
	selected := c.SelectedModule["Editor"]
	if _, ok := c.Editor[selected]; !ok {
		c.Editor[selected] = EditorConfig{
			Type:   "gemini",
			APIKey: firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("API_KEY")),
		}
	}
	for name, editorCfg := range c.Editor {
		editorCfg.Security = defaultSecurity(editorCfg.Security)
		c.Editor[name] = editorCfg
	}
}

func defaultSecurity(s SecurityConfig) SecurityConfig {
	if s.MaxFileSize == 0 {
		s.MaxFileSize = 10 * 1024 * 1024
	}
	if s.MaxWidth == 0 {
		s.MaxWidth = 8192
	}
	if s.MaxHeight == 0 {
		s.MaxHeight = 8192
	}
	if s.MaxPixels == 0 {
		s.MaxPixels = 40_000_000
	}
	if len(s.AllowedFormats) == 0 {
		s.AllowedFormats = []string{"jpeg", "jpg", "png", "gif", "webp"}
	}
	return s
}

// SelectedEditor 返回当前选中的编辑器名称和配置
func (c *Config) SelectedEditor() (string, EditorConfig, error) {
	name := c.SelectedModule["Editor"]
	if name == "" {
		return "", EditorConfig{}, fmt.Errorf("请设置好Editor provider配置")
	}
	cfg, ok := c.Editor[name]
	if !ok {
		return name, EditorConfig{}, fmt.Errorf("找不到Editor配置: %s", name)
	}
	return name, cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
