package image

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"magic-studio-go/src/configs"
	"magic-studio-go/src/core/utils"

	_ "image/gif"  // 注册GIF解码器
	_ "image/jpeg" // 注册JPEG解码器
	_ "image/png"  // 注册PNG解码器

	_ "golang.org/x/image/webp" // 注册WEBP解码器
)

// ImageSecurityValidator 上传图片安全验证器
type ImageSecurityValidator struct {
	config *configs.SecurityConfig
	logger *utils.Logger
}

// NewImageSecurityValidator 创建新的图片安全验证器
func NewImageSecurityValidator(config *configs.SecurityConfig, logger *utils.Logger) *ImageSecurityValidator {
	return &ImageSecurityValidator{
		config: config,
		logger: logger,
	}
}

// 可执行文件与压缩包的文件头，出现在文件开头即视为伪装
var suspiciousSignatures = []struct {
	name      string
	signature []byte
}{
	{"PE", []byte{0x4D, 0x5A}},
	{"ELF", []byte{0x7F, 0x45, 0x4C, 0x46}},
	{"Mach-O", []byte{0xCA, 0xFE, 0xBA, 0xBE}},
	{"ZIP", []byte{0x50, 0x4B, 0x03, 0x04}},
	{"GZIP", []byte{0x1F, 0x8B, 0x08}},
}

// Validate 验证图片载荷
func (v *ImageSecurityValidator) Validate(p Payload) ValidationResult {
	result := ValidationResult{IsValid: false}

	if p.IsEmpty() {
		result.Error = fmt.Errorf("缺少图片数据")
		return result
	}

	// 1. 基础大小检查
	if v.config.MaxFileSize > 0 && int64(len(p.Data)) > v.config.MaxFileSize {
		result.Error = fmt.Errorf("文件大小超限: %d bytes，最大允许: %d bytes", len(p.Data), v.config.MaxFileSize)
		result.SecurityRisk = "文件过大，可能是DoS攻击"
		return result
	}

	// 2. 恶意内容检测
	if v.config.EnableDeepScan {
		if name := v.scanForMaliciousContent(p.Data); name != "" {
			result.Error = fmt.Errorf("检测到潜在恶意内容")
			result.SecurityRisk = fmt.Sprintf("文件开头为%s签名", name)
			v.logger.Warn("检测到可疑内容", map[string]interface{}{
				"signature":  name,
				"media_type": p.MediaType,
				"size":       len(p.Data),
			})
			return result
		}
	}

	// 3. 解码图片头获取实际格式和尺寸
	return v.validateImageDecoding(p.Data)
}

// scanForMaliciousContent 返回命中的签名名称，没有命中返回空串
func (v *ImageSecurityValidator) scanForMaliciousContent(data []byte) string {
	for _, s := range suspiciousSignatures {
		if bytes.HasPrefix(data, s.signature) {
			return s.name
		}
	}
	return ""
}

// validateImageDecoding 验证图片解码
func (v *ImageSecurityValidator) validateImageDecoding(data []byte) ValidationResult {
	result := ValidationResult{}

	config, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		result.Error = fmt.Errorf("图片解码失败: %v", err)
		result.SecurityRisk = "可能包含恶意载荷或损坏的图片数据"
		return result
	}
	result.Format = format

	if !v.isFormatAllowed(format) {
		result.Error = fmt.Errorf("不支持的格式: %s", format)
		result.SecurityRisk = "使用了不被允许的格式"
		return result
	}

	if (v.config.MaxWidth > 0 && config.Width > v.config.MaxWidth) ||
		(v.config.MaxHeight > 0 && config.Height > v.config.MaxHeight) {
		result.Error = fmt.Errorf("图片尺寸超限: %dx%d，最大允许: %dx%d",
			config.Width, config.Height, v.config.MaxWidth, v.config.MaxHeight)
		result.SecurityRisk = "图片过大，可能消耗过多资源"
		return result
	}

	totalPixels := int64(config.Width) * int64(config.Height)
	if v.config.MaxPixels > 0 && totalPixels > v.config.MaxPixels {
		result.Error = fmt.Errorf("像素总数超限: %d，最大允许: %d", totalPixels, v.config.MaxPixels)
		result.SecurityRisk = "像素过多，可能导致内存耗尽"
		return result
	}

	result.IsValid = true
	result.Width = config.Width
	result.Height = config.Height
	result.FileSize = int64(len(data))

	v.logger.Debug("图片验证成功", map[string]interface{}{
		"format": result.Format,
		"width":  result.Width,
		"height": result.Height,
		"size":   result.FileSize,
	})

	return result
}

// isFormatAllowed 检查格式是否被允许，未配置时全部允许
func (v *ImageSecurityValidator) isFormatAllowed(format string) bool {
	if len(v.config.AllowedFormats) == 0 {
		return true
	}
	formatLower := strings.ToLower(format)
	for _, allowedFormat := range v.config.AllowedFormats {
		if strings.ToLower(allowedFormat) == formatLower {
			return true
		}
	}
	return false
}

// Dimensions 只解码图片头，返回格式和尺寸
func Dimensions(p Payload) (format string, width, height int, err error) {
	config, format, err := image.DecodeConfig(bytes.NewReader(p.Data))
	if err != nil {
		return "", 0, 0, err
	}
	return format, config.Width, config.Height, nil
}
