package image

import (
	"encoding/base64"
	"encoding/json"
)

// Payload 图片载荷：媒体类型 + 原始字节，对外以 data URL 形式表示
type Payload struct {
	MediaType string
	Data      []byte
}

// NewPayload 创建图片载荷
func NewPayload(mediaType string, data []byte) Payload {
	return Payload{MediaType: mediaType, Data: data}
}

// IsEmpty 是否没有图片内容
func (p Payload) IsEmpty() bool {
	return len(p.Data) == 0
}

// Base64 返回标准base64编码的图片内容
func (p Payload) Base64() string {
	return base64.StdEncoding.EncodeToString(p.Data)
}

// DataURL 返回 data:<mime>;base64,<payload> 形式的字符串
func (p Payload) DataURL() string {
	return "data:" + p.MediaType + ";base64," + p.Base64()
}

// String 同 DataURL
func (p Payload) String() string {
	return p.DataURL()
}

// MarshalJSON 以 data URL 字符串序列化
func (p Payload) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.DataURL())
}

// UnmarshalJSON 从 data URL 字符串反序列化
func (p *Payload) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDataURL(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ValidationResult 图片验证结果
type ValidationResult struct {
	IsValid      bool   // 是否有效
	Format       string // 实际格式
	Width        int    // 图片宽度
	Height       int    // 图片高度
	FileSize     int64  // 文件大小
	Error        error  // 错误信息
	SecurityRisk string // 安全风险描述
}
