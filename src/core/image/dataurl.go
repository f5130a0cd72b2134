package image

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	dataURLScheme = "data:"
	base64Marker  = ";base64,"
)

var (
	// ErrEmptyPayload 载荷不包含任何图片数据
	ErrEmptyPayload = errors.New("image payload has no base64 body")
)

// ParseDataURL 解析 data URL；没有 data: 前缀时整串按base64处理，媒体类型为空
func ParseDataURL(s string) (Payload, error) {
	mediaType := ""
	body := s

	if strings.HasPrefix(s, dataURLScheme) {
		idx := strings.Index(s, base64Marker)
		if idx < 0 {
			return Payload{}, fmt.Errorf("data URL缺少base64标记")
		}
		mediaType = s[len(dataURLScheme):idx]
		body = s[idx+len(base64Marker):]
	}

	if body == "" {
		return Payload{}, ErrEmptyPayload
	}

	data, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return Payload{}, fmt.Errorf("base64解码失败: %w", err)
	}

	return Payload{MediaType: mediaType, Data: data}, nil
}

// StripDataURLPrefix 去掉 data:<mime>;base64, 前缀，只保留base64正文
func StripDataURLPrefix(s string) string {
	if !strings.HasPrefix(s, dataURLScheme) {
		return s
	}
	if idx := strings.Index(s, base64Marker); idx >= 0 {
		return s[idx+len(base64Marker):]
	}
	return s
}
