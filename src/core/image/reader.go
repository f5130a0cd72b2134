package image

import (
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const genericMediaType = "application/octet-stream"

// ReadPayload 读取文件全部内容并保留其声明的媒体类型；
// 未声明或声明为通用二进制时根据内容探测。limit<=0 表示不限制大小
func ReadPayload(r io.Reader, declaredType string, limit int64) (Payload, error) {
	if r == nil {
		return Payload{}, fmt.Errorf("没有可读取的文件")
	}

	reader := r
	if limit > 0 {
		// 多读一个字节用于判断是否超限
		reader = io.LimitReader(r, limit+1)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return Payload{}, fmt.Errorf("读取图片数据失败: %w", err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return Payload{}, fmt.Errorf("图片大小超过限制，最大允许%dMB", limit/1024/1024)
	}
	if len(data) == 0 {
		return Payload{}, fmt.Errorf("图片数据为空: %w", ErrEmptyPayload)
	}

	mediaType := normalizeMediaType(declaredType)
	if mediaType == "" || mediaType == genericMediaType {
		mediaType = normalizeMediaType(mimetype.Detect(data).String())
	}

	return NewPayload(mediaType, data), nil
}

func normalizeMediaType(t string) string {
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	return strings.TrimSpace(t)
}
