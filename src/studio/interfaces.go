package studio

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"path/filepath"

	"magic-studio-go/src/task"

	"github.com/gin-gonic/gin"
)

// StudioService 定义编辑工作室服务接口
type StudioService interface {
	// 将工作室的路由注册到 engine 与 apiGroup
	Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error
}

// TaskRunner 异步执行会话中的读取和编辑任务
type TaskRunner interface {
	SubmitTask(clientID string, t *task.Task) error
}

// FileSource 用户选择的文件
type FileSource interface {
	Name() string
	// MediaType 浏览器声明的类型，可能为空
	MediaType() string
	Open() (io.ReadCloser, error)
}

// multipartSource 表单上传的文件
type multipartSource struct {
	header *multipart.FileHeader
}

// NewMultipartSource 包装表单文件，header 为空时返回 nil
func NewMultipartSource(header *multipart.FileHeader) FileSource {
	if header == nil {
		return nil
	}
	return &multipartSource{header: header}
}

func (m *multipartSource) Name() string {
	return filepath.Base(m.header.Filename)
}

func (m *multipartSource) MediaType() string {
	return m.header.Header.Get("Content-Type")
}

func (m *multipartSource) Open() (io.ReadCloser, error) {
	return m.header.Open()
}

// bytesSource 内存中的文件
type bytesSource struct {
	name      string
	mediaType string
	data      []byte
}

// NewBytesSource 用内存数据构造文件
func NewBytesSource(name, mediaType string, data []byte) FileSource {
	return &bytesSource{name: name, mediaType: mediaType, data: data}
}

func (b *bytesSource) Name() string      { return b.name }
func (b *bytesSource) MediaType() string { return b.mediaType }

func (b *bytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}
