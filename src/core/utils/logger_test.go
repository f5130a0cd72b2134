package utils

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"magic-studio-go/src/configs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_WritesJSONFile(t *testing.T) {
	cfg := &configs.Config{}
	cfg.Log.LogDir = filepath.Join(t.TempDir(), "logs")
	cfg.Log.LogFile = "test.log"
	cfg.Log.LogLevel = "debug"

	logger, err := NewLogger(cfg)
	require.NoError(t, err)

	logger.Info("上传完成", map[string]interface{}{"size": 42})
	logger.WithTag("studio").Warn("编辑失败", errors.New("boom"))
	logger.Debug("调试信息")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(filepath.Join(cfg.Log.LogDir, cfg.Log.LogFile))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"message":"上传完成"`)
	assert.Contains(t, lines[0], `"size":42`)
	assert.Contains(t, lines[1], `"tag":"studio"`)
	assert.Contains(t, lines[1], `"error":"boom"`)
	assert.Contains(t, lines[2], `"level":"debug"`)
}

func TestNewLogger_LevelFilter(t *testing.T) {
	cfg := &configs.Config{}
	cfg.Log.LogDir = t.TempDir()
	cfg.Log.LogFile = "test.log"
	cfg.Log.LogLevel = "warn"

	logger, err := NewLogger(cfg)
	require.NoError(t, err)

	logger.Info("不应写入")
	logger.Error("应写入")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(filepath.Join(cfg.Log.LogDir, cfg.Log.LogFile))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "不应写入")
	assert.Contains(t, string(data), "应写入")
}

func TestIsDebugLevel(t *testing.T) {
	tests := []struct {
		level string
		want  bool
	}{
		{"debug", true},
		{"DEBUG", true},
		{" Debug", false},
		{"INFO", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDebugLevel(tt.level))
		})
	}
}
