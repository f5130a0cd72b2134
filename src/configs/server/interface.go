package server

import (
	"context"

	"github.com/gin-gonic/gin"
)

// CfgService 对外暴露运行配置的服务接口
type CfgService interface {
	Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error
}
