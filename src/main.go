package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"magic-studio-go/src/configs"
	"magic-studio-go/src/configs/database"
	cfgserver "magic-studio-go/src/configs/server"
	"magic-studio-go/src/core/metrics"
	"magic-studio-go/src/core/utils"
	"magic-studio-go/src/history"
	"magic-studio-go/src/studio"
	"magic-studio-go/src/task"

	// 导入所有editor provider以确保init函数被调用
	_ "magic-studio-go/src/core/providers/editor/gemini"
	_ "magic-studio-go/src/core/providers/editor/openai"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// 每个会话最多同时占用一个读取任务和一个编辑任务
const tasksPerSession = 2

func LoadConfigAndLogger() (*configs.Config, *utils.Logger, error) {
	// 加载配置,默认使用.config.yaml
	config, configPath, err := configs.LoadConfig()
	if err != nil {
		return nil, nil, err
	}

	// 初始化日志系统
	logger, err := utils.NewLogger(config)
	if err != nil {
		return nil, nil, err
	}
	logger.Info(fmt.Sprintf("日志系统初始化成功, 配置文件路径: %s", configPath))

	return config, logger, nil
}

// InitHistory 配置了数据库时启用编辑历史，否则返回空记录器
func InitHistory(config *configs.Config, logger *utils.Logger) (*history.Recorder, error) {
	if config.DatabaseURL == "" {
		logger.Info("未配置 database_url，编辑历史不会被保存")
		return history.NewRecorder(nil, logger)
	}

	db, dbType, err := database.InitDB(config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}
	logger.Info(fmt.Sprintf("数据库连接成功, 类型: %s", dbType))
	return history.NewRecorder(db, logger)
}

func StartHttpServer(config *configs.Config, logger *utils.Logger, services *Services, g *errgroup.Group, groupCtx context.Context) (*http.Server, error) {
	// 初始化Gin引擎
	if utils.IsDebugLevel(config.Log.LogLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.SetTrustedProxies([]string{"0.0.0.0"})
	router.MaxMultipartMemory = 32 << 20

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(services.registry, promhttp.HandlerOpts{})))

	// API路由全部挂载到/api前缀下
	apiGroup := router.Group("/api")

	// 启动Cfg服务
	cfgService, err := cfgserver.NewDefaultCfgService(config, logger, func() map[string]interface{} {
		return map[string]interface{}{
			"sessions":     services.studio.Sessions().Count(),
			"idle_workers": services.tasks.IdleWorkers(),
		}
	})
	if err != nil {
		return nil, err
	}
	if err := cfgService.Start(groupCtx, router, apiGroup); err != nil {
		logger.Error("Cfg 服务启动失败", err)
		return nil, err
	}

	// 启动Studio服务
	if err := services.studio.Start(groupCtx, router, apiGroup); err != nil {
		logger.Error("Studio 服务启动失败", err)
		return nil, err
	}

	// HTTP Server（支持优雅关机）
	httpServer := &http.Server{
		Addr:    config.Server.IP + ":" + strconv.Itoa(config.Web.Port),
		Handler: router,
	}

	g.Go(func() error {
		logger.Info(fmt.Sprintf("Gin 服务已启动，访问地址: http://%s:%d", config.Server.IP, config.Web.Port))

		// 在单独的 goroutine 中监听关闭信号
		go func() {
			<-groupCtx.Done()
			logger.Info("收到关闭信号，开始关闭HTTP服务...")

			// 创建关闭超时上下文
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP服务关闭失败", err)
			} else {
				logger.Info("HTTP服务已优雅关闭")
			}
		}()

		// ListenAndServe 返回 ErrServerClosed 时表示正常关闭
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP 服务启动失败", err)
			return err
		}
		return nil
	})

	return httpServer, nil
}

func GracefulShutdown(cancel context.CancelFunc, logger *utils.Logger, g *errgroup.Group) {
	// 监听系统信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// 等待信号
	sig := <-sigChan
	logger.Info(fmt.Sprintf("接收到系统信号: %v，开始优雅关闭服务", sig))

	// 取消上下文，通知所有服务开始关闭
	cancel()

	// 等待所有服务关闭，设置超时保护
	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("服务关闭过程中出现错误", err)
			os.Exit(1)
		}
		logger.Info("所有服务已优雅关闭")
	case <-time.After(15 * time.Second):
		logger.Error("服务关闭超时，强制退出")
		os.Exit(1)
	}
}

// Services 进程内共享的服务
type Services struct {
	registry *prometheus.Registry
	tasks    *task.TaskManager
	studio   *studio.DefaultStudioService
}

func startServices(config *configs.Config, logger *utils.Logger, g *errgroup.Group, groupCtx context.Context) (*Services, error) {
	recorder, err := InitHistory(config, logger)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector("magic_studio", registry)

	tasks := task.NewTaskManager(task.ResourceConfig{
		MaxWorkers:        config.Studio.MaxWorkers,
		MaxTasksPerClient: tasksPerSession,
		QueueSize:         config.Studio.MaxWorkers * 4,
	})
	tasks.Start()

	studioService, err := studio.NewDefaultStudioService(config, logger, tasks, recorder, collector)
	if err != nil {
		tasks.Stop()
		return nil, fmt.Errorf("Studio 服务初始化失败: %w", err)
	}

	services := &Services{registry: registry, tasks: tasks, studio: studioService}

	// 定期清理过期会话，退出时关闭所有会话
	g.Go(func() error {
		return studioService.Sessions().Run(groupCtx)
	})

	if _, err := StartHttpServer(config, logger, services, g, groupCtx); err != nil {
		return nil, fmt.Errorf("启动 Http 服务失败: %w", err)
	}

	g.Go(func() error {
		<-groupCtx.Done()
		tasks.Stop()
		return studioService.Cleanup()
	})

	return services, nil
}

func main() {
	// 先加载 .env 文件，配置中的密钥可以来自环境变量
	if err := godotenv.Load(); err != nil {
		fmt.Println("未找到 .env 文件，使用系统环境变量")
	}

	// 加载配置和初始化日志系统
	config, logger, err := LoadConfigAndLogger()
	if err != nil {
		fmt.Println("加载配置或初始化日志系统失败:", err)
		os.Exit(1)
	}
	defer logger.Close()

	// 创建可取消的上下文
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 用 errgroup 管理所有服务
	g, groupCtx := errgroup.WithContext(ctx)

	// 启动所有服务
	if _, err := startServices(config, logger, g, groupCtx); err != nil {
		logger.Error("启动服务失败:", err)
		cancel()
		os.Exit(1)
	}

	// 启动优雅关机处理
	GracefulShutdown(cancel, logger, g)

	logger.Info("程序已成功退出")
}
