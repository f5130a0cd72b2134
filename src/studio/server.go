package studio

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"time"

	"magic-studio-go/src/configs"
	"magic-studio-go/src/core/auth"
	"magic-studio-go/src/core/image"
	"magic-studio-go/src/core/metrics"
	"magic-studio-go/src/core/providers/editor"
	"magic-studio-go/src/core/utils"
	"magic-studio-go/src/history"
	"magic-studio-go/src/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// SessionCookieName 保存会话令牌的cookie
	SessionCookieName = "magic_session"

	sessionKey       = "studio_session"
	sessionTokenTTL  = 7 * 24 * time.Hour
	editWaitTimeout  = 5 * time.Minute
	uploadFormMemory = 32 << 20
)

//go:embed web/index.html
var webFS embed.FS

type DefaultStudioService struct {
	logger     *utils.Logger
	config     *configs.Config
	editor     editor.Provider
	editorName string
	tasks      TaskRunner
	sessions   *SessionManager
	authToken  *auth.AuthToken
	validator  *image.ImageSecurityValidator
	security   configs.SecurityConfig
	metrics    *metrics.Collector
	history    *history.Recorder
	upgrader   websocket.Upgrader
	page       *template.Template
}

// NewDefaultStudioService 构造函数，按配置创建编辑提供者
func NewDefaultStudioService(config *configs.Config, logger *utils.Logger, tasks TaskRunner, recorder *history.Recorder, collector *metrics.Collector) (*DefaultStudioService, error) {
	name, editorCfg, err := config.SelectedEditor()
	if err != nil {
		logger.Warn("请设置好Editor provider配置")
		return nil, err
	}

	provider, err := editor.Create(editorCfg.Type, editor.ConfigFrom(editorCfg), logger)
	if err != nil {
		return nil, fmt.Errorf("初始化Editor provider失败: %w", err)
	}
	logger.Info(fmt.Sprintf("Editor provider %s 初始化成功", name))

	return newStudioService(config, logger, provider, name, tasks, recorder, collector)
}

func newStudioService(config *configs.Config, logger *utils.Logger, provider editor.Provider, editorName string, tasks TaskRunner, recorder *history.Recorder, collector *metrics.Collector) (*DefaultStudioService, error) {
	secret := config.Server.Token
	if secret == "" {
		// 未配置密钥时随机生成，重启后旧cookie失效
		secret = uuid.New().String()
		logger.Warn("server.token 未配置，使用随机的会话签名密钥")
	}
	authToken, err := auth.NewAuthToken(secret, sessionTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("创建会话令牌工具失败: %w", err)
	}

	page, err := template.ParseFS(webFS, "web/index.html")
	if err != nil {
		return nil, fmt.Errorf("解析页面模板失败: %w", err)
	}

	security := configs.SecurityConfig{}
	if editorCfg, ok := config.Editor[editorName]; ok {
		security = editorCfg.Security
	}

	s := &DefaultStudioService{
		logger:     logger,
		config:     config,
		editor:     provider,
		editorName: editorName,
		tasks:      tasks,
		authToken:  authToken,
		security:   security,
		metrics:    collector,
		history:    recorder,
		page:       page,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有来源的连接
			},
		},
	}
	s.validator = image.NewImageSecurityValidator(&s.security, logger)

	s.sessions = NewSessionManager(config.Studio.SessionTTL, logger, s.newSession)
	s.sessions.OnCountChange = func(count int) {
		if s.metrics != nil {
			s.metrics.SetActiveSessions(count)
		}
	}
	s.sessions.OnRemove = func(id string) {
		if r, ok := s.tasks.(interface{ RemoveClient(string) }); ok {
			r.RemoveClient(id)
		}
	}
	return s, nil
}

// Sessions 会话管理器，由 main 负责运行清理
func (s *DefaultStudioService) Sessions() *SessionManager {
	return s.sessions
}

func (s *DefaultStudioService) newSession(id string) *Session {
	opts := SessionOptions{
		Editor:        s.editor,
		Runner:        s.tasks,
		Logger:        s.logger,
		DefaultPrompt: s.config.Studio.DefaultPrompt,
		Observer:      s,
	}
	if s.config.Studio.ValidateUploads {
		opts.ReadLimit = s.security.MaxFileSize
		opts.Validate = s.validateUpload
	}
	if s.config.Studio.RateLimit > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(s.config.Studio.RateLimit), s.config.Studio.RateBurst)
	}
	return NewSession(id, opts)
}

func (s *DefaultStudioService) validateUpload(p image.Payload) error {
	result := s.validator.Validate(p)
	if result.IsValid {
		return nil
	}
	if result.SecurityRisk != "" && s.metrics != nil {
		s.metrics.RecordSecurityIncident()
	}
	return result.Error
}

// Start 实现 StudioService 接口，注册所有工作室相关路由
func (s *DefaultStudioService) Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error {
	engine.GET("/", s.sessionMiddleware, s.handleIndex)

	group := apiGroup.Group("/studio", s.sessionMiddleware)
	group.GET("/state", s.handleState)
	group.POST("/upload", s.handleUpload)
	group.POST("/prompt", s.handlePrompt)
	group.POST("/edit", s.handleEdit)
	group.POST("/reset", s.handleReset)
	group.GET("/download", s.handleDownload)
	group.GET("/history", s.handleHistory)
	group.GET("/suggestions", s.handleSuggestions)
	group.GET("/ws", s.handleWebSocket)

	s.logger.Info("Studio HTTP服务路由注册完成")
	return nil
}

// sessionMiddleware 从cookie恢复会话，没有或已过期时创建新会话
func (s *DefaultStudioService) sessionMiddleware(c *gin.Context) {
	var sess *Session
	if cookie, err := c.Cookie(SessionCookieName); err == nil && cookie != "" {
		if id, err := s.authToken.VerifyToken(cookie); err == nil {
			sess, _ = s.sessions.Get(id)
		} else {
			s.logger.Debug("会话令牌无效", err)
		}
	}

	if sess == nil {
		sess = s.sessions.Create()
		token, err := s.authToken.GenerateToken(sess.ID())
		if err != nil {
			s.logger.Error("生成会话令牌失败", err)
			s.respondError(c, http.StatusInternalServerError, "failed to create session")
			c.Abort()
			return
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(SessionCookieName, token, int(sessionTokenTTL.Seconds()), "/", "", false, true)
	}

	c.Set(sessionKey, sess)
	c.Next()
}

func sessionFrom(c *gin.Context) *Session {
	return c.MustGet(sessionKey).(*Session)
}

type pageData struct {
	Snapshot         Snapshot
	Suggestions      []string
	DownloadFilename string
	MaxFileSizeMB    int64
	Provider         string
}

func (s *DefaultStudioService) handleIndex(c *gin.Context) {
	data := pageData{
		Snapshot:         sessionFrom(c).Snapshot(),
		Suggestions:      s.config.Studio.Suggestions,
		DownloadFilename: s.config.Studio.DownloadFilename,
		MaxFileSizeMB:    s.security.MaxFileSize / 1024 / 1024,
		Provider:         s.editor.Name(),
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := s.page.Execute(c.Writer, data); err != nil {
		s.logger.Error("渲染页面失败", err)
	}
}

func (s *DefaultStudioService) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, sessionFrom(c).Snapshot())
}

// handleUpload 读取表单文件作为原图，等待读取完成后返回状态
func (s *DefaultStudioService) handleUpload(c *gin.Context) {
	sess := sessionFrom(c)

	if err := c.Request.ParseMultipartForm(uploadFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		s.respondError(c, http.StatusBadRequest, fmt.Sprintf("解析multipart表单失败: %v", err))
		return
	}

	var src FileSource
	if c.Request.MultipartForm != nil {
		if files := c.Request.MultipartForm.File["file"]; len(files) > 0 {
			src = NewMultipartSource(files[0])
		}
	}

	// 没有选择文件时什么也不做
	applied := <-sess.SelectFile(src)
	snap := sess.Snapshot()

	if src != nil && s.metrics != nil {
		switch {
		case !applied:
			// 读取期间会话被重置
			s.metrics.RecordUpload("discarded", 0)
		case snap.Error != nil:
			s.metrics.RecordUpload("failed", 0)
		case snap.Original != nil:
			s.metrics.RecordUpload("success", len(snap.Original.Data))
		}
	}
	c.JSON(http.StatusOK, snap)
}

func (s *DefaultStudioService) handlePrompt(c *gin.Context) {
	sess := sessionFrom(c)

	var req PromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, "解析失败: "+err.Error())
		return
	}

	switch {
	case req.Suggestion != nil:
		i := *req.Suggestion
		if i < 0 || i >= len(s.config.Studio.Suggestions) {
			s.respondError(c, http.StatusBadRequest, fmt.Sprintf("suggestion index out of range: %d", i))
			return
		}
		sess.SetPrompt(s.config.Studio.Suggestions[i])
	case req.Prompt != nil:
		sess.SetPrompt(*req.Prompt)
	default:
		s.respondError(c, http.StatusBadRequest, "missing prompt or suggestion")
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

// handleEdit 提交编辑，默认立即返回202，wait=true 时等待结果
func (s *DefaultStudioService) handleEdit(c *gin.Context) {
	sess := sessionFrom(c)

	var req EditRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBind(&req); err != nil && !errors.Is(err, io.EOF) {
			s.respondError(c, http.StatusBadRequest, "解析失败: "+err.Error())
			return
		}
	}
	if req.Prompt != nil {
		sess.SetPrompt(*req.Prompt)
	}

	if !sess.AllowSubmit() {
		c.JSON(http.StatusTooManyRequests, SuccessResponse{
			Success: false,
			Message: "Too many edit requests, please slow down.",
			Data:    sess.Snapshot(),
		})
		return
	}

	done, ok := sess.SubmitEdit()
	if !ok {
		snap := sess.Snapshot()
		c.JSON(http.StatusConflict, SuccessResponse{
			Success: false,
			Message: ignoredReason(snap),
			Data:    snap,
		})
		return
	}

	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		select {
		case <-done:
		case <-c.Request.Context().Done():
			return
		case <-time.After(editWaitTimeout):
		}
		c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: sess.Snapshot()})
		return
	}

	c.JSON(http.StatusAccepted, SuccessResponse{Success: true, Data: sess.Snapshot()})
}

func ignoredReason(snap Snapshot) string {
	switch {
	case snap.Processing:
		return "An edit is already in progress."
	case snap.Original == nil:
		return "Upload an image first."
	default:
		return "The prompt is empty."
	}
}

func (s *DefaultStudioService) handleReset(c *gin.Context) {
	sess := sessionFrom(c)
	sess.Reset()
	c.JSON(http.StatusOK, sess.Snapshot())
}

// handleDownload 以附件形式下载编辑结果
func (s *DefaultStudioService) handleDownload(c *gin.Context) {
	snap := sessionFrom(c).Snapshot()
	if snap.Edited == nil {
		s.respondError(c, http.StatusNotFound, "no edited image yet")
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, s.config.Studio.DownloadFilename))
	c.Data(http.StatusOK, snap.Edited.MediaType, snap.Edited.Data)
}

func (s *DefaultStudioService) handleHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	records, err := s.history.Recent(c.Request.Context(), sessionFrom(c).ID(), limit)
	if err != nil {
		s.logger.Error("查询编辑历史失败", err)
		s.respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: records})
}

func (s *DefaultStudioService) handleSuggestions(c *gin.Context) {
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: s.config.Studio.Suggestions})
}

// respondError 返回错误响应
func (s *DefaultStudioService) respondError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, SuccessResponse{
		Success: false,
		Message: message,
	})
}

// EditStarted 实现 EditObserver
func (s *DefaultStudioService) EditStarted(sessionID string) {
	if s.metrics != nil {
		s.metrics.EditStarted()
	}
}

// EditFinished 实现 EditObserver，记录指标和历史
func (s *DefaultStudioService) EditFinished(outcome EditOutcome) {
	label := models.OutcomeSuccess
	switch {
	case outcome.Stale:
		label = "discarded"
	case outcome.Err != nil:
		label = string(editor.KindOf(outcome.Err))
	}
	if s.metrics != nil {
		s.metrics.EditFinished(outcome.Provider, label, outcome.Duration)
	}
	if outcome.Stale || !s.history.Enabled() {
		return
	}

	record := &models.EditRecord{
		SessionID:      outcome.SessionID,
		Provider:       outcome.Provider,
		Prompt:         outcome.Prompt,
		Outcome:        models.OutcomeSuccess,
		InputMediaType: outcome.Original.MediaType,
		InputBytes:     len(outcome.Original.Data),
		OutputBytes:    len(outcome.Result.Data),
		DurationMs:     outcome.Duration.Milliseconds(),
	}
	if outcome.Err != nil {
		record.Outcome = models.OutcomeFailed
		record.ErrorKind = label
		record.ErrorMessage = outcome.Message
	}

	meta := map[string]interface{}{}
	if format, w, h, err := image.Dimensions(outcome.Original); err == nil {
		meta["input_format"] = format
		meta["input_width"] = w
		meta["input_height"] = h
	}
	if outcome.Err == nil {
		if format, w, h, err := image.Dimensions(outcome.Result); err == nil {
			meta["output_format"] = format
			meta["output_width"] = w
			meta["output_height"] = h
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.history.Record(ctx, record, meta)
}

// Cleanup 清理资源
func (s *DefaultStudioService) Cleanup() error {
	if err := s.editor.Cleanup(); err != nil {
		s.logger.Warn(fmt.Sprintf("清理Editor provider %s 失败: %v", s.editorName, err))
	}
	s.logger.Info("Studio服务清理完成")
	return nil
}
