package studio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"magic-studio-go/src/configs"
	"magic-studio-go/src/core/image"
	"magic-studio-go/src/core/metrics"
	"magic-studio-go/src/core/providers/editor"
	"magic-studio-go/src/core/utils"
	"magic-studio-go/src/history"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testServer struct {
	t        *testing.T
	service  *DefaultStudioService
	engine   *gin.Engine
	cookie   *http.Cookie
	registry *prometheus.Registry
}

func newTestConfig() *configs.Config {
	cfg := &configs.Config{}
	cfg.Server.Token = "test-secret"
	cfg.Studio = configs.StudioConfig{
		DefaultPrompt:    configs.DefaultPrompt,
		Suggestions:      configs.DefaultSuggestions,
		DownloadFilename: configs.DefaultDownloadFilename,
		SessionTTL:       time.Hour,
	}
	cfg.Editor = map[string]configs.EditorConfig{
		"Fake": {Type: "fake", Security: configs.SecurityConfig{
			MaxFileSize:    1 << 20,
			MaxWidth:       4096,
			MaxHeight:      4096,
			AllowedFormats: []string{"png", "jpeg"},
			EnableDeepScan: true,
		}},
	}
	return cfg
}

func newTestServer(t *testing.T, ed editor.Provider, mutate ...func(*configs.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := newTestConfig()
	for _, m := range mutate {
		m(cfg)
	}

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))), &gorm.Config{})
	require.NoError(t, err)
	recorder, err := history.NewRecorder(db, utils.NewNopLogger())
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	service, err := newStudioService(cfg, utils.NewNopLogger(), ed, "Fake", newTaskManager(t), recorder, metrics.NewCollector("studio_test", registry))
	require.NoError(t, err)

	engine := gin.New()
	require.NoError(t, service.Start(context.Background(), engine, engine.Group("/api")))
	return &testServer{t: t, service: service, engine: engine, registry: registry}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	ts.t.Helper()
	if ts.cookie != nil {
		req.AddCookie(ts.cookie)
	}
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookieName {
			ts.cookie = c
		}
	}
	return w
}

func (ts *testServer) postJSON(path string, body interface{}) *httptest.ResponseRecorder {
	ts.t.Helper()
	data, err := json.Marshal(body)
	require.NoError(ts.t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return ts.do(req)
}

func (ts *testServer) upload(name, contentType string, data []byte) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if data != nil {
		header := make(map[string][]string)
		header["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="file"; filename="%s"`, name)}
		header["Content-Type"] = []string{contentType}
		part, err := mw.CreatePart(header)
		require.NoError(ts.t, err)
		_, err = part.Write(data)
		require.NoError(ts.t, err)
	}
	require.NoError(ts.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/studio/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return ts.do(req)
}

// metric 读取注册表中的计数器或仪表值，labels 为 name/value 交替
func (ts *testServer) metric(name string, labels ...string) float64 {
	ts.t.Helper()
	families, err := ts.registry.Gather()
	require.NoError(ts.t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for i := 0; i+1 < len(labels); i += 2 {
				found := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == labels[i] && lp.GetValue() == labels[i+1] {
						found = true
					}
				}
				if !found {
					continue next
				}
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	return 0
}

func decodeSnapshot(t *testing.T, body []byte) Snapshot {
	t.Helper()
	var snap Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	return snap
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, body []byte) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(body, &env))
	return env
}

func TestStudio_IndexSetsSessionCookie(t *testing.T) {
	ts := newTestServer(t, &fakeEditor{})

	w := ts.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Gemini Magic Studio")
	assert.Contains(t, w.Body.String(), "Try these ideas")
	assert.Contains(t, w.Body.String(), `download="gemini-magic.png"`)
	require.NotNil(t, ts.cookie)
	assert.True(t, ts.cookie.HttpOnly)

	// 同一个cookie复用会话
	first := ts.cookie.Value
	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/studio/state", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, first, ts.cookie.Value)
	assert.Equal(t, 1, ts.service.Sessions().Count())
	assert.Equal(t, float64(1), ts.metric("studio_test_active_sessions"))
}

func TestStudio_InvalidCookieStartsNewSession(t *testing.T) {
	ts := newTestServer(t, &fakeEditor{})
	ts.cookie = &http.Cookie{Name: SessionCookieName, Value: "not-a-token"}

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/studio/state", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEqual(t, "not-a-token", ts.cookie.Value)

	snap := decodeSnapshot(t, w.Body.Bytes())
	assert.Equal(t, configs.DefaultPrompt, snap.Prompt)
	assert.Nil(t, snap.Original)
}

func TestStudio_FullEditFlow(t *testing.T) {
	red := solidPNG(t, color.RGBA{R: 255, A: 255})
	blue := solidPNG(t, color.RGBA{B: 255, A: 255})
	ts := newTestServer(t, &fakeEditor{
		edit: func(ctx context.Context, original image.Payload, prompt string) (image.Payload, error) {
			return image.NewPayload("image/png", blue), nil
		},
	})

	w := ts.upload("red.png", "image/png", red)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decodeSnapshot(t, w.Body.Bytes())
	require.NotNil(t, snap.Original)
	assert.Equal(t, red, snap.Original.Data)

	w = ts.postJSON("/api/studio/edit?wait=true", map[string]string{"prompt": "make it blue"})
	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w.Body.Bytes())
	assert.True(t, env.Success)
	snap = decodeSnapshot(t, env.Data)
	require.NotNil(t, snap.Edited)
	assert.Equal(t, blue, snap.Edited.Data)
	assert.Equal(t, "make it blue", snap.Prompt)
	assert.False(t, snap.Processing)
	assert.Nil(t, snap.Error)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/studio/download", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="gemini-magic.png"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, blue, w.Body.Bytes())

	// 历史只保存元数据
	require.Eventually(t, func() bool {
		w = ts.do(httptest.NewRequest(http.MethodGet, "/api/studio/history", nil))
		var resp struct {
			Data []map[string]interface{} `json:"data"`
		}
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
		return len(resp.Data) == 1 && resp.Data[0]["Outcome"] == "success"
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, float64(1), ts.metric("studio_test_uploads_total", "status", "success"))

	w = ts.do(httptest.NewRequest(http.MethodPost, "/api/studio/reset", nil))
	require.Equal(t, http.StatusOK, w.Code)
	snap = decodeSnapshot(t, w.Body.Bytes())
	assert.Nil(t, snap.Original)
	assert.Nil(t, snap.Edited)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/studio/download", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStudio_EditFailureSurfacesMessage(t *testing.T) {
	ts := newTestServer(t, &fakeEditor{
		edit: func(ctx context.Context, original image.Payload, prompt string) (image.Payload, error) {
			return image.Payload{}, editor.NoImagePart()
		},
	})
	ts.upload("red.png", "image/png", solidPNG(t, color.RGBA{R: 255, A: 255}))

	w := ts.postJSON("/api/studio/edit?wait=1", map[string]string{})
	require.Equal(t, http.StatusOK, w.Code)
	snap := decodeSnapshot(t, decodeEnvelope(t, w.Body.Bytes()).Data)
	require.NotNil(t, snap.Error)
	assert.Equal(t, "No image was returned in the response parts.", *snap.Error)
	assert.Nil(t, snap.Edited)
}

func TestStudio_EditIgnored(t *testing.T) {
	ts := newTestServer(t, &fakeEditor{})

	w := ts.postJSON("/api/studio/edit", map[string]string{})
	require.Equal(t, http.StatusConflict, w.Code)
	env := decodeEnvelope(t, w.Body.Bytes())
	assert.False(t, env.Success)
	assert.Equal(t, "Upload an image first.", env.Message)

	ts.upload("red.png", "image/png", solidPNG(t, color.RGBA{R: 255, A: 255}))
	w = ts.postJSON("/api/studio/edit", map[string]string{"prompt": "   "})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "The prompt is empty.", decodeEnvelope(t, w.Body.Bytes()).Message)
}

func TestStudio_EditAccepted(t *testing.T) {
	release := make(chan struct{})
	ts := newTestServer(t, &fakeEditor{
		edit: func(ctx context.Context, original image.Payload, prompt string) (image.Payload, error) {
			<-release
			return image.NewPayload("image/png", []byte("x")), nil
		},
	})
	defer close(release)
	ts.upload("red.png", "image/png", solidPNG(t, color.RGBA{R: 255, A: 255}))

	w := ts.postJSON("/api/studio/edit", map[string]string{})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, decodeSnapshot(t, decodeEnvelope(t, w.Body.Bytes()).Data).Processing)

	w = ts.postJSON("/api/studio/edit", map[string]string{})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "An edit is already in progress.", decodeEnvelope(t, w.Body.Bytes()).Message)
}

func TestStudio_RateLimit(t *testing.T) {
	ts := newTestServer(t, &fakeEditor{}, func(cfg *configs.Config) {
		cfg.Studio.RateLimit = 0.001
		cfg.Studio.RateBurst = 1
	})
	ts.upload("red.png", "image/png", solidPNG(t, color.RGBA{R: 255, A: 255}))

	w := ts.postJSON("/api/studio/edit?wait=true", map[string]string{})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.postJSON("/api/studio/edit", map[string]string{})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestStudio_Prompt(t *testing.T) {
	ts := newTestServer(t, &fakeEditor{})

	w := ts.postJSON("/api/studio/prompt", map[string]interface{}{"suggestion": 1})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, configs.DefaultSuggestions[1], decodeSnapshot(t, w.Body.Bytes()).Prompt)

	w = ts.postJSON("/api/studio/prompt", map[string]interface{}{"prompt": " custom "})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, " custom ", decodeSnapshot(t, w.Body.Bytes()).Prompt)

	w = ts.postJSON("/api/studio/prompt", map[string]interface{}{"suggestion": 99})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.postJSON("/api/studio/prompt", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/studio/suggestions", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data []string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, configs.DefaultSuggestions, resp.Data)
}

func TestStudio_UploadWithoutFileIsNoop(t *testing.T) {
	ts := newTestServer(t, &fakeEditor{})

	w := ts.upload("", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decodeSnapshot(t, w.Body.Bytes())
	assert.Nil(t, snap.Original)
	assert.Nil(t, snap.Error)
}

func TestStudio_UploadValidation(t *testing.T) {
	ts := newTestServer(t, &fakeEditor{}, func(cfg *configs.Config) {
		cfg.Studio.ValidateUploads = true
	})

	w := ts.upload("evil.png", "image/png", []byte("MZ\x90\x00 this is not an image"))
	require.Equal(t, http.StatusOK, w.Code)
	snap := decodeSnapshot(t, w.Body.Bytes())
	assert.Nil(t, snap.Original)
	require.NotNil(t, snap.Error)
	assert.Contains(t, *snap.Error, "invalid image")

	assert.Equal(t, float64(1), ts.metric("studio_test_upload_security_incidents_total"))
	assert.Equal(t, float64(1), ts.metric("studio_test_uploads_total", "status", "failed"))

	w = ts.upload("red.png", "image/png", solidPNG(t, color.RGBA{R: 255, A: 255}))
	snap = decodeSnapshot(t, w.Body.Bytes())
	assert.NotNil(t, snap.Original)
	assert.Nil(t, snap.Error)
}

func TestStudio_WebSocketPushesState(t *testing.T) {
	ts := newTestServer(t, &fakeEditor{})
	server := httptest.NewServer(ts.engine)
	defer server.Close()

	// 先拿到会话cookie
	ts.do(httptest.NewRequest(http.MethodGet, "/api/studio/state", nil))
	require.NotNil(t, ts.cookie)

	header := http.Header{}
	header.Set("Cookie", ts.cookie.Name+"="+ts.cookie.Value)
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/studio/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	var snap Snapshot
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, configs.DefaultPrompt, snap.Prompt)

	ts.postJSON("/api/studio/prompt", map[string]interface{}{"prompt": "from http"})
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, "from http", snap.Prompt)
}

func TestSessionManager_Sweep(t *testing.T) {
	ts := newTestServer(t, &fakeEditor{})
	manager := ts.service.Sessions()

	s := manager.Create()
	_, ok := manager.Get(s.ID())
	require.True(t, ok)

	assert.Zero(t, manager.Sweep(time.Now()))
	assert.Equal(t, 1, manager.Sweep(time.Now().Add(2*time.Hour)))
	_, ok = manager.Get(s.ID())
	assert.False(t, ok)
	assert.Equal(t, float64(0), ts.metric("studio_test_active_sessions"))
}

func TestSessionManager_RunStopsWithContext(t *testing.T) {
	ts := newTestServer(t, &fakeEditor{})
	manager := ts.service.Sessions()
	manager.Create()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- manager.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("清理循环没有退出")
	}
	assert.Zero(t, manager.Count())
}

func TestStudio_UploadDiscardedByReset(t *testing.T) {
	ts := newTestServer(t, &fakeEditor{})
	manager := ts.service.Sessions()
	ts.service.tasks = &resetBeforeReadRunner{
		inner: ts.service.tasks,
		lookup: func(id string) *Session {
			s, _ := manager.Get(id)
			return s
		},
	}

	w := ts.upload("red.png", "image/png", solidPNG(t, color.RGBA{R: 255, A: 255}))
	require.Equal(t, http.StatusOK, w.Code)
	snap := decodeSnapshot(t, w.Body.Bytes())
	assert.Nil(t, snap.Original)
	assert.Nil(t, snap.Edited)
	assert.Nil(t, snap.Error)

	assert.Equal(t, float64(1), ts.metric("studio_test_uploads_total", "status", "discarded"))
	assert.Equal(t, float64(0), ts.metric("studio_test_uploads_total", "status", "success"))
}
