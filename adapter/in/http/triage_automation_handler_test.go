package http

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triage_server/core/domain"
	"triage_server/core/port/in"
	"triage_server/core/port/out"
	"triage_server/core/service/report"
	"triage_server/infra/middleware"
	"triage_server/pkg/apperr"
	"triage_server/pkg/logger"
	"triage_server/pkg/metrics"
)

type fakeAutomation struct {
	mu        sync.Mutex
	running   bool
	interval  time.Duration
	starts    int
	stops     int
	startErr  error
	stopErr   error
	processed []*domain.InboundMessage
	result    *in.ProcessResult
	procErr   error
}

func (f *fakeAutomation) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeAutomation) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	if f.stopErr != nil {
		return f.stopErr
	}
	f.running = false
	return nil
}

func (f *fakeAutomation) Status() in.AutomationStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := "stopped"
	if f.running {
		state = "running"
	}
	return in.AutomationStatus{IsRunning: f.running, State: state, CheckInterval: f.interval.Seconds()}
}

func (f *fakeAutomation) SetCheckInterval(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interval = d
}

func (f *fakeAutomation) ProcessOne(ctx context.Context, msg *domain.InboundMessage) (*in.ProcessResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, msg)
	if f.result != nil {
		return f.result, f.procErr
	}
	return &in.ProcessResult{MessageID: msg.ID, Processed: f.procErr == nil}, f.procErr
}

type fakeInbox struct {
	messages map[string]*domain.InboundMessage
}

func (f *fakeInbox) ListUnseen(context.Context, time.Duration, int) ([]domain.InboundMessage, error) {
	return nil, nil
}

func (f *fakeInbox) Get(_ context.Context, id string) (*domain.InboundMessage, error) {
	if m, ok := f.messages[id]; ok {
		return m, nil
	}
	return nil, out.NewProviderError("gmail", out.ProviderErrNotFound, "message not found", nil, false)
}

func (f *fakeInbox) MarkRead(context.Context, string) error { return nil }

type fakeStats struct {
	period  time.Duration
	summary bool
}

func (f *fakeStats) Stats(_ context.Context, period time.Duration) (*report.Stats, error) {
	f.period = period
	return &report.Stats{TotalProcessed: 3}, nil
}

func (f *fakeStats) StatsWithSummary(_ context.Context, period time.Duration) (*report.Stats, error) {
	f.period, f.summary = period, true
	return &report.Stats{TotalProcessed: 3, Summary: "quiet day"}, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func newTestApp(h *AutomationHandler) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(logger.Nop())})
	h.Register(app.Group("/api/v1"))
	return app
}

func do(t *testing.T, app *fiber.App, method, path, body string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	return resp.StatusCode, env
}

func TestAutomationHandler_StartSetsIntervalAndStarts(t *testing.T) {
	auto := &fakeAutomation{interval: 30 * time.Second}
	app := newTestApp(NewAutomationHandler(auto, nil, nil))

	status, env := do(t, app, fiber.MethodPost, "/api/v1/automation/start", `{"check_interval":60}`)
	assert.Equal(t, fiber.StatusOK, status)
	assert.True(t, env.Success)
	assert.JSONEq(t, `{"status":"started","check_interval":60}`, string(env.Data))
	assert.Equal(t, 1, auto.starts)

	status, env = do(t, app, fiber.MethodPost, "/api/v1/automation/start", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, string(env.Data), "already_running")
	assert.Equal(t, 1, auto.starts)
}

func TestAutomationHandler_StartRejectsBadInterval(t *testing.T) {
	auto := &fakeAutomation{}
	app := newTestApp(NewAutomationHandler(auto, nil, nil))

	status, env := do(t, app, fiber.MethodPost, "/api/v1/automation/start", `{"check_interval":0}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, apperr.CodeBadRequest, env.Error.Code)
	assert.Zero(t, auto.starts)
}

func TestAutomationHandler_StartInitializationFailure(t *testing.T) {
	auto := &fakeAutomation{startErr: apperr.Initialization("connect gmail", errors.New("token revoked"))}
	app := newTestApp(NewAutomationHandler(auto, nil, nil))

	status, env := do(t, app, fiber.MethodPost, "/api/v1/automation/start", "")
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.False(t, env.Success)
	assert.Equal(t, apperr.CodeUnavailable, env.Error.Code)
}

func TestAutomationHandler_StopAndRestart(t *testing.T) {
	auto := &fakeAutomation{interval: 30 * time.Second}
	app := newTestApp(NewAutomationHandler(auto, nil, nil))

	_, env := do(t, app, fiber.MethodPost, "/api/v1/automation/stop", "")
	assert.Contains(t, string(env.Data), "already_stopped")
	assert.Zero(t, auto.stops)

	auto.running = true
	status, env := do(t, app, fiber.MethodPost, "/api/v1/automation/stop", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, string(env.Data), `"stopped"`)

	status, env = do(t, app, fiber.MethodPost, "/api/v1/automation/restart", `{"check_interval":5}`)
	assert.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"status":"restarted","check_interval":5}`, string(env.Data))
	assert.True(t, auto.Status().IsRunning)
}

func TestAutomationHandler_StopTimeout(t *testing.T) {
	auto := &fakeAutomation{running: true, stopErr: context.DeadlineExceeded}
	app := newTestApp(NewAutomationHandler(auto, nil, nil))

	status, env := do(t, app, fiber.MethodPost, "/api/v1/automation/stop", "")
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, apperr.CodeUnavailable, env.Error.Code)
}

func TestAutomationHandler_Status(t *testing.T) {
	auto := &fakeAutomation{running: true, interval: time.Minute}
	app := newTestApp(NewAutomationHandler(auto, nil, nil))

	status, env := do(t, app, fiber.MethodGet, "/api/v1/automation/status", "")
	assert.Equal(t, fiber.StatusOK, status)

	var st in.AutomationStatus
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.True(t, st.IsRunning)
	assert.Equal(t, "running", st.State)
	assert.Equal(t, 60.0, st.CheckInterval)
}

func TestAutomationHandler_Stats(t *testing.T) {
	stats := &fakeStats{}
	app := newTestApp(NewAutomationHandler(&fakeAutomation{}, nil, stats))

	status, env := do(t, app, fiber.MethodGet, "/api/v1/automation/stats", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, 24*time.Hour, stats.period)
	assert.False(t, stats.summary)
	assert.Contains(t, string(env.Data), "service_status")

	_, env = do(t, app, fiber.MethodGet, "/api/v1/automation/stats?period=168h&summary=true", "")
	assert.Equal(t, 168*time.Hour, stats.period)
	assert.True(t, stats.summary)
	assert.Contains(t, string(env.Data), "quiet day")

	status, _ = do(t, app, fiber.MethodGet, "/api/v1/automation/stats?period=soon", "")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestAutomationHandler_StatsIncludesLatency(t *testing.T) {
	reg := metrics.NewRegistry(8)
	reg.Record("classify", 12*time.Millisecond)
	h := NewAutomationHandler(&fakeAutomation{}, nil, &fakeStats{}).WithLatency(reg)
	app := newTestApp(h)

	status, env := do(t, app, fiber.MethodGet, "/api/v1/automation/stats", "")
	assert.Equal(t, fiber.StatusOK, status)

	var data struct {
		Latency map[string]metrics.LatencyStats `json:"latency"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, int64(1), data.Latency["classify"].Count)
	assert.Equal(t, 12.0, data.Latency["classify"].AvgMs)
}

func TestAutomationHandler_StatsWithoutLog(t *testing.T) {
	app := newTestApp(NewAutomationHandler(&fakeAutomation{}, nil, nil))

	status, env := do(t, app, fiber.MethodGet, "/api/v1/automation/stats", "")
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, apperr.CodeUnavailable, env.Error.Code)
}

func TestAutomationHandler_ProcessByID(t *testing.T) {
	auto := &fakeAutomation{}
	inbox := &fakeInbox{messages: map[string]*domain.InboundMessage{
		"m1": {ID: "m1", Subject: "Printer jammed", SenderAddress: "sam@customer.example"},
	}}
	app := newTestApp(NewAutomationHandler(auto, inbox, nil))

	status, env := do(t, app, fiber.MethodPost, "/api/v1/automation/process", `{"message_id":"m1"}`)
	assert.Equal(t, fiber.StatusOK, status)
	require.Len(t, auto.processed, 1)
	assert.Equal(t, "Printer jammed", auto.processed[0].Subject)
	assert.Contains(t, string(env.Data), `"message_id":"m1"`)

	status, env = do(t, app, fiber.MethodPost, "/api/v1/automation/process", `{"message_id":"missing"}`)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, apperr.CodeNotFound, env.Error.Code)
}

func TestAutomationHandler_ProcessInline(t *testing.T) {
	auto := &fakeAutomation{}
	app := newTestApp(NewAutomationHandler(auto, nil, nil))

	status, _ := do(t, app, fiber.MethodPost, "/api/v1/automation/process",
		`{"message":{"id":"inline-1","subject":"Refund","sender_email":"lee@customer.example","body":"I was charged twice"}}`)
	assert.Equal(t, fiber.StatusOK, status)
	require.Len(t, auto.processed, 1)
	assert.Equal(t, "inline-1", auto.processed[0].ID)
	assert.False(t, auto.processed[0].ReceivedAt.IsZero())

	status, env := do(t, app, fiber.MethodPost, "/api/v1/automation/process", `{"message":{"subject":"no id"}}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, apperr.CodeBadRequest, env.Error.Code)

	status, _ = do(t, app, fiber.MethodPost, "/api/v1/automation/process", `{}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestAutomationHandler_ProcessFailureCarriesPartialResult(t *testing.T) {
	auto := &fakeAutomation{
		procErr: apperr.Collaborator("gmail", "send reply", errors.New("quota exceeded")),
		result:  &in.ProcessResult{MessageID: "m9", Processed: false},
	}
	app := newTestApp(NewAutomationHandler(auto, nil, nil))

	status, env := do(t, app, fiber.MethodPost, "/api/v1/automation/process", `{"message":{"id":"m9"}}`)
	assert.Equal(t, fiber.StatusBadGateway, status)
	assert.Equal(t, apperr.CodeExternalError, env.Error.Code)
	require.Contains(t, env.Error.Details, "result")
	assert.Equal(t, "m9", env.Error.Details["result"].(map[string]any)["message_id"])
}

func TestHealthHandler(t *testing.T) {
	app := fiber.New()
	NewHealthHandler(
		HealthCheck{Name: "postgres", Ping: func(context.Context) error { return nil }},
		HealthCheck{Name: "redis", Ping: func(context.Context) error { return errors.New("connection refused") }},
	).Register(app)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/ready", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "not ready", body.Status)
	assert.Equal(t, "healthy", body.Checks["postgres"])
	assert.Contains(t, body.Checks["redis"], "connection refused")
}
