package http

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"triage_server/core/domain"
	"triage_server/core/port/in"
	"triage_server/core/port/out"
	"triage_server/core/service/report"
	"triage_server/pkg/apperr"
	"triage_server/pkg/metrics"
	"triage_server/pkg/response"
)

const defaultControlTimeout = 30 * time.Second

// StatsReader is the analytics side of the report service.
type StatsReader interface {
	Stats(ctx context.Context, period time.Duration) (*report.Stats, error)
	StatsWithSummary(ctx context.Context, period time.Duration) (*report.Stats, error)
}

// LatencyReader reports per-stage pipeline timings.
type LatencyReader interface {
	Snapshot() map[string]metrics.LatencyStats
}

// AutomationHandler exposes start/stop/status and manual processing of the triage loop.
type AutomationHandler struct {
	automation in.AutomationService
	inbox      out.InboxProvider
	stats      StatsReader
	latency    LatencyReader
	timeout    time.Duration
}

// NewAutomationHandler wires the handler. inbox and stats may be nil; the
// routes that need them answer 503.
func NewAutomationHandler(automation in.AutomationService, inbox out.InboxProvider, stats StatsReader) *AutomationHandler {
	return &AutomationHandler{
		automation: automation,
		inbox:      inbox,
		stats:      stats,
		timeout:    defaultControlTimeout,
	}
}

// WithLatency adds stage timings to the stats response.
func (h *AutomationHandler) WithLatency(r LatencyReader) *AutomationHandler {
	h.latency = r
	return h
}

func (h *AutomationHandler) Register(router fiber.Router) {
	g := router.Group("/automation")

	g.Post("/start", h.Start)
	g.Post("/stop", h.Stop)
	g.Post("/restart", h.Restart)
	g.Get("/status", h.Status)
	g.Get("/stats", h.Stats)
	g.Post("/process", h.Process)
}

type controlRequest struct {
	// CheckInterval is in seconds.
	CheckInterval *int `json:"check_interval"`
}

type processRequest struct {
	MessageID string                 `json:"message_id"`
	Message   *domain.InboundMessage `json:"message"`
}

// controlContext is detached from the request: fasthttp recycles its context
// once the handler returns, and the loop outlives the request.
func (h *AutomationHandler) controlContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.timeout)
}

func (h *AutomationHandler) Start(c *fiber.Ctx) error {
	req, err := parseControl(c)
	if err != nil {
		return err
	}

	if h.automation.Status().IsRunning {
		return response.OK(c, fiber.Map{
			"status":  "already_running",
			"message": "automation is already running",
		})
	}
	if req.CheckInterval != nil {
		h.automation.SetCheckInterval(time.Duration(*req.CheckInterval) * time.Second)
	}

	ctx, cancel := h.controlContext()
	defer cancel()
	if err := h.automation.Start(ctx); err != nil {
		return apperr.AsAppError(err)
	}

	return response.OK(c, fiber.Map{
		"status":         "started",
		"check_interval": h.automation.Status().CheckInterval,
	})
}

func (h *AutomationHandler) Stop(c *fiber.Ctx) error {
	if !h.automation.Status().IsRunning {
		return response.OK(c, fiber.Map{
			"status":  "already_stopped",
			"message": "automation is not running",
		})
	}

	ctx, cancel := h.controlContext()
	defer cancel()
	if err := h.automation.Stop(ctx); err != nil {
		return apperr.New(apperr.CodeUnavailable, "automation did not stop in time", fiber.StatusServiceUnavailable)
	}

	return response.OK(c, fiber.Map{"status": "stopped"})
}

func (h *AutomationHandler) Restart(c *fiber.Ctx) error {
	req, err := parseControl(c)
	if err != nil {
		return err
	}

	ctx, cancel := h.controlContext()
	defer cancel()

	if err := h.automation.Stop(ctx); err != nil {
		return apperr.New(apperr.CodeUnavailable, "automation did not stop in time", fiber.StatusServiceUnavailable)
	}
	if req.CheckInterval != nil {
		h.automation.SetCheckInterval(time.Duration(*req.CheckInterval) * time.Second)
	}
	if err := h.automation.Start(ctx); err != nil {
		return apperr.AsAppError(err)
	}

	return response.OK(c, fiber.Map{
		"status":         "restarted",
		"check_interval": h.automation.Status().CheckInterval,
	})
}

func (h *AutomationHandler) Status(c *fiber.Ctx) error {
	return response.OK(c, h.automation.Status())
}

// Stats returns interaction analytics. Query: period (Go duration, default 24h), summary=true.
func (h *AutomationHandler) Stats(c *fiber.Ctx) error {
	if h.stats == nil {
		return apperr.Unavailable("interaction log")
	}

	period := 24 * time.Hour
	if raw := c.Query("period"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return apperr.BadRequest("period must be a positive duration such as 24h")
		}
		period = d
	}

	var stats *report.Stats
	var err error
	if c.QueryBool("summary") {
		stats, err = h.stats.StatsWithSummary(c.UserContext(), period)
	} else {
		stats, err = h.stats.Stats(c.UserContext(), period)
	}
	if err != nil {
		return apperr.AsAppError(err)
	}

	body := fiber.Map{
		"stats":          stats,
		"service_status": h.automation.Status(),
	}
	if h.latency != nil {
		body["latency"] = h.latency.Snapshot()
	}
	return response.OK(c, body)
}

// Process runs one message through the pipeline, either fetched by
// message_id or supplied inline.
func (h *AutomationHandler) Process(c *fiber.Ctx) error {
	var req processRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	msg := req.Message
	switch {
	case msg != nil:
		if strings.TrimSpace(msg.ID) == "" {
			return apperr.BadRequest("message.id is required")
		}
		if msg.ReceivedAt.IsZero() {
			msg.ReceivedAt = time.Now().UTC()
		}
	case req.MessageID != "":
		if h.inbox == nil {
			return apperr.Unavailable("inbox")
		}
		fetched, err := h.inbox.Get(c.UserContext(), req.MessageID)
		if err != nil {
			if out.IsNotFound(err) {
				return apperr.NotFound("message " + req.MessageID)
			}
			return apperr.AsAppError(apperr.Collaborator("inbox", "get", err))
		}
		msg = fetched
	default:
		return apperr.BadRequest("message_id or message is required")
	}

	result, err := h.automation.ProcessOne(c.UserContext(), msg)
	if err != nil {
		appErr := apperr.AsAppError(err)
		if result != nil {
			appErr = appErr.WithDetail("result", result)
		}
		return appErr
	}

	return response.OK(c, result)
}

func parseControl(c *fiber.Ctx) (*controlRequest, error) {
	var req controlRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return nil, apperr.BadRequest("invalid request body")
		}
	}
	if req.CheckInterval != nil && *req.CheckInterval <= 0 {
		return nil, apperr.BadRequest("check_interval must be a positive number of seconds")
	}
	return &req, nil
}
