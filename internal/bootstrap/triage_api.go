package bootstrap

import (
	"context"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"triage_server/adapter/in/http"
	"triage_server/config"
	"triage_server/core/port/in"
	"triage_server/core/port/out"
	"triage_server/infra/middleware"
	"triage_server/pkg/logger"
)

// controlRateLimit is requests per minute per client on /api/v1.
const controlRateLimit = 60

// Routes holds what the control API serves.
type Routes struct {
	Automation in.AutomationService
	Inbox      out.InboxProvider
	Stats      http.StatsReader
	Latency    http.LatencyReader
	Checks     []http.HealthCheck
}

// NewApp builds the fiber app: health checks at the root, the control
// API under /api/v1, behind JWT when a secret is configured.
func NewApp(cfg *config.Config, routes Routes) *fiber.App {
	log := logger.Component("http")

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(log),
		DisableStartupMessage: cfg.IsProduction(),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             2 * 1024 * 1024,
		ReadBufferSize:        16384,
	})

	app.Use(middleware.Recover(log))
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.RequestLogger(log))
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := true
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
			allowCredentials = false
		} else {
			allowOrigins = "http://localhost:3000,http://localhost:5173"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	http.NewHealthHandler(routes.Checks...).Register(app)

	api := app.Group("/api/v1")
	api.Use(middleware.NewRateLimiter(controlRateLimit, time.Minute).Handler())
	if cfg.JWTSecret != "" {
		api.Use(middleware.JWTAuth(cfg.JWTSecret))
	} else if cfg.IsProduction() {
		log.Warn().Msg("jwt_secret is empty; control API is unauthenticated")
	}

	handler := http.NewAutomationHandler(routes.Automation, routes.Inbox, routes.Stats)
	if routes.Latency != nil {
		handler.WithLatency(routes.Latency)
	}
	handler.Register(api)
	return app
}

// NewAPI builds the app over a wired dependency graph.
func NewAPI(deps *Dependencies) *fiber.App {
	return NewApp(deps.Config, Routes{
		Automation: deps.Loop,
		Inbox:      deps.Gmail,
		Stats:      deps.Report,
		Latency:    deps.Latency,
		Checks:     deps.healthChecks(),
	})
}

func (d *Dependencies) healthChecks() []http.HealthCheck {
	var checks []http.HealthCheck
	if d.DB != nil {
		checks = append(checks, http.HealthCheck{Name: "postgres", Ping: d.DB.Ping})
	}
	if d.Redis != nil {
		checks = append(checks, http.HealthCheck{Name: "redis", Ping: func(ctx context.Context) error {
			return d.Redis.Ping(ctx).Err()
		}})
	}
	if d.MongoDB != nil {
		checks = append(checks, http.HealthCheck{Name: "mongodb", Ping: func(ctx context.Context) error {
			return d.MongoDB.Ping(ctx, nil)
		}})
	}
	return checks
}
