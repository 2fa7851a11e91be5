// Package gwhttp wires the gateway's inbound HTTP surface with fiber: the
// Gemini and OpenAI dialect routers, legacy path rewrites, health endpoint,
// and SSE emission toward the client.
package gwhttp

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/digitallysavvy/llmgateway/internal/config"
	"github.com/digitallysavvy/llmgateway/internal/dispatch"
	"github.com/digitallysavvy/llmgateway/internal/gwerrors"
	"github.com/digitallysavvy/llmgateway/internal/ratelimit"
	"github.com/digitallysavvy/llmgateway/internal/tokencount"
)

// Version is stamped at build time via -ldflags; left as a plain default
// here since the build/release pipeline is an external collaborator.
var Version = "dev"

// Server bundles the fiber app with the collaborators its handlers need.
type Server struct {
	App       *fiber.App
	cfg       *config.Config
	dispatch  *dispatch.Dispatcher
	tokens    *tokencount.Counter
	limiter   *ratelimit.Tracker
	startedAt time.Time
}

// New builds the fiber app and mounts every route for the configured
// gateway.apiMode.
func New(cfg *config.Config, d *dispatch.Dispatcher) *Server {
	app := fiber.New(fiber.Config{
		AppName:      "llmgateway",
		ErrorHandler: errorHandler,
	})

	app.Use(requestid.New())
	app.Use(logger.New(logger.Config{
		Format: "${time} ${locals:requestid} ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(cors.New())

	s := &Server{
		App:       app,
		cfg:       cfg,
		dispatch:  d,
		tokens:    tokencount.New(),
		limiter:   ratelimit.New(),
		startedAt: time.Now(),
	}

	s.mountPathRewrite()
	s.mountHealth()
	if cfg.Gateway.APIMode == "gemini" {
		s.mountGemini()
	}
	if cfg.Gateway.APIMode == "openai" {
		s.mountOpenAI()
	}

	return s
}

// mountPathRewrite installs the legacy-path middleware:
// `/api/v1beta/...` aliases `/api/v1/...`, and `/api/v1/models/...`
// aliases the Gemini surface when cliMode expects it.
func (s *Server) mountPathRewrite() {
	s.App.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		const betaPrefix = "/api/v1beta/"
		const v1Prefix = "/api/v1/"
		const modelsPrefix = "/api/v1/models/"

		switch {
		case len(path) >= len(betaPrefix) && path[:len(betaPrefix)] == betaPrefix:
			c.Path(v1Prefix + path[len(betaPrefix):])
		case s.cfg.Gateway.CLIMode != "" && s.cfg.Gateway.APIMode == "gemini" &&
			len(path) >= len(modelsPrefix) && path[:len(modelsPrefix)] == modelsPrefix:
			c.Path("/api/v1/gemini/models/" + path[len(modelsPrefix):])
		}
		return c.Next()
	})
}

func (s *Server) mountHealth() {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		available, burst := s.limiter.Headroom(s.cfg.AIProvider)
		return c.JSON(fiber.Map{
			"status":   "ok",
			"uptime":   time.Since(s.startedAt).String(),
			"version":  Version,
			"provider": s.cfg.AIProvider,
			"config": fiber.Map{
				"model":   s.modelFor(s.cfg.AIProvider),
				"baseURL": s.baseURLFor(s.cfg.AIProvider),
			},
			"gateway": fiber.Map{
				"apiMode": s.cfg.Gateway.APIMode,
				"cliMode": s.cfg.Gateway.CLIMode,
			},
			"rateLimit": fiber.Map{
				"available": available,
				"burst":     burst,
			},
		})
	})
}

func (s *Server) modelFor(provider string) string {
	switch provider {
	case config.ProviderOpenAI:
		return s.cfg.OpenAI.Model
	case config.ProviderCodex:
		return s.cfg.Codex.Model
	case config.ProviderClaudeCode:
		return s.cfg.ClaudeCode.Model
	default:
		return ""
	}
}

func (s *Server) baseURLFor(provider string) string {
	switch provider {
	case config.ProviderOpenAI:
		return s.cfg.OpenAI.BaseURL
	case config.ProviderCodex:
		return s.cfg.Codex.BaseURL
	case config.ProviderClaudeCode:
		return s.cfg.ClaudeCode.BaseURL
	default:
		return ""
	}
}

// requestContext derives a per-request context bounded by
// gateway.requestTimeout, with fasthttp's request context as parent (done
// when the server shuts down). A client disconnect is not signalled here;
// the streaming writers detect it as a failed write and call cancel.
func requestContext(c *fiber.Ctx, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx := c.Context()
	if timeout <= 0 {
		timeout = 3600 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func writeSSEHeaders(c *fiber.Ctx) {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")
}

func errorHandler(c *fiber.Ctx, err error) error {
	status := gwerrors.StatusCode(err)
	slog.Error("request failed", "path", c.Path(), "method", c.Method(), "error", err)
	body := fiber.Map{
		"statusCode": status,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"path":       c.Path(),
		"method":     c.Method(),
		"message":    err.Error(),
		"error":      gwerrors.Kind(err),
	}
	var ve *gwerrors.ValidationError
	if errors.As(err, &ve) {
		details := make([]fiber.Map, 0, len(ve.Violations))
		for _, v := range ve.Violations {
			details = append(details, fiber.Map{"field": v.Field, "reason": v.Reason})
		}
		body["details"] = details
	}
	return c.Status(status).JSON(body)
}
