package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AgentHandler describes the component responsible for resolving an
// intercepted request from cache, network, or a synthesized fallback.
// It allows injecting fake handlers during tests.
type AgentHandler interface {
	Handle(fiber.Ctx) error
}

// AgentHandlerFunc adapts a function to the AgentHandler interface.
type AgentHandlerFunc func(fiber.Ctx) error

// Handle makes AgentHandlerFunc satisfy AgentHandler.
func (f AgentHandlerFunc) Handle(c fiber.Ctx) error {
	return f(c)
}

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Agent      AgentHandler
	ListenPort int
}

const contextKeyRequestID = "_scorehub_request_id"

// NewApp builds a Fiber application that routes every non-diagnostics request
// through the agent handler, with structured error handling.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Agent == nil {
		return nil, errors.New("agent handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		return opts.Agent.Handle(c)
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，并写入响应头方便排障。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
