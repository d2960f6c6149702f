// Package routes exposes the /-/agent control surface consumed by the host
// page: force-refresh, cache introspection and purge, connectivity
// transitions, and the push/notification relay endpoints.
package routes

import (
	"context"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/score-hub/score-hub/internal/cache"
	"github.com/score-hub/score-hub/internal/lifecycle"
	"github.com/score-hub/score-hub/internal/notify"
	"github.com/score-hub/score-hub/internal/syncer"
)

// AgentDeps bundles the components the control surface drives.
type AgentDeps struct {
	Logger    *logrus.Logger
	Store     cache.Store
	Lifecycle *lifecycle.Manager
	Syncer    *syncer.Syncer
	Relay     *notify.Relay
}

// RegisterAgentRoutes 暴露 /-/agent 控制接口，供宿主页面驱动同步、
// 缓存管理与通知路由。
func RegisterAgentRoutes(app *fiber.App, deps AgentDeps) {
	if app == nil || deps.Store == nil || deps.Lifecycle == nil || deps.Syncer == nil || deps.Relay == nil {
		return
	}

	app.Get("/-/agent/state", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"state":             string(deps.Lifecycle.State()),
			"static_generation": deps.Lifecycle.StaticGeneration(),
			"data_generation":   deps.Lifecycle.DataGeneration(),
		})
	})

	app.Get("/-/agent/caches", func(c fiber.Ctx) error {
		names, err := deps.Store.Generations(requestContext(c))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_enumeration_failed"})
		}
		sort.Strings(names)
		return c.JSON(fiber.Map{"generations": names})
	})

	app.Delete("/-/agent/caches", func(c fiber.Ctx) error {
		if err := deps.Lifecycle.Purge(requestContext(c)); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_purge_failed"})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Post("/-/agent/sync", func(c fiber.Ctx) error {
		summary := deps.Syncer.SyncAll(requestContext(c))
		return c.JSON(summary)
	})

	app.Post("/-/agent/online", func(c fiber.Ctx) error {
		deps.Syncer.NotifyOnline()
		return c.SendStatus(fiber.StatusAccepted)
	})

	app.Post("/-/agent/offline", func(c fiber.Ctx) error {
		// Offline transitions carry no work today; policies degrade on
		// their own when fetches fail. Acknowledged for host symmetry.
		return c.SendStatus(fiber.StatusAccepted)
	})

	app.Post("/-/agent/push", func(c fiber.Ctx) error {
		desc, ok := deps.Relay.OnPush(append([]byte(nil), c.Body()...))
		if !ok {
			// At-most-once, best-effort: drops are invisible to senders.
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.JSON(desc)
	})

	app.Post("/-/agent/notifications/:action", func(c fiber.Ctx) error {
		action := notify.Action(strings.ToLower(strings.TrimSpace(c.Params("action"))))
		intent, ok := deps.Relay.OnAction(action)
		if !ok {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.JSON(intent)
	})
}

func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
