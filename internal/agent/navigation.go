package agent

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/score-hub/score-hub/internal/cache"
)

// resolveNavigation applies the network-with-offline-page-fallback policy.
// A reachable network serves the response as-is without caching it. On
// failure the cached root document from the static generation is served;
// failing that, the embedded offline page goes out with status 200 so the
// browser renders it instead of a native error page.
func (h *Handler) resolveNavigation(ctx context.Context, c fiber.Ctx, target, requestID string, started time.Time) error {
	resp, err := h.fetchCapture(ctx, target)
	if err == nil {
		// Served as-is and never written into a generation; unlisted
		// cross-origin traffic lands here too, keeping growth bounded.
		h.logRequest("navigation", target, false, false, requestID, started, nil)
		return h.serve(c, resp, "bypass", "")
	}
	h.logRequest("navigation", target, false, true, requestID, started, err)

	rootKey := cache.NewKey(http.MethodGet, h.upstream.ResolveReference(&url.URL{Path: "/"}).String())
	cached, matchErr := h.store.Match(ctx, h.lifecycle.StaticGeneration(), rootKey)
	if matchErr == nil {
		return h.serve(c, cached, "hit", "stale")
	}

	c.Set(fiber.HeaderContentType, "text/html; charset=utf-8")
	c.Set("X-Score-Hub-Cache", "miss")
	c.Set("X-Score-Hub-Offline", "page")
	c.Status(fiber.StatusOK)
	if c.Method() == http.MethodHead {
		return nil
	}
	return c.SendString(offlinePageHTML)
}
