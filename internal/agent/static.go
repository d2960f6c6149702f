package agent

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/score-hub/score-hub/internal/cache"
)

// staticRefreshTimeout bounds the asynchronous re-fetch that follows a cache
// hit; the response has already been sent, so the refresh only ever affects
// future requests.
const staticRefreshTimeout = 30 * time.Second

// resolveStatic applies the cache-first-with-refresh policy. A hit serves
// the cached entry immediately and refreshes it in the background. A miss
// fetches from network, stores on success, and surfaces failure to the
// caller as a resource-not-found error without further degradation.
func (h *Handler) resolveStatic(ctx context.Context, c fiber.Ctx, target, requestID string, started time.Time) error {
	generation := h.lifecycle.StaticGeneration()
	key := cache.NewKey(http.MethodGet, target)

	cached, err := h.store.Match(ctx, generation, key)
	if err == nil {
		go h.refreshStatic(generation, key, target)
		h.logRequest("static", key.String(), true, false, requestID, started, nil)
		return h.serve(c, cached, "hit", "")
	}
	if !errors.Is(err, cache.ErrNotFound) {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"action": "cache_match_failed",
			"key":    key.String(),
		}).Warn("static lookup degraded to network")
	}

	resp, fetchErr := h.fetchCapture(ctx, target)
	if fetchErr != nil {
		h.logRequest("static", key.String(), false, false, requestID, started, fetchErr)
		return h.writeError(c, fiber.StatusNotFound, "asset_unavailable")
	}

	if isCacheableStatus(resp.Status) {
		if putErr := h.store.Put(context.WithoutCancel(ctx), generation, key, resp); putErr != nil {
			h.logger.WithError(putErr).WithFields(logrus.Fields{
				"action": "cache_write_failed",
				"key":    key.String(),
			}).Warn("static entry not stored")
		}
	}

	h.logRequest("static", key.String(), false, false, requestID, started, nil)
	return h.serve(c, resp, "miss", "")
}

// refreshStatic re-fetches a static asset and overwrites its cache entry.
// Failures only surface in logs; the entry keeps its previous value.
func (h *Handler) refreshStatic(generation string, key cache.Key, target string) {
	ctx, cancel := context.WithTimeout(context.Background(), staticRefreshTimeout)
	defer cancel()

	resp, err := h.fetchCapture(ctx, target)
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"action": "static_refresh_failed",
			"key":    key.String(),
		}).Debug("keeping previous entry")
		return
	}
	if !isCacheableStatus(resp.Status) {
		return
	}

	if err := h.store.Put(ctx, generation, key, resp); err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"action": "static_refresh_failed",
			"key":    key.String(),
		}).Warn("refresh write failed")
	}
}
