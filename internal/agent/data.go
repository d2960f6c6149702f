package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/score-hub/score-hub/internal/cache"
)

// resolveData applies the network-first-with-cache-fallback policy. Fresh
// responses are written through to the data generation and returned
// byte-identical. On network failure the last cached value is returned with
// an injected "offline":true flag; with no cached value a synthesized empty
// envelope is returned instead. Both degraded shapes keep an HTTP success
// status so the page parses them uniformly.
func (h *Handler) resolveData(ctx context.Context, c fiber.Ctx, target, requestID string, started time.Time) error {
	generation := h.lifecycle.DataGeneration()
	key := cache.NewKey(http.MethodGet, target)

	resp, err := h.fetchCapture(ctx, target)
	if err == nil && isCacheableStatus(resp.Status) {
		if putErr := h.store.Put(context.WithoutCancel(ctx), generation, key, resp); putErr != nil {
			h.logger.WithError(putErr).WithFields(logrus.Fields{
				"action": "cache_write_failed",
				"key":    key.String(),
			}).Warn("data entry not stored")
		}
		h.logRequest("data", key.String(), false, false, requestID, started, nil)
		return h.serve(c, resp, "miss", "")
	}
	if err != nil {
		h.logRequest("data", key.String(), false, true, requestID, started, err)
	}

	cached, matchErr := h.store.Match(ctx, generation, key)
	if matchErr == nil {
		if stale, ok := injectOfflineFlag(cached.Body); ok {
			h.logRequest("data", key.String(), true, true, requestID, started, nil)
			return h.serveOfflineJSON(c, stale, "hit", "stale")
		}
		h.logger.WithFields(logrus.Fields{
			"action": "cache_entry_unusable",
			"key":    key.String(),
		}).Warn("cached payload is not a JSON object")
	}

	h.logRequest("data", key.String(), false, true, requestID, started, nil)
	return h.serveOfflineJSON(c, offlineDataEnvelope(), "miss", "empty")
}

// serveOfflineJSON 输出降级 JSON；状态码固定为 200，让页面统一解析。
func (h *Handler) serveOfflineJSON(c fiber.Ctx, body []byte, cacheState, offlineState string) error {
	c.Set(fiber.HeaderContentType, "application/json; charset=utf-8")
	c.Set("X-Score-Hub-Cache", cacheState)
	c.Set("X-Score-Hub-Offline", offlineState)
	c.Status(fiber.StatusOK)
	if c.Method() == http.MethodHead {
		return nil
	}
	return c.Send(body)
}

// injectOfflineFlag 在缓存的 JSON 对象上追加 offline:true 标记，使陈旧
// 数据对页面可辨识，避免把旧比分当成实时数据展示。
func injectOfflineFlag(body []byte) ([]byte, bool) {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		return nil, false
	}
	payload["offline"] = true

	out, err := json.Marshal(payload)
	if err != nil {
		return nil, false
	}
	return out, true
}
