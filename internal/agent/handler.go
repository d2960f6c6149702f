package agent

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/score-hub/score-hub/internal/cache"
	"github.com/score-hub/score-hub/internal/classify"
	"github.com/score-hub/score-hub/internal/lifecycle"
	"github.com/score-hub/score-hub/internal/logging"
	"github.com/score-hub/score-hub/internal/server"
)

// Handler 负责 orchestrate “分类 → 策略 → 响应” 的全流程，对外暴露
// Fiber handler，内部复用共享 http.Client 与磁盘缓存。
type Handler struct {
	client     *http.Client
	logger     *logrus.Logger
	store      cache.Store
	classifier *classify.Classifier
	lifecycle  *lifecycle.Manager
	upstream   *url.URL
}

// NewHandler constructs the agent handler with shared client/logger/store.
func NewHandler(
	client *http.Client,
	logger *logrus.Logger,
	store cache.Store,
	classifier *classify.Classifier,
	manager *lifecycle.Manager,
	upstream *url.URL,
) *Handler {
	return &Handler{
		client:     client,
		logger:     logger,
		store:      store,
		classifier: classifier,
		lifecycle:  manager,
		upstream:   upstream,
	}
}

// Handle 执行请求分类与策略解析；任何分支最终都会产出响应，绝不向
// 请求管线抛出未处理错误。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)

	release := h.lifecycle.Enter()
	defer release()

	method := c.Method()
	requestPath := string(c.Request().URI().Path())
	rawQuery := append([]byte(nil), c.Request().URI().QueryString()...)

	result := h.classifier.Classify(method, requestPath)
	target := classify.ResolveTarget(h.upstream, requestPath, string(rawQuery))

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	switch result.Category {
	case classify.CategoryPassthrough:
		return h.passthrough(ctx, c, target, requestID, started)
	case classify.CategoryStatic:
		return h.resolveStatic(ctx, c, target, requestID, started)
	case classify.CategoryData:
		return h.resolveData(ctx, c, target, requestID, started)
	default:
		return h.resolveNavigation(ctx, c, target, requestID, started)
	}
}

// passthrough forwards mutating requests straight to the network
// collaborator; they are never classified for caching.
func (h *Handler) passthrough(ctx context.Context, c fiber.Ctx, target, requestID string, started time.Time) error {
	req, err := http.NewRequestWithContext(ctx, c.Method(), target, bytesReader(c.Body()))
	if err != nil {
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	copyRequestHeaders(req, c)

	resp, err := h.client.Do(req)
	if err != nil {
		h.logRequest("passthrough", target, false, false, requestID, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		h.logRequest("passthrough", target, false, false, requestID, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	captured := &cache.Response{Status: resp.StatusCode, Header: resp.Header.Clone(), Body: body}
	h.logRequest("passthrough", target, false, false, requestID, started, nil)
	return h.serve(c, captured, "bypass", "")
}

// fetchCapture issues a GET against target and captures the full response.
// Transport-level failures surface as errors; HTTP status handling is left
// to the calling policy.
func (h *Handler) fetchCapture(ctx context.Context, target string) (*cache.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &cache.Response{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now().UTC(),
	}, nil
}

// serve 写出最终响应；cacheState 与 offlineState 暴露在响应头，方便
// 页面区分“离线陈旧数据”与“实时数据”。
func (h *Handler) serve(c fiber.Ctx, resp *cache.Response, cacheState, offlineState string) error {
	for key, values := range resp.Header {
		if server.IsHopByHopHeader(key) || key == "Content-Length" {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}

	c.Set("X-Score-Hub-Cache", cacheState)
	if offlineState != "" {
		c.Set("X-Score-Hub-Offline", offlineState)
	}

	c.Status(resp.Status)
	if c.Method() == http.MethodHead {
		return nil
	}
	return c.Send(resp.Body)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logRequest(category, key string, cacheHit, offline bool, requestID string, started time.Time, err error) {
	fields := logging.RequestFields(category, key, cacheHit, offline)
	fields["action"] = "resolve"
	fields["duration_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		h.logger.WithFields(fields).Warn(err.Error())
		return
	}
	h.logger.WithFields(fields).Info("request resolved")
}

// isCacheableStatus 只允许 2xx 响应进入缓存，避免错误页污染条目。
func isCacheableStatus(status int) bool {
	return status >= 200 && status < 300
}

func bytesReader(body []byte) io.Reader {
	if len(body) == 0 {
		return nil
	}
	return bytes.NewReader(body)
}

func copyRequestHeaders(req *http.Request, c fiber.Ctx) {
	c.Request().Header.VisitAll(func(key, value []byte) {
		name := string(key)
		if server.IsHopByHopHeader(name) || name == fiber.HeaderHost {
			return
		}
		req.Header.Add(name, string(value))
	})
}
