package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/score-hub/score-hub/internal/cache"
	"github.com/score-hub/score-hub/internal/classify"
	"github.com/score-hub/score-hub/internal/config"
	"github.com/score-hub/score-hub/internal/lifecycle"
	"github.com/score-hub/score-hub/internal/server"
)

const (
	testStaticGen = "scorehub-static-v1"
	testDataGen   = "scorehub-data-v1"
)

type testAgent struct {
	app      *fiber.App
	store    cache.Store
	manager  *lifecycle.Manager
	upstream string
}

// newTestAgent wires a full classify→policy→respond pipeline against the
// given upstream base URL.
func newTestAgent(t *testing.T, upstream string) *testAgent {
	t.Helper()

	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	parsed, err := url.Parse(upstream)
	if err != nil {
		t.Fatalf("parse upstream: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	client := &http.Client{Timeout: time.Second}
	manager, err := lifecycle.NewManager(lifecycle.Options{
		Client:    client,
		Logger:    logger,
		Store:     store,
		Upstream:  parsed,
		StaticGen: testStaticGen,
		DataGen:   testDataGen,
		Manifest:  []string{"/"},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	classifier := classify.New(config.ClassifierConfig{
		DataPaths:     []string{"/data/", "/api/"},
		StaticPaths:   []string{"/static/"},
		StaticOrigins: []string{"cdn.jsdelivr.net"},
	})

	handler := NewHandler(client, logger, store, classifier, manager, parsed)
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Agent:      handler,
		ListenPort: 5000,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	return &testAgent{app: app, store: store, manager: manager, upstream: upstream}
}

// deadUpstream returns a base URL that refuses connections.
func deadUpstream(t *testing.T) string {
	t.Helper()
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	s.Close()
	return s.URL
}

func (a *testAgent) get(t *testing.T, path string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "http://scorehub.local"+path, nil)
	resp, err := a.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return body
}

func TestDataPolicyWriteThrough(t *testing.T) {
	payload := `{"players":[{"name":"A","score":10}]}`
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, payload)
	}))
	t.Cleanup(upstream.Close)

	agent := newTestAgent(t, upstream.URL)
	resp := agent.get(t, "/data/players.json")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := string(readBody(t, resp)); got != payload {
		t.Fatalf("expected byte-identical payload, got %s", got)
	}
	if resp.Header.Get("X-Score-Hub-Offline") != "" {
		t.Fatalf("fresh data must not carry offline marker")
	}

	key := cache.NewKey(http.MethodGet, upstream.URL+"/data/players.json")
	cached, err := agent.store.Match(context.Background(), testDataGen, key)
	if err != nil {
		t.Fatalf("expected write-through entry, got %v", err)
	}
	if string(cached.Body) != payload {
		t.Fatalf("cache not byte-identical: %s", string(cached.Body))
	}
}

func TestDataPolicyStaleFallback(t *testing.T) {
	dead := deadUpstream(t)
	agent := newTestAgent(t, dead)

	key := cache.NewKey(http.MethodGet, dead+"/data/players.json")
	seed := &cache.Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   []byte(`{"players":[{"name":"A","score":10}]}`),
	}
	if err := agent.store.Put(context.Background(), testDataGen, key, seed); err != nil {
		t.Fatalf("seed put: %v", err)
	}

	resp := agent.get(t, "/data/players.json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("degraded data must keep success status, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Score-Hub-Offline") != "stale" {
		t.Fatalf("expected stale marker, got %q", resp.Header.Get("X-Score-Hub-Offline"))
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(readBody(t, resp), &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if parsed["offline"] != true {
		t.Fatalf("expected offline flag, got %v", parsed)
	}
	players, ok := parsed["players"].([]interface{})
	if !ok || len(players) != 1 {
		t.Fatalf("expected cached players preserved, got %v", parsed["players"])
	}
	player := players[0].(map[string]interface{})
	if player["name"] != "A" || player["score"] != float64(10) {
		t.Fatalf("cached values lost: %v", player)
	}
}

func TestDataPolicyEmptyEnvelope(t *testing.T) {
	agent := newTestAgent(t, deadUpstream(t))

	resp := agent.get(t, "/data/players.json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Score-Hub-Offline") != "empty" {
		t.Fatalf("expected empty marker, got %q", resp.Header.Get("X-Score-Hub-Offline"))
	}

	var parsed struct {
		Offline      bool          `json:"offline"`
		Players      []interface{} `json:"players"`
		Scores       []interface{} `json:"scores"`
		TotalPlayers int           `json:"total_players"`
		UpdatedAt    string        `json:"updated_at"`
	}
	if err := json.Unmarshal(readBody(t, resp), &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !parsed.Offline {
		t.Fatalf("expected offline flag")
	}
	if len(parsed.Players) != 0 || len(parsed.Scores) != 0 || parsed.TotalPlayers != 0 || parsed.UpdatedAt != "" {
		t.Fatalf("expected zeroed envelope, got %+v", parsed)
	}
}

func TestDataPolicyNonObjectPayloadDegradesToEnvelope(t *testing.T) {
	dead := deadUpstream(t)
	agent := newTestAgent(t, dead)

	// A top-level array has no place for the offline flag; the envelope
	// contract is an object, so the entry is treated as unusable.
	key := cache.NewKey(http.MethodGet, dead+"/data/players.json")
	seed := &cache.Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   []byte(`[{"name":"A","score":10}]`),
	}
	if err := agent.store.Put(context.Background(), testDataGen, key, seed); err != nil {
		t.Fatalf("seed put: %v", err)
	}

	resp := agent.get(t, "/data/players.json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Score-Hub-Offline") != "empty" {
		t.Fatalf("expected empty marker, got %q", resp.Header.Get("X-Score-Hub-Offline"))
	}

	var parsed struct {
		Offline bool `json:"offline"`
	}
	if err := json.Unmarshal(readBody(t, resp), &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !parsed.Offline {
		t.Fatalf("expected offline flag on the synthesized envelope")
	}
}

func TestStaticPolicyMissStoresAndServes(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		io.WriteString(w, "body{}")
	}))
	t.Cleanup(upstream.Close)

	agent := newTestAgent(t, upstream.URL)
	resp := agent.get(t, "/static/app.css")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Score-Hub-Cache") != "miss" {
		t.Fatalf("expected miss, got %q", resp.Header.Get("X-Score-Hub-Cache"))
	}

	key := cache.NewKey(http.MethodGet, upstream.URL+"/static/app.css")
	if _, err := agent.store.Match(context.Background(), testStaticGen, key); err != nil {
		t.Fatalf("expected stored entry, got %v", err)
	}
}

func TestStaticPolicyServesCacheFirstThenRefreshes(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "v2")
	}))
	t.Cleanup(upstream.Close)

	agent := newTestAgent(t, upstream.URL)

	key := cache.NewKey(http.MethodGet, upstream.URL+"/static/app.js")
	seed := &cache.Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/javascript"}},
		Body:   []byte("v1"),
	}
	if err := agent.store.Put(context.Background(), testStaticGen, key, seed); err != nil {
		t.Fatalf("seed put: %v", err)
	}

	resp := agent.get(t, "/static/app.js")
	if resp.Header.Get("X-Score-Hub-Cache") != "hit" {
		t.Fatalf("expected hit, got %q", resp.Header.Get("X-Score-Hub-Cache"))
	}
	if got := string(readBody(t, resp)); got != "v1" {
		t.Fatalf("hit must serve the cached value, got %s", got)
	}

	// The asynchronous refresh overwrites the entry for future requests.
	deadline := time.After(2 * time.Second)
	for {
		cached, err := agent.store.Match(context.Background(), testStaticGen, key)
		if err == nil && string(cached.Body) == "v2" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("refresh did not update the cache entry")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStaticPolicyFailureIsSurfaced(t *testing.T) {
	agent := newTestAgent(t, deadUpstream(t))

	resp := agent.get(t, "/static/app.css")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("static failures must surface, got %d", resp.StatusCode)
	}
	body := readBody(t, resp)
	if !strings.Contains(string(body), "asset_unavailable") {
		t.Fatalf("expected asset_unavailable error, got %s", string(body))
	}
}

func TestStaticServesPreviousGenerationAfterFailedInstall(t *testing.T) {
	dead := deadUpstream(t)
	agent := newTestAgent(t, dead)

	// Warm generation left over from a prior version.
	key := cache.NewKey(http.MethodGet, dead+"/static/app.css")
	seed := &cache.Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/css"}},
		Body:   []byte("body{}"),
	}
	if err := agent.store.Put(context.Background(), "scorehub-static-v0", key, seed); err != nil {
		t.Fatalf("seed put: %v", err)
	}

	if err := agent.manager.Install(context.Background()); err == nil {
		t.Fatalf("expected install failure against dead upstream")
	}

	resp := agent.get(t, "/static/app.css")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("previous generation should keep serving after a failed install, got %d", resp.StatusCode)
	}
	if got := string(readBody(t, resp)); got != "body{}" {
		t.Fatalf("unexpected body: %s", got)
	}
	if resp.Header.Get("X-Score-Hub-Cache") != "hit" {
		t.Fatalf("expected hit from surviving generation, got %q", resp.Header.Get("X-Score-Hub-Cache"))
	}
}

func TestNavigationServedAsIsAndNotCached(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<html>live</html>")
	}))
	t.Cleanup(upstream.Close)

	agent := newTestAgent(t, upstream.URL)
	resp := agent.get(t, "/leaderboard")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := string(readBody(t, resp)); got != "<html>live</html>" {
		t.Fatalf("navigation must be served as-is, got %s", got)
	}

	key := cache.NewKey(http.MethodGet, upstream.URL+"/leaderboard")
	if _, err := agent.store.Match(context.Background(), testStaticGen, key); err != cache.ErrNotFound {
		t.Fatalf("navigations must not be cached, got %v", err)
	}
}

func TestNavigationFallsBackToCachedRoot(t *testing.T) {
	dead := deadUpstream(t)
	agent := newTestAgent(t, dead)

	rootKey := cache.NewKey(http.MethodGet, dead+"/")
	shell := &cache.Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/html"}},
		Body:   []byte("<html>shell</html>"),
	}
	if err := agent.store.Put(context.Background(), testStaticGen, rootKey, shell); err != nil {
		t.Fatalf("seed put: %v", err)
	}

	resp := agent.get(t, "/leaderboard")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := string(readBody(t, resp)); got != "<html>shell</html>" {
		t.Fatalf("expected cached shell, got %s", got)
	}
}

func TestNavigationOfflinePage(t *testing.T) {
	agent := newTestAgent(t, deadUpstream(t))

	resp := agent.get(t, "/leaderboard")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("offline page must use status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Fatalf("expected html, got %s", ct)
	}
	body := string(readBody(t, resp))
	if !strings.Contains(body, "You are offline") {
		t.Fatalf("expected offline document, got %s", body)
	}
}

func TestUnknownOriginFallsBackWithoutCaching(t *testing.T) {
	agent := newTestAgent(t, deadUpstream(t))

	resp := agent.get(t, "/ext/tracker.example.com/beacon.js")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected fallback page, got %d", resp.StatusCode)
	}

	names, err := agent.store.Generations(context.Background())
	if err != nil {
		t.Fatalf("generations: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("unlisted origins must never create cache entries, got %v", names)
	}
}

func TestMutatingRequestsPassThrough(t *testing.T) {
	var seenMethod string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenMethod = r.Method
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":1}`)
	}))
	t.Cleanup(upstream.Close)

	agent := newTestAgent(t, upstream.URL)
	req := httptest.NewRequest(http.MethodPost, "http://scorehub.local/data/scores", strings.NewReader(`{"score":3}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := agent.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected upstream status preserved, got %d", resp.StatusCode)
	}
	if seenMethod != http.MethodPost {
		t.Fatalf("expected POST forwarded, got %s", seenMethod)
	}

	keys, err := agent.store.Keys(context.Background(), testDataGen)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("mutating requests must never be cached, got %v", keys)
	}
}
