package classify

import (
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/score-hub/score-hub/internal/config"
)

// Category labels how a request should be resolved. Static assets are served
// cache-first, dashboard data network-first, navigations degrade to the
// offline page, and passthrough requests never touch the cache at all.
type Category string

const (
	CategoryStatic      Category = "static"
	CategoryData        Category = "data"
	CategoryNavigation  Category = "navigation"
	CategoryPassthrough Category = "passthrough"
)

// Result carries the category plus addressing hints. External marks a
// third-party mirror path (/ext/<origin>/<path>); Cacheable is false for
// traffic that must never be written into any generation, such as requests
// to origins outside the static allow-list.
type Result struct {
	Category  Category
	Cacheable bool
	External  bool
	Origin    string
	Path      string
}

// ExternalPrefix routes third-party assets through the agent. The dashboard
// page references UI libraries and fonts as /ext/<origin>/<path> so the agent
// can mirror them into the static generation.
const ExternalPrefix = "/ext/"

// Classifier applies the configured path/origin rules in priority order.
type Classifier struct {
	dataPaths     []string
	staticPaths   []string
	staticOrigins map[string]struct{}
}

// New builds a Classifier from config; origin matching is case-insensitive.
func New(cfg config.ClassifierConfig) *Classifier {
	origins := make(map[string]struct{}, len(cfg.StaticOrigins))
	for _, origin := range cfg.StaticOrigins {
		origins[strings.ToLower(origin)] = struct{}{}
	}
	return &Classifier{
		dataPaths:     append([]string(nil), cfg.DataPaths...),
		staticPaths:   append([]string(nil), cfg.StaticPaths...),
		staticOrigins: origins,
	}
}

// Classify maps a request to its category. Rules, in priority order:
// non-read methods are passthrough; /ext/ paths are static when the origin is
// allow-listed and uncacheable navigation-class otherwise; data paths and
// .json extensions are data; static paths and asset extensions are static;
// everything else is a navigation.
func (c *Classifier) Classify(method, requestPath string) Result {
	if method != http.MethodGet && method != http.MethodHead {
		return Result{Category: CategoryPassthrough, Path: requestPath}
	}

	if strings.HasPrefix(requestPath, ExternalPrefix) {
		origin, rest := splitExternal(requestPath)
		if origin == "" {
			return Result{Category: CategoryNavigation, Path: requestPath}
		}
		if _, ok := c.staticOrigins[strings.ToLower(origin)]; ok {
			return Result{
				Category:  CategoryStatic,
				Cacheable: true,
				External:  true,
				Origin:    origin,
				Path:      rest,
			}
		}
		// Unknown third-party origin: navigation-class for fallback
		// purposes, but never written into a cache generation.
		return Result{
			Category: CategoryNavigation,
			External: true,
			Origin:   origin,
			Path:     rest,
		}
	}

	if c.matchesPrefix(requestPath, c.dataPaths) || path.Ext(requestPath) == ".json" {
		return Result{Category: CategoryData, Cacheable: true, Path: requestPath}
	}

	if c.matchesPrefix(requestPath, c.staticPaths) || isAssetExtension(requestPath) {
		return Result{Category: CategoryStatic, Cacheable: true, Path: requestPath}
	}

	return Result{Category: CategoryNavigation, Path: requestPath}
}

func (c *Classifier) matchesPrefix(requestPath string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(requestPath, prefix) {
			return true
		}
	}
	return false
}

var assetExtensions = map[string]struct{}{
	".css":   {},
	".js":    {},
	".mjs":   {},
	".woff":  {},
	".woff2": {},
	".ttf":   {},
	".png":   {},
	".svg":   {},
	".ico":   {},
}

func isAssetExtension(requestPath string) bool {
	_, ok := assetExtensions[strings.ToLower(path.Ext(requestPath))]
	return ok
}

// ResolveTarget maps an agent-local path to its absolute fetch URL:
// /ext/<origin>/<path> mirrors become https://<origin>/<path>, everything
// else resolves against the upstream base. The lifecycle installer and the
// resolution policies share this so manifest keys and request keys agree.
func ResolveTarget(upstream *url.URL, requestPath, rawQuery string) string {
	if strings.HasPrefix(requestPath, ExternalPrefix) {
		if origin, rest := splitExternal(requestPath); origin != "" {
			u := url.URL{Scheme: "https", Host: origin, Path: rest, RawQuery: rawQuery}
			return u.String()
		}
	}
	ref := url.URL{Path: requestPath, RawQuery: rawQuery}
	return upstream.ResolveReference(&ref).String()
}

func splitExternal(requestPath string) (origin, rest string) {
	trimmed := strings.TrimPrefix(requestPath, ExternalPrefix)
	if trimmed == "" {
		return "", ""
	}
	idx := strings.Index(trimmed, "/")
	if idx < 0 {
		return trimmed, "/"
	}
	return trimmed[:idx], trimmed[idx:]
}
