// Package lifecycle owns cache generation promotion. Install pre-warms the
// next static generation from the asset manifest all-or-nothing, activation
// garbage-collects every superseded generation, and an epoch of in-flight
// requests is drained before any deletion so no policy ever reads from a
// generation being removed.
package lifecycle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"

	"github.com/score-hub/score-hub/internal/cache"
	"github.com/score-hub/score-hub/internal/classify"
)

// State tracks agent lifecycle progression.
type State string

const (
	StateNew        State = "new"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActive     State = "active"
)

// Manager drives install/activate transitions and exposes the current
// generation names that resolution policies address.
type Manager struct {
	client   *http.Client
	logger   *logrus.Logger
	store    cache.Store
	upstream *url.URL

	staticGen string
	dataGen   string
	manifest  []string

	mu           sync.Mutex
	state        State
	epoch        *epoch
	activeStatic string
	activeData   string
}

// Options bundles Manager dependencies; Manifest entries are agent-local
// paths resolved against the upstream base URL.
type Options struct {
	Client    *http.Client
	Logger    *logrus.Logger
	Store     cache.Store
	Upstream  *url.URL
	StaticGen string
	DataGen   string
	Manifest  []string
}

// NewManager validates options and returns a Manager in StateNew.
func NewManager(opts Options) (*Manager, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("http client is required")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if opts.Upstream == nil {
		return nil, fmt.Errorf("upstream url is required")
	}
	if opts.StaticGen == "" || opts.DataGen == "" {
		return nil, fmt.Errorf("generation names are required")
	}

	return &Manager{
		client:    opts.Client,
		logger:    opts.Logger,
		store:     opts.Store,
		upstream:  opts.Upstream,
		staticGen: opts.StaticGen,
		dataGen:   opts.DataGen,
		manifest:  append([]string(nil), opts.Manifest...),
		state:     StateNew,
		epoch:     newEpoch(),
	}, nil
}

// StaticGeneration returns the generation name currently serving static
// assets. Until an install promotes the pending generation this may be an
// older generation that survived on disk.
func (m *Manager) StaticGeneration() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeStatic != "" {
		return m.activeStatic
	}
	return m.staticGen
}

// DataGeneration returns the generation name currently serving dashboard data.
func (m *Manager) DataGeneration() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeData != "" {
		return m.activeData
	}
	return m.dataGen
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Enter registers an in-flight request with the current epoch. The returned
// release must be called once the request has settled. Registration happens
// under the same lock drain uses to swap epochs, so a sealed epoch can never
// gain new members.
func (m *Manager) Enter() func() {
	m.mu.Lock()
	e := m.epoch
	e.enter()
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { e.release() })
	}
}

// Install fetches every manifest asset and stores it into the static
// generation. The whole pass is all-or-nothing: every asset is fetched into
// memory first, and nothing is written unless all fetches succeeded, so a
// failed install leaves whatever generation was serving before untouched.
// Re-running Install with an unchanged manifest overwrites the same entry
// set in place.
func (m *Manager) Install(ctx context.Context) error {
	m.setState(StateInstalling)

	type warmed struct {
		key  cache.Key
		resp *cache.Response
	}

	assets := make([]warmed, 0, len(m.manifest))
	for _, entry := range m.manifest {
		target := classify.ResolveTarget(m.upstream, entry, "")
		resp, err := m.fetch(ctx, target)
		if err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"action": "install_failed",
				"asset":  entry,
			}).Error("manifest fetch failed, previous generation keeps serving")
			m.adoptSurviving(ctx)
			return fmt.Errorf("install %s: %w", entry, err)
		}
		assets = append(assets, warmed{key: cache.NewKey(http.MethodGet, target), resp: resp})
	}

	for _, asset := range assets {
		if err := m.store.Put(ctx, m.staticGen, asset.key, asset.resp); err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"action": "install_failed",
				"key":    asset.key.String(),
			}).Error("cache write failed")
			m.adoptSurviving(ctx)
			return fmt.Errorf("install write %s: %w", asset.key.URL, err)
		}
	}

	// 预热成功后才晋升：此前的读取仍然指向旧缓存代。
	m.mu.Lock()
	m.activeStatic = m.staticGen
	m.activeData = m.dataGen
	m.state = StateInstalled
	m.mu.Unlock()
	m.logger.WithFields(logrus.Fields{
		"action":     "install",
		"generation": m.staticGen,
		"assets":     len(assets),
	}).Info("static generation warmed")
	return nil
}

// Activate drains the current request epoch, then deletes every generation
// whose name is neither the serving static nor the serving data generation.
func (m *Manager) Activate(ctx context.Context) error {
	keepStatic := m.StaticGeneration()
	keepData := m.DataGeneration()

	m.setState(StateActivating)

	m.drain(ctx)

	names, err := m.store.Generations(ctx)
	if err != nil {
		return fmt.Errorf("enumerate generations: %w", err)
	}

	for _, name := range names {
		if name == keepStatic || name == keepData {
			continue
		}
		if err := m.store.Drop(ctx, name); err != nil {
			return fmt.Errorf("drop generation %s: %w", name, err)
		}
		m.logger.WithFields(logrus.Fields{
			"action":     "generation_gc",
			"generation": name,
		}).Info("superseded generation removed")
	}

	m.setState(StateActive)
	return nil
}

// Purge deletes every generation, forcing the next install to repopulate
// from scratch. The current epoch is drained first, like activation.
func (m *Manager) Purge(ctx context.Context) error {
	m.drain(ctx)

	names, err := m.store.Generations(ctx)
	if err != nil {
		return fmt.Errorf("enumerate generations: %w", err)
	}
	for _, name := range names {
		if err := m.store.Drop(ctx, name); err != nil {
			return fmt.Errorf("drop generation %s: %w", name, err)
		}
	}

	m.mu.Lock()
	m.activeStatic = ""
	m.activeData = ""
	m.state = StateNew
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"action": "cache_purge",
		"count":  len(names),
	}).Info("all generations purged")
	return nil
}

// adoptSurviving points the generation accessors at the newest generations
// already on disk. A failed install must never expose the empty pending
// generation while older warm ones survive.
func (m *Manager) adoptSurviving(ctx context.Context) {
	names, err := m.store.Generations(ctx)
	if err != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if g := newestGeneration(names, m.staticGen); g != "" && m.activeStatic == "" {
		m.activeStatic = g
		m.logger.WithFields(logrus.Fields{
			"action":     "generation_fallback",
			"generation": g,
		}).Warn("serving previous static generation")
	}
	if g := newestGeneration(names, m.dataGen); g != "" && m.activeData == "" {
		m.activeData = g
		m.logger.WithFields(logrus.Fields{
			"action":     "generation_fallback",
			"generation": g,
		}).Warn("serving previous data generation")
	}
}

// newestGeneration picks the highest-versioned sibling of the pending
// generation name. The pending one itself is excluded: install is
// all-or-nothing, so after a failure it holds nothing worth serving.
func newestGeneration(names []string, pending string) string {
	prefix := strings.TrimRightFunc(pending, unicode.IsDigit)
	if prefix == pending {
		return ""
	}

	best := ""
	bestVersion := -1
	for _, name := range names {
		if name == pending || !strings.HasPrefix(name, prefix) {
			continue
		}
		version, err := strconv.Atoi(name[len(prefix):])
		if err != nil {
			continue
		}
		if version > bestVersion {
			best = name
			bestVersion = version
		}
	}
	return best
}

// drain seals the current epoch, installs a fresh one, and waits for the
// sealed epoch's in-flight requests to settle.
func (m *Manager) drain(ctx context.Context) {
	m.mu.Lock()
	old := m.epoch
	m.epoch = newEpoch()
	m.mu.Unlock()

	old.seal()

	select {
	case <-old.done:
	case <-ctx.Done():
	}
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

func (m *Manager) fetch(ctx context.Context, target string) (*cache.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

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

// epoch is a reference count of in-flight requests. Sealing an epoch closes
// done once the count reaches zero; a sealed empty epoch closes immediately.
type epoch struct {
	mu     sync.Mutex
	n      int
	sealed bool
	closed bool
	done   chan struct{}
}

func newEpoch() *epoch {
	return &epoch{done: make(chan struct{})}
}

func (e *epoch) enter() {
	e.mu.Lock()
	e.n++
	e.mu.Unlock()
}

func (e *epoch) release() {
	e.mu.Lock()
	e.n--
	if e.sealed && e.n <= 0 && !e.closed {
		e.closed = true
		close(e.done)
	}
	e.mu.Unlock()
}

func (e *epoch) seal() {
	e.mu.Lock()
	e.sealed = true
	if e.n <= 0 && !e.closed {
		e.closed = true
		close(e.done)
	}
	e.mu.Unlock()
}
