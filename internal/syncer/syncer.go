// Package syncer keeps the data generation warm. A periodic ticker and an
// online-transition signal both trigger a best-effort refresh of every entry
// currently held in the data cache; individual key failures are logged and
// skipped, never aborting the batch.
package syncer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/score-hub/score-hub/internal/cache"
	"github.com/score-hub/score-hub/internal/logging"
)

// Summary reports one sync pass. Failed keys are retried naturally by the
// next trigger rather than within the same pass.
type Summary struct {
	Total     int `json:"total"`
	Refreshed int `json:"refreshed"`
	Failed    int `json:"failed"`
}

// Syncer re-fetches cached data entries from the network.
type Syncer struct {
	client   *http.Client
	logger   *logrus.Logger
	store    cache.Store
	dataGen  string
	interval time.Duration
	online   chan struct{}
}

// fallbackInterval 兜底非法的同步周期，保证 ticker 总能启动。
const fallbackInterval = 5 * time.Minute

// New builds a Syncer for the given data generation. Non-positive intervals
// are clamped to a fallback instead of panicking the run loop's ticker.
func New(client *http.Client, logger *logrus.Logger, store cache.Store, dataGen string, interval time.Duration) *Syncer {
	if interval <= 0 {
		interval = fallbackInterval
	}
	return &Syncer{
		client:   client,
		logger:   logger,
		store:    store,
		dataGen:  dataGen,
		interval: interval,
		online:   make(chan struct{}, 1),
	}
}

// NotifyOnline signals an offline→online transition. Signals coalesce: a
// pending one is enough, reconnect storms never queue extra passes.
func (s *Syncer) NotifyOnline() {
	select {
	case s.online <- struct{}{}:
	default:
	}
}

// Run drives periodic and reconnect-triggered sync passes until ctx ends.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SyncAll(ctx)
		case <-s.online:
			s.SyncAll(ctx)
		}
	}
}

// SyncAll enumerates every key currently present in the data generation and
// re-fetches it, overwriting the cache entry on success. Per-key failures
// are isolated; the pass itself never fails.
func (s *Syncer) SyncAll(ctx context.Context) Summary {
	keys, err := s.store.Keys(ctx, s.dataGen)
	if err != nil {
		s.logger.WithError(err).WithField("action", "sync_enumerate_failed").Warn("could not list data generation")
		return Summary{}
	}

	summary := Summary{Total: len(keys)}
	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		if err := s.refresh(ctx, key); err != nil {
			summary.Failed++
			s.logger.WithError(err).WithFields(logrus.Fields{
				"action": "sync_key_failed",
				"key":    key.String(),
			}).Warn("entry refresh skipped")
			continue
		}
		summary.Refreshed++
	}

	s.logger.WithFields(logging.SyncFields(s.dataGen, summary.Total, summary.Refreshed, summary.Failed)).
		Info("sync pass finished")
	return summary
}

func (s *Syncer) refresh(ctx context.Context, key cache.Key) error {
	req, err := http.NewRequestWithContext(ctx, key.Method, key.URL, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	return s.store.Put(ctx, s.dataGen, key, &cache.Response{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now().UTC(),
	})
}

type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.status)
}
