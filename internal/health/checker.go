// Package health watches the services caseledger depends on and reports
// when one of them stays unreachable.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Probe checks one dependency. A nil error means it is reachable.
type Probe func(ctx context.Context) error

// Dependency is a named probe.
type Dependency struct {
	Name  string
	Probe Probe
}

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// StatusFunc is called whenever the overall health flips.
type StatusFunc func(healthy bool)

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(name string, success bool)

// Checker runs periodic dependency probes. A dependency is degraded after
// FailThreshold consecutive failures and healthy again after one success.
type Checker struct {
	deps       []Dependency
	cfg        Config
	logger     *zap.Logger
	onStatus   StatusFunc
	onMetrics  MetricsRecordFunc
	mu         sync.Mutex
	failCounts map[string]int
	lastErr    map[string]string
	healthy    bool
}

// New creates a Checker for deps.
func New(deps []Dependency, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	return &Checker{
		deps:       deps,
		cfg:        cfg,
		logger:     logger,
		failCounts: make(map[string]int),
		lastErr:    make(map[string]string),
		healthy:    true,
	}
}

// SetStatusHook configures the callback fired when overall health changes.
func (h *Checker) SetStatusHook(fn StatusFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onStatus = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMetrics = fn
}

// Start runs the check loop until ctx is cancelled.
func (h *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.CheckAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll probes every dependency concurrently and updates their state.
func (h *Checker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, d := range h.deps {
		wg.Add(1)
		go func(dep Dependency) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
			err := dep.Probe(pctx)
			cancel()
			h.record(dep.Name, err)
		}(d)
	}
	wg.Wait()

	h.mu.Lock()
	healthy := true
	for _, n := range h.failCounts {
		if n >= h.cfg.FailThreshold {
			healthy = false
			break
		}
	}
	changed := healthy != h.healthy
	h.healthy = healthy
	hook := h.onStatus
	h.mu.Unlock()

	if changed && hook != nil {
		hook(healthy)
	}
}

func (h *Checker) record(name string, err error) {
	h.mu.Lock()
	if h.onMetrics != nil {
		h.onMetrics(name, err == nil)
	}
	prev := h.failCounts[name]
	if err == nil {
		h.failCounts[name] = 0
		delete(h.lastErr, name)
	} else {
		h.failCounts[name]++
		h.lastErr[name] = err.Error()
	}
	count := h.failCounts[name]
	h.mu.Unlock()

	switch {
	case err == nil && prev >= h.cfg.FailThreshold:
		h.logger.Info("health: recovered", zap.String("dependency", name))
	case err != nil && count == h.cfg.FailThreshold:
		h.logger.Warn("health: degraded",
			zap.String("dependency", name),
			zap.Int("fail_count", count),
			zap.Error(err),
		)
	}
}

// Healthy reports whether no dependency is degraded.
func (h *Checker) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.healthy
}

// Snapshot returns "ok" or the last probe error for each dependency.
func (h *Checker) Snapshot() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]string, len(h.deps))
	for _, d := range h.deps {
		if msg, failing := h.lastErr[d.Name]; failing {
			out[d.Name] = msg
		} else {
			out[d.Name] = "ok"
		}
	}
	return out
}

// HTTPProbe returns a Probe that expects a 2xx from url, trying HEAD then GET.
func HTTPProbe(client *http.Client, url string) Probe {
	return func(ctx context.Context) error {
		status, err := do(ctx, client, http.MethodHead, url)
		if err == nil && status >= 200 && status < 300 {
			return nil
		}
		status, err = do(ctx, client, http.MethodGet, url)
		if err != nil {
			return err
		}
		if status < 200 || status >= 300 {
			return fmt.Errorf("%s returned %d", url, status)
		}
		return nil
	}
}

func do(ctx context.Context, client *http.Client, method, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
