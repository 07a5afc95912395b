// Package health exposes /livez and /readyz probe endpoints backed by
// periodically evaluated checks.
//
// Checks run on a shared ticker loop and keep consecutive pass/fail
// counters so a single transient error does not flip the probe: a check
// turns unhealthy only after failAfter consecutive failures and
// recovers after passAfter consecutive passes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

const (
	failAfter = 3
	passAfter = 1
)

// CheckFunc reports the health of one component. A nil return means
// healthy.
type CheckFunc func(ctx context.Context) error

// probe wraps a CheckFunc with threshold state. All fields behind mu;
// observe is driven by the poll loop, snapshot by HTTP handlers.
type probe struct {
	name    string
	timeout time.Duration
	check   CheckFunc

	mu      sync.Mutex
	down    bool
	lastErr error
	fails   int
	passes  int
}

func newProbe(name string, timeout time.Duration, check CheckFunc) *probe {
	return &probe{name: name, timeout: timeout, check: check}
}

// eval runs the check once and folds the result into the thresholds.
func (p *probe) eval(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.check(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErr = err
	if err != nil {
		p.passes = 0
		p.fails++
		if p.fails >= failAfter {
			p.down = true
		}
		return
	}
	p.fails = 0
	p.passes++
	if p.passes >= passAfter {
		p.down = false
	}
}

// snapshot returns the current verdict and the error behind it.
func (p *probe) snapshot() (down bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.down, p.lastErr
}

// Health owns the registered probes and the manual ready flag.
type Health struct {
	mu        sync.RWMutex
	liveness  []*probe
	readiness []*probe
	ready     bool
	cancel    context.CancelFunc
}

// New returns a Health that starts not-ready; call SetReady(true) once
// initialization is complete.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a check behind /livez. Register all checks
// before Start.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	h.liveness = append(h.liveness, newProbe(name, timeout, check))
	h.mu.Unlock()
}

// AddReadinessCheck registers a check behind /readyz.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	h.readiness = append(h.readiness, newProbe(name, timeout, check))
	h.mu.Unlock()
}

// Start begins polling every registered probe at the given interval.
// Each probe gets one goroutine; all stop when ctx is cancelled or Stop
// is called.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := append(append([]*probe(nil), h.liveness...), h.readiness...)
	h.mu.Unlock()

	for _, p := range probes {
		go poll(ctx, p, interval)
	}
}

func poll(ctx context.Context, p *probe, interval time.Duration) {
	p.eval(ctx)

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.eval(ctx)
		}
	}
}

// Stop cancels the poll goroutines. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness gate. Shutdown sets it false to
// drain traffic before the listener closes.
func (h *Health) SetReady(ready bool) {
	h.mu.Lock()
	h.ready = ready
	h.mu.Unlock()
}

// IsReady reports whether the gate is open and every readiness probe
// passes.
func (h *Health) IsReady() bool {
	h.mu.RLock()
	ready := h.ready
	probes := h.readiness
	h.mu.RUnlock()

	if !ready {
		return false
	}
	for _, p := range probes {
		if down, _ := p.snapshot(); down {
			return false
		}
	}
	return true
}

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez: 200 while every liveness probe passes,
// 503 with per-check failure details otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	probes := append([]*probe(nil), h.liveness...)
	h.mu.RUnlock()

	serveReport(w, failures(probes))
}

// ReadyEndpoint serves /readyz: 200 only when SetReady(true) has been
// called and every readiness probe passes.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	ready := h.ready
	probes := append([]*probe(nil), h.readiness...)
	h.mu.RUnlock()

	bad := failures(probes)
	if !ready {
		bad["_readiness"] = "service is not ready"
	}
	serveReport(w, bad)
}

func failures(probes []*probe) map[string]string {
	bad := make(map[string]string)
	for _, p := range probes {
		down, err := p.snapshot()
		if !down {
			continue
		}
		if err != nil {
			bad[p.name] = err.Error()
		} else {
			bad[p.name] = "check is unhealthy"
		}
	}
	return bad
}

func serveReport(w http.ResponseWriter, bad map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	rep := report{Status: "ok"}
	code := http.StatusOK
	if len(bad) > 0 {
		rep = report{Status: "unhealthy", Checks: bad}
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(rep)
}
