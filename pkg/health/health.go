// Package health serves Kubernetes-style liveness and readiness probes.
// Probes run on a shared background scheduler; a probe must fail a few times
// in a row before its endpoint turns unhealthy, so transient blips do not
// flap the service out of rotation.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Kind separates liveness probes (is the process functional) from readiness
// probes (can it take traffic).
type Kind int

const (
	Liveness Kind = iota
	Readiness
)

// ProbeFunc reports nil when the probed component is healthy.
type ProbeFunc func(ctx context.Context) error

// failAfter is how many consecutive failures flip a probe unhealthy.
const failAfter = 3

type probe struct {
	name    string
	kind    Kind
	timeout time.Duration
	fn      ProbeFunc

	healthy atomic.Bool
	lastErr atomic.Pointer[error]
	fails   int
}

func (p *probe) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.fn(ctx)
	p.lastErr.Store(&err)
	if err != nil {
		p.fails++
		if p.fails >= failAfter {
			p.healthy.Store(false)
		}
		return
	}
	p.fails = 0
	p.healthy.Store(true)
}

// Service runs registered probes and serves /livez and /readyz handlers.
type Service struct {
	ready atomic.Bool

	mu     sync.Mutex
	probes []*probe
	cancel context.CancelFunc
}

// New creates a Service. It starts not-ready; call SetReady(true) after
// initialization.
func New() *Service {
	return &Service{}
}

// Register adds a probe. Must be called before Start.
func (s *Service) Register(kind Kind, name string, timeout time.Duration, fn ProbeFunc) {
	p := &probe{name: name, kind: kind, timeout: timeout, fn: fn}
	p.healthy.Store(true)

	s.mu.Lock()
	s.probes = append(s.probes, p)
	s.mu.Unlock()
}

// Start runs every probe once, then again each interval, until ctx is
// cancelled or Stop is called.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	probes := s.probes
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			for _, p := range probes {
				p.run(ctx)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop halts the probe scheduler. Safe to call more than once.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// SetReady flips the manual readiness gate. Graceful shutdown sets it false
// so load balancers drain the instance before the listener closes.
func (s *Service) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *Service) failures(kind Kind) map[string]string {
	s.mu.Lock()
	probes := s.probes
	s.mu.Unlock()

	out := make(map[string]string)
	for _, p := range probes {
		if p.kind != kind || p.healthy.Load() {
			continue
		}
		msg := "unhealthy"
		if e := p.lastErr.Load(); e != nil && *e != nil {
			msg = (*e).Error()
		}
		out[p.name] = msg
	}
	return out
}

// LiveEndpoint serves /livez: 200 when all liveness probes pass.
func (s *Service) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, s.failures(Liveness))
}

// ReadyEndpoint serves /readyz: 200 when the service is marked ready and all
// readiness probes pass.
func (s *Service) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := s.failures(Readiness)
	if !s.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	writeStatus(w, failures)
}

func writeStatus(w http.ResponseWriter, failures map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	body := struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks,omitempty"`
	}{Status: "ok"}

	code := http.StatusOK
	if len(failures) > 0 {
		body.Status = "unhealthy"
		body.Checks = failures
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
