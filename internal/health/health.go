// Package health watches the services taskmate depends on (the language
// model, the prediction service, Redis) and keeps their last known
// reachability for the /health endpoint.
//
// Each [Watcher] probes one dependency. Until the first success it backs
// off exponentially between probes; once the backoff budget is spent, or
// after the dependency first answers, it probes on a fixed interval and
// reports transitions. Request-level retry on dial errors stays in
// httpkit; this package covers outages measured in seconds to minutes.
package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/taskmate-ai/taskmate/internal/events"
	"github.com/taskmate-ai/taskmate/internal/metrics"
)

// Probe reports whether a dependency is reachable. It returns nil when
// healthy and must be safe for concurrent use.
type Probe func(ctx context.Context) error

// Backoff controls probe timing.
type Backoff struct {
	// Initial is the delay after the first failed startup probe.
	Initial time.Duration
	// Max caps backoff growth.
	Max time.Duration
	// Factor multiplies the delay after each failed startup probe.
	Factor float64
	// Attempts is the number of startup probes before switching to
	// interval polling.
	Attempts int
	// Interval is the steady-state polling period.
	Interval time.Duration
	// Timeout bounds each probe call.
	Timeout time.Duration
}

// DefaultBackoff probes at 2s, 4s, 8s, ... capped at 60s for ten startup
// attempts, then once a minute.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:  2 * time.Second,
		Max:      60 * time.Second,
		Factor:   2.0,
		Attempts: 10,
		Interval: 60 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// withDefaults fills zero fields from [DefaultBackoff].
func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Factor <= 0 {
		b.Factor = d.Factor
	}
	if b.Attempts <= 0 {
		b.Attempts = d.Attempts
	}
	if b.Interval <= 0 {
		b.Interval = d.Interval
	}
	if b.Timeout <= 0 {
		b.Timeout = d.Timeout
	}
	return b
}

// Check describes one dependency to watch.
type Check struct {
	// Name identifies the dependency in logs, events, and /health.
	Name string
	// Probe tests reachability.
	Probe Probe
	// Backoff controls timing. Zero fields take defaults.
	Backoff Backoff
	// OnChange, if set, runs in its own goroutine on every transition.
	// The first probe result counts as a transition.
	OnChange func(up bool, err error)
}

// Status is one dependency's last known state.
type Status struct {
	Name      string    `json:"name"`
	Up        bool      `json:"up"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher probes one dependency in the background.
type Watcher struct {
	check   Check
	monitor *Monitor
	up      atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	seenUp  bool // owned by run

	mu        sync.Mutex
	checked   bool
	lastErr   error
	lastCheck time.Time
}

// Up reports whether the last probe succeeded.
func (w *Watcher) Up() bool {
	return w.up.Load()
}

// Status returns the watcher's last known state.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Status{Name: w.check.Name, Up: w.up.Load(), LastCheck: w.lastCheck}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Stop cancels the watcher and waits for it to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	b := w.check.Backoff
	delay := b.Initial
	attempt := 0
	for {
		attempt++
		err := w.probe(ctx)
		if ctx.Err() != nil {
			return
		}
		w.record(err)

		next := b.Interval
		if !w.seenUp && attempt < b.Attempts {
			next = delay
			delay = min(time.Duration(float64(delay)*b.Factor), b.Max)
		}

		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (w *Watcher) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.check.Backoff.Timeout)
	defer cancel()
	return w.check.Probe(ctx)
}

// record stores a probe result and reports transitions.
func (w *Watcher) record(err error) {
	up := err == nil
	if up {
		w.seenUp = true
	}

	w.mu.Lock()
	first := !w.checked
	w.checked = true
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()

	was := w.up.Swap(up)
	if !first && was == up {
		if !up {
			w.monitor.logger.Debug("dependency still unreachable", "dependency", w.check.Name, "error", err)
		}
		return
	}
	w.monitor.transition(w.check, up, err)
}

// Monitor owns the watchers for every dependency.
type Monitor struct {
	logger  *slog.Logger
	bus     *events.Bus
	metrics *metrics.Metrics

	mu       sync.RWMutex
	watchers map[string]*Watcher
}

// NewMonitor creates an empty monitor.
func NewMonitor(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		logger:   logger.With("component", "health"),
		watchers: make(map[string]*Watcher),
	}
}

// SetEventBus publishes dependency transitions to bus.
func (m *Monitor) SetEventBus(bus *events.Bus) { m.bus = bus }

// SetMetrics records dependency state as a gauge.
func (m *Monitor) SetMetrics(mt *metrics.Metrics) { m.metrics = mt }

// Watch starts a watcher for c. It panics on an empty name or nil probe;
// both are wiring mistakes.
func (m *Monitor) Watch(ctx context.Context, c Check) *Watcher {
	if c.Name == "" {
		panic("health: Check.Name must not be empty")
	}
	if c.Probe == nil {
		panic("health: Check.Probe must not be nil")
	}
	c.Backoff = c.Backoff.withDefaults()

	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{check: c, monitor: m, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	if old, ok := m.watchers[c.Name]; ok {
		old.cancel()
	}
	m.watchers[c.Name] = w
	m.mu.Unlock()

	go w.run(ctx)
	return w
}

// Status returns every watched dependency sorted by name.
func (m *Monitor) Status() []Status {
	m.mu.RLock()
	out := make([]Status, 0, len(m.watchers))
	for _, w := range m.watchers {
		out = append(out, w.Status())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy reports whether every watched dependency is up.
func (m *Monitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.watchers {
		if !w.Up() {
			return false
		}
	}
	return true
}

// Stop shuts down every watcher and waits for them to exit.
func (m *Monitor) Stop() {
	m.mu.RLock()
	ws := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		ws = append(ws, w)
	}
	m.mu.RUnlock()

	for _, w := range ws {
		w.Stop()
	}
}

func (m *Monitor) transition(c Check, up bool, err error) {
	kind := events.KindDependencyUp
	data := map[string]any{"dependency": c.Name}
	if up {
		m.logger.Info("dependency reachable", "dependency", c.Name)
	} else {
		kind = events.KindDependencyDown
		data["error"] = err.Error()
		m.logger.Warn("dependency unreachable", "dependency", c.Name, "error", err)
	}
	m.metrics.SetDependencyUp(c.Name, up)
	m.bus.Emit(events.SourceHealth, kind, data)
	if c.OnChange != nil {
		go c.OnChange(up, err)
	}
}
