// Package degradation implements the degradation manager (C1): per-dependency
// health tracking, circuit breakers, the last-known-good master-context
// cache, and the derived overall service level. See spec.md §4.1.
package degradation

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Level is the coarse derived service level.
type Level string

const (
	LevelFull    Level = "full"
	LevelPartial Level = "partial"
	LevelMinimal Level = "minimal"
	LevelOffline Level = "offline"
)

// BreakerState is one of the three circuit-breaker states.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half-open"
)

// Dependency names used throughout the service.
const (
	DepOpenRouter    = "openrouter"
	DepVectorStore   = "vector-store"
	DepContextStore  = "context-store"
)

// breakerConfig holds the per-dependency defaults from spec.md §4.1.
type breakerConfig struct {
	threshold       int
	recoveryTimeout time.Duration
}

var defaultBreakerConfigs = map[string]breakerConfig{
	DepOpenRouter:   {threshold: 3, recoveryTimeout: 120 * time.Second},
	DepVectorStore:  {threshold: 5, recoveryTimeout: 60 * time.Second},
	DepContextStore: {threshold: 3, recoveryTimeout: 30 * time.Second},
}

// circuitBreaker is a single dependency's breaker state machine.
type circuitBreaker struct {
	mu              sync.Mutex
	state           BreakerState
	failureCount    int
	threshold       int
	lastFailure     time.Time
	recoveryTimeout time.Duration
	halfOpenInFlight bool
}

func newCircuitBreaker(cfg breakerConfig) *circuitBreaker {
	return &circuitBreaker{
		state:           StateClosed,
		threshold:       cfg.threshold,
		recoveryTimeout: cfg.recoveryTimeout,
	}
}

// canCall reports whether an outbound call is currently permitted, advancing
// open -> half-open transitions as a side effect. Per spec.md §4.1, exactly
// one call is let through in half-open state until it resolves.
func (b *circuitBreaker) canCall(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.halfOpenInFlight {
			return false
		}
		b.halfOpenInFlight = true
		return true
	case StateOpen:
		if now.Sub(b.lastFailure) >= b.recoveryTimeout {
			b.state = StateHalfOpen
			b.halfOpenInFlight = true
			return true
		}
		return false
	}
	return false
}

func (b *circuitBreaker) markSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failureCount = 0
	b.halfOpenInFlight = false
}

func (b *circuitBreaker) markFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.halfOpenInFlight = false
	b.lastFailure = now
	if b.state == StateHalfOpen {
		b.state = StateOpen
		return
	}
	b.failureCount++
	if b.failureCount >= b.threshold {
		b.state = StateOpen
	}
}

func (b *circuitBreaker) snapshot() DependencyState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return DependencyState{
		Healthy:         b.state == StateClosed,
		BreakerState:    b.state,
		FailureCount:    b.failureCount,
		FailureThreshold: b.threshold,
		LastFailure:     b.lastFailure,
		RecoveryTimeout: b.recoveryTimeout,
	}
}

// DependencyState is the externally visible snapshot of one dependency,
// returned by Status and surfaced at GET /api/degradation.
type DependencyState struct {
	Healthy          bool
	LastCheck        time.Time
	LastError        string
	BreakerState     BreakerState
	FailureCount     int
	FailureThreshold int
	LastFailure      time.Time
	RecoveryTimeout  time.Duration
}

// cachedContext is the last-known-good master context content.
type cachedContext struct {
	mu      sync.RWMutex
	content string
	source  string
	at      time.Time
}

func (c *cachedContext) update(content, source string, now time.Time) {
	if len(content) <= 50 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.content = content
	c.source = source
	c.at = now
}

func (c *cachedContext) get() (content, source string, ageSeconds float64, present bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.content == "" {
		return "", "", 0, false
	}
	return c.content, c.source, time.Since(c.at).Seconds(), true
}

// Manager is the degradation manager C1. It is constructed once at startup
// and shared (as a *Manager) across every component that makes an outbound
// call.
type Manager struct {
	log      *logrus.Logger
	mu       sync.RWMutex
	breakers map[string]*circuitBreaker
	errors   map[string]string
	lastCheck map[string]time.Time
	cache    cachedContext
	now      func() time.Time
}

// New creates a degradation manager with the default breaker configuration
// for openrouter, vector-store, and context-store.
func New(log *logrus.Logger) *Manager {
	m := &Manager{
		log:       log,
		breakers:  make(map[string]*circuitBreaker),
		errors:    make(map[string]string),
		lastCheck: make(map[string]time.Time),
		now:       time.Now,
	}
	for dep, cfg := range defaultBreakerConfigs {
		m.breakers[dep] = newCircuitBreaker(cfg)
	}
	return m
}

func (m *Manager) breakerFor(dep string) *circuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breakers[dep]
	if !ok {
		b = newCircuitBreaker(breakerConfig{threshold: 3, recoveryTimeout: 60 * time.Second})
		m.breakers[dep] = b
	}
	return b
}

// CanCall reports whether dep's breaker currently permits an outbound call.
func (m *Manager) CanCall(dep string) bool {
	return m.breakerFor(dep).canCall(m.now())
}

// MarkHealthy records a successful call against dep.
func (m *Manager) MarkHealthy(dep string) {
	m.breakerFor(dep).markSuccess()
	m.mu.Lock()
	delete(m.errors, dep)
	m.lastCheck[dep] = m.now()
	m.mu.Unlock()
}

// MarkUnhealthy records a failed call against dep and the error that caused it.
func (m *Manager) MarkUnhealthy(dep string, err error) {
	now := m.now()
	m.breakerFor(dep).markFailure(now)
	m.mu.Lock()
	if err != nil {
		m.errors[dep] = err.Error()
	}
	m.lastCheck[dep] = now
	m.mu.Unlock()
	if m.log != nil {
		m.log.WithFields(logrus.Fields{"dependency": dep, "error": err}).Warn("dependency marked unhealthy")
	}
}

// UpdateCache records new master-context content in the last-known-good cache.
func (m *Manager) UpdateCache(content, source string) {
	m.cache.update(content, source, m.now())
}

// GetCachedContext returns the cached master context, if any content of
// sufficient length has ever been recorded.
func (m *Manager) GetCachedContext() (content, source string, ageSeconds float64, ok bool) {
	return m.cache.get()
}

// Status returns a snapshot of every tracked dependency, keyed by name.
func (m *Manager) Status() map[string]DependencyState {
	m.mu.RLock()
	deps := make([]string, 0, len(m.breakers))
	for dep := range m.breakers {
		deps = append(deps, dep)
	}
	m.mu.RUnlock()

	out := make(map[string]DependencyState, len(deps))
	for _, dep := range deps {
		s := m.breakerFor(dep).snapshot()
		m.mu.RLock()
		s.LastError = m.errors[dep]
		s.LastCheck = m.lastCheck[dep]
		m.mu.RUnlock()
		out[dep] = s
	}
	return out
}

// Level derives the overall service level from current dependency health and
// cache presence, per the truth table in spec.md §4.1.
func (m *Manager) Level() Level {
	status := m.Status()
	contextHealthy := status[DepContextStore].Healthy
	vectorHealthy := status[DepVectorStore].Healthy
	modelHealthy := status[DepOpenRouter].Healthy
	_, _, _, cachePresent := m.GetCachedContext()

	switch {
	case contextHealthy && vectorHealthy && modelHealthy:
		return LevelFull
	case contextHealthy && !vectorHealthy:
		return LevelPartial
	case contextHealthy && !modelHealthy:
		return LevelPartial
	case !contextHealthy && vectorHealthy && cachePresent:
		return LevelPartial
	case !contextHealthy && !vectorHealthy && cachePresent:
		return LevelMinimal
	case !contextHealthy && vectorHealthy && !cachePresent:
		return LevelMinimal
	case !contextHealthy && !vectorHealthy && !cachePresent:
		return LevelOffline
	}
	return LevelPartial
}
