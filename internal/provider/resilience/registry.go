package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// UnhealthyAfter is the number of consecutive failed calls after which a
// provider is reported unhealthy.
const UnhealthyAfter = tripConsecutiveFailures

// ProviderHealth is a point-in-time view of one upstream client.
type ProviderHealth struct {
	Name string

	// ConsecutiveFailures counts failed calls since the last success.
	ConsecutiveFailures uint32

	// HasCircuitBreaker is false for clients built without a breaker.
	// CircuitState and Counts are then StateClosed and zero.
	HasCircuitBreaker bool
	CircuitState      gobreaker.State
	Counts            gobreaker.Counts

	// LastSuccessAt and LastFailureAt are nil until the first outcome.
	LastSuccessAt *time.Time
	LastFailureAt *time.Time

	// LastError is the message of the most recent failure.
	LastError string
}

// IsUnhealthy reports an open circuit or a run of UnhealthyAfter failures.
func (h ProviderHealth) IsUnhealthy() bool {
	if h.HasCircuitBreaker && h.CircuitState == gobreaker.StateOpen {
		return true
	}
	return h.ConsecutiveFailures >= UnhealthyAfter
}

// IsDegraded reports a half-open circuit or a failed latest call.
func (h ProviderHealth) IsDegraded() bool {
	if h.IsUnhealthy() {
		return false
	}
	if h.HasCircuitBreaker && h.CircuitState == gobreaker.StateHalfOpen {
		return true
	}
	return h.ConsecutiveFailures > 0
}

// IsHealthy reports neither degraded nor unhealthy.
func (h ProviderHealth) IsHealthy() bool {
	return !h.IsUnhealthy() && !h.IsDegraded()
}

// Registry tracks the upstream clients and their latest outcomes for the
// ops endpoints. Clients register themselves when built with
// ClientConfig.Registry set.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	client              *Client
	consecutiveFailures uint32
	lastSuccess         time.Time
	lastFailure         time.Time
	lastError           string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registryEntry)}
}

// Register adds c under its name, replacing any client of the same name.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[c.Name()] = &registryEntry{client: c}
}

// RecordSuccess stamps a successful call and ends any failure run.
// Unknown names are ignored.
func (r *Registry) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		e.lastSuccess = time.Now()
		e.consecutiveFailures = 0
	}
}

// RecordFailure stamps a failed call and keeps its message. Unknown names
// are ignored.
func (r *Registry) RecordFailure(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return
	}
	e.lastFailure = time.Now()
	e.consecutiveFailures++
	if err != nil {
		e.lastError = err.Error()
	}
}

// Health returns the view of one client.
func (r *Registry) Health(name string) (ProviderHealth, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return ProviderHealth{}, false
	}
	return e.snapshot(name), true
}

// All returns the view of every client, ordered by name.
func (r *Registry) All() []ProviderHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderHealth, 0, len(r.entries))
	for name, e := range r.entries {
		out = append(out, e.snapshot(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// AllUnhealthy reports whether at least one client is registered and every
// registered client is unhealthy.
func (r *Registry) AllUnhealthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.entries) == 0 {
		return false
	}
	for name, e := range r.entries {
		if !e.snapshot(name).IsUnhealthy() {
			return false
		}
	}
	return true
}

func (e *registryEntry) snapshot(name string) ProviderHealth {
	return ProviderHealth{
		Name:                name,
		ConsecutiveFailures: e.consecutiveFailures,
		HasCircuitBreaker:   e.client.HasCircuitBreaker(),
		CircuitState:        e.client.CircuitBreakerState(),
		Counts:              e.client.CircuitBreakerCounts(),
		LastSuccessAt:       timePtr(e.lastSuccess),
		LastFailureAt:       timePtr(e.lastFailure),
		LastError:           e.lastError,
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
