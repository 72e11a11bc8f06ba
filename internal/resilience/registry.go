package resilience

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Policy is the full resilience policy for one provider.
type Policy struct {
	Retry     RetryConfig
	Breaker   CircuitBreakerConfig
	RateLimit RateLimitConfig
}

// DefaultPolicy returns the default retry, breaker and rate-limit settings.
func DefaultPolicy() Policy {
	return Policy{
		Retry:     DefaultRetryConfig(),
		Breaker:   DefaultCircuitBreakerConfig(),
		RateLimit: DefaultRateLimitConfig(),
	}
}

type providerState struct {
	name    string
	policy  Policy
	breaker *CircuitBreaker
	queue   *Queue
	sleep   func(ctx context.Context, d time.Duration) error
}

// ProviderRegistry owns the breaker and queue of every provider. Entries are
// created lazily on first use; each provider's state is independent.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]*providerState

	defaults      Policy
	policies      map[string]Policy
	onStateChange func(provider string, from, to CircuitState)
	nowFunc       func() time.Time
	sleepFunc     func(ctx context.Context, d time.Duration) error
}

// RegistryOption configures a ProviderRegistry.
type RegistryOption func(*ProviderRegistry)

// WithPolicy sets the policy for a single provider.
func WithPolicy(provider string, p Policy) RegistryOption {
	return func(r *ProviderRegistry) {
		r.policies[provider] = p
	}
}

// WithStateChangeHook registers a callback for breaker transitions of any provider.
func WithStateChangeHook(fn func(provider string, from, to CircuitState)) RegistryOption {
	return func(r *ProviderRegistry) {
		r.onStateChange = fn
	}
}

// WithClock overrides the clock used by breakers and queues.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *ProviderRegistry) {
		r.nowFunc = now
	}
}

// WithSleep overrides how backoff and queue waits pass. Tests with a fixed
// clock pass a func that advances it.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) RegistryOption {
	return func(r *ProviderRegistry) {
		r.sleepFunc = sleep
	}
}

// NewProviderRegistry creates a registry whose providers default to defaults.
func NewProviderRegistry(defaults Policy, opts ...RegistryOption) *ProviderRegistry {
	r := &ProviderRegistry{
		providers: make(map[string]*providerState),
		defaults:  defaults,
		policies:  make(map[string]Policy),
		nowFunc:   time.Now,
		sleepFunc: sleepCtx,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// get returns the provider state, creating it if needed.
func (r *ProviderRegistry) get(provider string) *providerState {
	r.mu.RLock()
	p, ok := r.providers[provider]
	r.mu.RUnlock()
	if ok {
		return p
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok = r.providers[provider]; ok {
		return p
	}
	p = r.newProvider(provider)
	r.providers[provider] = p
	return p
}

func (r *ProviderRegistry) newProvider(name string) *providerState {
	policy, ok := r.policies[name]
	if !ok {
		policy = r.defaults
	}
	policy.Retry = policy.Retry.withDefaults()
	policy.RateLimit = policy.RateLimit.withDefaults()

	bcfg := policy.Breaker
	userHook := bcfg.OnStateChange
	hook := r.onStateChange
	bcfg.OnStateChange = func(from, to CircuitState) {
		zap.L().Info("circuit breaker transition",
			zap.String("provider", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
		if userHook != nil {
			userHook(from, to)
		}
		if hook != nil {
			hook(name, from, to)
		}
	}

	cb := NewCircuitBreaker(bcfg)
	cb.nowFunc = r.nowFunc
	policy.Breaker = cb.cfg

	q := NewQueue(policy.RateLimit)
	q.nowFunc = r.nowFunc
	q.sleepFunc = r.sleepFunc

	return &providerState{
		name:    name,
		policy:  policy,
		breaker: cb,
		queue:   q,
		sleep:   r.sleepFunc,
	}
}

// Breaker returns the circuit breaker for provider.
func (r *ProviderRegistry) Breaker(provider string) *CircuitBreaker {
	return r.get(provider).breaker
}

// Queue returns the admission queue for provider.
func (r *ProviderRegistry) Queue(provider string) *Queue {
	return r.get(provider).queue
}

// Policy returns the effective policy for provider.
func (r *ProviderRegistry) Policy(provider string) Policy {
	return r.get(provider).policy
}

// Reset closes the breaker of provider.
func (r *ProviderRegistry) Reset(provider string) {
	r.get(provider).breaker.Reset()
}

// States returns the circuit state of every provider seen so far.
func (r *ProviderRegistry) States() map[string]CircuitState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	states := make(map[string]CircuitState, len(r.providers))
	for name, p := range r.providers {
		states[name] = p.breaker.State()
	}
	return states
}

// ProviderStatus is an observability snapshot of one provider.
type ProviderStatus struct {
	Provider            string     `json:"provider"`
	State               string     `json:"state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	Queue               QueueStats `json:"queue"`
}

// Snapshot returns the status of every provider sorted by name.
func (r *ProviderRegistry) Snapshot() []ProviderStatus {
	r.mu.RLock()
	list := make([]*providerState, 0, len(r.providers))
	for _, p := range r.providers {
		list = append(list, p)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].name < list[j].name })

	out := make([]ProviderStatus, 0, len(list))
	for _, p := range list {
		failures, _ := p.breaker.Counters()
		out = append(out, ProviderStatus{
			Provider:            p.name,
			State:               p.breaker.State().String(),
			ConsecutiveFailures: failures,
			Queue:               p.queue.Stats(),
		})
	}
	return out
}
