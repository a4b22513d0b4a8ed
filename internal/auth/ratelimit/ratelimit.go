// Package ratelimit throttles the credential-probing surfaces per client.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Policy bounds one endpoint family to Threshold attempts per Window, per
// client key. Refill is continuous; a full burst equals the threshold.
type Policy struct {
	Name      string
	Threshold int
	Window    time.Duration
}

func (p Policy) limit() rate.Limit {
	return rate.Limit(float64(p.Threshold) / p.Window.Seconds())
}

// Credential redemption attempts: magic link consumption and the federated
// callback share this budget shape, each under its own policy name.
const (
	PolicyMagicLinkConsume = "magic_link_consume"
	PolicyOIDCCallback     = "oidc_callback"
	PolicySignIn           = "sign_in"
	PolicySignUp           = "sign_up"
)

// DefaultPolicies returns the stock limits: 10 redemption attempts per 15
// minutes, 10 sign-in/sign-up starts per 3 minutes.
func DefaultPolicies() []Policy {
	return []Policy{
		{Name: PolicyMagicLinkConsume, Threshold: 10, Window: 15 * time.Minute},
		{Name: PolicyOIDCCallback, Threshold: 10, Window: 15 * time.Minute},
		{Name: PolicySignIn, Threshold: 10, Window: 3 * time.Minute},
		{Name: PolicySignUp, Threshold: 10, Window: 3 * time.Minute},
	}
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Guard tracks one token bucket per (policy, client key) pair. Rejected
// attempts do not consume budget, so a throttled client recovers as soon as
// the window refills.
type Guard struct {
	policies map[string]Policy
	clock    func() time.Time

	mu       sync.RWMutex
	limiters map[string]*clientLimiter

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewGuard creates a Guard for the given policies and starts background
// cleanup of idle client entries.
func NewGuard(policies []Policy) *Guard {
	g := &Guard{
		policies: make(map[string]Policy, len(policies)),
		clock:    time.Now,
		limiters: make(map[string]*clientLimiter),
		stopCh:   make(chan struct{}),
	}
	for _, p := range policies {
		g.policies[p.Name] = p
	}
	go g.cleanupLoop()
	return g
}

// WithClock overrides time for tests. The underlying buckets still refill on
// wall-clock time; tests that need deterministic refill pass a generous
// window instead.
func (g *Guard) WithClock(clock func() time.Time) *Guard {
	if clock != nil {
		g.clock = clock
	}
	return g
}

// Stop halts the cleanup goroutine.
func (g *Guard) Stop() {
	g.stopOnce.Do(func() { close(g.stopCh) })
}

// Allow reports whether the client may proceed under the named policy. On
// rejection it also reports how long until one attempt becomes available.
// An unknown policy name allows the request; misconfiguration must not lock
// every client out.
func (g *Guard) Allow(policyName, clientKey string) (bool, time.Duration) {
	policy, ok := g.policies[policyName]
	if !ok {
		return true, 0
	}

	limiter := g.getOrCreateLimiter(policy, clientKey)
	if limiter.Allow() {
		return true, 0
	}

	// Peek at the wait without spending a token.
	reservation := limiter.Reserve()
	retryAfter := reservation.Delay()
	reservation.Cancel()
	return false, retryAfter
}

func (g *Guard) getOrCreateLimiter(policy Policy, clientKey string) *rate.Limiter {
	key := policy.Name + "\x00" + clientKey

	// Look up under the write lock: a lockless gap would let eviction race
	// the lookup and hand back an entry the map no longer tracks.
	g.mu.Lock()
	defer g.mu.Unlock()
	if cl, ok := g.limiters[key]; ok {
		cl.lastAccess = g.clock()
		return cl.limiter
	}

	cl := &clientLimiter{
		limiter:    rate.NewLimiter(policy.limit(), policy.Threshold),
		lastAccess: g.clock(),
	}
	g.limiters[key] = cl
	return cl.limiter
}

// ClientCount reports the tracked entry count, for tests and metrics.
func (g *Guard) ClientCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.limiters)
}

const (
	cleanupInterval = 5 * time.Minute
	idleEvictAfter  = time.Hour
)

func (g *Guard) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.evictIdle()
		case <-g.stopCh:
			return
		}
	}
}

func (g *Guard) evictIdle() {
	cutoff := g.clock().Add(-idleEvictAfter)
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, cl := range g.limiters {
		if cl.lastAccess.Before(cutoff) {
			delete(g.limiters, key)
		}
	}
}
