package ratelimit

import (
	"fmt"
	"testing"
	"time"
)

func testGuard(t *testing.T, policies []Policy) *Guard {
	t.Helper()
	guard := NewGuard(policies)
	t.Cleanup(guard.Stop)
	return guard
}

func TestAllowPermitsUpToThreshold(t *testing.T) {
	guard := testGuard(t, []Policy{{Name: "probe", Threshold: 10, Window: 15 * time.Minute}})

	for i := 0; i < 10; i++ {
		ok, _ := guard.Allow("probe", "client-a")
		if !ok {
			t.Fatalf("attempt %d rejected within threshold", i+1)
		}
	}

	ok, retryAfter := guard.Allow("probe", "client-a")
	if ok {
		t.Fatal("11th attempt allowed, want rejection")
	}
	if retryAfter <= 0 {
		t.Fatalf("retryAfter = %v, want positive", retryAfter)
	}
}

func TestRejectionDoesNotConsumeBudget(t *testing.T) {
	// A one-token bucket with a long window: the second attempt is rejected,
	// and repeated rejections must not push the retry horizon further out.
	guard := testGuard(t, []Policy{{Name: "probe", Threshold: 1, Window: time.Hour}})

	if ok, _ := guard.Allow("probe", "client-a"); !ok {
		t.Fatal("first attempt rejected")
	}
	_, first := guard.Allow("probe", "client-a")
	_, second := guard.Allow("probe", "client-a")
	if second > first+time.Second {
		t.Fatalf("retry horizon grew from %v to %v across rejections", first, second)
	}
}

func TestClientsAreIsolated(t *testing.T) {
	guard := testGuard(t, []Policy{{Name: "probe", Threshold: 1, Window: time.Hour}})

	if ok, _ := guard.Allow("probe", "client-a"); !ok {
		t.Fatal("client-a first attempt rejected")
	}
	if ok, _ := guard.Allow("probe", "client-a"); ok {
		t.Fatal("client-a second attempt allowed")
	}
	if ok, _ := guard.Allow("probe", "client-b"); !ok {
		t.Fatal("client-b blocked by client-a's budget")
	}
}

func TestPoliciesAreIndependent(t *testing.T) {
	guard := testGuard(t, []Policy{
		{Name: "consume", Threshold: 1, Window: time.Hour},
		{Name: "start", Threshold: 1, Window: time.Hour},
	})

	if ok, _ := guard.Allow("consume", "client-a"); !ok {
		t.Fatal("consume rejected")
	}
	if ok, _ := guard.Allow("start", "client-a"); !ok {
		t.Fatal("start budget coupled to consume budget")
	}
}

func TestUnknownPolicyAllows(t *testing.T) {
	guard := testGuard(t, DefaultPolicies())
	if ok, _ := guard.Allow("no_such_policy", "client-a"); !ok {
		t.Fatal("unknown policy rejected the request")
	}
}

func TestEvictIdleDropsStaleClients(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	guard := testGuard(t, []Policy{{Name: "probe", Threshold: 10, Window: time.Minute}}).
		WithClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		guard.Allow("probe", fmt.Sprintf("client-%d", i))
	}
	if got := guard.ClientCount(); got != 3 {
		t.Fatalf("client count = %d, want 3", got)
	}

	now = now.Add(2 * time.Hour)
	guard.evictIdle()
	if got := guard.ClientCount(); got != 0 {
		t.Fatalf("client count after eviction = %d, want 0", got)
	}
}

func TestLimiterStaysTrackedAcrossEviction(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	guard := testGuard(t, []Policy{{Name: "probe", Threshold: 10, Window: time.Minute}}).
		WithClock(func() time.Time { return now })
	policy := guard.policies["probe"]

	guard.getOrCreateLimiter(policy, "client-a")
	now = now.Add(2 * time.Hour)
	guard.evictIdle()

	// The next lookup must hand back the freshly tracked entry, not a
	// just-evicted one that the map no longer throttles.
	limiter := guard.getOrCreateLimiter(policy, "client-a")
	if got := guard.ClientCount(); got != 1 {
		t.Fatalf("client count = %d, want 1", got)
	}
	guard.mu.RLock()
	tracked := guard.limiters["probe\x00client-a"]
	guard.mu.RUnlock()
	if tracked == nil || tracked.limiter != limiter {
		t.Fatal("returned limiter is not the tracked entry")
	}
	if !tracked.lastAccess.Equal(now) {
		t.Fatalf("lastAccess = %v, want %v", tracked.lastAccess, now)
	}
}
