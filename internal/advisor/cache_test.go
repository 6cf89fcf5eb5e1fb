package advisor

import (
	"testing"
	"time"

	"ai-trading-engine/internal/market"
)

func testFingerprint(scope Scope) Fingerprint {
	return NewFingerprint("BTCUSDT", market.Timeframe1h,
		time.Date(2025, 6, 1, 12, 7, 0, 0, time.UTC), 15*time.Minute, scope)
}

func TestMemoryCachePutGet(t *testing.T) {
	cache := NewMemoryCache(15 * time.Minute)
	fp := testFingerprint(ScopeAnalysis)

	if _, ok := cache.Get(fp); ok {
		t.Fatal("empty cache should miss")
	}

	v := Verdict{Confidence: 85, Recommendation: RecommendApprove, Source: SourceLive}
	cache.Put(fp, v)

	got, ok := cache.Get(fp)
	if !ok {
		t.Fatal("expected hit after Put")
	}
	if got.Confidence != 85 || got.Recommendation != RecommendApprove {
		t.Errorf("cached verdict mutated: %+v", got)
	}
}

func TestMemoryCacheExpiryFromInsertion(t *testing.T) {
	cache := NewMemoryCache(15 * time.Minute)
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return current }

	fp := testFingerprint(ScopeAnalysis)
	cache.Put(fp, Verdict{Confidence: 85})

	// Reads inside the window hit, and must not extend the lifetime.
	current = current.Add(14 * time.Minute)
	if _, ok := cache.Get(fp); !ok {
		t.Fatal("expected hit inside the window")
	}

	current = current.Add(2 * time.Minute) // 16 min after insertion
	if _, ok := cache.Get(fp); ok {
		t.Fatal("entry must expire relative to insertion, not last read")
	}

	// Lazy eviction removed the entry on the missed read.
	if cache.Len() != 0 {
		t.Errorf("expired entry should be evicted on access, len = %d", cache.Len())
	}
}

func TestMemoryCacheScopeIsolation(t *testing.T) {
	cache := NewMemoryCache(15 * time.Minute)

	cache.Put(testFingerprint(ScopeAnalysis), Verdict{Confidence: 90})

	if _, ok := cache.Get(testFingerprint(ScopeValidation)); ok {
		t.Fatal("analysis entry must never answer a validation lookup")
	}
}

func TestFingerprintBucketing(t *testing.T) {
	window := 15 * time.Minute
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	a := NewFingerprint("BTCUSDT", market.Timeframe1h, base.Add(3*time.Minute), window, ScopeAnalysis)
	b := NewFingerprint("BTCUSDT", market.Timeframe1h, base.Add(14*time.Minute), window, ScopeAnalysis)
	c := NewFingerprint("BTCUSDT", market.Timeframe1h, base.Add(16*time.Minute), window, ScopeAnalysis)

	if a.Key() != b.Key() {
		t.Errorf("times in the same window should share a fingerprint: %s vs %s", a.Key(), b.Key())
	}
	if a.Key() == c.Key() {
		t.Errorf("times in different windows should not collide")
	}

	other := NewFingerprint("ETHUSDT", market.Timeframe1h, base.Add(3*time.Minute), window, ScopeAnalysis)
	if a.Key() == other.Key() {
		t.Errorf("different symbols should not collide")
	}
}
