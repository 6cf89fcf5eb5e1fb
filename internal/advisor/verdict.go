package advisor

import (
	"fmt"
	"time"

	"ai-trading-engine/internal/market"
)

// Source tags where a verdict came from. The tag travels with the verdict
// so downstream consumers and logs can always tell a live advisor opinion
// from a cached or rule-derived one.
type Source int

const (
	SourceFallback Source = iota
	SourceCached
	SourceLive
)

func (s Source) String() string {
	switch s {
	case SourceCached:
		return "CACHED"
	case SourceLive:
		return "LIVE"
	default:
		return "FALLBACK"
	}
}

// MarshalJSON renders the tag as its name.
func (s Source) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Recommendation is the advisor's stance on a proposed entry.
type Recommendation int

const (
	RecommendNeutral Recommendation = iota
	RecommendApprove
	RecommendReject
)

func (r Recommendation) String() string {
	switch r {
	case RecommendApprove:
		return "APPROVE"
	case RecommendReject:
		return "REJECT"
	default:
		return "NEUTRAL"
	}
}

// MarshalJSON renders the recommendation as its name.
func (r Recommendation) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// Verdict is an immutable advisory opinion on one signal.
type Verdict struct {
	Confidence     float64        `json:"confidence"` // 0-100
	Recommendation Recommendation `json:"recommendation"`
	Source         Source         `json:"source"`
	Reasoning      string         `json:"reasoning,omitempty"`
	ProducedAt     time.Time      `json:"produced_at"`
}

// Scope separates primary-analysis lookups from validation lookups so the
// two never share cache entries.
type Scope string

const (
	ScopeAnalysis   Scope = "analysis"
	ScopeValidation Scope = "validation"
)

// Fingerprint identifies a market situation for cache lookups: symbol,
// timeframe and the bar time truncated to the cache window.
type Fingerprint struct {
	Symbol    string
	Timeframe market.Timeframe
	Bucket    time.Time
	Scope     Scope
}

// NewFingerprint builds a fingerprint, bucketing barTime by window.
func NewFingerprint(symbol string, tf market.Timeframe, barTime time.Time, window time.Duration, scope Scope) Fingerprint {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return Fingerprint{
		Symbol:    symbol,
		Timeframe: tf,
		Bucket:    barTime.UTC().Truncate(window),
		Scope:     scope,
	}
}

// Key returns the flat cache key.
func (f Fingerprint) Key() string {
	return fmt.Sprintf("advisory:%s:%s:%s:%d", f.Scope, f.Symbol, f.Timeframe, f.Bucket.Unix())
}
