package advisor

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"ai-trading-engine/internal/strategy"
)

// ErrAdvisorUnavailable marks a failed or malformed advisor exchange. The
// advisory service absorbs it into a fallback verdict; it never escapes to
// callers of Evaluate or Validate.
var ErrAdvisorUnavailable = errors.New("advisor unavailable")

// Consultant is the external advisor port. The production implementation is
// LLMClient; the backtester and tests substitute their own.
type Consultant interface {
	Consult(ctx context.Context, signal strategy.Signal) (Verdict, error)
	Review(ctx context.Context, summary OrderSummary, signal strategy.Signal) (Verdict, error)
}

// ServiceConfig holds the advisory policy thresholds.
type ServiceConfig struct {
	MinimumSignalStrength float64       `json:"minimum_signal_strength"` // below this, never spend a call
	ValidationThreshold   float64       `json:"validation_threshold"`    // confidence gate for the second check
	CacheTTL              time.Duration `json:"cache_ttl"`
	DailyCallLimit        int           `json:"daily_call_limit"`
}

// DefaultServiceConfig returns the standard policy.
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		MinimumSignalStrength: 0.7,
		ValidationThreshold:   80,
		CacheTTL:              15 * time.Minute,
		DailyCallLimit:        50,
	}
}

// Service decides, for each signal, whether an advisor call is worth
// spending and what verdict to hand downstream. Order of checks: strength
// gate, cache, quota, live call. Any live failure degrades to the
// rule-based fallback; the pipeline never stalls on the advisor.
type Service struct {
	config     *ServiceConfig
	consultant Consultant
	cache      VerdictCache
	quota      *QuotaGuard
	logger     zerolog.Logger
}

// NewService wires the advisory layer. A nil config uses defaults; a nil
// cache gets an in-memory one.
func NewService(config *ServiceConfig, consultant Consultant, cache VerdictCache, logger zerolog.Logger) *Service {
	if config == nil {
		config = DefaultServiceConfig()
	}
	if cache == nil {
		cache = NewMemoryCache(config.CacheTTL)
	}
	return &Service{
		config:     config,
		consultant: consultant,
		cache:      cache,
		quota:      NewQuotaGuard(config.DailyCallLimit),
		logger:     logger.With().Str("component", "advisory").Logger(),
	}
}

// Evaluate produces the primary verdict for a signal.
func (s *Service) Evaluate(ctx context.Context, signal strategy.Signal) Verdict {
	// Weak signals never reach the advisor: the budget is reserved for
	// setups the indicators already like.
	if signal.Strength < s.config.MinimumSignalStrength {
		return s.fallback(signal)
	}

	fp := s.fingerprint(signal, ScopeAnalysis)
	if cached, ok := s.cache.Get(fp); ok {
		cached.Source = SourceCached
		s.logger.Debug().Str("symbol", signal.Symbol).Float64("confidence", cached.Confidence).Msg("verdict served from cache")
		return cached
	}

	if !s.quota.TryConsume() {
		s.logger.Warn().Str("symbol", signal.Symbol).Msg("daily advisor budget exhausted, using fallback")
		return s.fallback(signal)
	}

	verdict, err := s.consultant.Consult(ctx, signal)
	if err != nil {
		// Failed exchanges are not cached; the next cycle may try again.
		s.logger.Warn().Err(err).Str("symbol", signal.Symbol).Msg("advisor call failed, using fallback")
		return s.fallback(signal)
	}

	verdict.Source = SourceLive
	s.cache.Put(fp, verdict)
	s.logger.Info().
		Str("symbol", signal.Symbol).
		Float64("confidence", verdict.Confidence).
		Str("recommendation", verdict.Recommendation.String()).
		Msg("live advisor verdict")
	return verdict
}

// NeedsValidation reports whether the primary verdict is confident enough
// to warrant the second check before execution.
func (s *Service) NeedsValidation(primary Verdict) bool {
	return primary.Recommendation == RecommendApprove && primary.Confidence >= s.config.ValidationThreshold
}

// Validate runs the second check on a fully sized order. Validation verdicts
// live in their own cache namespace, so an analysis entry never answers a
// validation lookup.
func (s *Service) Validate(ctx context.Context, summary OrderSummary, signal strategy.Signal) Verdict {
	fp := s.fingerprint(signal, ScopeValidation)
	if cached, ok := s.cache.Get(fp); ok {
		cached.Source = SourceCached
		return cached
	}

	if !s.quota.TryConsume() {
		return s.fallback(signal)
	}

	verdict, err := s.consultant.Review(ctx, summary, signal)
	if err != nil {
		s.logger.Warn().Err(err).Str("symbol", signal.Symbol).Msg("validation call failed, using fallback")
		return s.fallback(signal)
	}

	verdict.Source = SourceLive
	s.cache.Put(fp, verdict)
	return verdict
}

// Stats exposes the monitoring counters.
func (s *Service) Stats() ServiceStats {
	return ServiceStats{
		Usage:        s.quota.Stats(),
		CacheEntries: s.cache.Len(),
	}
}

// ServiceStats is the monitoring view of the advisory layer.
type ServiceStats struct {
	Usage        UsageStats `json:"usage"`
	CacheEntries int        `json:"cache_entries"`
}

func (s *Service) fallback(signal strategy.Signal) Verdict {
	return RuleBasedVerdict(signal, s.config.ValidationThreshold)
}

// RuleBasedVerdict derives a verdict from indicator agreement alone.
// Confidence is the signal strength on the 0-100 scale; strong setups
// self-approve. The backtester uses this directly so replays stay
// deterministic and spend no advisor budget.
func RuleBasedVerdict(signal strategy.Signal, approveThreshold float64) Verdict {
	confidence := signal.Strength * 100

	rec := RecommendNeutral
	if confidence >= approveThreshold {
		rec = RecommendApprove
	}

	return Verdict{
		Confidence:     confidence,
		Recommendation: rec,
		Source:         SourceFallback,
		Reasoning:      "indicator-derived verdict",
		ProducedAt:     time.Now().UTC(),
	}
}

func (s *Service) fingerprint(signal strategy.Signal, scope Scope) Fingerprint {
	return NewFingerprint(signal.Symbol, signal.Timeframe, signal.Timestamp, s.config.CacheTTL, scope)
}
