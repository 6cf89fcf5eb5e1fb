package advisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ai-trading-engine/internal/market"
	"ai-trading-engine/internal/strategy"
)

// mockConsultant records calls and returns a scripted verdict or error.
type mockConsultant struct {
	verdict     Verdict
	err         error
	consultCnt  int
	reviewCnt   int
}

func (m *mockConsultant) Consult(_ context.Context, _ strategy.Signal) (Verdict, error) {
	m.consultCnt++
	if m.err != nil {
		return Verdict{}, m.err
	}
	return m.verdict, nil
}

func (m *mockConsultant) Review(_ context.Context, _ OrderSummary, _ strategy.Signal) (Verdict, error) {
	m.reviewCnt++
	if m.err != nil {
		return Verdict{}, m.err
	}
	return m.verdict, nil
}

func testSignal(strength float64) strategy.Signal {
	return strategy.Signal{
		Symbol:    "BTCUSDT",
		Timeframe: market.Timeframe1h,
		Direction: strategy.DirectionLong,
		Strength:  strength,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newTestService(consultant Consultant, limit int) *Service {
	cfg := DefaultServiceConfig()
	cfg.DailyCallLimit = limit
	return NewService(cfg, consultant, nil, zerolog.Nop())
}

func TestEvaluateWeakSignalSkipsAdvisor(t *testing.T) {
	mock := &mockConsultant{verdict: Verdict{Confidence: 90, Recommendation: RecommendApprove}}
	svc := newTestService(mock, 10)

	verdict := svc.Evaluate(context.Background(), testSignal(0.5))

	if verdict.Source != SourceFallback {
		t.Errorf("weak signal should fall back, got source %v", verdict.Source)
	}
	if mock.consultCnt != 0 {
		t.Errorf("weak signal must not spend an advisor call")
	}
	if got := svc.Stats().Usage.CallsToday; got != 0 {
		t.Errorf("quota touched for weak signal: %d calls", got)
	}
	if verdict.Confidence != 50 {
		t.Errorf("fallback confidence = %.1f, want 50", verdict.Confidence)
	}
	if verdict.Recommendation != RecommendNeutral {
		t.Errorf("weak fallback should be neutral, got %v", verdict.Recommendation)
	}
}

func TestEvaluateLiveCallCachesVerdict(t *testing.T) {
	mock := &mockConsultant{verdict: Verdict{Confidence: 88, Recommendation: RecommendApprove}}
	svc := newTestService(mock, 10)
	signal := testSignal(0.8)

	first := svc.Evaluate(context.Background(), signal)
	if first.Source != SourceLive {
		t.Fatalf("first evaluation should be live, got %v", first.Source)
	}

	second := svc.Evaluate(context.Background(), signal)
	if second.Source != SourceCached {
		t.Fatalf("repeat within the window should be cached, got %v", second.Source)
	}
	if second.Confidence != 88 {
		t.Errorf("cached verdict changed: %.1f", second.Confidence)
	}
	if mock.consultCnt != 1 {
		t.Errorf("consultant called %d times, want 1", mock.consultCnt)
	}
	if got := svc.Stats().Usage.CallsToday; got != 1 {
		t.Errorf("cache hit must not consume quota: %d calls", got)
	}
}

func TestEvaluateQuotaExhaustedFallsBack(t *testing.T) {
	mock := &mockConsultant{verdict: Verdict{Confidence: 88, Recommendation: RecommendApprove}}
	svc := newTestService(mock, 0)

	verdict := svc.Evaluate(context.Background(), testSignal(0.9))

	if verdict.Source != SourceFallback {
		t.Errorf("exhausted quota should fall back, got %v", verdict.Source)
	}
	if mock.consultCnt != 0 {
		t.Errorf("no advisor call should happen with empty budget")
	}
	// Strength 0.9 maps to confidence 90, above the approval threshold.
	if verdict.Recommendation != RecommendApprove {
		t.Errorf("strong fallback should approve, got %v", verdict.Recommendation)
	}
}

func TestEvaluateAdvisorFailureNotCached(t *testing.T) {
	mock := &mockConsultant{err: errors.New("timeout")}
	svc := newTestService(mock, 10)
	signal := testSignal(0.8)

	verdict := svc.Evaluate(context.Background(), signal)
	if verdict.Source != SourceFallback {
		t.Fatalf("failed call should fall back, got %v", verdict.Source)
	}

	// The failed exchange consumed its slot but left no cache entry, so a
	// later cycle retries the live call.
	mock.err = nil
	mock.verdict = Verdict{Confidence: 77, Recommendation: RecommendNeutral}

	retry := svc.Evaluate(context.Background(), signal)
	if retry.Source != SourceLive {
		t.Errorf("next cycle should retry live, got %v", retry.Source)
	}
	if mock.consultCnt != 2 {
		t.Errorf("consultant calls = %d, want 2", mock.consultCnt)
	}
	if got := svc.Stats().Usage.CallsToday; got != 2 {
		t.Errorf("both attempts consume quota: %d", got)
	}
}

func TestValidateUsesOwnNamespace(t *testing.T) {
	mock := &mockConsultant{verdict: Verdict{Confidence: 95, Recommendation: RecommendApprove}}
	svc := newTestService(mock, 10)
	signal := testSignal(0.85)

	primary := svc.Evaluate(context.Background(), signal)
	if primary.Source != SourceLive {
		t.Fatalf("primary should be live")
	}

	// Validation must miss the analysis cache and spend its own call.
	validation := svc.Validate(context.Background(), OrderSummary{Symbol: "BTCUSDT"}, signal)
	if validation.Source != SourceLive {
		t.Fatalf("validation should be a fresh live call, got %v", validation.Source)
	}
	if mock.reviewCnt != 1 {
		t.Errorf("review calls = %d, want 1", mock.reviewCnt)
	}

	// A second validation inside the window is served from its own entry.
	again := svc.Validate(context.Background(), OrderSummary{Symbol: "BTCUSDT"}, signal)
	if again.Source != SourceCached {
		t.Errorf("repeat validation should hit cache, got %v", again.Source)
	}
}

func TestNeedsValidation(t *testing.T) {
	svc := newTestService(&mockConsultant{}, 10)

	tests := []struct {
		name    string
		verdict Verdict
		want    bool
	}{
		{"confident approve", Verdict{Confidence: 85, Recommendation: RecommendApprove}, true},
		{"threshold exactly", Verdict{Confidence: 80, Recommendation: RecommendApprove}, true},
		{"low confidence approve", Verdict{Confidence: 75, Recommendation: RecommendApprove}, false},
		{"confident neutral", Verdict{Confidence: 90, Recommendation: RecommendNeutral}, false},
		{"confident reject", Verdict{Confidence: 90, Recommendation: RecommendReject}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := svc.NeedsValidation(tt.verdict); got != tt.want {
				t.Errorf("NeedsValidation(%+v) = %v, want %v", tt.verdict, got, tt.want)
			}
		})
	}
}

func TestParseVerdictJSON(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantErr  bool
		wantRec  Recommendation
		wantConf float64
	}{
		{
			"plain json",
			`{"confidence": 85, "recommendation": "APPROVE", "reasoning": "strong trend"}`,
			false, RecommendApprove, 85,
		},
		{
			"fenced json",
			"```json\n{\"confidence\": 40, \"recommendation\": \"reject\"}\n```",
			false, RecommendReject, 40,
		},
		{
			"missing recommendation defaults neutral",
			`{"confidence": 60}`,
			false, RecommendNeutral, 60,
		},
		{"malformed", `not json at all`, true, RecommendNeutral, 0},
		{"confidence out of range", `{"confidence": 150, "recommendation": "APPROVE"}`, true, RecommendNeutral, 0},
		{"unknown recommendation", `{"confidence": 50, "recommendation": "MAYBE"}`, true, RecommendNeutral, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := parseVerdictJSON(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if v.Recommendation != tt.wantRec || v.Confidence != tt.wantConf {
				t.Errorf("got %v/%.0f, want %v/%.0f", v.Recommendation, v.Confidence, tt.wantRec, tt.wantConf)
			}
			if v.Source != SourceLive {
				t.Errorf("parsed verdict should be tagged live")
			}
		})
	}
}
