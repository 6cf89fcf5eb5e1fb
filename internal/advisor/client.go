package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"ai-trading-engine/internal/strategy"
)

// Provider represents the LLM provider type
type Provider string

const (
	ProviderClaude   Provider = "claude"
	ProviderOpenAI   Provider = "openai"
	ProviderDeepSeek Provider = "deepseek"
)

// ClientConfig holds LLM client configuration
type ClientConfig struct {
	Provider    Provider      `json:"provider"`
	APIKey      string        `json:"api_key"`
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Timeout     time.Duration `json:"timeout"`
}

// DefaultClientConfig returns default configuration
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Provider:    ProviderClaude,
		Model:       "claude-sonnet-4-20250514",
		MaxTokens:   1024,
		Temperature: 0.3,
		Timeout:     30 * time.Second,
	}
}

// LLMClient consults an LLM provider for trade analysis. It implements the
// Consultant port used by the advisory service.
type LLMClient struct {
	config     *ClientConfig
	httpClient *http.Client
}

// NewLLMClient creates a client. A nil config uses defaults.
func NewLLMClient(config *ClientConfig) *LLMClient {
	if config == nil {
		config = DefaultClientConfig()
	}
	return &LLMClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// IsConfigured checks if the client has credentials.
func (c *LLMClient) IsConfigured() bool {
	return c.config.APIKey != ""
}

const analysisSystemPrompt = `You are a cryptocurrency trading analyst. You receive technical
indicator readings for a proposed trade and respond ONLY with a JSON object:
{"confidence": <0-100>, "recommendation": "APPROVE"|"REJECT"|"NEUTRAL", "reasoning": "<one sentence>"}`

const validationSystemPrompt = `You are a risk reviewer for a cryptocurrency trading system. You
receive a fully sized order with its stop and target levels and respond ONLY with a JSON object:
{"confidence": <0-100>, "recommendation": "APPROVE"|"REJECT"|"NEUTRAL", "reasoning": "<one sentence>"}`

// Consult asks the provider for an opinion on the signal.
func (c *LLMClient) Consult(ctx context.Context, signal strategy.Signal) (Verdict, error) {
	prompt := buildAnalysisPrompt(signal)
	return c.consult(ctx, analysisSystemPrompt, prompt)
}

// Review asks the provider to second-check a sized order.
func (c *LLMClient) Review(ctx context.Context, summary OrderSummary, signal strategy.Signal) (Verdict, error) {
	prompt := buildValidationPrompt(summary, signal)
	return c.consult(ctx, validationSystemPrompt, prompt)
}

func (c *LLMClient) consult(ctx context.Context, systemPrompt, userPrompt string) (Verdict, error) {
	raw, err := c.complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrAdvisorUnavailable, err)
	}

	verdict, err := parseVerdictJSON(raw)
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrAdvisorUnavailable, err)
	}
	return verdict, nil
}

// OrderSummary carries the fields the validation prompt needs, decoupled
// from the risk package's order type.
type OrderSummary struct {
	Symbol          string
	Direction       string
	SizeUSD         float64
	EntryPrice      float64
	StopLossPrice   float64
	TakeProfitPrice float64
}

func buildAnalysisPrompt(signal strategy.Signal) string {
	snap := signal.Snapshot
	return fmt.Sprintf(`Proposed trade: %s %s on %s timeframe.
Signal strength: %.2f
Price: %.4f
Fast EMA: %.4f, Slow EMA: %.4f
ADX: %.2f
RSI: %.2f
ATR: %.4f
Volume ratio: %.2f
Should this trade be taken?`,
		signal.Direction, signal.Symbol, signal.Timeframe,
		signal.Strength, snap.Close, snap.FastEMA, snap.SlowEMA,
		snap.ADX, snap.RSI, snap.ATR, snap.VolumeRatio)
}

func buildValidationPrompt(summary OrderSummary, signal strategy.Signal) string {
	return fmt.Sprintf(`Sized order awaiting final review: %s %s
Size: %.2f USD
Entry: %.4f
Stop loss: %.4f
Take profit: %.4f
Signal strength: %.2f, ADX: %.2f, RSI: %.2f
Approve this order?`,
		summary.Direction, summary.Symbol, summary.SizeUSD,
		summary.EntryPrice, summary.StopLossPrice, summary.TakeProfitPrice,
		signal.Strength, signal.Snapshot.ADX, signal.Snapshot.RSI)
}

// verdictPayload is the JSON shape the prompts demand.
type verdictPayload struct {
	Confidence     float64 `json:"confidence"`
	Recommendation string  `json:"recommendation"`
	Reasoning      string  `json:"reasoning"`
}

var codeBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// stripMarkdownCodeBlock unwraps a fenced response if the model added one.
func stripMarkdownCodeBlock(s string) string {
	if m := codeBlockRegex.FindStringSubmatch(s); len(m) == 2 {
		return m[1]
	}
	return strings.TrimSpace(s)
}

func parseVerdictJSON(raw string) (Verdict, error) {
	var payload verdictPayload
	if err := json.Unmarshal([]byte(stripMarkdownCodeBlock(raw)), &payload); err != nil {
		return Verdict{}, fmt.Errorf("malformed advisor response: %w", err)
	}

	if payload.Confidence < 0 || payload.Confidence > 100 {
		return Verdict{}, fmt.Errorf("advisor confidence %.2f out of range", payload.Confidence)
	}

	var rec Recommendation
	switch strings.ToUpper(strings.TrimSpace(payload.Recommendation)) {
	case "APPROVE":
		rec = RecommendApprove
	case "REJECT":
		rec = RecommendReject
	case "NEUTRAL", "":
		rec = RecommendNeutral
	default:
		return Verdict{}, fmt.Errorf("advisor recommendation %q not recognized", payload.Recommendation)
	}

	return Verdict{
		Confidence:     payload.Confidence,
		Recommendation: rec,
		Source:         SourceLive,
		Reasoning:      payload.Reasoning,
		ProducedAt:     time.Now().UTC(),
	}, nil
}

// Message represents a chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature,omitempty"`
	Messages    []Message `json:"messages"`
	System      string    `json:"system,omitempty"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// complete sends a completion request to the configured provider.
func (c *LLMClient) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	switch c.config.Provider {
	case ProviderClaude:
		return c.completeClaude(ctx, systemPrompt, userPrompt)
	case ProviderOpenAI:
		return c.completeOpenAICompatible(ctx, "https://api.openai.com/v1/chat/completions", systemPrompt, userPrompt)
	case ProviderDeepSeek:
		return c.completeOpenAICompatible(ctx, "https://api.deepseek.com/v1/chat/completions", systemPrompt, userPrompt)
	default:
		return "", fmt.Errorf("unsupported provider: %s", c.config.Provider)
	}
}

func (c *LLMClient) completeClaude(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req := claudeRequest{
		Model:       c.config.Model,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
		System:      systemPrompt,
		Messages: []Message{
			{Role: "user", Content: userPrompt},
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", "https://api.anthropic.com/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.config.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var claudeResp claudeResponse
	if err := json.Unmarshal(respBody, &claudeResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if claudeResp.Error != nil {
		return "", fmt.Errorf("API error: %s - %s", claudeResp.Error.Type, claudeResp.Error.Message)
	}

	if len(claudeResp.Content) == 0 {
		return "", fmt.Errorf("empty response from provider")
	}

	return claudeResp.Content[0].Text, nil
}

func (c *LLMClient) completeOpenAICompatible(ctx context.Context, url, systemPrompt, userPrompt string) (string, error) {
	req := openAIRequest{
		Model: c.config.Model,
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(respBody, &openAIResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if openAIResp.Error != nil {
		return "", fmt.Errorf("API error: %s - %s", openAIResp.Error.Type, openAIResp.Error.Message)
	}

	if len(openAIResp.Choices) == 0 {
		return "", fmt.Errorf("empty response from provider")
	}

	return openAIResp.Choices[0].Message.Content, nil
}
