// Package gateway implements the LLM Gateway: a uniform asynchronous chat
// interface with optional tool-binding that normalizes provider-specific
// tool-call shapes into the canonical types.ToolCall record.
//
// Grounded on internal/llm/client.go (Provider enum, Complete) and
// internal/agent/risk_investigator.go (OpenAI tool-calling loop shape).
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/rohankatakam/coderisk/internal/review/types"
)

// TransportError carries structured diagnostics for a failed Gateway call,
// per spec §4.3's "surfaces transport errors with {status, url, body}".
type TransportError struct {
	Status int
	URL    string
	Body   string // truncated
	Cause  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("llm transport error: status=%d url=%s body=%q: %v", e.Status, e.URL, e.Body, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

const maxErrorBodyChars = 2000

func truncateBody(body string) string {
	if len(body) <= maxErrorBodyChars {
		return body
	}
	return body[:maxErrorBodyChars] + "...[truncated]"
}

// Provider selects which backend client.Invoke dispatches to.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
)

// Config configures a Gateway backend.
type Config struct {
	Provider    Provider
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	// RateLimitPerSecond bounds outbound requests to this backend; 0 disables
	// limiting. Grounded on internal/llm/rate_limiter.go.
	RateLimitPerSecond float64
}

// Backend is the provider-specific half of the Gateway: it knows how to turn
// canonical messages + tool definitions into a provider request and how to
// normalize the provider's response back into a canonical assistant message.
type Backend interface {
	Complete(ctx context.Context, messages []types.Message, tools []types.ToolDefinition) (types.Message, error)
}

// Gateway is the uniform chat interface every pipeline stage calls through.
type Gateway struct {
	backend Backend
	limiter *rate.Limiter
	cfg     Config
}

// New wires a Gateway around backend using cfg's rate limit.
func New(cfg Config, backend Backend) *Gateway {
	var limiter *rate.Limiter
	if cfg.RateLimitPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), 1)
	}
	return &Gateway{backend: backend, limiter: limiter, cfg: cfg}
}

// Invoke sends messages (with optional tool bindings) and returns the
// normalized assistant message. Any tool call in the response missing an id
// (providers may omit it) is assigned a synthesized, stable uuid before the
// message is returned — per spec §9's open question on tool-call ids.
func (g *Gateway) Invoke(ctx context.Context, messages []types.Message, tools []types.ToolDefinition) (types.Message, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return types.Message{}, fmt.Errorf("gateway: rate limit wait: %w", err)
		}
	}

	resp, err := g.backend.Complete(ctx, messages, tools)
	if err != nil {
		return types.Message{}, err
	}

	for i := range resp.ToolCalls {
		if resp.ToolCalls[i].ID == "" {
			resp.ToolCalls[i].ID = uuid.New().String()
		}
	}
	return resp, nil
}

// WithTools returns a bound view that always passes tools to Invoke; it is a
// thin convenience matching spec §4.3's `with_tools(tools)` builder.
type BoundGateway struct {
	gw    *Gateway
	tools []types.ToolDefinition
}

func (g *Gateway) WithTools(tools []types.ToolDefinition) *BoundGateway {
	return &BoundGateway{gw: g, tools: tools}
}

func (b *BoundGateway) Invoke(ctx context.Context, messages []types.Message) (types.Message, error) {
	return b.gw.Invoke(ctx, messages, b.tools)
}

// NoTools is a convenience for calling Invoke without tool binding.
func (g *Gateway) NoTools(ctx context.Context, messages []types.Message) (types.Message, error) {
	return g.Invoke(ctx, messages, nil)
}

// clampTemperature mirrors the defensive clamp used across example backends.
func clampTemperature(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > 2 {
		return 2
	}
	return t
}

// elapsedSince is a tiny helper kept for backend implementations that log
// call duration the way internal/llm/client.go does.
func elapsedSince(start time.Time) time.Duration {
	return time.Since(start)
}
