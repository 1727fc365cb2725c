// Package openai implements every capability over the OpenAI wire protocol.
// It is the reference provider: request building, 401-refresh-retry, and
// error classification here define the protocol any provider must follow.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/chatwire/chatwire/internal/ai"
	"github.com/chatwire/chatwire/internal/httpx"
	"github.com/chatwire/chatwire/internal/token"
)

// Config describes one OpenAI-protocol backend.
type Config struct {
	Name         string
	BaseURL      string
	ChatModels   []string
	VisionModels []string
	TTSModels    []string
	STTModels    []string
}

// Provider talks to one OpenAI-protocol backend. Capabilities follow from
// the configured model lists: an empty VisionModels list means no vision.
type Provider struct {
	name    string
	baseURL string
	client  *httpx.Client
	tokens  token.Source
	models  map[ai.Capability][]string
	logger  *slog.Logger

	mu      sync.Mutex
	lastErr error
}

// New creates a Provider. The token source is either an OAuth manager or a
// static API key.
func New(log *slog.Logger, client *httpx.Client, tokens token.Source, cfg Config) *Provider {
	if log == nil {
		log = slog.Default()
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "openai"
	}
	models := map[ai.Capability][]string{}
	if len(cfg.ChatModels) > 0 {
		models[ai.CapabilityChat] = cfg.ChatModels
	}
	if len(cfg.VisionModels) > 0 {
		models[ai.CapabilityVision] = cfg.VisionModels
	}
	if len(cfg.TTSModels) > 0 {
		models[ai.CapabilityTTS] = cfg.TTSModels
	}
	if len(cfg.STTModels) > 0 {
		models[ai.CapabilitySTT] = cfg.STTModels
	}
	return &Provider{
		name:    name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		tokens:  tokens,
		models:  models,
		logger:  log.With(slog.String("service", "provider"), slog.String("provider", name)),
	}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Configured() bool {
	return p.baseURL != "" && len(p.models) > 0
}

func (p *Provider) Connected(ctx context.Context) bool {
	return p.Configured() && p.tokens.Connected(ctx)
}

func (p *Provider) Capabilities() []ai.Capability {
	caps := make([]ai.Capability, 0, len(p.models))
	for _, c := range []ai.Capability{ai.CapabilityChat, ai.CapabilityVision, ai.CapabilityTTS, ai.CapabilitySTT} {
		if _, ok := p.models[c]; ok {
			caps = append(caps, c)
		}
	}
	return caps
}

func (p *Provider) HasCapability(cap ai.Capability) bool {
	_, ok := p.models[cap]
	return ok
}

func (p *Provider) ModelsFor(cap ai.Capability) []string {
	return p.models[cap]
}

func (p *Provider) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *Provider) setLastError(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}

// defaultModel picks the first configured model for a capability when the
// caller did not name one.
func (p *Provider) defaultModel(cap ai.Capability) string {
	if models := p.models[cap]; len(models) > 0 {
		return models[0]
	}
	return ""
}

// --- chat completions wire types ---

type completionRequest struct {
	Model       string       `json:"model"`
	Messages    []ai.Message `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	Tools       []ai.Tool    `json:"tools,omitempty"`
	ToolChoice  any          `json:"tool_choice,omitempty"`
}

type completionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message *struct {
			Role      string        `json:"role"`
			Content   string        `json:"content"`
			ToolCalls []ai.ToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *ai.Usage `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

// GenerateCompletion implements ai.ChatCapability.
func (p *Provider) GenerateCompletion(ctx context.Context, messages []ai.Message, opts ai.CompletionOptions) (ai.CompletionResult, error) {
	if !p.Connected(ctx) {
		err := ai.NewError(ai.ErrKindNotConnected, "provider %s is not connected", p.name)
		p.setLastError(err)
		return ai.CompletionResult{}, err
	}
	model := opts.Model
	if model == "" {
		model = p.defaultModel(ai.CapabilityChat)
	}
	body := completionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Tools:       opts.Tools,
		ToolChoice:  opts.ToolChoice,
	}
	result, err := p.postCompletion(ctx, body)
	if err != nil {
		p.setLastError(err)
		return ai.CompletionResult{}, err
	}
	p.setLastError(nil)
	return result, nil
}

// postCompletion performs the authenticated POST with the single
// refresh-and-retry allowed on 401.
func (p *Provider) postCompletion(ctx context.Context, body completionRequest) (ai.CompletionResult, error) {
	resp, err := p.doAuthorized(ctx, "/chat/completions", body)
	if err != nil {
		return ai.CompletionResult{}, err
	}
	return p.parseCompletion(resp)
}

// doAuthorized sends a JSON POST with bearer auth and the single
// refresh-and-retry allowed on 401.
func (p *Provider) doAuthorized(ctx context.Context, path string, body any) (httpx.Response, error) {
	return p.authorized(ctx, func(bearer string) (httpx.Response, error) {
		return p.client.PostJSON(ctx, p.baseURL+path, map[string]string{
			"Authorization": "Bearer " + bearer,
		}, body)
	})
}

// authorized runs send with a bearer token. On 401 it refreshes the token
// once and repeats the identical request once; a second 401 is a terminal
// auth failure, never a loop. send must be replayable.
func (p *Provider) authorized(ctx context.Context, send func(bearer string) (httpx.Response, error)) (httpx.Response, error) {
	resp, err := p.sendWithBearer(ctx, send)
	if err != nil {
		return httpx.Response{}, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return p.classifyStatus(resp)
	}

	p.logger.Info("access token rejected, refreshing once")
	if err := p.tokens.Refresh(ctx); err != nil {
		if errors.Is(err, token.ErrAuthInvalid) || errors.Is(err, token.ErrNoRefreshToken) {
			return httpx.Response{}, ai.NewError(ai.ErrKindAuthFailed, "token refresh failed: %v", err)
		}
		return httpx.Response{}, ai.NewError(ai.ErrKindConnection, "token refresh failed: %v", err)
	}
	resp, err = p.sendWithBearer(ctx, send)
	if err != nil {
		return httpx.Response{}, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return httpx.Response{}, ai.NewError(ai.ErrKindAuthFailed, "request rejected after token refresh")
	}
	return p.classifyStatus(resp)
}

func (p *Provider) sendWithBearer(ctx context.Context, send func(bearer string) (httpx.Response, error)) (httpx.Response, error) {
	bearer, err := p.tokens.AccessToken(ctx)
	if err != nil {
		return httpx.Response{}, ai.NewError(ai.ErrKindNotConnected, "no access token: %v", err)
	}
	resp, err := send(bearer)
	if err != nil {
		return httpx.Response{}, ai.NewError(ai.ErrKindConnection, "%v", err)
	}
	return resp, nil
}

// classifyStatus maps non-2xx statuses (other than the 401 handled by the
// retry step) to the provider error taxonomy.
func (p *Provider) classifyStatus(resp httpx.Response) (httpx.Response, error) {
	switch {
	case resp.OK():
		return resp, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		aiErr := ai.NewError(ai.ErrKindRateLimit, "provider rate limit exceeded")
		if retry := resp.Header.Get("Retry-After"); retry != "" {
			if secs, err := strconv.Atoi(retry); err == nil {
				aiErr.RetryAfter = secs
			}
		}
		return httpx.Response{}, aiErr
	case resp.StatusCode == http.StatusPaymentRequired || isQuotaError(resp.Body):
		return httpx.Response{}, ai.NewError(ai.ErrKindBudgetExceeded, "provider budget exhausted")
	default:
		return httpx.Response{}, ai.NewError(ai.ErrKindConnection, "provider returned status %d: %s", resp.StatusCode, apiErrorMessage(resp.Body))
	}
}

func (p *Provider) parseCompletion(resp httpx.Response) (ai.CompletionResult, error) {
	var parsed completionResponse
	if err := resp.Decode(&parsed); err != nil {
		return ai.CompletionResult{}, ai.NewError(ai.ErrKindInvalidResponse, "malformed completion response")
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message == nil {
		return ai.CompletionResult{}, ai.NewError(ai.ErrKindInvalidResponse, "completion response has no message")
	}
	choice := parsed.Choices[0]
	result := ai.CompletionResult{
		Model:        parsed.Model,
		Usage:        parsed.Usage,
		FinishReason: choice.FinishReason,
	}
	// A tool-call turn is a distinct result: callers must execute tools
	// and re-enter, not render Content.
	if len(choice.Message.ToolCalls) > 0 || choice.FinishReason == "tool_calls" {
		result.ToolCalls = choice.Message.ToolCalls
		return result, nil
	}
	result.Content = choice.Message.Content
	return result, nil
}

func isQuotaError(body []byte) bool {
	var parsed completionResponse
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Error == nil {
		return false
	}
	errType := strings.ToLower(parsed.Error.Type)
	if errType == "insufficient_quota" {
		return true
	}
	if code, ok := parsed.Error.Code.(string); ok && strings.ToLower(code) == "insufficient_quota" {
		return true
	}
	return false
}

func apiErrorMessage(body []byte) string {
	var parsed completionResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = "no error detail"
	}
	return msg
}

var _ ai.Provider = (*Provider)(nil)
var _ ai.ChatCapability = (*Provider)(nil)
var _ ai.VisionCapability = (*Provider)(nil)
var _ ai.TTSCapability = (*Provider)(nil)
var _ ai.STTCapability = (*Provider)(nil)
