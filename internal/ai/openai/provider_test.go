package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatwire/chatwire/internal/ai"
	"github.com/chatwire/chatwire/internal/httpx"
	"github.com/chatwire/chatwire/internal/token"
)

// refreshableSource counts refreshes and swaps to a second key on refresh.
type refreshableSource struct {
	key        atomic.Value
	refreshes  atomic.Int32
	refreshErr error
}

func newRefreshableSource(initial string) *refreshableSource {
	s := &refreshableSource{}
	s.key.Store(initial)
	return s
}

func (s *refreshableSource) AccessToken(context.Context) (string, error) {
	return s.key.Load().(string), nil
}

func (s *refreshableSource) Connected(context.Context) bool { return true }

func (s *refreshableSource) Refresh(context.Context) error {
	s.refreshes.Add(1)
	if s.refreshErr != nil {
		return s.refreshErr
	}
	s.key.Store("refreshed-key")
	return nil
}

func testProvider(t *testing.T, baseURL string, src token.Source) *Provider {
	t.Helper()
	return New(nil, httpx.New(5*time.Second), src, Config{
		Name:         "test",
		BaseURL:      baseURL,
		ChatModels:   []string{"gpt-test"},
		VisionModels: []string{"gpt-test-vision"},
		TTSModels:    []string{"tts-test"},
		STTModels:    []string{"stt-test"},
	})
}

func completionBody(content string) map[string]any {
	return map[string]any{
		"model": "gpt-test",
		"choices": []map[string]any{{
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 3, "completion_tokens": 5, "total_tokens": 8},
	}
}

func TestGenerateCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-1", r.Header.Get("Authorization"))

		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model, "first configured chat model is the default")

		_ = json.NewEncoder(w).Encode(completionBody("hello there"))
	}))
	defer srv.Close()

	p := testProvider(t, srv.URL, token.NewStatic("sk-1"))
	result, err := p.GenerateCompletion(context.Background(), []ai.Message{{Role: ai.RoleUser, Content: "hi"}}, ai.CompletionOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hello there", result.Content)
	assert.Equal(t, 8, result.Usage.TotalTokens)
	assert.NoError(t, p.LastError())
}

func Test401RefreshesOnceAndRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "Bearer refreshed-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(completionBody("after refresh"))
	}))
	defer srv.Close()

	src := newRefreshableSource("stale-key")
	p := testProvider(t, srv.URL, src)

	result, err := p.GenerateCompletion(context.Background(), []ai.Message{{Role: ai.RoleUser, Content: "hi"}}, ai.CompletionOptions{})
	require.NoError(t, err)
	assert.Equal(t, "after refresh", result.Content)
	assert.Equal(t, int32(1), src.refreshes.Load())
	assert.Equal(t, int32(2), calls.Load())
}

func TestSecond401IsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	src := newRefreshableSource("stale-key")
	p := testProvider(t, srv.URL, src)

	_, err := p.GenerateCompletion(context.Background(), []ai.Message{{Role: ai.RoleUser, Content: "hi"}}, ai.CompletionOptions{})
	require.Error(t, err)
	assert.Equal(t, ai.ErrKindAuthFailed, ai.KindOf(err))
	assert.Equal(t, int32(2), calls.Load(), "exactly one retry, never a loop")
}

func TestStaticKey401BecomesAuthFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := testProvider(t, srv.URL, token.NewStatic("sk-bad"))
	_, err := p.GenerateCompletion(context.Background(), []ai.Message{{Role: ai.RoleUser, Content: "hi"}}, ai.CompletionOptions{})
	require.Error(t, err)
	assert.Equal(t, ai.ErrKindAuthFailed, ai.KindOf(err))
}

func TestRateLimitCarriesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "42")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := testProvider(t, srv.URL, token.NewStatic("sk-1"))
	_, err := p.GenerateCompletion(context.Background(), []ai.Message{{Role: ai.RoleUser, Content: "hi"}}, ai.CompletionOptions{})
	require.Error(t, err)

	var aiErr *ai.Error
	require.ErrorAs(t, err, &aiErr)
	assert.Equal(t, ai.ErrKindRateLimit, aiErr.Kind)
	assert.Equal(t, 42, aiErr.RetryAfter)
}

func TestQuotaErrorBecomesBudgetExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "quota exceeded", "type": "insufficient_quota"},
		})
	}))
	defer srv.Close()

	p := testProvider(t, srv.URL, token.NewStatic("sk-1"))
	_, err := p.GenerateCompletion(context.Background(), []ai.Message{{Role: ai.RoleUser, Content: "hi"}}, ai.CompletionOptions{})
	assert.Equal(t, ai.ErrKindBudgetExceeded, ai.KindOf(err))
}

func TestMissingChoiceIsInvalidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"model": "gpt-test", "choices": []any{}})
	}))
	defer srv.Close()

	p := testProvider(t, srv.URL, token.NewStatic("sk-1"))
	_, err := p.GenerateCompletion(context.Background(), []ai.Message{{Role: ai.RoleUser, Content: "hi"}}, ai.CompletionOptions{})
	assert.Equal(t, ai.ErrKindInvalidResponse, ai.KindOf(err))
	assert.Error(t, p.LastError())
}

func TestToolCallResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-test",
			"choices": []map[string]any{{
				"message": map[string]any{
					"role": "assistant",
					"tool_calls": []map[string]any{{
						"id":   "call_1",
						"type": "function",
						"function": map[string]any{
							"name":      "get_weather",
							"arguments": `{"city":"Oslo"}`,
						},
					}},
				},
				"finish_reason": "tool_calls",
			}},
		})
	}))
	defer srv.Close()

	p := testProvider(t, srv.URL, token.NewStatic("sk-1"))
	result, err := p.GenerateCompletion(context.Background(), []ai.Message{{Role: ai.RoleUser, Content: "weather?"}}, ai.CompletionOptions{})
	require.NoError(t, err)
	assert.True(t, result.HasToolCalls())
	assert.Empty(t, result.Content)
	assert.Equal(t, "get_weather", result.ToolCalls[0].Function.Name)
}

func TestNotConnectedFailsFast(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	p := testProvider(t, srv.URL, token.NewStatic(""))
	_, err := p.GenerateCompletion(context.Background(), []ai.Message{{Role: ai.RoleUser, Content: "hi"}}, ai.CompletionOptions{})
	assert.Equal(t, ai.ErrKindNotConnected, ai.KindOf(err))
	assert.Equal(t, int32(0), calls.Load())
}

func TestBadAttachmentFailsBeforeNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	p := testProvider(t, srv.URL, token.NewStatic("sk-1"))
	bad := []ai.FileAttachment{{Type: ai.FileTypeImage, Mime: "image/png"}} // neither data nor url
	_, err := p.GenerateCompletionWithFiles(context.Background(), []ai.Message{{Role: ai.RoleUser, Content: "see"}}, bad, ai.CompletionOptions{})
	assert.Equal(t, ai.ErrKindValidation, ai.KindOf(err))
	assert.Equal(t, int32(0), calls.Load())
}

func TestCapabilitiesFollowModelLists(t *testing.T) {
	p := New(nil, httpx.New(time.Second), token.NewStatic("k"), Config{
		Name:       "chat-only",
		BaseURL:    "https://api.example.com",
		ChatModels: []string{"m1", "m2"},
	})
	assert.True(t, p.HasCapability(ai.CapabilityChat))
	assert.False(t, p.HasCapability(ai.CapabilityVision))
	assert.Equal(t, []ai.Capability{ai.CapabilityChat}, p.Capabilities())
	assert.Equal(t, []string{"m1", "m2"}, p.ModelsFor(ai.CapabilityChat))
}
