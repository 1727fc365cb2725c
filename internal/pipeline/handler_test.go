package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatwire/chatwire/internal/ai"
	"github.com/chatwire/chatwire/internal/store"
	"github.com/chatwire/chatwire/internal/store/memstore"
)

// scriptedProvider implements chat (and optionally vision) with canned
// results, recording the message arrays it receives.
type scriptedProvider struct {
	name      string
	connected bool
	vision    bool
	result    ai.CompletionResult
	err       error
	calls     [][]ai.Message
	fileCalls int
}

func (p *scriptedProvider) Name() string                   { return p.name }
func (p *scriptedProvider) Configured() bool               { return true }
func (p *scriptedProvider) Connected(context.Context) bool { return p.connected }
func (p *scriptedProvider) LastError() error               { return p.err }
func (p *scriptedProvider) ModelsFor(ai.Capability) []string {
	return nil
}
func (p *scriptedProvider) HasCapability(cap ai.Capability) bool {
	if cap == ai.CapabilityVision {
		return p.vision
	}
	return cap == ai.CapabilityChat
}
func (p *scriptedProvider) Capabilities() []ai.Capability {
	caps := []ai.Capability{ai.CapabilityChat}
	if p.vision {
		caps = append(caps, ai.CapabilityVision)
	}
	return caps
}

func (p *scriptedProvider) GenerateCompletion(_ context.Context, messages []ai.Message, _ ai.CompletionOptions) (ai.CompletionResult, error) {
	p.calls = append(p.calls, messages)
	return p.result, p.err
}

func (p *scriptedProvider) GenerateCompletionWithFiles(_ context.Context, messages []ai.Message, _ []ai.FileAttachment, _ ai.CompletionOptions) (ai.CompletionResult, error) {
	p.fileCalls++
	p.calls = append(p.calls, messages)
	return p.result, p.err
}

func (p *scriptedProvider) AnalyzeFiles(ctx context.Context, files []ai.FileAttachment, prompt string, opts ai.CompletionOptions) (ai.CompletionResult, error) {
	return p.GenerateCompletionWithFiles(ctx, []ai.Message{{Role: ai.RoleUser, Content: prompt}}, files, opts)
}

func newHandlerFixture(p *scriptedProvider) (*CoreHandler, *memstore.Store) {
	st := memstore.New()
	svc := ai.NewService(nil, p)
	return NewCoreHandler(nil, st, svc, nil), st
}

func okProvider() *scriptedProvider {
	return &scriptedProvider{
		name:      "scripted",
		connected: true,
		result:    ai.CompletionResult{Content: "assistant reply", Model: "m1"},
	}
}

func inbound(text string) Context {
	return NewContext(text, "telegram").WithPlatformChatID("chat-1")
}

func TestHandleSuccessPersistsBothTurns(t *testing.T) {
	p := okProvider()
	h, st := newHandlerFixture(p)
	ctx := context.Background()

	resp := h.Handle(ctx, inbound("hello"))
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "assistant reply", resp.Message)
	assert.Equal(t, "m1", resp.Model)
	assert.NotEmpty(t, resp.ConversationID)
	assert.NotEmpty(t, resp.MessageID)

	msgs, err := st.RecentMessages(ctx, resp.ConversationID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.SenderUser, msgs[0].SenderType)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, store.SenderAssistant, msgs[1].SenderType)
}

func TestHandleIdempotentConversation(t *testing.T) {
	h, _ := newHandlerFixture(okProvider())
	ctx := context.Background()

	first := h.Handle(ctx, inbound("one"))
	second := h.Handle(ctx, inbound("two"))
	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.Equal(t, first.ConversationID, second.ConversationID,
		"same chat identity reuses the active conversation")
}

func TestHandleNewConversationAfterEnd(t *testing.T) {
	h, st := newHandlerFixture(okProvider())
	ctx := context.Background()

	first := h.Handle(ctx, inbound("one"))
	require.True(t, first.Success)
	require.NoError(t, st.EndConversation(ctx, first.ConversationID))

	second := h.Handle(ctx, inbound("two"))
	require.True(t, second.Success)
	assert.NotEqual(t, first.ConversationID, second.ConversationID)
}

func TestHandlePersistsInboundBeforeProviderFailure(t *testing.T) {
	p := &scriptedProvider{
		name:      "failing",
		connected: true,
		err:       ai.NewError(ai.ErrKindConnection, "backend down"),
	}
	h, st := newHandlerFixture(p)
	ctx := context.Background()

	resp := h.Handle(ctx, inbound("do not lose me"))
	require.False(t, resp.Success)
	assert.Equal(t, ErrTypeAIUnavailable, resp.ErrorType)
	require.NotEmpty(t, resp.ConversationID)

	msgs, err := st.RecentMessages(ctx, resp.ConversationID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "user message saved, no assistant message")
	assert.Equal(t, "do not lose me", msgs[0].Content)
}

func TestHandleUnavailableWithoutProviderCall(t *testing.T) {
	p := &scriptedProvider{name: "offline", connected: false}
	h, _ := newHandlerFixture(p)

	resp := h.Handle(context.Background(), inbound("hi"))
	assert.Equal(t, ErrTypeAIUnavailable, resp.ErrorType)
	assert.Empty(t, p.calls, "no provider call when the service is unavailable")
}

func TestHandleToolCallsSkipPersistence(t *testing.T) {
	p := okProvider()
	p.result = ai.CompletionResult{
		ToolCalls: []ai.ToolCall{{ID: "call_1", Type: "function"}},
		Model:     "m1",
	}
	h, st := newHandlerFixture(p)
	ctx := context.Background()

	resp := h.Handle(ctx, inbound("use a tool"))
	require.True(t, resp.Success)
	assert.True(t, resp.HasToolCalls())
	assert.Empty(t, resp.MessageID)

	msgs, err := st.RecentMessages(ctx, resp.ConversationID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "only the inbound message is persisted on a tool-call turn")
}

func TestHandleFilesDegradeWithoutVision(t *testing.T) {
	p := okProvider() // chat-only
	h, st := newHandlerFixture(p)
	ctx := context.Background()

	mc := inbound("look at this").WithFiles([]ai.FileAttachment{
		{Type: ai.FileTypeImage, Data: []byte{1}, Mime: "image/png", Name: "cat.png"},
	})
	resp := h.Handle(ctx, mc)
	require.True(t, resp.Success)
	assert.Equal(t, 0, p.fileCalls, "degraded to a text-only completion")
	require.Len(t, p.calls, 1)

	msgs, err := st.RecentMessages(ctx, resp.ConversationID, 10)
	require.NoError(t, err)
	assert.Contains(t, msgs[0].Content, "[Attached files: cat.png (image)]",
		"file manifest appended to the persisted inbound message")
}

func TestHandleFilesUseVisionWhenAvailable(t *testing.T) {
	p := okProvider()
	p.vision = true
	h, _ := newHandlerFixture(p)

	mc := inbound("look").WithFiles([]ai.FileAttachment{
		{Type: ai.FileTypeImage, Data: []byte{1}, Mime: "image/png", Name: "a.png"},
	})
	resp := h.Handle(context.Background(), mc)
	require.True(t, resp.Success)
	assert.Equal(t, 1, p.fileCalls)
}

func TestHandleBuildsSystemPromptAndHistory(t *testing.T) {
	p := okProvider()
	h, st := newHandlerFixture(p)
	ctx := context.Background()

	_, err := st.UpsertConfiguration(ctx, store.Configuration{
		ID:      store.DefaultConfigurationID,
		Persona: "You are a pirate.",
		Enabled: true,
	})
	require.NoError(t, err)

	require.True(t, h.Handle(ctx, inbound("first")).Success)
	resp := h.Handle(ctx, inbound("second").WithVisitorName("Sam"))
	require.True(t, resp.Success)

	require.Len(t, p.calls, 2)
	messages := p.calls[1]
	require.GreaterOrEqual(t, len(messages), 4)

	assert.Equal(t, ai.RoleSystem, messages[0].Role)
	system := messages[0].Content.(string)
	assert.Contains(t, system, "You are a pirate.")
	assert.Contains(t, system, "Sam")

	// History oldest-first, then the current message last.
	assert.Equal(t, "first", messages[1].Content)
	assert.Equal(t, ai.RoleAssistant, messages[2].Role)
	last := messages[len(messages)-1]
	assert.Equal(t, ai.RoleUser, last.Role)
	assert.Equal(t, "second", last.Content)
}

func TestHandleDisabledConfiguration(t *testing.T) {
	h, st := newHandlerFixture(okProvider())
	ctx := context.Background()

	_, err := st.UpsertConfiguration(ctx, store.Configuration{
		ID:      store.DefaultConfigurationID,
		Enabled: false,
	})
	require.NoError(t, err)

	resp := h.Handle(ctx, inbound("hi"))
	assert.Equal(t, ErrTypeValidation, resp.ErrorType)
}

func TestHandleRateLimitErrorMapsThrough(t *testing.T) {
	p := &scriptedProvider{name: "limited", connected: true}
	rlErr := ai.NewError(ai.ErrKindRateLimit, "slow down")
	rlErr.RetryAfter = 30
	p.err = rlErr
	h, _ := newHandlerFixture(p)

	resp := h.Handle(context.Background(), inbound("hi"))
	assert.Equal(t, ErrTypeRateLimit, resp.ErrorType)
	assert.Equal(t, 30, resp.RetryAfter)
}
