package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chatwire/chatwire/internal/ai"
	"github.com/chatwire/chatwire/internal/store"
)

// DefaultHistoryLimit bounds the history window when the configuration does
// not set one.
const DefaultHistoryLimit = 10

// KnowledgeResolver turns configured knowledge-source references into text
// for the system prompt. Resolution failures degrade to an empty string;
// they never fail the message.
type KnowledgeResolver interface {
	Resolve(ctx context.Context, sources []string) string
}

// CoreHandler is the center of the pipeline: it resolves configuration and
// conversation, persists the inbound message, invokes the AI service, and
// persists the reply.
type CoreHandler struct {
	store        store.Store
	ai           *ai.Service
	knowledge    KnowledgeResolver
	historyLimit int
	logger       *slog.Logger
}

// NewCoreHandler creates the core stage. knowledge may be nil.
func NewCoreHandler(log *slog.Logger, st store.Store, svc *ai.Service, knowledge KnowledgeResolver) *CoreHandler {
	if log == nil {
		log = slog.Default()
	}
	return &CoreHandler{
		store:        st,
		ai:           svc,
		knowledge:    knowledge,
		historyLimit: DefaultHistoryLimit,
		logger:       log.With(slog.String("service", "handler")),
	}
}

// SetHistoryLimit overrides the fallback history window used when a
// configuration does not set its own.
func (h *CoreHandler) SetHistoryLimit(n int) {
	if n > 0 {
		h.historyLimit = n
	}
}

func (h *CoreHandler) Handle(ctx context.Context, mc Context) Response {
	cfg, err := h.resolveConfig(ctx, mc)
	if err != nil {
		return Fail(ErrTypeDatabase, "failed to load chat configuration")
	}
	if !cfg.Enabled {
		return Fail(ErrTypeValidation, "this chat is disabled")
	}
	mc = mc.WithConfig(cfg)

	conv, err := h.resolveConversation(ctx, mc, cfg)
	if err != nil {
		return Fail(ErrTypeConversation, "failed to resolve conversation")
	}
	mc = mc.WithConversationID(conv.ID)

	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = h.historyLimit
	}
	history, err := h.store.RecentMessages(ctx, conv.ID, limit)
	if err != nil {
		return Fail(ErrTypeDatabase, "failed to load conversation history")
	}
	mc = mc.WithHistory(history)

	// Persist the inbound message before any provider call so a crash
	// mid-request never loses it.
	inbound := mc.Text
	if manifest := ai.Manifest(mc.Files); manifest != "" {
		inbound = strings.TrimSpace(inbound + "\n\n" + manifest)
	}
	if _, err := h.store.AppendMessage(ctx, store.Message{
		ConversationID: conv.ID,
		SenderType:     store.SenderUser,
		Content:        inbound,
	}); err != nil {
		return Fail(ErrTypeDatabase, "failed to save message")
	}

	if !h.ai.Available(ctx) {
		return failWithConversation(Fail(ErrTypeAIUnavailable, "no AI provider is available"), conv.ID)
	}

	messages := h.buildMessages(ctx, mc, cfg)
	opts := ai.CompletionOptions{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}

	result, err := h.complete(ctx, mc, messages, opts)
	if err != nil {
		h.logger.Warn("completion failed",
			slog.String("platform", mc.Platform),
			slog.String("conversation_id", conv.ID),
			slog.String("error", err.Error()))
		return failWithConversation(fromAIError(err), conv.ID)
	}

	if result.HasToolCalls() {
		// Tool execution happens outside the pipeline; nothing is
		// persisted for this turn.
		return Response{
			Success:        true,
			ToolCalls:      result.ToolCalls,
			ConversationID: conv.ID,
			Model:          result.Model,
			Usage:          result.Usage,
		}
	}

	saved, err := h.store.AppendMessage(ctx, store.Message{
		ConversationID: conv.ID,
		SenderType:     store.SenderAssistant,
		Content:        result.Content,
	})
	if err != nil {
		return failWithConversation(Fail(ErrTypeDatabase, "failed to save reply"), conv.ID)
	}

	resp := Succeed(result.Content)
	resp.ConversationID = conv.ID
	resp.MessageID = saved.ID
	resp.Model = result.Model
	resp.Usage = result.Usage
	return resp
}

func (h *CoreHandler) resolveConfig(ctx context.Context, mc Context) (store.Configuration, error) {
	id := mc.ConfigID
	if id == "" {
		id = store.DefaultConfigurationID
	}
	cfg, err := h.store.GetConfiguration(ctx, id)
	if errors.Is(err, store.ErrNotFound) && mc.ConfigID == "" {
		// No default configuration provisioned: run with built-ins.
		return store.Configuration{ID: store.DefaultConfigurationID, Enabled: true}, nil
	}
	return cfg, err
}

func (h *CoreHandler) resolveConversation(ctx context.Context, mc Context, cfg store.Configuration) (store.Conversation, error) {
	if mc.ConversationID != "" {
		return h.store.GetConversation(ctx, mc.ConversationID)
	}
	chatID := mc.PlatformChatID
	if chatID == "" {
		chatID = mc.ClientIP
	}
	return h.store.EnsureConversation(ctx, mc.Platform, chatID, cfg.ID)
}

// complete calls the vision path when attachments are present and a vision
// provider exists; otherwise it degrades to a text-only completion rather
// than failing.
func (h *CoreHandler) complete(ctx context.Context, mc Context, messages []ai.Message, opts ai.CompletionOptions) (ai.CompletionResult, error) {
	if len(mc.Files) > 0 {
		if h.ai.ProviderFor(ctx, ai.CapabilityVision) != nil {
			return h.ai.GenerateCompletionWithFiles(ctx, messages, mc.Files, opts)
		}
		h.logger.Info("no vision provider, degrading to text-only completion",
			slog.String("platform", mc.Platform))
	}
	return h.ai.GenerateCompletion(ctx, messages, opts)
}

// buildMessages assembles the provider message array: an optional system
// message, bounded history, then the current user message.
func (h *CoreHandler) buildMessages(ctx context.Context, mc Context, cfg store.Configuration) []ai.Message {
	messages := make([]ai.Message, 0, len(mc.History)+2)
	if system := h.systemPrompt(ctx, mc, cfg); system != "" {
		messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: system})
	}
	for _, m := range mc.History {
		role := ai.RoleUser
		if m.SenderType == store.SenderAssistant {
			role = ai.RoleAssistant
		}
		messages = append(messages, ai.Message{Role: role, Content: m.Content})
	}
	return append(messages, ai.Message{Role: ai.RoleUser, Content: mc.Text})
}

func (h *CoreHandler) systemPrompt(ctx context.Context, mc Context, cfg store.Configuration) string {
	var parts []string
	if cfg.SystemPrompt != "" {
		parts = append(parts, cfg.SystemPrompt)
	}
	if cfg.Persona != "" {
		parts = append(parts, cfg.Persona)
	}
	if mc.VisitorName != "" {
		parts = append(parts, fmt.Sprintf("You are talking to %s.", mc.VisitorName))
	}
	if cfg.Knowledge != "" {
		parts = append(parts, "Relevant knowledge:\n"+cfg.Knowledge)
	}
	if h.knowledge != nil && len(cfg.KnowledgeSources) > 0 {
		if resolved := h.knowledge.Resolve(ctx, cfg.KnowledgeSources); resolved != "" {
			parts = append(parts, resolved)
		}
	}
	return strings.Join(parts, "\n\n")
}

func failWithConversation(resp Response, conversationID string) Response {
	resp.ConversationID = conversationID
	return resp
}

// fromAIError maps provider error kinds onto response error types.
func fromAIError(err error) Response {
	var aiErr *ai.Error
	if !errors.As(err, &aiErr) {
		return Fail(ErrTypePipeline, "unexpected processing failure")
	}
	switch aiErr.Kind {
	case ai.ErrKindRateLimit:
		resp := Fail(ErrTypeRateLimit, "the AI provider is throttling requests")
		resp.RetryAfter = aiErr.RetryAfter
		return resp
	case ai.ErrKindBudgetExceeded:
		return Fail(ErrTypeBudgetExceeded, "the AI provider budget is exhausted")
	case ai.ErrKindAuthFailed:
		return Fail(ErrTypeAuthFailed, "AI provider authentication failed")
	case ai.ErrKindInvalidResponse:
		return Fail(ErrTypeInvalidResp, "the AI provider returned an unusable response")
	case ai.ErrKindValidation:
		return Fail(ErrTypeValidation, aiErr.Message)
	default:
		// not_connected, connection_error, no_provider_available
		return Fail(ErrTypeAIUnavailable, "the AI service is temporarily unavailable")
	}
}
