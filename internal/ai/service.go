package ai

import (
	"context"
	"log/slog"
)

// Service is the capability-routing facade over one primary provider and an
// ordered list of fallbacks. Callers ask for capability-level operations and
// never learn which provider served them, except through Status.
type Service struct {
	primary   Provider
	fallbacks []Provider
	logger    *slog.Logger
}

// NewService creates a Service. Fallback order is significant: the first
// connected, capable fallback wins.
func NewService(log *slog.Logger, primary Provider, fallbacks ...Provider) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		primary:   primary,
		fallbacks: fallbacks,
		logger:    log.With(slog.String("service", "ai")),
	}
}

// ProviderFor resolves the provider serving a capability: the primary when
// connected and capable, else the first connected+capable fallback, else
// nil. Deterministic first-match; no load balancing.
func (s *Service) ProviderFor(ctx context.Context, cap Capability) Provider {
	if s.primary != nil && s.primary.HasCapability(cap) && s.primary.Connected(ctx) {
		return s.primary
	}
	for _, p := range s.fallbacks {
		if p != nil && p.HasCapability(cap) && p.Connected(ctx) {
			return p
		}
	}
	return nil
}

// Available reports whether any provider can serve chat.
func (s *Service) Available(ctx context.Context) bool {
	return s.ProviderFor(ctx, CapabilityChat) != nil
}

func errNoProvider(cap Capability) error {
	return NewError(ErrKindNoProviderAvailable, "no connected provider supports %s", cap)
}

// GenerateCompletion routes a chat completion to a capable provider.
func (s *Service) GenerateCompletion(ctx context.Context, messages []Message, opts CompletionOptions) (CompletionResult, error) {
	p := s.ProviderFor(ctx, CapabilityChat)
	chat, ok := p.(ChatCapability)
	if p == nil || !ok {
		return CompletionResult{}, errNoProvider(CapabilityChat)
	}
	return chat.GenerateCompletion(ctx, messages, opts)
}

// GenerateCompletionWithFiles routes a vision completion.
func (s *Service) GenerateCompletionWithFiles(ctx context.Context, messages []Message, files []FileAttachment, opts CompletionOptions) (CompletionResult, error) {
	p := s.ProviderFor(ctx, CapabilityVision)
	vision, ok := p.(VisionCapability)
	if p == nil || !ok {
		return CompletionResult{}, errNoProvider(CapabilityVision)
	}
	return vision.GenerateCompletionWithFiles(ctx, messages, files, opts)
}

// AnalyzeFiles routes a single-shot file analysis.
func (s *Service) AnalyzeFiles(ctx context.Context, files []FileAttachment, prompt string, opts CompletionOptions) (CompletionResult, error) {
	p := s.ProviderFor(ctx, CapabilityVision)
	vision, ok := p.(VisionCapability)
	if p == nil || !ok {
		return CompletionResult{}, errNoProvider(CapabilityVision)
	}
	return vision.AnalyzeFiles(ctx, files, prompt, opts)
}

// TextToSpeech routes a speech synthesis request.
func (s *Service) TextToSpeech(ctx context.Context, text string, opts SpeechOptions) (SpeechResult, error) {
	p := s.ProviderFor(ctx, CapabilityTTS)
	tts, ok := p.(TTSCapability)
	if p == nil || !ok {
		return SpeechResult{}, errNoProvider(CapabilityTTS)
	}
	return tts.TextToSpeech(ctx, text, opts)
}

// SpeechToText routes a transcription request.
func (s *Service) SpeechToText(ctx context.Context, audio []byte, opts TranscribeOptions) (TranscribeResult, error) {
	p := s.ProviderFor(ctx, CapabilitySTT)
	stt, ok := p.(STTCapability)
	if p == nil || !ok {
		return TranscribeResult{}, errNoProvider(CapabilitySTT)
	}
	return stt.SpeechToText(ctx, audio, opts)
}

// Status is the introspection snapshot exposed to hosts.
type Status struct {
	Available    bool         `json:"available"`
	Provider     string       `json:"provider,omitempty"`
	Capabilities []Capability `json:"capabilities,omitempty"`
	Chat         bool         `json:"chat"`
	Vision       bool         `json:"vision"`
	TTS          bool         `json:"tts"`
	STT          bool         `json:"stt"`
}

// GetStatus reports which capabilities are currently serveable and by whom.
// Provider names the connector serving chat (the facade's availability
// anchor); per-capability flags may be served by different connectors.
func (s *Service) GetStatus(ctx context.Context) Status {
	st := Status{
		Chat:   s.ProviderFor(ctx, CapabilityChat) != nil,
		Vision: s.ProviderFor(ctx, CapabilityVision) != nil,
		TTS:    s.ProviderFor(ctx, CapabilityTTS) != nil,
		STT:    s.ProviderFor(ctx, CapabilitySTT) != nil,
	}
	st.Available = st.Chat
	if p := s.ProviderFor(ctx, CapabilityChat); p != nil {
		st.Provider = p.Name()
		st.Capabilities = p.Capabilities()
	}
	return st
}
