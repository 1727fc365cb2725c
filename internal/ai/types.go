// Package ai defines the provider/capability abstraction and the service
// facade that routes capability-level operations across providers.
package ai

import "context"

// Capability tags one independently implementable AI function.
type Capability string

const (
	CapabilityChat   Capability = "chat"
	CapabilityVision Capability = "vision"
	CapabilityTTS    Capability = "tts"
	CapabilitySTT    Capability = "stt"
)

// Message is one entry of a provider message array. Content is either a
// plain string or a []ContentBlock for multi-part (vision) messages.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// Roles used in provider message arrays.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ContentBlock is one part of a multi-part message content.
type ContentBlock struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references image content by http(s) URL or data: URI.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// Tool describes a function made available to the model.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction is the callable schema inside a Tool.
type ToolFunction struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction holds the name and serialized arguments of a tool call.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Usage is normalized token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionOptions tune one chat/vision request.
type CompletionOptions struct {
	Model       string
	MaxTokens   int
	Temperature *float64
	Tools       []Tool
	ToolChoice  any
}

// CompletionResult is the outcome of a chat or vision request. A tool-call
// result carries ToolCalls and an empty Content; callers must branch on
// HasToolCalls before using Content.
type CompletionResult struct {
	Content      string
	ToolCalls    []ToolCall
	Usage        *Usage
	Model        string
	FinishReason string
}

// HasToolCalls reports whether the model requested tool execution.
func (r CompletionResult) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// SpeechOptions tune a text-to-speech request.
type SpeechOptions struct {
	Model  string
	Voice  string
	Speed  float64
	Format string
}

// SpeechResult carries synthesized audio.
type SpeechResult struct {
	AudioData   []byte
	ContentType string
}

// TranscribeOptions tune a speech-to-text request.
type TranscribeOptions struct {
	Model    string
	Language string
	Filename string
}

// TranscribeResult carries recognized text.
type TranscribeResult struct {
	Text     string
	Language string
}

// Provider is a named connector to one AI backend exposing zero or more
// capabilities. Capability behavior lives in the optional interfaces below,
// asserted at runtime, not in a type hierarchy.
type Provider interface {
	Name() string
	Configured() bool
	Connected(ctx context.Context) bool
	Capabilities() []Capability
	HasCapability(cap Capability) bool
	ModelsFor(cap Capability) []string
	LastError() error
}

// ChatCapability generates plain chat completions.
type ChatCapability interface {
	GenerateCompletion(ctx context.Context, messages []Message, opts CompletionOptions) (CompletionResult, error)
}

// VisionCapability generates completions over messages with file attachments.
type VisionCapability interface {
	GenerateCompletionWithFiles(ctx context.Context, messages []Message, files []FileAttachment, opts CompletionOptions) (CompletionResult, error)
	// AnalyzeFiles is sugar over GenerateCompletionWithFiles with a single
	// synthesized user message.
	AnalyzeFiles(ctx context.Context, files []FileAttachment, prompt string, opts CompletionOptions) (CompletionResult, error)
}

// TTSCapability synthesizes speech.
type TTSCapability interface {
	TextToSpeech(ctx context.Context, text string, opts SpeechOptions) (SpeechResult, error)
}

// STTCapability transcribes audio.
type STTCapability interface {
	SpeechToText(ctx context.Context, audio []byte, opts TranscribeOptions) (TranscribeResult, error)
}
