package pipeline

import "github.com/chatwire/chatwire/internal/ai"

// ErrorType classifies a failed Response for adapters.
type ErrorType string

const (
	ErrTypeValidation     ErrorType = "validation_error"
	ErrTypeRateLimit      ErrorType = "rate_limit"
	ErrTypeAIUnavailable  ErrorType = "ai_unavailable"
	ErrTypeAuthFailed     ErrorType = "auth_failed"
	ErrTypeNoRefreshToken ErrorType = "no_refresh_token"
	ErrTypeInvalidResp    ErrorType = "invalid_response"
	ErrTypeAuthInvalid    ErrorType = "auth_invalid"
	ErrTypeBudgetExceeded ErrorType = "budget_exceeded"
	ErrTypeConversation   ErrorType = "conversation_error"
	ErrTypeDatabase       ErrorType = "database_error"
	ErrTypePipeline       ErrorType = "pipeline_error"
)

// Response is the outcome of one pipeline invocation. It is constructed
// exactly once, by a short-circuiting middleware or by the core handler;
// the pipeline only stamps ProcessingTimeMs at the outermost layer.
type Response struct {
	Success          bool          `json:"success"`
	Message          string        `json:"message,omitempty"`
	Error            string        `json:"error,omitempty"`
	ErrorType        ErrorType     `json:"error_type,omitempty"`
	ConversationID   string        `json:"conversation_id,omitempty"`
	MessageID        string        `json:"message_id,omitempty"`
	Model            string        `json:"model,omitempty"`
	Usage            *ai.Usage     `json:"usage,omitempty"`
	ToolCalls        []ai.ToolCall `json:"tool_calls,omitempty"`
	RetryAfter       int           `json:"retry_after,omitempty"`
	ProcessingTimeMs int64         `json:"processing_time_ms"`
}

// Succeed builds a success Response carrying the assistant message.
func Succeed(message string) Response {
	return Response{Success: true, Message: message}
}

// Fail builds an error Response.
func Fail(errType ErrorType, msg string) Response {
	return Response{Error: msg, ErrorType: errType}
}

// HasToolCalls reports whether the model requested tool execution instead
// of producing content.
func (r Response) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}
