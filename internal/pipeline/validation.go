package pipeline

import (
	"context"
	"strings"
	"unicode/utf8"
)

// MaxMessageChars caps inbound message length in characters.
const MaxMessageChars = 10000

// ValidationMiddleware rejects malformed inbound messages before any
// storage or provider work happens.
type ValidationMiddleware struct {
	maxChars int
}

// NewValidation creates the validation stage. maxChars <= 0 selects the
// default cap.
func NewValidation(maxChars int) *ValidationMiddleware {
	if maxChars <= 0 {
		maxChars = MaxMessageChars
	}
	return &ValidationMiddleware{maxChars: maxChars}
}

func (v *ValidationMiddleware) Name() string  { return "validation" }
func (v *ValidationMiddleware) Priority() int { return 10 }

func (v *ValidationMiddleware) Process(ctx context.Context, mc Context, next Next) Response {
	text := mc.Text
	if strings.TrimSpace(text) == "" && len(mc.Files) == 0 {
		return Fail(ErrTypeValidation, "message is empty")
	}
	if utf8.RuneCountInString(text) > v.maxChars {
		return Fail(ErrTypeValidation, "message is too long")
	}
	if strings.Contains(strings.ToLower(text), "<script") {
		return Fail(ErrTypeValidation, "message contains disallowed content")
	}
	return next(ctx, mc)
}
