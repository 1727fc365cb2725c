package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chatwire/chatwire/internal/ai"
)

func runValidation(t *testing.T, text string) Response {
	t.Helper()
	v := NewValidation(0)
	next := Next(func(context.Context, Context) Response { return Succeed("passed") })
	return v.Process(context.Background(), NewContext(text, "test"), next)
}

func TestValidationBoundaries(t *testing.T) {
	empty := runValidation(t, "")
	assert.Equal(t, ErrTypeValidation, empty.ErrorType)

	atLimit := runValidation(t, strings.Repeat("a", 10000))
	assert.True(t, atLimit.Success, "exactly 10000 characters passes")

	overLimit := runValidation(t, strings.Repeat("a", 10001))
	assert.Equal(t, ErrTypeValidation, overLimit.ErrorType)
}

func TestValidationCountsRunesNotBytes(t *testing.T) {
	// 10000 multibyte runes are within the limit even though the byte
	// count is far larger.
	resp := runValidation(t, strings.Repeat("ä", 10000))
	assert.True(t, resp.Success)
}

func TestValidationRejectsScriptTags(t *testing.T) {
	resp := runValidation(t, "hello <script>alert(1)</script>")
	assert.Equal(t, ErrTypeValidation, resp.ErrorType)

	upper := runValidation(t, "<SCRIPT>alert(1)</SCRIPT>")
	assert.Equal(t, ErrTypeValidation, upper.ErrorType)
}

func TestValidationAllowsFileOnlyMessage(t *testing.T) {
	v := NewValidation(0)
	mc := NewContext("", "test").WithFiles([]ai.FileAttachment{
		{Type: ai.FileTypeImage, Data: []byte{1}, Mime: "image/png", Name: "a.png"},
	})
	next := Next(func(context.Context, Context) Response { return Succeed("passed") })
	resp := v.Process(context.Background(), mc, next)
	assert.True(t, resp.Success)
}
