package openai

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/chatwire/chatwire/internal/ai"
)

// GenerateCompletionWithFiles implements ai.VisionCapability. Attachments
// are validated before any network call, then embedded as content blocks
// into the last user message so the model sees them next to the text that
// references them.
func (p *Provider) GenerateCompletionWithFiles(ctx context.Context, messages []ai.Message, files []ai.FileAttachment, opts ai.CompletionOptions) (ai.CompletionResult, error) {
	if err := ai.ValidateFiles(files); err != nil {
		p.setLastError(err)
		return ai.CompletionResult{}, err
	}
	if !p.Connected(ctx) {
		err := ai.NewError(ai.ErrKindNotConnected, "provider %s is not connected", p.name)
		p.setLastError(err)
		return ai.CompletionResult{}, err
	}
	model := opts.Model
	if model == "" {
		model = p.defaultModel(ai.CapabilityVision)
	}
	body := completionRequest{
		Model:       model,
		Messages:    embedFiles(messages, files),
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

// AnalyzeFiles runs a one-shot analysis: a single synthesized user message
// carrying the prompt plus the attachments.
func (p *Provider) AnalyzeFiles(ctx context.Context, files []ai.FileAttachment, prompt string, opts ai.CompletionOptions) (ai.CompletionResult, error) {
	if prompt == "" {
		prompt = "Describe the attached files."
	}
	messages := []ai.Message{{Role: ai.RoleUser, Content: prompt}}
	return p.GenerateCompletionWithFiles(ctx, messages, files, opts)
}

// embedFiles returns a copy of messages with the attachments folded into the
// last user message as content blocks. When no user message exists, one is
// appended. Textual file blocks (inlined or descriptive) go before the
// message text so the model reads the material first, then the question
// about it; image blocks follow the text.
func embedFiles(messages []ai.Message, files []ai.FileAttachment) []ai.Message {
	out := make([]ai.Message, len(messages))
	copy(out, messages)
	if len(files) == 0 {
		return out
	}

	target := -1
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role == ai.RoleUser {
			target = i
			break
		}
	}
	if target == -1 {
		out = append(out, ai.Message{Role: ai.RoleUser, Content: ""})
		target = len(out) - 1
	}

	var pre, post []ai.ContentBlock
	for _, f := range files {
		block := fileToBlock(f)
		if block.Type == "image_url" {
			post = append(post, block)
			continue
		}
		pre = append(pre, block)
	}
	existing := contentToBlocks(out[target].Content)
	blocks := make([]ai.ContentBlock, 0, len(pre)+len(existing)+len(post))
	blocks = append(blocks, pre...)
	blocks = append(blocks, existing...)
	blocks = append(blocks, post...)
	out[target] = ai.Message{Role: out[target].Role, Content: blocks}
	return out
}

// contentToBlocks normalizes existing message content into block form.
func contentToBlocks(content any) []ai.ContentBlock {
	switch c := content.(type) {
	case string:
		if c == "" {
			return nil
		}
		return []ai.ContentBlock{{Type: "text", Text: c}}
	case []ai.ContentBlock:
		return append([]ai.ContentBlock(nil), c...)
	default:
		return nil
	}
}

// fileToBlock converts one validated attachment to a content block. Images
// become image_url blocks; text-decodable files are inlined; everything else
// is described so the model knows the file was present.
func fileToBlock(f ai.FileAttachment) ai.ContentBlock {
	if f.Type == ai.FileTypeImage {
		url := f.URL
		if len(f.Data) > 0 {
			url = fmt.Sprintf("data:%s;base64,%s", f.Mime, base64.StdEncoding.EncodeToString(f.Data))
		}
		return ai.ContentBlock{Type: "image_url", ImageURL: &ai.ImageURL{URL: url, Detail: "auto"}}
	}
	if f.TextDecodable() {
		return ai.ContentBlock{
			Type: "text",
			Text: fmt.Sprintf("Contents of %s:\n%s", f.Name, f.InlineText()),
		}
	}
	ref := f.URL
	if ref == "" {
		ref = fmt.Sprintf("%d bytes inline", len(f.Data))
	}
	return ai.ContentBlock{
		Type: "text",
		Text: fmt.Sprintf("[Attached %s: %s (%s, %s)]", f.Type, f.Name, f.Mime, ref),
	}
}
