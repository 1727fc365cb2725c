// Package pipeline turns one inbound chat message into one response by
// running it through ordered middleware around a core handler. Context and
// Response are immutable values; every stage derives new copies instead of
// mutating shared state.
package pipeline

import (
	"maps"

	"github.com/chatwire/chatwire/internal/ai"
	"github.com/chatwire/chatwire/internal/store"
)

// Context carries one inbound message through the pipeline. Adapters build
// it once per message; stages derive updated copies via the With helpers.
type Context struct {
	Text           string
	Platform       string
	VisitorName    string
	ConversationID string
	ConfigID       string
	PlatformChatID string
	ClientIP       string
	Metadata       map[string]string
	Files          []ai.FileAttachment
	History        []store.Message
	Config         *store.Configuration
}

// NewContext builds a Context for one inbound message.
func NewContext(text, platform string) Context {
	return Context{Text: text, Platform: platform}
}

// WithText returns a copy with the message text replaced.
func (c Context) WithText(text string) Context {
	c.Text = text
	return c
}

// WithVisitorName returns a copy with the visitor name set.
func (c Context) WithVisitorName(name string) Context {
	c.VisitorName = name
	return c
}

// WithConversationID returns a copy bound to a conversation.
func (c Context) WithConversationID(id string) Context {
	c.ConversationID = id
	return c
}

// WithConfigID returns a copy selecting a configuration.
func (c Context) WithConfigID(id string) Context {
	c.ConfigID = id
	return c
}

// WithPlatformChatID returns a copy carrying the channel-native chat id.
func (c Context) WithPlatformChatID(id string) Context {
	c.PlatformChatID = id
	return c
}

// WithClientIP returns a copy carrying the caller's IP, used for rate
// limiting when no platform chat id exists.
func (c Context) WithClientIP(ip string) Context {
	c.ClientIP = ip
	return c
}

// WithMetadata returns a copy with one metadata entry added. The map is
// copied so the original Context is never aliased.
func (c Context) WithMetadata(key, value string) Context {
	md := make(map[string]string, len(c.Metadata)+1)
	maps.Copy(md, c.Metadata)
	md[key] = value
	c.Metadata = md
	return c
}

// WithFiles returns a copy carrying the given attachments.
func (c Context) WithFiles(files []ai.FileAttachment) Context {
	c.Files = append([]ai.FileAttachment(nil), files...)
	return c
}

// WithHistory returns a copy carrying loaded conversation history,
// oldest first.
func (c Context) WithHistory(history []store.Message) Context {
	c.History = append([]store.Message(nil), history...)
	return c
}

// WithConfig returns a copy with the resolved configuration attached.
func (c Context) WithConfig(cfg store.Configuration) Context {
	c.Config = &cfg
	return c
}

// RateLimitKey identifies the caller for rate limiting: the platform chat
// identity when present, otherwise the client IP.
func (c Context) RateLimitKey() string {
	if c.PlatformChatID != "" {
		return c.Platform + ":" + c.PlatformChatID
	}
	if c.ClientIP != "" {
		return "ip:" + c.ClientIP
	}
	return ""
}
