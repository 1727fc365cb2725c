// Package store defines the persistence contracts for chat configuration,
// conversations, and message history. Implementations live in subpackages.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// DefaultConfigurationID names the configuration used when an inbound
// message does not select one.
const DefaultConfigurationID = "default"

// Conversation statuses.
const (
	ConversationActive = "active"
	ConversationEnded  = "ended"
)

// Sender types recorded on messages.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// Configuration is a chat behavior profile: the persona and knowledge that
// shape the system prompt, plus model tuning.
type Configuration struct {
	ID               string
	Name             string
	Persona          string
	Knowledge        string
	KnowledgeSources []string
	SystemPrompt     string
	Model            string
	Temperature      *float64
	MaxTokens        int
	HistoryLimit     int
	Enabled          bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Conversation groups the messages of one chat thread. At most one active
// conversation exists per (platform, chat_id, config_id).
type Conversation struct {
	ID        string
	ConfigID  string
	Platform  string
	ChatID    string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one persisted turn of a conversation.
type Message struct {
	ID             string
	ConversationID string
	SenderType     string
	Content        string
	CreatedAt      time.Time
}

// ConfigurationStore reads and writes chat configurations.
type ConfigurationStore interface {
	GetConfiguration(ctx context.Context, id string) (Configuration, error)
	UpsertConfiguration(ctx context.Context, cfg Configuration) (Configuration, error)
}

// ConversationStore manages conversation records.
type ConversationStore interface {
	// EnsureConversation returns the active conversation for
	// (platform, chatID, configID) or creates one. Repeated calls for the
	// same identity return the same conversation until it is ended.
	EnsureConversation(ctx context.Context, platform, chatID, configID string) (Conversation, error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
	EndConversation(ctx context.Context, id string) error
}

// MessageStore persists and lists conversation messages.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg Message) (Message, error)
	// RecentMessages returns up to limit messages in chronological order,
	// oldest first.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
}

// Store bundles every persistence concern behind one dependency.
type Store interface {
	ConfigurationStore
	ConversationStore
	MessageStore
}
