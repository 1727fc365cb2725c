// Package memstore is the in-memory store.Store used in tests and when no
// database is configured.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatwire/chatwire/internal/store"
)

type threadKey struct {
	platform string
	chatID   string
	configID string
}

// Store keeps everything in maps guarded by one mutex. Good enough for a
// single process; the postgres package is the durable implementation.
type Store struct {
	mu            sync.Mutex
	configs       map[string]store.Configuration
	conversations map[string]store.Conversation
	active        map[threadKey]string
	messages      map[string][]store.Message
	now           func() time.Time
}

func New() *Store {
	return &Store{
		configs:       map[string]store.Configuration{},
		conversations: map[string]store.Conversation{},
		active:        map[threadKey]string{},
		messages:      map[string][]store.Message{},
		now:           time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) GetConfiguration(ctx context.Context, id string) (store.Configuration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[id]
	if !ok {
		return store.Configuration{}, store.ErrNotFound
	}
	return cfg, nil
}

func (s *Store) UpsertConfiguration(ctx context.Context, cfg store.Configuration) (store.Configuration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if existing, ok := s.configs[cfg.ID]; ok {
		cfg.CreatedAt = existing.CreatedAt
	} else {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	s.configs[cfg.ID] = cfg
	return cfg, nil
}

func (s *Store) EnsureConversation(ctx context.Context, platform, chatID, configID string) (store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := threadKey{platform, chatID, configID}
	if id, ok := s.active[key]; ok {
		if conv, ok := s.conversations[id]; ok && conv.Status == store.ConversationActive {
			return conv, nil
		}
	}
	now := s.now()
	conv := store.Conversation{
		ID:        uuid.NewString(),
		ConfigID:  configID,
		Platform:  platform,
		ChatID:    chatID,
		Status:    store.ConversationActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[conv.ID] = conv
	s.active[key] = conv.ID
	return conv, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return store.Conversation{}, store.ErrNotFound
	}
	return conv, nil
}

func (s *Store) EndConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return store.ErrNotFound
	}
	conv.Status = store.ConversationEnded
	conv.UpdatedAt = s.now()
	s.conversations[id] = conv
	delete(s.active, threadKey{conv.Platform, conv.ChatID, conv.ConfigID})
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, msg store.Message) (store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return msg, nil
}

func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]store.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

var _ store.Store = (*Store)(nil)
