// Package postgres is the durable store.Store backed by PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatwire/chatwire/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_configurations (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL DEFAULT '',
	persona           TEXT NOT NULL DEFAULT '',
	knowledge         TEXT NOT NULL DEFAULT '',
	knowledge_sources TEXT[] NOT NULL DEFAULT '{}',
	system_prompt     TEXT NOT NULL DEFAULT '',
	model             TEXT NOT NULL DEFAULT '',
	temperature       DOUBLE PRECISION,
	max_tokens        INTEGER NOT NULL DEFAULT 0,
	history_limit     INTEGER NOT NULL DEFAULT 0,
	enabled           BOOLEAN NOT NULL DEFAULT TRUE,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS conversations (
	id         UUID PRIMARY KEY,
	config_id  TEXT NOT NULL REFERENCES chat_configurations(id),
	platform   TEXT NOT NULL,
	chat_id    TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_active
	ON conversations (platform, chat_id, config_id)
	WHERE status = 'active';

CREATE TABLE IF NOT EXISTS messages (
	id              UUID PRIMARY KEY,
	conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	sender_type     TEXT NOT NULL,
	content         TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
	ON messages (conversation_id, created_at);
`

// Store implements store.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn and ensures the schema exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) GetConfiguration(ctx context.Context, id string) (store.Configuration, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, persona, knowledge, knowledge_sources, system_prompt,
		       model, temperature, max_tokens, history_limit, enabled,
		       created_at, updated_at
		FROM chat_configurations
		WHERE id = $1`, id)
	var cfg store.Configuration
	err := row.Scan(&cfg.ID, &cfg.Name, &cfg.Persona, &cfg.Knowledge, &cfg.KnowledgeSources,
		&cfg.SystemPrompt, &cfg.Model, &cfg.Temperature, &cfg.MaxTokens,
		&cfg.HistoryLimit, &cfg.Enabled, &cfg.CreatedAt, &cfg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Configuration{}, store.ErrNotFound
	}
	if err != nil {
		return store.Configuration{}, fmt.Errorf("get configuration: %w", err)
	}
	return cfg, nil
}

func (s *Store) UpsertConfiguration(ctx context.Context, cfg store.Configuration) (store.Configuration, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.KnowledgeSources == nil {
		cfg.KnowledgeSources = []string{}
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO chat_configurations
			(id, name, persona, knowledge, knowledge_sources, system_prompt,
			 model, temperature, max_tokens, history_limit, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name              = EXCLUDED.name,
			persona           = EXCLUDED.persona,
			knowledge         = EXCLUDED.knowledge,
			knowledge_sources = EXCLUDED.knowledge_sources,
			system_prompt     = EXCLUDED.system_prompt,
			model             = EXCLUDED.model,
			temperature       = EXCLUDED.temperature,
			max_tokens        = EXCLUDED.max_tokens,
			history_limit     = EXCLUDED.history_limit,
			enabled           = EXCLUDED.enabled,
			updated_at        = now()
		RETURNING id, name, persona, knowledge, knowledge_sources, system_prompt,
		          model, temperature, max_tokens, history_limit, enabled,
		          created_at, updated_at`,
		cfg.ID, cfg.Name, cfg.Persona, cfg.Knowledge, cfg.KnowledgeSources,
		cfg.SystemPrompt, cfg.Model, cfg.Temperature, cfg.MaxTokens,
		cfg.HistoryLimit, cfg.Enabled)
	var out store.Configuration
	err := row.Scan(&out.ID, &out.Name, &out.Persona, &out.Knowledge, &out.KnowledgeSources,
		&out.SystemPrompt, &out.Model, &out.Temperature, &out.MaxTokens,
		&out.HistoryLimit, &out.Enabled, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return store.Configuration{}, fmt.Errorf("upsert configuration: %w", err)
	}
	return out, nil
}

func (s *Store) EnsureConversation(ctx context.Context, platform, chatID, configID string) (store.Conversation, error) {
	// Reuse-or-create against the partial unique index on active
	// conversations, so concurrent inserts for the same thread cannot
	// produce duplicates.
	row := s.pool.QueryRow(ctx, `
		SELECT id, config_id, platform, chat_id, status, created_at, updated_at
		FROM conversations
		WHERE platform = $1 AND chat_id = $2 AND config_id = $3 AND status = 'active'`,
		platform, chatID, configID)
	var conv store.Conversation
	err := row.Scan(&conv.ID, &conv.ConfigID, &conv.Platform, &conv.ChatID, &conv.Status,
		&conv.CreatedAt, &conv.UpdatedAt)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return store.Conversation{}, fmt.Errorf("lookup conversation: %w", err)
	}

	row = s.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, config_id, platform, chat_id, status)
		VALUES ($1, $2, $3, $4, 'active')
		ON CONFLICT (platform, chat_id, config_id) WHERE status = 'active' DO UPDATE SET
			updated_at = conversations.updated_at
		RETURNING id, config_id, platform, chat_id, status, created_at, updated_at`,
		uuid.NewString(), configID, platform, chatID)
	err = row.Scan(&conv.ID, &conv.ConfigID, &conv.Platform, &conv.ChatID, &conv.Status,
		&conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return store.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (store.Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, config_id, platform, chat_id, status, created_at, updated_at
		FROM conversations
		WHERE id = $1`, id)
	var conv store.Conversation
	err := row.Scan(&conv.ID, &conv.ConfigID, &conv.Platform, &conv.ChatID, &conv.Status,
		&conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Conversation{}, store.ErrNotFound
	}
	if err != nil {
		return store.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) EndConversation(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations SET status = 'ended', updated_at = now()
		WHERE id = $1 AND status = 'active'`, id)
	if err != nil {
		return fmt.Errorf("end conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, msg store.Message) (store.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO messages (id, conversation_id, sender_type, content)
		VALUES ($1, $2, $3, $4)
		RETURNING id, conversation_id, sender_type, content, created_at`,
		msg.ID, msg.ConversationID, msg.SenderType, msg.Content)
	var out store.Message
	err := row.Scan(&out.ID, &out.ConversationID, &out.SenderType, &out.Content, &out.CreatedAt)
	if err != nil {
		return store.Message{}, fmt.Errorf("append message: %w", err)
	}
	return out, nil
}

func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, sender_type, content, created_at FROM (
			SELECT id, conversation_id, sender_type, content, created_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent ORDER BY created_at ASC`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []store.Message
	for rows.Next() {
		var msg store.Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderType, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

var _ store.Store = (*Store)(nil)
