package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath        = "config.toml"
	DefaultHTTPAddr          = ":8080"
	DefaultJWTExpiresIn      = "24h"
	DefaultTokenLifetime     = 3600
	DefaultRefreshMargin     = 300
	DefaultRefreshCooldown   = 300
	DefaultRateLimitMax      = 20
	DefaultRateLimitWindow   = 60
	DefaultHistoryLimit      = 10
	DefaultMaxMessageChars   = 10000
	DefaultCompletionTimeout = 180
	// DefaultEdgeTimeout bounds short exchanges: token refresh, media
	// lookup and download, outbound channel sends.
	DefaultEdgeTimeout = 30
	DefaultPGHost            = "127.0.0.1"
	DefaultPGPort            = 5432
	DefaultPGUser            = "postgres"
	DefaultPGDatabase        = "chatwire"
	DefaultPGSSLMode         = "disable"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	OAuth    OAuthConfig    `toml:"oauth"`
	AI       AIConfig       `toml:"ai"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Postgres PostgresConfig `toml:"postgres"`
	Telegram TelegramConfig `toml:"telegram"`
	WhatsApp WhatsAppConfig `toml:"whatsapp"`
	// Knowledge maps knowledge-source names to their text, resolved into
	// system prompts when a configuration references them.
	Knowledge map[string]string `toml:"knowledge"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

// OAuthConfig describes the backend connection whose access token the
// token manager keeps alive.
type OAuthConfig struct {
	ConnectionID string   `toml:"connection_id"`
	TokenURL     string   `toml:"token_url" validate:"omitempty,url"`
	AuthorizeURL string   `toml:"authorize_url" validate:"omitempty,url"`
	RedirectURL  string   `toml:"redirect_url" validate:"omitempty,url"`
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	Scopes       []string `toml:"scopes"`
	// RefreshMarginSeconds is how close to expiry a token may get before a
	// proactive refresh is attempted.
	RefreshMarginSeconds int `toml:"refresh_margin_seconds"`
	CooldownSeconds      int `toml:"cooldown_seconds"`
}

// ProviderConfig describes one AI backend connection.
type ProviderConfig struct {
	Name         string   `toml:"name" validate:"required"`
	BaseURL      string   `toml:"base_url" validate:"required,url"`
	APIKey       string   `toml:"api_key"`
	ChatModels   []string `toml:"chat_models"`
	VisionModels []string `toml:"vision_models"`
	TTSModels    []string `toml:"tts_models"`
	STTModels    []string `toml:"stt_models"`
}

type AIConfig struct {
	Primary        ProviderConfig   `toml:"primary"`
	Fallbacks      []ProviderConfig `toml:"fallbacks"`
	TimeoutSeconds int              `toml:"timeout_seconds"`
}

func (c AIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultCompletionTimeout * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type PipelineConfig struct {
	HistoryLimit    int `toml:"history_limit"`
	MaxMessageChars int `toml:"max_message_chars"`
	RateLimitMax    int `toml:"rate_limit_max"`
	RateLimitWindow int `toml:"rate_limit_window_seconds"`
}

type PostgresConfig struct {
	Enabled  bool   `toml:"enabled"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
}

type WhatsAppConfig struct {
	Enabled     bool   `toml:"enabled"`
	VerifyToken string `toml:"verify_token"`
	AccessToken string `toml:"access_token"`
	PhoneID     string `toml:"phone_id"`
	GraphURL    string `toml:"graph_url"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		OAuth: OAuthConfig{
			ConnectionID:         "default",
			RefreshMarginSeconds: DefaultRefreshMargin,
			CooldownSeconds:      DefaultRefreshCooldown,
		},
		AI: AIConfig{
			TimeoutSeconds: DefaultCompletionTimeout,
		},
		Pipeline: PipelineConfig{
			HistoryLimit:    DefaultHistoryLimit,
			MaxMessageChars: DefaultMaxMessageChars,
			RateLimitMax:    DefaultRateLimitMax,
			RateLimitWindow: DefaultRateLimitWindow,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		WhatsApp: WhatsAppConfig{
			GraphURL: "https://graph.facebook.com/v19.0",
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}
