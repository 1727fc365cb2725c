package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/chatwire/chatwire/internal/ai"
	"github.com/chatwire/chatwire/internal/ai/openai"
	"github.com/chatwire/chatwire/internal/channel"
	"github.com/chatwire/chatwire/internal/channel/telegram"
	"github.com/chatwire/chatwire/internal/channel/web"
	"github.com/chatwire/chatwire/internal/channel/whatsapp"
	"github.com/chatwire/chatwire/internal/config"
	"github.com/chatwire/chatwire/internal/handlers"
	"github.com/chatwire/chatwire/internal/httpx"
	"github.com/chatwire/chatwire/internal/kv"
	"github.com/chatwire/chatwire/internal/logger"
	"github.com/chatwire/chatwire/internal/pipeline"
	"github.com/chatwire/chatwire/internal/server"
	"github.com/chatwire/chatwire/internal/store"
	"github.com/chatwire/chatwire/internal/store/memstore"
	"github.com/chatwire/chatwire/internal/store/postgres"
	"github.com/chatwire/chatwire/internal/token"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideKV,
			provideHTTPClients,
			provideTokenManager,
			provideConnector,
			provideAIService,
			provideStore,
			providePipeline,
			provideChannelManager,
			provideServer,
		),
		fx.Invoke(
			startKVSweeper,
			startChannels,
			startServer,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideKV() *kv.Memory {
	return kv.NewMemory()
}

// httpClients separates deadlines by traffic class: completions may run for
// minutes, while token exchange and media transfer must fail fast.
type httpClients struct {
	completion *httpx.Client
	edge       *httpx.Client
}

func provideHTTPClients(cfg config.Config) httpClients {
	return httpClients{
		completion: httpx.New(cfg.AI.Timeout()),
		edge:       httpx.New(config.DefaultEdgeTimeout * time.Second),
	}
}

func provideTokenManager(log *slog.Logger, mem *kv.Memory, clients httpClients, cfg config.Config) *token.Manager {
	manager := token.NewManager(log, mem, mem, clients.edge, token.Endpoint{
		TokenURL:     cfg.OAuth.TokenURL,
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
	}, cfg.OAuth.ConnectionID)
	if cfg.OAuth.RefreshMarginSeconds > 0 {
		manager.SetRefreshMargin(time.Duration(cfg.OAuth.RefreshMarginSeconds) * time.Second)
	}
	if cfg.OAuth.CooldownSeconds > 0 {
		manager.SetCooldown(time.Duration(cfg.OAuth.CooldownSeconds) * time.Second)
	}
	return manager
}

func provideConnector(cfg config.Config, manager *token.Manager) *token.Connector {
	return token.NewConnector(token.ConnectorConfig{
		AuthorizeURL: cfg.OAuth.AuthorizeURL,
		TokenURL:     cfg.OAuth.TokenURL,
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		RedirectURL:  cfg.OAuth.RedirectURL,
		Scopes:       cfg.OAuth.Scopes,
	}, manager)
}

// provideAIService builds the primary provider on the OAuth token manager
// and each fallback on its static API key.
func provideAIService(log *slog.Logger, cfg config.Config, clients httpClients, manager *token.Manager) *ai.Service {
	primary := openai.New(log, clients.completion, manager, providerConfig(cfg.AI.Primary))
	fallbacks := make([]ai.Provider, 0, len(cfg.AI.Fallbacks))
	for _, fc := range cfg.AI.Fallbacks {
		fallbacks = append(fallbacks, openai.New(log, clients.completion, token.NewStatic(fc.APIKey), providerConfig(fc)))
	}
	return ai.NewService(log, primary, fallbacks...)
}

func providerConfig(pc config.ProviderConfig) openai.Config {
	return openai.Config{
		Name:         pc.Name,
		BaseURL:      pc.BaseURL,
		ChatModels:   pc.ChatModels,
		VisionModels: pc.VisionModels,
		TTSModels:    pc.TTSModels,
		STTModels:    pc.STTModels,
	}
}

func provideStore(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (store.Store, error) {
	if !cfg.Postgres.Enabled {
		log.Info("postgres disabled, using in-memory store")
		return memstore.New(), nil
	}
	st, err := postgres.New(context.Background(), cfg.Postgres.DSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { st.Close(); return nil }})
	return st, nil
}

func providePipeline(log *slog.Logger, cfg config.Config, st store.Store, svc *ai.Service, mem *kv.Memory) *pipeline.Pipeline {
	var knowledge pipeline.KnowledgeResolver
	if len(cfg.Knowledge) > 0 {
		knowledge = pipeline.StaticKnowledge(cfg.Knowledge)
	}
	handler := pipeline.NewCoreHandler(log, st, svc, knowledge)
	handler.SetHistoryLimit(cfg.Pipeline.HistoryLimit)
	pl := pipeline.New(log, handler)
	pl.Use(pipeline.NewValidation(cfg.Pipeline.MaxMessageChars))
	pl.Use(pipeline.NewRateLimit(mem, cfg.Pipeline.RateLimitMax,
		time.Duration(cfg.Pipeline.RateLimitWindow)*time.Second))
	return pl
}

func provideChannelManager(log *slog.Logger, cfg config.Config, pl *pipeline.Pipeline, svc *ai.Service, clients httpClients) (*channel.Manager, []server.Registrar, error) {
	manager := channel.NewManager(log)

	webAdapter := web.New(log, pl, cfg.Auth.JWTSecret, jwtExpiry(cfg))
	manager.Register(webAdapter)
	registrars := []server.Registrar{webAdapter}

	if cfg.WhatsApp.Enabled {
		wa := whatsapp.New(log, whatsapp.Config{
			VerifyToken: cfg.WhatsApp.VerifyToken,
			AccessToken: cfg.WhatsApp.AccessToken,
			PhoneID:     cfg.WhatsApp.PhoneID,
			GraphURL:    cfg.WhatsApp.GraphURL,
		}, pl, clients.edge)
		manager.Register(wa)
		registrars = append(registrars, wa)
	}

	if cfg.Telegram.Enabled {
		tg, err := telegram.New(log, cfg.Telegram.BotToken, pl, svc, clients.edge)
		if err != nil {
			return nil, nil, fmt.Errorf("create telegram adapter: %w", err)
		}
		manager.Register(tg)
	}

	return manager, registrars, nil
}

func jwtExpiry(cfg config.Config) time.Duration {
	d, err := time.ParseDuration(cfg.Auth.JWTExpiresIn)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

func provideServer(log *slog.Logger, cfg config.Config, svc *ai.Service, connector *token.Connector, manager *token.Manager, st store.Store, mem *kv.Memory, pl *pipeline.Pipeline, registrars []server.Registrar) *server.Server {
	all := []server.Registrar{
		handlers.NewPingHandler(log),
		handlers.NewStatusHandler(log, svc),
		handlers.NewConnectHandler(log, connector, manager, mem),
		handlers.NewConfigurationsHandler(log, st),
		handlers.NewChatHandler(log, pl),
	}
	all = append(all, registrars...)
	return server.New(log, cfg.Server.Addr, cfg.Auth.JWTSecret, all...)
}

// startKVSweeper expires dead kv entries once a minute so abandoned rate
// limit windows and oauth states do not accumulate.
func startKVSweeper(lc fx.Lifecycle, log *slog.Logger, mem *kv.Memory) error {
	c := cron.New()
	_, err := c.AddFunc("* * * * *", func() {
		if removed := mem.Sweep(); removed > 0 {
			log.Debug("kv sweep", slog.Int("removed", removed))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule kv sweep: %w", err)
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { c.Start(); return nil },
		OnStop:  func(ctx context.Context) error { c.Stop(); return nil },
	})
	return nil
}

func startChannels(lc fx.Lifecycle, manager *channel.Manager) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			manager.StartAll(ctx)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			manager.StopAll(stopCtx)
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
