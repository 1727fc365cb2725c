// Package telegram runs the Telegram chat surface over long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/chatwire/chatwire/internal/ai"
	"github.com/chatwire/chatwire/internal/channel"
	"github.com/chatwire/chatwire/internal/httpx"
	"github.com/chatwire/chatwire/internal/pipeline"
)

// maxAttachmentBytes bounds what we download from Telegram before the
// per-type caps apply.
const maxAttachmentBytes = 50 << 20

// Adapter long-polls the Telegram Bot API and feeds messages through the
// pipeline.
type Adapter struct {
	bot      *tgbotapi.BotAPI
	pipeline *pipeline.Pipeline
	ai       *ai.Service
	client   *httpx.Client
	logger   *slog.Logger
	cancel   context.CancelFunc
}

// New creates the adapter. It fails when the bot token is rejected.
func New(log *slog.Logger, botToken string, pl *pipeline.Pipeline, svc *ai.Service, client *httpx.Client) (*Adapter, error) {
	if log == nil {
		log = slog.Default()
	}
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Adapter{
		bot:      bot,
		pipeline: pl,
		ai:       svc,
		client:   client,
		logger:   log.With(slog.String("service", "telegram")),
	}, nil
}

func (a *Adapter) Name() string { return "telegram" }

// Start blocks on the update loop until ctx is cancelled.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := a.bot.GetUpdatesChan(cfg)

	a.logger.Info("telegram adapter started", slog.String("bot", a.bot.Self.UserName))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			a.handleMessage(ctx, update.Message)
		}
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.bot.StopReceivingUpdates()
	return nil
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	if msg.Voice != nil {
		transcribed, err := a.transcribeVoice(ctx, msg.Voice)
		if err != nil {
			a.logger.Warn("voice transcription failed",
				slog.String("chat_id", chatID),
				slog.String("error", err.Error()))
			a.reply(msg, "Sorry, I couldn't understand that voice message.")
			return
		}
		text = transcribed
	}

	mc := pipeline.NewContext(text, "telegram").
		WithPlatformChatID(chatID).
		WithVisitorName(visitorName(msg.From))
	if files := a.collectFiles(ctx, msg); len(files) > 0 {
		mc = mc.WithFiles(files)
	}

	resp := a.pipeline.Process(ctx, mc)
	a.reply(msg, channel.Render(resp))
}

func (a *Adapter) reply(msg *tgbotapi.Message, text string) {
	if text == "" {
		return
	}
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ReplyToMessageID = msg.MessageID
	if _, err := a.bot.Send(out); err != nil {
		a.logger.Warn("failed to send reply",
			slog.Int64("chat_id", msg.Chat.ID),
			slog.String("error", err.Error()))
	}
}

// collectFiles downloads photo/document attachments into FileAttachment
// form. Download failures drop the attachment rather than the message.
func (a *Adapter) collectFiles(ctx context.Context, msg *tgbotapi.Message) []ai.FileAttachment {
	var files []ai.FileAttachment
	if len(msg.Photo) > 0 {
		// Telegram sends multiple sizes; the last one is the largest.
		photo := msg.Photo[len(msg.Photo)-1]
		if data, err := a.download(ctx, photo.FileID); err == nil {
			files = append(files, ai.FileAttachment{
				Type: ai.FileTypeImage,
				Data: data,
				Mime: "image/jpeg",
				Name: "photo.jpg",
			})
		} else {
			a.logger.Warn("photo download failed", slog.String("error", err.Error()))
		}
	}
	if msg.Document != nil {
		if att, ok := a.documentAttachment(ctx, msg.Document); ok {
			files = append(files, att)
		}
	}
	return files
}

func (a *Adapter) documentAttachment(ctx context.Context, doc *tgbotapi.Document) (ai.FileAttachment, bool) {
	fileType, ok := classifyMime(doc.MimeType)
	if !ok {
		a.logger.Info("skipping unsupported document",
			slog.String("mime", doc.MimeType),
			slog.String("name", doc.FileName))
		return ai.FileAttachment{}, false
	}
	data, err := a.download(ctx, doc.FileID)
	if err != nil {
		a.logger.Warn("document download failed", slog.String("error", err.Error()))
		return ai.FileAttachment{}, false
	}
	return ai.FileAttachment{
		Type: fileType,
		Data: data,
		Mime: doc.MimeType,
		Name: doc.FileName,
	}, true
}

func (a *Adapter) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := a.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file url: %w", err)
	}
	resp, err := a.client.Get(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	if len(resp.Body) > maxAttachmentBytes {
		return nil, fmt.Errorf("file exceeds %d bytes", maxAttachmentBytes)
	}
	return resp.Body, nil
}

func (a *Adapter) transcribeVoice(ctx context.Context, voice *tgbotapi.Voice) (string, error) {
	data, err := a.download(ctx, voice.FileID)
	if err != nil {
		return "", err
	}
	result, err := a.ai.SpeechToText(ctx, data, ai.TranscribeOptions{Filename: "voice.ogg"})
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

func classifyMime(mime string) (ai.FileType, bool) {
	mime = strings.ToLower(mime)
	switch {
	case strings.HasPrefix(mime, "image/"):
		return ai.FileTypeImage, true
	case mime == "application/pdf":
		return ai.FileTypePDF, true
	case mime == "text/csv",
		mime == "application/vnd.ms-excel",
		mime == "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return ai.FileTypeSpreadsheet, true
	case strings.HasPrefix(mime, "text/"),
		mime == "application/msword",
		mime == "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return ai.FileTypeDocument, true
	default:
		return "", false
	}
}

func visitorName(user *tgbotapi.User) string {
	if user == nil {
		return ""
	}
	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name == "" {
		name = user.UserName
	}
	return name
}

var _ channel.Adapter = (*Adapter)(nil)
