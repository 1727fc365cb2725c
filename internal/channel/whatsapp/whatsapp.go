// Package whatsapp serves the WhatsApp Cloud API webhook and sends replies
// through the Graph API.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/chatwire/chatwire/internal/ai"
	"github.com/chatwire/chatwire/internal/channel"
	"github.com/chatwire/chatwire/internal/httpx"
	"github.com/chatwire/chatwire/internal/pipeline"
)

// maxAttachmentBytes bounds what we download from the media endpoint before
// the per-type caps apply.
const maxAttachmentBytes = 50 << 20

// Config holds the Cloud API credentials.
type Config struct {
	VerifyToken string
	AccessToken string
	PhoneID     string
	GraphURL    string
}

// Adapter is webhook-driven: Start is a no-op, traffic arrives through the
// HTTP routes registered on the shared server.
type Adapter struct {
	cfg      Config
	pipeline *pipeline.Pipeline
	client   *httpx.Client
	logger   *slog.Logger
}

func New(log *slog.Logger, cfg Config, pl *pipeline.Pipeline, client *httpx.Client) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		cfg:      cfg,
		pipeline: pl,
		client:   client,
		logger:   log.With(slog.String("service", "whatsapp")),
	}
}

func (a *Adapter) Name() string                   { return "whatsapp" }
func (a *Adapter) Start(ctx context.Context) error { return nil }
func (a *Adapter) Stop(ctx context.Context) error  { return nil }

// Register mounts the webhook routes.
func (a *Adapter) Register(e *echo.Echo) {
	e.GET("/webhooks/whatsapp", a.verify)
	e.POST("/webhooks/whatsapp", a.receive)
}

// verify answers Meta's webhook subscription handshake.
func (a *Adapter) verify(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")
	if mode == "subscribe" && token == a.cfg.VerifyToken {
		return c.String(http.StatusOK, challenge)
	}
	return c.NoContent(http.StatusForbidden)
}

// webhookPayload is the slice of the Cloud API notification we consume.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					From string `json:"from"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
					Image    *mediaRef `json:"image"`
					Document *mediaRef `json:"document"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// mediaRef is the media descriptor the Cloud API embeds in image and
// document messages. The bytes themselves are fetched by id.
type mediaRef struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

// receive processes message notifications. It always answers 200 so Meta
// does not re-deliver; processing failures are rendered back to the user.
func (a *Adapter) receive(c echo.Context) error {
	var payload webhookPayload
	if err := c.Bind(&payload); err != nil {
		a.logger.Warn("malformed webhook payload", slog.String("error", err.Error()))
		return c.NoContent(http.StatusOK)
	}

	ctx := c.Request().Context()
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			names := map[string]string{}
			for _, contact := range change.Value.Contacts {
				names[contact.WaID] = contact.Profile.Name
			}
			for _, msg := range change.Value.Messages {
				var text string
				var media *mediaRef
				switch msg.Type {
				case "text":
					text = msg.Text.Body
				case "image":
					media = msg.Image
				case "document":
					media = msg.Document
				default:
					a.send(ctx, msg.From, "Sorry, I can only handle text, images, and documents on this channel.")
					continue
				}

				var files []ai.FileAttachment
				if media != nil {
					text = media.Caption
					att, err := a.mediaAttachment(ctx, media)
					if err != nil {
						a.logger.Warn("media download failed",
							slog.String("media_id", media.ID),
							slog.String("error", err.Error()))
						a.send(ctx, msg.From, "Sorry, I couldn't download that attachment.")
						continue
					}
					files = append(files, att)
				}
				if text == "" && len(files) == 0 {
					continue
				}

				mc := pipeline.NewContext(text, "whatsapp").
					WithPlatformChatID(msg.From).
					WithVisitorName(names[msg.From])
				if len(files) > 0 {
					mc = mc.WithFiles(files)
				}
				resp := a.pipeline.Process(ctx, mc)
				a.send(ctx, msg.From, channel.Render(resp))
			}
		}
	}
	return c.NoContent(http.StatusOK)
}

// mediaAttachment resolves a media id through the Graph API and downloads
// the bytes into FileAttachment form.
func (a *Adapter) mediaAttachment(ctx context.Context, media *mediaRef) (ai.FileAttachment, error) {
	fileType, ok := classifyMime(media.MimeType)
	if !ok {
		return ai.FileAttachment{}, fmt.Errorf("unsupported media mime type %q", media.MimeType)
	}

	// First hop: the media id resolves to a short-lived download URL.
	lookup, err := a.client.Get(ctx, fmt.Sprintf("%s/%s", a.cfg.GraphURL, media.ID), a.authHeader())
	if err != nil {
		return ai.FileAttachment{}, err
	}
	if !lookup.OK() {
		return ai.FileAttachment{}, fmt.Errorf("media lookup: status %d", lookup.StatusCode)
	}
	var meta struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
	if err := lookup.Decode(&meta); err != nil || meta.URL == "" {
		return ai.FileAttachment{}, fmt.Errorf("media lookup returned no url")
	}

	resp, err := a.client.Get(ctx, meta.URL, a.authHeader())
	if err != nil {
		return ai.FileAttachment{}, err
	}
	if !resp.OK() {
		return ai.FileAttachment{}, fmt.Errorf("media download: status %d", resp.StatusCode)
	}
	if len(resp.Body) > maxAttachmentBytes {
		return ai.FileAttachment{}, fmt.Errorf("media exceeds %d bytes", maxAttachmentBytes)
	}

	name := media.Filename
	if name == "" {
		name = media.ID
	}
	return ai.FileAttachment{
		Type: fileType,
		Data: resp.Body,
		Mime: media.MimeType,
		Name: name,
	}, nil
}

func (a *Adapter) authHeader() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.cfg.AccessToken}
}

func classifyMime(mime string) (ai.FileType, bool) {
	mime = strings.ToLower(strings.TrimSpace(mime))
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

// send delivers one text message through the Graph API.
func (a *Adapter) send(ctx context.Context, to, text string) {
	if text == "" {
		return
	}
	url := fmt.Sprintf("%s/%s/messages", a.cfg.GraphURL, a.cfg.PhoneID)
	body := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": text},
	}
	resp, err := a.client.PostJSON(ctx, url, map[string]string{
		"Authorization": "Bearer " + a.cfg.AccessToken,
	}, body)
	if err != nil {
		a.logger.Warn("failed to send message", slog.String("to", to), slog.String("error", err.Error()))
		return
	}
	if !resp.OK() {
		a.logger.Warn("graph api rejected message",
			slog.String("to", to),
			slog.Int("status", resp.StatusCode))
	}
}

var _ channel.Adapter = (*Adapter)(nil)
