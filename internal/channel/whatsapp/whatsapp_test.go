package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatwire/chatwire/internal/ai"
	"github.com/chatwire/chatwire/internal/httpx"
	"github.com/chatwire/chatwire/internal/pipeline"
)

// recordingHandler captures the contexts the adapter feeds into the pipeline.
type recordingHandler struct {
	contexts []pipeline.Context
}

func (h *recordingHandler) Handle(_ context.Context, mc pipeline.Context) pipeline.Response {
	h.contexts = append(h.contexts, mc)
	return pipeline.Succeed("got it")
}

// fakeGraph stands in for the Cloud API: media lookup, media download, and
// the outbound messages endpoint.
type fakeGraph struct {
	srv      *httptest.Server
	mediaID  string
	media    []byte
	outbound []string
}

func newFakeGraph(t *testing.T, mediaID string, media []byte) *fakeGraph {
	t.Helper()
	g := &fakeGraph{mediaID: mediaID, media: media}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/"+mediaID:
			_ = json.NewEncoder(w).Encode(map[string]string{
				"url":       g.srv.URL + "/download/" + mediaID,
				"mime_type": "image/jpeg",
			})
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/download/"):
			_, _ = w.Write(g.media)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/messages"):
			var body struct {
				Text struct {
					Body string `json:"body"`
				} `json:"text"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			g.outbound = append(g.outbound, body.Text.Body)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func newTestAdapter(g *fakeGraph, h *recordingHandler) *Adapter {
	return New(nil, Config{
		VerifyToken: "verify",
		AccessToken: "token",
		PhoneID:     "phone-1",
		GraphURL:    g.srv.URL,
	}, pipeline.New(nil, h), httpx.New(5*time.Second))
}

func postWebhook(t *testing.T, a *Adapter, payload string) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	require.NoError(t, a.receive(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code, "webhook always answers 200")
}

func TestReceiveTextMessage(t *testing.T) {
	h := &recordingHandler{}
	g := newFakeGraph(t, "m1", nil)
	a := newTestAdapter(g, h)

	postWebhook(t, a, `{"entry":[{"changes":[{"value":{
		"contacts":[{"wa_id":"15550001","profile":{"name":"Ada"}}],
		"messages":[{"from":"15550001","type":"text","text":{"body":"hello"}}]
	}}]}]}`)

	require.Len(t, h.contexts, 1)
	assert.Equal(t, "hello", h.contexts[0].Text)
	assert.Equal(t, "15550001", h.contexts[0].PlatformChatID)
	assert.Equal(t, "Ada", h.contexts[0].VisitorName)
	require.Len(t, g.outbound, 1)
	assert.Equal(t, "got it", g.outbound[0])
}

func TestReceiveImageFetchesMediaByID(t *testing.T) {
	h := &recordingHandler{}
	g := newFakeGraph(t, "media-42", []byte{0xff, 0xd8, 0xff})
	a := newTestAdapter(g, h)

	postWebhook(t, a, `{"entry":[{"changes":[{"value":{
		"messages":[{"from":"15550002","type":"image",
			"image":{"id":"media-42","mime_type":"image/jpeg","caption":"what is this?"}}]
	}}]}]}`)

	require.Len(t, h.contexts, 1)
	mc := h.contexts[0]
	assert.Equal(t, "what is this?", mc.Text)
	require.Len(t, mc.Files, 1)
	assert.Equal(t, ai.FileTypeImage, mc.Files[0].Type)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, mc.Files[0].Data)
	assert.Equal(t, "image/jpeg", mc.Files[0].Mime)
}

func TestReceiveUnsupportedTypeGetsReply(t *testing.T) {
	h := &recordingHandler{}
	g := newFakeGraph(t, "m1", nil)
	a := newTestAdapter(g, h)

	postWebhook(t, a, `{"entry":[{"changes":[{"value":{
		"messages":[{"from":"15550003","type":"sticker"}]
	}}]}]}`)

	assert.Empty(t, h.contexts, "unsupported content never reaches the pipeline")
	require.Len(t, g.outbound, 1)
	assert.Contains(t, g.outbound[0], "can only handle")
}

func TestReceiveMediaDownloadFailureGetsReply(t *testing.T) {
	h := &recordingHandler{}
	g := newFakeGraph(t, "other-id", nil)
	a := newTestAdapter(g, h)

	postWebhook(t, a, `{"entry":[{"changes":[{"value":{
		"messages":[{"from":"15550004","type":"image",
			"image":{"id":"missing","mime_type":"image/jpeg"}}]
	}}]}]}`)

	assert.Empty(t, h.contexts)
	require.Len(t, g.outbound, 1)
	assert.Contains(t, g.outbound[0], "couldn't download")
}
