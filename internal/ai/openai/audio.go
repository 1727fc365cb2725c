package openai

import (
	"bytes"
	"context"
	"mime/multipart"

	"github.com/chatwire/chatwire/internal/ai"
	"github.com/chatwire/chatwire/internal/httpx"
)

// TextToSpeech implements ai.TTSCapability via POST /audio/speech. The
// response body is raw audio, not JSON.
func (p *Provider) TextToSpeech(ctx context.Context, text string, opts ai.SpeechOptions) (ai.SpeechResult, error) {
	if text == "" {
		err := ai.NewError(ai.ErrKindValidation, "speech input text is empty")
		p.setLastError(err)
		return ai.SpeechResult{}, err
	}
	if !p.Connected(ctx) {
		err := ai.NewError(ai.ErrKindNotConnected, "provider %s is not connected", p.name)
		p.setLastError(err)
		return ai.SpeechResult{}, err
	}
	model := opts.Model
	if model == "" {
		model = p.defaultModel(ai.CapabilityTTS)
	}
	voice := opts.Voice
	if voice == "" {
		voice = "alloy"
	}
	format := opts.Format
	if format == "" {
		format = "mp3"
	}
	body := map[string]any{
		"model":           model,
		"input":           text,
		"voice":           voice,
		"response_format": format,
	}
	if opts.Speed > 0 {
		body["speed"] = opts.Speed
	}

	resp, err := p.doAuthorized(ctx, "/audio/speech", body)
	if err != nil {
		p.setLastError(err)
		return ai.SpeechResult{}, err
	}
	if len(resp.Body) == 0 {
		err := ai.NewError(ai.ErrKindInvalidResponse, "speech response is empty")
		p.setLastError(err)
		return ai.SpeechResult{}, err
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	p.setLastError(nil)
	return ai.SpeechResult{AudioData: resp.Body, ContentType: contentType}, nil
}

type transcriptionResponse struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// SpeechToText implements ai.STTCapability via multipart POST
// /audio/transcriptions.
func (p *Provider) SpeechToText(ctx context.Context, audio []byte, opts ai.TranscribeOptions) (ai.TranscribeResult, error) {
	if len(audio) == 0 {
		err := ai.NewError(ai.ErrKindValidation, "transcription audio is empty")
		p.setLastError(err)
		return ai.TranscribeResult{}, err
	}
	if !p.Connected(ctx) {
		err := ai.NewError(ai.ErrKindNotConnected, "provider %s is not connected", p.name)
		p.setLastError(err)
		return ai.TranscribeResult{}, err
	}
	model := opts.Model
	if model == "" {
		model = p.defaultModel(ai.CapabilitySTT)
	}
	filename := opts.Filename
	if filename == "" {
		filename = "audio.ogg"
	}

	payload, contentType, err := buildTranscriptionForm(audio, filename, model, opts.Language)
	if err != nil {
		aiErr := ai.NewError(ai.ErrKindConnection, "build transcription request: %v", err)
		p.setLastError(aiErr)
		return ai.TranscribeResult{}, aiErr
	}

	resp, err := p.authorized(ctx, func(bearer string) (httpx.Response, error) {
		return p.client.Post(ctx, p.baseURL+"/audio/transcriptions", map[string]string{
			"Authorization": "Bearer " + bearer,
		}, contentType, bytes.NewReader(payload))
	})
	if err != nil {
		p.setLastError(err)
		return ai.TranscribeResult{}, err
	}

	var parsed transcriptionResponse
	if err := resp.Decode(&parsed); err != nil {
		aiErr := ai.NewError(ai.ErrKindInvalidResponse, "malformed transcription response")
		p.setLastError(aiErr)
		return ai.TranscribeResult{}, aiErr
	}
	p.setLastError(nil)
	return ai.TranscribeResult{Text: parsed.Text, Language: parsed.Language}, nil
}

// buildTranscriptionForm assembles the multipart body once so the request
// can be replayed after a token refresh.
func buildTranscriptionForm(audio []byte, filename, model, language string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("model", model); err != nil {
		return nil, "", err
	}
	if language != "" {
		if err := w.WriteField("language", language); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
