package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// ElevenLabsSynthesizer streams ogg/opus audio from the ElevenLabs HTTP
// streaming endpoint. The WebSocket stream-input variant lives in
// elevenlabs_ws.go.
type ElevenLabsSynthesizer struct {
	APIKey  string
	VoiceID string
	BaseURL string // overridable for tests

	httpClient *http.Client
}

func NewElevenLabsSynthesizer(apiKey, voiceID string) *ElevenLabsSynthesizer {
	return &ElevenLabsSynthesizer{
		APIKey:     apiKey,
		VoiceID:    voiceID,
		httpClient: &http.Client{Timeout: 0},
	}
}

// Synthesize posts the text and hands the response body back as the audio
// stream. The server keeps streaming while playback consumes it.
func (e *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text string) (*Result, error) {
	if e.APIKey == "" || e.VoiceID == "" {
		return nil, fmt.Errorf("elevenlabs: api key or voice id missing")
	}
	if text == "" {
		return nil, fmt.Errorf("elevenlabs: empty text")
	}

	u, err := e.endpoint()
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"model_id": "eleven_flash_v2_5",
		"text":     text,
		"voice_settings": map[string]any{
			"stability":         0.4,
			"similarity_boost":  0.7,
			"style":             0.0,
			"use_speaker_boost": true,
		},
		// shorter chunks reduce tail cutoff; server still streams
		"generation_config": map[string]any{
			"chunk_length_schedule": []int{80, 120, 160, 200},
		},
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs http stream: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("elevenlabs http status=%d body=%s", resp.StatusCode, string(b))
	}

	return &Result{Encoding: EncodingOggOpus, SampleRate: 48000, Audio: resp.Body}, nil
}

func (e *ElevenLabsSynthesizer) endpoint() (string, error) {
	base := e.BaseURL
	if base == "" {
		base = "https://api.elevenlabs.io"
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("elevenlabs base url: %w", err)
	}
	u.Path = "/v1/text-to-speech/" + e.VoiceID + "/stream"
	q := u.Query()
	q.Set("model_id", "eleven_flash_v2_5")
	q.Set("output_format", "opus_48000_64")
	// 0..4, lower targets lower latency at some quality cost
	q.Set("optimize_streaming_latency", "2")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
