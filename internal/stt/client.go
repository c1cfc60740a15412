// Package stt sends finished audio clips to an OpenAI-compatible
// transcription endpoint and filters out hallucinated results before they
// can start a conversation turn.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/voxloop/voxloop/internal/audio"
)

// Transcript is the transcription boundary result. Filtered marks a
// non-speech or hallucinated result the orchestrator treats as "no speech".
type Transcript struct {
	Text     string
	Filtered bool
}

// Client posts WAV clips to a /v1/audio/transcriptions endpoint.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
	Model      string
}

// NewClient constructs a transcription client with a bounded request timeout.
func NewClient(baseURL, apiKey, model string) *Client {
	if model == "" {
		model = "whisper-1"
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		Model:      model,
	}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads one finished clip and returns the recognized text.
// Empty clips never reach the network: they come back pre-filtered.
func (c *Client) Transcribe(ctx context.Context, clip audio.Clip) (Transcript, error) {
	if clip.Empty() {
		return Transcript{Filtered: true}, nil
	}
	if c.APIKey == "" {
		return Transcript{}, fmt.Errorf("transcription api key missing")
	}

	wav, err := clip.WAV()
	if err != nil {
		return Transcript{}, fmt.Errorf("encode clip: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "clip.wav")
	if err != nil {
		return Transcript{}, err
	}
	if _, err := fw.Write(wav); err != nil {
		return Transcript{}, err
	}
	if err := mw.WriteField("model", c.Model); err != nil {
		return Transcript{}, err
	}
	if err := mw.Close(); err != nil {
		return Transcript{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/audio/transcriptions", &body)
	if err != nil {
		return Transcript{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Transcript{}, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return Transcript{}, fmt.Errorf("transcription error: status=%d body=%s", resp.StatusCode, string(b))
	}

	var tr transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return Transcript{}, fmt.Errorf("decode transcription response: %w", err)
	}

	text := strings.TrimSpace(tr.Text)
	return Transcript{Text: text, Filtered: isHallucination(text, clip.Duration())}, nil
}

// hallucinationArtifacts are phrases speech models emit for silence or
// breathing noise. A short clip producing only one of these is noise.
var hallucinationArtifacts = map[string]struct{}{
	"you": {}, "thank you": {}, "thanks for watching": {},
	"bye": {}, ".": {}, "the": {}, "uh": {}, "um": {},
}

func isHallucination(text string, clipDur time.Duration) bool {
	if text == "" {
		return true
	}
	norm := strings.ToLower(strings.Trim(text, " .!?,"))
	if norm == "" {
		return true
	}
	if _, ok := hallucinationArtifacts[norm]; ok {
		return true
	}
	// a couple of characters out of a very short clip is silence-derived
	if clipDur < 500*time.Millisecond && len(norm) <= 3 {
		return true
	}
	return false
}
