package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// ElevenLabsWSSynthesizer uses the stream-input WebSocket. It trades the
// simplicity of the HTTP path for lower time-to-first-byte.
type ElevenLabsWSSynthesizer struct {
	APIKey  string
	VoiceID string
	Host    string // overridable for tests, defaults to api.elevenlabs.io
}

func NewElevenLabsWSSynthesizer(apiKey, voiceID string) *ElevenLabsWSSynthesizer {
	return &ElevenLabsWSSynthesizer{APIKey: apiKey, VoiceID: voiceID}
}

type elevenWSInit struct {
	Text          string         `json:"text"`
	VoiceSettings map[string]any `json:"voice_settings,omitempty"`
	XIAPIKey      string         `json:"xi_api_key"`
}

type elevenWSText struct {
	Text       string `json:"text"`
	TryTrigger bool   `json:"try_trigger_generation,omitempty"`
}

type elevenWSFrame struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Synthesize opens the stream-input session, sends the whole segment and the
// end-of-input marker, then decodes base64 audio frames into the returned
// reader until the server marks the stream final.
func (e *ElevenLabsWSSynthesizer) Synthesize(ctx context.Context, text string) (*Result, error) {
	if e.APIKey == "" || e.VoiceID == "" {
		return nil, fmt.Errorf("elevenlabs ws: api key or voice id missing")
	}
	if text == "" {
		return nil, fmt.Errorf("elevenlabs ws: empty text")
	}

	host := e.Host
	if host == "" {
		host = "api.elevenlabs.io"
	}
	u := url.URL{
		Scheme: "wss",
		Host:   host,
		Path:   "/v1/text-to-speech/" + e.VoiceID + "/stream-input",
	}
	q := u.Query()
	q.Set("model_id", "eleven_flash_v2_5")
	q.Set("output_format", "opus_48000_64")
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 8 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), http.Header{})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs ws: dial: %w", err)
	}

	init := elevenWSInit{
		Text: " ",
		VoiceSettings: map[string]any{
			"stability":        0.4,
			"similarity_boost": 0.7,
		},
		XIAPIKey: e.APIKey,
	}
	if err := conn.WriteJSON(init); err != nil {
		conn.Close()
		return nil, fmt.Errorf("elevenlabs ws: init: %w", err)
	}
	if err := conn.WriteJSON(elevenWSText{Text: text + " ", TryTrigger: true}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("elevenlabs ws: send text: %w", err)
	}
	// empty text marks end of input
	if err := conn.WriteJSON(elevenWSText{Text: ""}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("elevenlabs ws: close input: %w", err)
	}

	pr, pw := io.Pipe()

	go func() {
		defer conn.Close()

		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-stop:
			}
		}()

		for {
			conn.SetReadDeadline(time.Now().Add(20 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					pw.CloseWithError(ctx.Err())
				} else {
					pw.CloseWithError(fmt.Errorf("elevenlabs ws: read: %w", err))
				}
				return
			}

			var frame elevenWSFrame
			if err := json.Unmarshal(msg, &frame); err != nil {
				pw.CloseWithError(fmt.Errorf("elevenlabs ws: decode frame: %w", err))
				return
			}
			if frame.Error != "" {
				pw.CloseWithError(fmt.Errorf("elevenlabs ws: server error %s: %s", frame.Error, frame.Message))
				return
			}
			if frame.Audio != "" {
				chunk, err := base64.StdEncoding.DecodeString(frame.Audio)
				if err != nil {
					pw.CloseWithError(fmt.Errorf("elevenlabs ws: decode audio: %w", err))
					return
				}
				if _, err := pw.Write(chunk); err != nil {
					return
				}
			}
			if frame.IsFinal {
				pw.Close()
				return
			}
		}
	}()

	return &Result{Encoding: EncodingOggOpus, SampleRate: 48000, Audio: pr}, nil
}
