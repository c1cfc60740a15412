// Package config loads environment configuration and the optional YAML
// tuning file. API keys and endpoints come from the environment; the
// empirically tuned thresholds (VAD, chunking, playback) live in the tuning
// file so they can be adjusted per deployment without a rebuild.
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	OpenAIKey     string
	OpenAIBaseURL string
	GenModel      string
	STTModel      string

	TTSProvider       string // "deepgram", "elevenlabs" or "elevenlabs-ws"
	DeepgramKey       string
	DeepgramModel     string
	ElevenLabsKey     string
	ElevenLabsVoiceID string

	TuningPath string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded")
	}

	addr := os.Getenv("HTTP_ADDRESS")

	openAIKey := os.Getenv("OPENAI_API_KEY")
	if openAIKey == "" {
		log.Println("Warning: OPENAI_API_KEY not set - transcription and generation will not work")
	}
	genModel := os.Getenv("GEN_MODEL")
	if genModel == "" {
		genModel = "gpt-4o-mini"
	}
	sttModel := os.Getenv("STT_MODEL")
	if sttModel == "" {
		sttModel = "whisper-1"
	}

	provider := os.Getenv("TTS_PROVIDER")
	if provider == "" {
		provider = "deepgram"
	}
	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	elevenKey := os.Getenv("ELEVENLABS_API_KEY")
	voiceID := os.Getenv("ELEVENLABS_VOICE_ID")
	switch provider {
	case "deepgram":
		if deepgramKey == "" {
			log.Println("Warning: DEEPGRAM_API_KEY not set - speech synthesis will not work")
		}
	case "elevenlabs", "elevenlabs-ws":
		if elevenKey == "" || voiceID == "" {
			log.Println("Warning: ELEVENLABS_API_KEY or ELEVENLABS_VOICE_ID not set - speech synthesis will not work")
		}
	default:
		log.Printf("Warning: unknown TTS_PROVIDER %q, falling back to deepgram", provider)
		provider = "deepgram"
	}

	return Config{
		HTTPAddress:       addr,
		OpenAIKey:         openAIKey,
		OpenAIBaseURL:     os.Getenv("OPENAI_BASE_URL"),
		GenModel:          genModel,
		STTModel:          sttModel,
		TTSProvider:       provider,
		DeepgramKey:       deepgramKey,
		DeepgramModel:     os.Getenv("DEEPGRAM_TTS_MODEL"),
		ElevenLabsKey:     elevenKey,
		ElevenLabsVoiceID: voiceID,
		TuningPath:        os.Getenv("TUNING_FILE"),
	}
}

// Tuning carries the empirically tuned pipeline constants.
type Tuning struct {
	VAD      VADTuning      `yaml:"vad"`
	Chunker  ChunkerTuning  `yaml:"chunker"`
	Playback PlaybackTuning `yaml:"playback"`
	Turn     TurnTuning     `yaml:"turn"`
}

type VADTuning struct {
	SpeechThreshold   float64 `yaml:"speech_threshold"`
	SilenceThreshold  float64 `yaml:"silence_threshold"`
	SilenceMillis     int     `yaml:"silence_ms"`
	InterruptMargin   float64 `yaml:"interrupt_margin"`
	InterruptFloor    float64 `yaml:"interrupt_floor"`
	InterruptSustainM int     `yaml:"interrupt_sustain_ms"`
	AmbientAlpha      float64 `yaml:"ambient_alpha"`
}

type ChunkerTuning struct {
	FirstMinChars int `yaml:"first_min_chars"`
	FirstMaxChars int `yaml:"first_max_chars"`
	NextMinChars  int `yaml:"next_min_chars"`
	NextMaxChars  int `yaml:"next_max_chars"`
	FirstIdleMs   int `yaml:"first_idle_ms"`
	NextIdleMs    int `yaml:"next_idle_ms"`
}

type PlaybackTuning struct {
	Prefetch      int `yaml:"prefetch"`
	MinStartBytes int `yaml:"min_start_bytes"`
}

type TurnTuning struct {
	MinSpokenMs    int `yaml:"min_spoken_ms"`
	ContextLimit   int `yaml:"context_limit"`
	RecoverDelayMs int `yaml:"recover_delay_ms"`
}

// LoadTuning reads and validates the tuning file. An empty path returns the
// zero value, which downstream packages resolve to their defaults.
func LoadTuning(path string) (Tuning, error) {
	var t Tuning
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read tuning file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("parse tuning file %s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning file %s: %w", path, err)
	}
	return t, nil
}

// Validate rejects settings that would wedge the pipeline. Zero values are
// allowed everywhere and mean "use the built-in default".
func (t *Tuning) Validate() error {
	v := t.VAD
	if v.SpeechThreshold < 0 || v.SilenceThreshold < 0 {
		return fmt.Errorf("vad thresholds must be non-negative")
	}
	if v.SpeechThreshold != 0 && v.SilenceThreshold != 0 && v.SilenceThreshold > v.SpeechThreshold {
		return fmt.Errorf("vad: silence_threshold %v above speech_threshold %v removes the hysteresis band",
			v.SilenceThreshold, v.SpeechThreshold)
	}
	if v.AmbientAlpha < 0 || v.AmbientAlpha > 1 {
		return fmt.Errorf("vad: ambient_alpha must be in [0,1], got %v", v.AmbientAlpha)
	}

	c := t.Chunker
	if c.FirstMinChars != 0 && c.FirstMaxChars != 0 && c.FirstMinChars > c.FirstMaxChars {
		return fmt.Errorf("chunker: first_min_chars %d exceeds first_max_chars %d", c.FirstMinChars, c.FirstMaxChars)
	}
	if c.NextMinChars != 0 && c.NextMaxChars != 0 && c.NextMinChars > c.NextMaxChars {
		return fmt.Errorf("chunker: next_min_chars %d exceeds next_max_chars %d", c.NextMinChars, c.NextMaxChars)
	}

	if t.Playback.Prefetch < 0 {
		return fmt.Errorf("playback: prefetch must be non-negative, got %d", t.Playback.Prefetch)
	}
	if t.Playback.MinStartBytes < 0 {
		return fmt.Errorf("playback: min_start_bytes must be non-negative, got %d", t.Playback.MinStartBytes)
	}
	return nil
}

// Millis converts a tuning millisecond field to a duration, zero staying zero.
func Millis(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }
