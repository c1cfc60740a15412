package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("GEN_MODEL", "")
	t.Setenv("STT_MODEL", "")
	t.Setenv("TTS_PROVIDER", "")
	t.Setenv("DEEPGRAM_API_KEY", "key")

	cfg := Load()
	if cfg.GenModel == "" {
		t.Fatal("expected default generation model")
	}
	if cfg.STTModel != "whisper-1" {
		t.Fatalf("stt model = %q", cfg.STTModel)
	}
	if cfg.TTSProvider != "deepgram" {
		t.Fatalf("tts provider = %q", cfg.TTSProvider)
	}
}

func TestLoad_UnknownProviderFallsBack(t *testing.T) {
	t.Setenv("TTS_PROVIDER", "shoutcast")
	cfg := Load()
	if cfg.TTSProvider != "deepgram" {
		t.Fatalf("tts provider = %q", cfg.TTSProvider)
	}
}

func TestLoadTuning(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.yaml")
	data := []byte(`
vad:
  speech_threshold: 600
  silence_threshold: 200
  silence_ms: 800
chunker:
  first_min_chars: 10
  next_min_chars: 50
playback:
  prefetch: 3
turn:
  context_limit: 6
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	tu, err := LoadTuning(path)
	if err != nil {
		t.Fatalf("LoadTuning: %v", err)
	}
	if tu.VAD.SpeechThreshold != 600 || tu.VAD.SilenceMillis != 800 {
		t.Fatalf("vad tuning = %+v", tu.VAD)
	}
	if tu.Chunker.FirstMinChars != 10 {
		t.Fatalf("chunker tuning = %+v", tu.Chunker)
	}
	if tu.Playback.Prefetch != 3 {
		t.Fatalf("playback tuning = %+v", tu.Playback)
	}
	if tu.Turn.ContextLimit != 6 {
		t.Fatalf("turn tuning = %+v", tu.Turn)
	}
}

func TestLoadTuning_EmptyPath(t *testing.T) {
	tu, err := LoadTuning("")
	if err != nil {
		t.Fatalf("LoadTuning: %v", err)
	}
	if tu != (Tuning{}) {
		t.Fatalf("expected zero tuning, got %+v", tu)
	}
}

func TestTuningValidate(t *testing.T) {
	cases := []struct {
		name string
		t    Tuning
		ok   bool
	}{
		{"zero is valid", Tuning{}, true},
		{"inverted vad band", Tuning{VAD: VADTuning{SpeechThreshold: 200, SilenceThreshold: 500}}, false},
		{"alpha out of range", Tuning{VAD: VADTuning{AmbientAlpha: 1.5}}, false},
		{"inverted chunker bounds", Tuning{Chunker: ChunkerTuning{FirstMinChars: 200, FirstMaxChars: 100}}, false},
		{"negative prefetch", Tuning{Playback: PlaybackTuning{Prefetch: -1}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.t.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
