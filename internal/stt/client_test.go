package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/voxloop/voxloop/internal/audio"
)

func speechClip() audio.Clip {
	return audio.Clip{PCM: make([]int16, 16000), SampleRate: 16000} // 1s
}

func TestTranscribe_ParsesTextAndSendsWAV(t *testing.T) {
	var gotModel string
	var gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("auth header: %q", r.Header.Get("Authorization"))
		}
		gotType = r.Header.Get("Content-Type")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotModel = r.FormValue("model")
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			head := make([]byte, 4)
			_, _ = f.Read(head)
			if string(head) != "RIFF" {
				t.Errorf("payload is not WAV: %q", head)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"  what time is it  "}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", "whisper-1")
	tr, err := c.Transcribe(context.Background(), speechClip())
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if tr.Text != "what time is it" {
		t.Fatalf("text: got %q", tr.Text)
	}
	if tr.Filtered {
		t.Fatalf("real speech must not be filtered")
	}
	if gotModel != "whisper-1" {
		t.Fatalf("model field: %q", gotModel)
	}
	if gotType == "" {
		t.Fatalf("missing multipart content type")
	}
}

func TestTranscribe_EmptyClipIsPreFiltered(t *testing.T) {
	c := NewClient("http://unused", "key", "")
	tr, err := c.Transcribe(context.Background(), audio.Clip{SampleRate: 16000})
	if err != nil {
		t.Fatalf("empty clip must not error: %v", err)
	}
	if !tr.Filtered {
		t.Fatalf("empty clip must be filtered")
	}
}

func TestTranscribe_ServerErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "")
	if _, err := c.Transcribe(context.Background(), speechClip()); err == nil {
		t.Fatalf("expected error on 503")
	}
}

func TestIsHallucination(t *testing.T) {
	cases := []struct {
		text string
		dur  time.Duration
		want bool
	}{
		{"", time.Second, true},
		{"Thank you.", time.Second, true},
		{"you", time.Second, true},
		{"What is the weather like today?", time.Second, false},
		{"hm", 200 * time.Millisecond, true},
		{"hm, let me think about that", 200 * time.Millisecond, false},
		{"...", 2 * time.Second, true},
	}
	for _, tc := range cases {
		if got := isHallucination(tc.text, tc.dur); got != tc.want {
			t.Fatalf("isHallucination(%q, %v) = %v, want %v", tc.text, tc.dur, got, tc.want)
		}
	}
}
