// Package vad classifies microphone input as speech or silence. Two modes
// share one RMS sampling primitive: a Listener that auto-stops recording after
// sustained silence, and an InterruptDetector that spots barge-in while the
// assistant is speaking using an adaptive ambient-noise threshold.
package vad

import (
	"sync"
	"time"

	"github.com/voxloop/voxloop/internal/audio"
)

// Config carries the listening-mode thresholds. The values are empirically
// tuned and belong in deployment configuration, not code.
type Config struct {
	// SpeechThreshold is the RMS level above which a sample confirms speech.
	SpeechThreshold float64
	// SilenceThreshold is the RMS level below which a sample accumulates
	// silence. Samples between the two thresholds do neither (hysteresis
	// band), preventing rapid flapping.
	SilenceThreshold float64
	// SilenceDuration is the sustained silence needed to fire OnSilence.
	SilenceDuration time.Duration
}

// DefaultConfig returns thresholds suitable for 16kHz mono PCM16 input.
func DefaultConfig() Config {
	return Config{
		SpeechThreshold:  500,
		SilenceThreshold: 250,
		SilenceDuration:  900 * time.Millisecond,
	}
}

// Hooks are the listener callbacks. ShouldCheck is re-evaluated on every
// sample so a loop armed for one conversation state silently no-ops after a
// state transition without needing synchronous teardown.
type Hooks struct {
	OnVolume    func(level float64)
	OnSilence   func()
	ShouldCheck func() bool
}

// Listener is the listening-mode detector. It consumes PCM frames, tracks
// whether speech has been heard, and fires OnSilence exactly once when
// sustained silence follows detected speech.
type Listener struct {
	cfg   Config
	hooks Hooks

	mu           sync.Mutex
	speech       bool
	silenceStart time.Time
	fired        bool
	stopped      bool
	stopCh       chan struct{}
	now          func() time.Time
}

// NewListener constructs a listener; zero config fields take defaults.
func NewListener(cfg Config, hooks Hooks) *Listener {
	def := DefaultConfig()
	if cfg.SpeechThreshold == 0 {
		cfg.SpeechThreshold = def.SpeechThreshold
	}
	if cfg.SilenceThreshold == 0 {
		cfg.SilenceThreshold = def.SilenceThreshold
	}
	if cfg.SilenceDuration == 0 {
		cfg.SilenceDuration = def.SilenceDuration
	}
	return &Listener{cfg: cfg, hooks: hooks, stopCh: make(chan struct{}), now: time.Now}
}

// Start consumes frames until the channel closes or Stop is called.
func (l *Listener) Start(frames <-chan []int16) {
	go func() {
		for {
			select {
			case <-l.stopCh:
				return
			case frame, ok := <-frames:
				if !ok {
					return
				}
				l.Sample(audio.RMS(frame))
			}
		}
	}()
}

// Sample classifies one RMS level. Exposed so callers that already own the
// frame loop (and tests) can drive the detector directly.
func (l *Listener) Sample(level float64) {
	if l.hooks.ShouldCheck != nil && !l.hooks.ShouldCheck() {
		return
	}
	if l.hooks.OnVolume != nil {
		l.hooks.OnVolume(level)
	}

	l.mu.Lock()
	if l.stopped || l.fired {
		l.mu.Unlock()
		return
	}
	now := l.now()
	switch {
	case level >= l.cfg.SpeechThreshold:
		l.speech = true
		l.silenceStart = time.Time{}
	case level <= l.cfg.SilenceThreshold:
		if l.silenceStart.IsZero() {
			l.silenceStart = now
		}
		if l.speech && now.Sub(l.silenceStart) >= l.cfg.SilenceDuration {
			l.fired = true
			l.mu.Unlock()
			if l.hooks.OnSilence != nil {
				l.hooks.OnSilence()
			}
			return
		}
	default:
		// hysteresis band: neither confirms speech nor accumulates silence
	}
	l.mu.Unlock()
}

// Stop halts sampling. Safe to call more than once.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.stopped {
		l.stopped = true
		close(l.stopCh)
	}
}

// HasSpeech reports whether any sample crossed the speech threshold.
func (l *Listener) HasSpeech() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.speech
}

// ResetSpeech clears speech detection and the silence clock so the listener
// can be reused for the next recording.
func (l *Listener) ResetSpeech() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.speech = false
	l.fired = false
	l.silenceStart = time.Time{}
}
