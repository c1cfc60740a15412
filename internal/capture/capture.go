// Package capture owns the microphone stream and the recording lifecycle.
// One input device stream is acquired per conversation session and reused
// across consecutive recordings, so the user is not re-prompted for device
// access between turns.
package capture

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/voxloop/voxloop/internal/audio"
)

// ErrPermissionDenied is returned when the input device cannot be acquired.
// It is fatal to the capture session: surfaced to the user, never retried.
var ErrPermissionDenied = errors.New("capture: input device permission denied")

// Config holds the capture format. Frames are delivered as mono PCM16.
type Config struct {
	SampleRate int // Hz, default 16000
	FrameSize  int // samples per frame, default 1600 (100ms at 16kHz)
}

// DefaultConfig returns the capture format used for speech input.
func DefaultConfig() Config {
	return Config{SampleRate: 16000, FrameSize: 1600}
}

func (c *Config) applyDefaults() {
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.FrameSize == 0 {
		c.FrameSize = c.SampleRate / 10
	}
}

// deviceStream abstracts the platform input stream so tests can inject a fake.
// Read blocks until the buffer bound at open time has been filled.
type deviceStream interface {
	Start() error
	Read() error
	Stop() error
	Close() error
}

// Recorder reads mono PCM16 frames from the input device. Frames always flow
// on Frames() while the device is open; Start/Stop toggle whether they are
// also accumulated into the clip buffer.
type Recorder struct {
	cfg Config
	dev deviceStream
	in  []int16

	mu        sync.Mutex
	recording bool
	buf       []int16
	released  bool

	frames  chan []int16
	dropped uint64
	done    chan struct{}
}

// NewRecorder acquires the default input device and starts pumping frames.
func NewRecorder(cfg Config) (*Recorder, error) {
	cfg.applyDefaults()
	in := make([]int16, cfg.FrameSize)
	dev, err := openInputStream(cfg, in)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return startRecorder(cfg, dev, in)
}

// newRecorderWith wires a recorder over an injected device stream (tests).
func newRecorderWith(cfg Config, dev deviceStream, in []int16) (*Recorder, error) {
	cfg.applyDefaults()
	return startRecorder(cfg, dev, in)
}

func startRecorder(cfg Config, dev deviceStream, in []int16) (*Recorder, error) {
	r := &Recorder{
		cfg:    cfg,
		dev:    dev,
		in:     in,
		frames: make(chan []int16, 64),
		done:   make(chan struct{}),
	}
	if err := dev.Start(); err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("start input stream: %w", err)
	}
	go r.pump()
	return r, nil
}

// Frames returns the live frame feed. The channel is closed on Release.
// Slow consumers lose frames rather than stalling the device.
func (r *Recorder) Frames() <-chan []int16 { return r.frames }

// Start begins accumulating a new clip. Calling Start while a recording is
// already active is a no-op: the live recording keeps going.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording || r.released {
		return
	}
	r.recording = true
	r.buf = r.buf[:0]
}

// Stop finalizes the buffered audio into a single clip. A recording that
// captured nothing returns the empty-clip sentinel, not an error.
func (r *Recorder) Stop() audio.Clip {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return audio.Clip{SampleRate: r.cfg.SampleRate}
	}
	r.recording = false
	pcm := make([]int16, len(r.buf))
	copy(pcm, r.buf)
	r.buf = r.buf[:0]
	return audio.Clip{PCM: pcm, SampleRate: r.cfg.SampleRate}
}

// IsActive reports whether a recording is currently accumulating.
func (r *Recorder) IsActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Release stops the pump and closes the device stream. The recorder cannot be
// reused afterwards.
func (r *Recorder) Release() {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}
	r.released = true
	r.recording = false
	r.mu.Unlock()

	close(r.done)
	_ = r.dev.Stop()
	_ = r.dev.Close()
}

func (r *Recorder) pump() {
	defer close(r.frames)
	for {
		select {
		case <-r.done:
			return
		default:
		}
		if err := r.dev.Read(); err != nil {
			select {
			case <-r.done:
			default:
				log.Printf("capture: device read failed: %v", err)
			}
			return
		}
		frame := make([]int16, len(r.in))
		copy(frame, r.in)

		r.mu.Lock()
		if r.recording {
			r.buf = append(r.buf, frame...)
		}
		r.mu.Unlock()

		select {
		case r.frames <- frame:
		default:
			r.dropped++
			if r.dropped%50 == 1 {
				log.Printf("capture: frame consumer lagging, dropped=%d", r.dropped)
			}
		}
	}
}
