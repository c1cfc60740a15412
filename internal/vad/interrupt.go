package vad

import (
	"sync"
	"time"

	"github.com/voxloop/voxloop/internal/audio"
)

// InterruptConfig tunes barge-in detection. The threshold adapts to the
// room: a hard-coded cutoff that works in a quiet office fires constantly in
// a noisy one, so the detector tracks an exponentially smoothed ambient
// estimate and requires the signal to clear max(ambient+Margin, Floor).
type InterruptConfig struct {
	// Alpha is the ambient-noise smoothing factor.
	Alpha float64
	// Margin is added to the ambient estimate to form the dynamic threshold.
	Margin float64
	// Floor is the minimum dynamic threshold regardless of ambient level.
	Floor float64
	// MinDuration is the continuous exceedance needed to trigger.
	MinDuration time.Duration
	// SampleInterval is the cadence of incoming samples (one per frame).
	SampleInterval time.Duration
}

// DefaultInterruptConfig returns barge-in tuning for 100ms frames.
func DefaultInterruptConfig() InterruptConfig {
	return InterruptConfig{
		Alpha:          0.12,
		Margin:         400,
		Floor:          700,
		MinDuration:    120 * time.Millisecond,
		SampleInterval: 100 * time.Millisecond,
	}
}

// InterruptHooks are the interruption-mode callbacks. ShouldCheck gates every
// sample, so the detector can stay attached to the frame feed across state
// transitions and only act while the assistant is thinking or speaking.
type InterruptHooks struct {
	OnVolume    func(level float64)
	OnBargeIn   func()
	ShouldCheck func() bool
}

// InterruptDetector watches the microphone while the assistant is speaking
// and fires OnBargeIn once when the user talks over it.
type InterruptDetector struct {
	cfg   InterruptConfig
	hooks InterruptHooks

	mu        sync.Mutex
	ambient   float64
	seeded    bool
	sustained time.Duration
	fired     bool
	stopped   bool
	stopCh    chan struct{}
}

// NewInterruptDetector constructs a detector; zero fields take defaults.
func NewInterruptDetector(cfg InterruptConfig, hooks InterruptHooks) *InterruptDetector {
	def := DefaultInterruptConfig()
	if cfg.Alpha == 0 {
		cfg.Alpha = def.Alpha
	}
	if cfg.Margin == 0 {
		cfg.Margin = def.Margin
	}
	if cfg.Floor == 0 {
		cfg.Floor = def.Floor
	}
	if cfg.MinDuration == 0 {
		cfg.MinDuration = def.MinDuration
	}
	if cfg.SampleInterval == 0 {
		cfg.SampleInterval = def.SampleInterval
	}
	return &InterruptDetector{cfg: cfg, hooks: hooks, stopCh: make(chan struct{})}
}

// Start consumes frames until the channel closes or Stop is called.
func (d *InterruptDetector) Start(frames <-chan []int16) {
	go func() {
		for {
			select {
			case <-d.stopCh:
				return
			case frame, ok := <-frames:
				if !ok {
					return
				}
				d.Sample(audio.RMS(frame))
			}
		}
	}()
}

// Sample feeds one RMS level. Levels observed while ShouldCheck is false
// still refine the ambient estimate but never accumulate toward a trigger.
func (d *InterruptDetector) Sample(level float64) {
	if d.hooks.OnVolume != nil {
		d.hooks.OnVolume(level)
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if !d.seeded {
		d.ambient = level
		d.seeded = true
	}
	threshold := d.ambient + d.cfg.Margin
	if threshold < d.cfg.Floor {
		threshold = d.cfg.Floor
	}
	// only quiet samples feed the ambient estimate, so the user's own
	// interruption does not raise the bar against itself
	if level < threshold {
		d.ambient = d.cfg.Alpha*level + (1-d.cfg.Alpha)*d.ambient
	}

	armed := d.hooks.ShouldCheck == nil || d.hooks.ShouldCheck()
	if !armed || d.fired {
		d.sustained = 0
		d.mu.Unlock()
		return
	}

	if level >= threshold {
		d.sustained += d.cfg.SampleInterval
		if d.sustained >= d.cfg.MinDuration {
			d.fired = true
			d.mu.Unlock()
			if d.hooks.OnBargeIn != nil {
				d.hooks.OnBargeIn()
			}
			return
		}
	} else {
		d.sustained = 0
	}
	d.mu.Unlock()
}

// Reset re-arms the detector for the next speaking turn, keeping the ambient
// estimate warm.
func (d *InterruptDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fired = false
	d.sustained = 0
}

// Stop halts sampling. Safe to call more than once.
func (d *InterruptDetector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.stopped {
		d.stopped = true
		close(d.stopCh)
	}
}

// Ambient exposes the smoothed noise estimate (status endpoint).
func (d *InterruptDetector) Ambient() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ambient
}
