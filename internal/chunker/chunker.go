// Package chunker converts an append-only reply stream into speakable
// segments, balancing latency (speak early) against naturalness (speak
// complete thoughts). The first segment is allowed to be short so playback
// starts fast; later segments wait for fuller sentences.
package chunker

import (
	"strings"
	"sync"
	"time"
	"unicode"
)

// Segment is one dispatched span of reply text. Seq is contiguous and
// gapless per turn, starting at 0.
type Segment struct {
	TurnID int64
	Seq    int
	Text   string
}

// Config bounds segment extraction. All values are deployment tuning, not
// behavioral contracts.
type Config struct {
	FirstMinChars int // minimum first-segment length, default 12
	FirstMaxChars int // buffer length forcing first dispatch, default 180
	NextMinChars  int // minimum later-segment length, default 60
	NextMaxChars  int // buffer length forcing later dispatch, default 240

	FirstIdle    time.Duration // idle flush before first dispatch, default 500ms
	NextIdle     time.Duration // idle flush after first dispatch, default 1500ms
	IdleMinChars int           // minimum buffer size for an idle flush, default 2
}

// DefaultConfig returns the observed defaults.
func DefaultConfig() Config {
	return Config{
		FirstMinChars: 12,
		FirstMaxChars: 180,
		NextMinChars:  60,
		NextMaxChars:  240,
		FirstIdle:     500 * time.Millisecond,
		NextIdle:      1500 * time.Millisecond,
		IdleMinChars:  2,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.FirstMinChars == 0 {
		c.FirstMinChars = def.FirstMinChars
	}
	if c.FirstMaxChars == 0 {
		c.FirstMaxChars = def.FirstMaxChars
	}
	if c.NextMinChars == 0 {
		c.NextMinChars = def.NextMinChars
	}
	if c.NextMaxChars == 0 {
		c.NextMaxChars = def.NextMaxChars
	}
	if c.FirstIdle == 0 {
		c.FirstIdle = def.FirstIdle
	}
	if c.NextIdle == 0 {
		c.NextIdle = def.NextIdle
	}
	if c.IdleMinChars == 0 {
		c.IdleMinChars = def.IdleMinChars
	}
}

// Chunker accumulates reply fragments and dispatches segments in input
// order. Dispatch runs outside the internal lock, in call order; no segment
// is ever emitted twice.
type Chunker struct {
	cfg      Config
	dispatch func(Segment)

	mu       sync.Mutex
	turnID   int64
	seq      int
	buf      []rune
	ended    bool
	timer    *time.Timer
	timerGen int
}

// New constructs a chunker delivering segments to dispatch.
func New(cfg Config, dispatch func(Segment)) *Chunker {
	cfg.applyDefaults()
	return &Chunker{cfg: cfg, dispatch: dispatch}
}

// Reset clears all state for reuse on a new turn.
func (c *Chunker) Reset(turnID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turnID = turnID
	c.seq = 0
	c.buf = c.buf[:0]
	c.ended = false
	c.stopTimerLocked()
}

// Add appends a reply fragment and extracts any ready segments.
func (c *Chunker) Add(fragment string) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.buf = append(c.buf, []rune(fragment)...)
	out := c.extractLocked(false)
	c.armTimerLocked()
	c.mu.Unlock()
	c.emit(out)
}

// End flags stream completion and flushes the remaining buffer
// unconditionally, bypassing minimum-length checks.
func (c *Chunker) End() {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	c.stopTimerLocked()
	out := c.extractLocked(true)
	if tail := strings.TrimSpace(string(c.buf)); tail != "" {
		out = append(out, c.makeSegmentLocked(tail))
	}
	c.buf = c.buf[:0]
	c.mu.Unlock()
	c.emit(out)
}

// Pending reports the current buffered length (status endpoint).
func (c *Chunker) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

func (c *Chunker) emit(segs []Segment) {
	for _, s := range segs {
		c.dispatch(s)
	}
}

func (c *Chunker) makeSegmentLocked(text string) Segment {
	s := Segment{TurnID: c.turnID, Seq: c.seq, Text: text}
	c.seq++
	return s
}

// extractLocked repeatedly pulls segments off the front of the buffer.
// When final is true, minimum-length holds are bypassed.
func (c *Chunker) extractLocked(final bool) []Segment {
	var out []Segment
	for {
		seg, ok := c.extractOneLocked(final)
		if !ok {
			break
		}
		out = append(out, seg)
	}
	return out
}

func (c *Chunker) extractOneLocked(final bool) (Segment, bool) {
	if len(c.buf) == 0 {
		return Segment{}, false
	}
	min, max := c.cfg.NextMinChars, c.cfg.NextMaxChars
	if c.seq == 0 {
		min, max = c.cfg.FirstMinChars, c.cfg.FirstMaxChars
	}
	if final {
		min = 1
	}

	// preferred: a sentence boundary whose candidate meets the minimum
	boundaries := c.sentenceBoundaries(final)
	for _, b := range boundaries {
		candidate := strings.TrimSpace(string(c.buf[:b+1]))
		if len([]rune(candidate)) >= min {
			return c.consumeLocked(b + 1), true
		}
	}
	// all candidates too short: hold, unless the buffer outgrew the max,
	// in which case force-dispatch at the last boundary
	if len(boundaries) > 0 {
		if len(c.buf) > max {
			return c.consumeLocked(boundaries[len(boundaries)-1] + 1), true
		}
		return Segment{}, false
	}

	// no sentence boundary: only a buffer past the max is cut, first at a
	// newline, then at the last whitespace before the max, then hard
	if len(c.buf) <= max {
		return Segment{}, false
	}
	if nl := lastIndexRune(c.buf[:max], '\n'); nl > 0 {
		return c.consumeLocked(nl + 1), true
	}
	if ws := lastWhitespace(c.buf[:max]); ws > 0 {
		return c.consumeLocked(ws + 1), true
	}
	return c.consumeLocked(max), true
}

// consumeLocked removes the first n runes and wraps them as a segment.
func (c *Chunker) consumeLocked(n int) Segment {
	text := strings.TrimSpace(string(c.buf[:n]))
	rest := c.buf[n:]
	for len(rest) > 0 && unicode.IsSpace(rest[0]) {
		rest = rest[1:]
	}
	c.buf = append(c.buf[:0], rest...)
	return c.makeSegmentLocked(text)
}

// sentenceBoundaries scans for terminator positions that qualify as segment
// ends. A '.' immediately preceded by a digit is ambiguous until trailing
// context rules out a decimal ("12." may continue as "12.5"); final removes
// that ambiguity.
func (c *Chunker) sentenceBoundaries(final bool) []int {
	var out []int
	for i, r := range c.buf {
		if !isTerminator(r) {
			continue
		}
		atEnd := i == len(c.buf)-1
		if r == '.' && i > 0 && unicode.IsDigit(c.buf[i-1]) {
			if atEnd {
				if !final {
					continue // possible decimal split mid-number
				}
			} else if unicode.IsDigit(c.buf[i+1]) {
				continue // decimal point, not a sentence end
			}
		}
		if atEnd || unicode.IsSpace(c.buf[i+1]) {
			out = append(out, i)
		}
	}
	return out
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}

func lastIndexRune(buf []rune, want rune) int {
	for i := len(buf) - 1; i >= 0; i-- {
		if buf[i] == want {
			return i
		}
	}
	return -1
}

func lastWhitespace(buf []rune) int {
	for i := len(buf) - 1; i >= 0; i-- {
		if unicode.IsSpace(buf[i]) {
			return i
		}
	}
	return -1
}

// armTimerLocked resets the idle flush: a stream that stalls without ever
// reaching a boundary must not hold trailing text forever.
func (c *Chunker) armTimerLocked() {
	c.stopTimerLocked()
	idle := c.cfg.NextIdle
	if c.seq == 0 {
		idle = c.cfg.FirstIdle
	}
	c.timerGen++
	gen := c.timerGen
	c.timer = time.AfterFunc(idle, func() { c.idleFlush(gen) })
}

func (c *Chunker) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
}

func (c *Chunker) idleFlush(gen int) {
	c.mu.Lock()
	if gen != c.timerGen || c.ended {
		c.mu.Unlock()
		return
	}
	text := strings.TrimSpace(string(c.buf))
	if len([]rune(text)) < c.cfg.IdleMinChars {
		c.mu.Unlock()
		return
	}
	c.buf = c.buf[:0]
	seg := c.makeSegmentLocked(text)
	c.mu.Unlock()
	c.emit([]Segment{seg})
}
