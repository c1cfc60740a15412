// Package playback plays synthesized speech segments strictly in sequence
// order. Segments may resolve out of order; each waits in the queue until its
// predecessor has played. Superseding the active turn drops everything the
// prior turn still had queued or in flight.
package playback

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"sync"
)

// Config bounds queue resource use.
type Config struct {
	// Prefetch caps concurrent segment fetches, keeping playback gapless
	// without unbounded memory or network use.
	Prefetch int
	// MinStartBytes is the buffered amount required before a progressively
	// streamed segment is considered playable.
	MinStartBytes int
}

// DefaultConfig returns the queue tuning defaults.
func DefaultConfig() Config {
	return Config{Prefetch: 4, MinStartBytes: 8 * 1024}
}

// Callbacks drive the orchestrator's state transitions. Each carries the
// turn id so stale-turn notifications can be ignored.
type Callbacks struct {
	// OnPlaybackStart fires once per turn, when its first segment starts.
	OnPlaybackStart func(turnID int64)
	// OnPlaybackComplete fires once the queue drains with nothing pending.
	OnPlaybackComplete func(turnID int64)
	// OnSegmentPlayed reports a segment rendered to completion.
	OnSegmentPlayed func(turnID int64, seq int)
	// OnSegmentFailed reports a segment that was skipped over.
	OnSegmentFailed func(turnID int64, seq int, err error)
	// OnBlocked reports that the output device refused to start.
	OnBlocked func(err error)
}

type segmentState int

const (
	stateFetching segmentState = iota
	stateReady
	statePlaying
	stateFailed
)

type segment struct {
	seq      int
	encoding string
	reader   io.Reader
	closer   io.Closer
	state    segmentState
	err      error
}

// Queue is the ordered playback queue. A single cursor advances only when
// the exact next sequence is present (or has failed, which it skips).
type Queue struct {
	cfg    Config
	cbs    Callbacks
	player Player

	mu            sync.Mutex
	turn          int64
	segs          map[int]*segment
	next          int
	playing       bool
	startedTurn   bool
	completeFired bool
	playCancel    context.CancelFunc
	fetchSem      chan struct{}
}

// New constructs a queue over the given player.
func New(cfg Config, player Player, cbs Callbacks) *Queue {
	def := DefaultConfig()
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = def.Prefetch
	}
	if cfg.MinStartBytes <= 0 {
		cfg.MinStartBytes = def.MinStartBytes
	}
	return &Queue{
		cfg:      cfg,
		cbs:      cbs,
		player:   player,
		segs:     make(map[int]*segment),
		fetchSem: make(chan struct{}, cfg.Prefetch),
	}
}

// SetActiveTurn supersedes the current turn: playback stops immediately, all
// queued segments of the prior turn are discarded, and the cursor resets.
// This is the primary interruption mechanism for audio.
func (q *Queue) SetActiveTurn(turnID int64) {
	q.mu.Lock()
	if turnID == q.turn {
		q.mu.Unlock()
		return
	}
	q.turn = turnID
	q.clearLocked()
	q.next = 0
	q.startedTurn = false
	q.completeFired = false
	q.mu.Unlock()
}

// StopAll stops playback and discards every queued segment without changing
// the active turn.
func (q *Queue) StopAll() {
	q.mu.Lock()
	q.clearLocked()
	q.mu.Unlock()
}

func (q *Queue) clearLocked() {
	if q.playCancel != nil {
		q.playCancel()
		q.playCancel = nil
	}
	for _, seg := range q.segs {
		if seg.closer != nil {
			_ = seg.closer.Close()
		}
	}
	q.segs = make(map[int]*segment)
}

// Enqueue adds a fully fetched segment payload. Segments tagged with a
// superseded turn are dropped on arrival.
func (q *Queue) Enqueue(turnID int64, seq int, encoding string, data []byte) {
	q.mu.Lock()
	if turnID != q.turn {
		q.mu.Unlock()
		return
	}
	q.segs[seq] = &segment{
		seq:      seq,
		encoding: encoding,
		reader:   bytes.NewReader(data),
		state:    stateReady,
	}
	q.completeFired = false
	q.mu.Unlock()
	q.Drain()
}

// EnqueueStream adds a progressively streamed segment. Playback may begin
// once MinStartBytes have been buffered; the remainder is consumed as it
// arrives. Both ingestion paths share the same ordering guarantee.
func (q *Queue) EnqueueStream(turnID int64, seq int, encoding string, rc io.ReadCloser) {
	q.mu.Lock()
	if turnID != q.turn {
		q.mu.Unlock()
		_ = rc.Close()
		return
	}
	seg := &segment{seq: seq, encoding: encoding, closer: rc, state: stateFetching}
	q.segs[seq] = seg
	q.completeFired = false
	q.mu.Unlock()

	go q.prefetch(turnID, seg, rc)
}

// MarkFailed records a segment whose synthesis never produced audio, so the
// cursor skips it instead of stalling on a hole in the sequence.
func (q *Queue) MarkFailed(turnID int64, seq int, err error) {
	q.mu.Lock()
	if turnID != q.turn {
		q.mu.Unlock()
		return
	}
	q.segs[seq] = &segment{seq: seq, state: stateFailed, err: err}
	q.completeFired = false
	q.mu.Unlock()
	q.Drain()
}

func (q *Queue) prefetch(turnID int64, seg *segment, rc io.ReadCloser) {
	q.fetchSem <- struct{}{}
	defer func() { <-q.fetchSem }()

	head := make([]byte, q.cfg.MinStartBytes)
	n, err := io.ReadFull(rc, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		q.failSegment(turnID, seg, err)
		_ = rc.Close()
		return
	}

	q.mu.Lock()
	if turnID != q.turn || q.segs[seg.seq] != seg {
		q.mu.Unlock()
		_ = rc.Close()
		return
	}
	if n == 0 {
		seg.state = stateFailed
		seg.err = errors.New("empty audio stream")
	} else {
		seg.reader = io.MultiReader(bytes.NewReader(head[:n]), rc)
		seg.state = stateReady
	}
	q.mu.Unlock()
	q.Drain()
}

func (q *Queue) failSegment(turnID int64, seg *segment, err error) {
	q.mu.Lock()
	if turnID != q.turn || q.segs[seg.seq] != seg {
		q.mu.Unlock()
		return
	}
	seg.state = stateFailed
	seg.err = err
	q.mu.Unlock()
	q.Drain()
}

// Drain kicks playback. It is idempotent and re-entrant safe: when playback
// is already active it returns immediately; otherwise it plays the next ready
// segment and, on natural completion, schedules the one after it.
func (q *Queue) Drain() {
	q.mu.Lock()
	if q.playing {
		q.mu.Unlock()
		return
	}
	for {
		seg, ok := q.segs[q.next]
		if !ok {
			q.maybeCompleteLocked()
			q.mu.Unlock()
			return
		}
		switch seg.state {
		case stateFailed:
			delete(q.segs, q.next)
			turn, seq, err := q.turn, q.next, seg.err
			q.next++
			if q.cbs.OnSegmentFailed != nil {
				q.mu.Unlock()
				q.cbs.OnSegmentFailed(turn, seq, err)
				q.mu.Lock()
				if q.playing {
					q.mu.Unlock()
					return
				}
			}
			continue
		case stateFetching:
			q.mu.Unlock()
			return
		case stateReady:
			seg.state = statePlaying
			q.playing = true
			ctx, cancel := context.WithCancel(context.Background())
			q.playCancel = cancel
			turn := q.turn
			first := !q.startedTurn
			q.startedTurn = true
			q.mu.Unlock()
			go q.play(ctx, turn, seg, first)
			return
		default:
			q.mu.Unlock()
			return
		}
	}
}

func (q *Queue) play(ctx context.Context, turnID int64, seg *segment, first bool) {
	if first && q.cbs.OnPlaybackStart != nil {
		q.cbs.OnPlaybackStart(turnID)
	}

	// The decoder consumes container headers before the device starts, so
	// reads are recorded to allow a blocked segment to replay from byte 0.
	rec := &recordingReader{r: seg.reader}
	var err error
	pcm, derr := newPCMReader(seg.encoding, rec)
	if derr != nil {
		err = derr
	} else {
		err = q.player.Play(ctx, pcm)
	}
	q.mu.Lock()
	q.playing = false
	if q.playCancel != nil {
		q.playCancel = nil
	}
	if turnID != q.turn || q.segs[seg.seq] != seg {
		// superseded while playing: result is discarded, not an error
		q.mu.Unlock()
		if seg.closer != nil {
			_ = seg.closer.Close()
		}
		q.Drain()
		return
	}

	switch {
	case err == nil:
		delete(q.segs, seg.seq)
		q.next++
		q.mu.Unlock()
		if seg.closer != nil {
			_ = seg.closer.Close()
		}
		if q.cbs.OnSegmentPlayed != nil {
			q.cbs.OnSegmentPlayed(turnID, seg.seq)
		}
		q.Drain()
	case errors.Is(err, context.Canceled):
		q.mu.Unlock()
		if seg.closer != nil {
			_ = seg.closer.Close()
		}
	case errors.Is(err, ErrPlaybackBlocked):
		// leave the segment ready so a consented retry can Drain again,
		// replaying whatever the decoder already consumed
		seg.reader = io.MultiReader(bytes.NewReader(rec.consumed), rec.r)
		seg.state = stateReady
		q.mu.Unlock()
		if q.cbs.OnBlocked != nil {
			q.cbs.OnBlocked(err)
		}
	default:
		log.Printf("playback: segment turn=%d seq=%d failed: %v", turnID, seg.seq, err)
		delete(q.segs, seg.seq)
		q.next++
		q.mu.Unlock()
		if seg.closer != nil {
			_ = seg.closer.Close()
		}
		if q.cbs.OnSegmentFailed != nil {
			q.cbs.OnSegmentFailed(turnID, seg.seq, err)
		}
		q.Drain()
	}
}

// maybeCompleteLocked fires OnPlaybackComplete once when nothing is queued,
// playing or fetching for the active turn.
func (q *Queue) maybeCompleteLocked() {
	if q.completeFired || !q.startedTurn || q.playing || len(q.segs) > 0 {
		return
	}
	q.completeFired = true
	if q.cbs.OnPlaybackComplete != nil {
		turn := q.turn
		go q.cbs.OnPlaybackComplete(turn)
	}
}

// IsPlaying reports whether a segment is currently being rendered.
func (q *Queue) IsPlaying() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Len reports the number of queued (unplayed) segments.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.segs)
}

// ActiveTurn reports the turn the queue is serving.
func (q *Queue) ActiveTurn() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.turn
}
