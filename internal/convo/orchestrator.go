package convo

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxloop/voxloop/internal/audio"
	"github.com/voxloop/voxloop/internal/chunker"
	"github.com/voxloop/voxloop/internal/metrics"
	"github.com/voxloop/voxloop/internal/playback"
	"github.com/voxloop/voxloop/internal/vad"
)

type eventKind int

const (
	evSpeechOnset eventKind = iota
	evStopRecording
	evTranscript
	evGenErr
	evGenDone
	evFragment
	evSynthDone
	evSegmentFailed
	evPlaybackStart
	evPlaybackComplete
	evBargeIn
	evBlocked
	evRecovered
)

// event is the single message type flowing into the orchestrator loop. Async
// producers tag events with the turn id captured at spawn time; the loop
// drops stale-turn events silently.
type event struct {
	kind       eventKind
	turn       int64
	seq        int
	text       string
	transcript Transcript
	err        error
}

// Options tunes the orchestrator. Zero fields take defaults.
type Options struct {
	VAD       vad.Config
	Interrupt vad.InterruptConfig
	Chunker   chunker.Config
	Queue     playback.Config

	// MinSpokenDuration discards recordings shorter than this (accidental
	// taps). Default 300ms.
	MinSpokenDuration time.Duration
	// ContextLimit bounds how many history messages feed generation.
	// Default 8.
	ContextLimit int
	// RecoverDelay is the pause in the error state before auto-returning to
	// listening. Default 2s.
	RecoverDelay time.Duration
	// OnBlocked is notified when the output device refuses to start; the
	// caller should obtain user consent and call RetryPlayback.
	OnBlocked func(error)
}

func (o *Options) applyDefaults() {
	if o.MinSpokenDuration == 0 {
		o.MinSpokenDuration = 300 * time.Millisecond
	}
	if o.ContextLimit == 0 {
		o.ContextLimit = 8
	}
	if o.RecoverDelay == 0 {
		o.RecoverDelay = 2 * time.Second
	}
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	Capture     Capture
	Transcriber Transcriber
	Generator   Generator
	Synthesizer Synthesizer
	Player      playback.Player
	History     *History
	Metrics     *metrics.Metrics
}

// Orchestrator is the top-level state machine. A single event-loop goroutine
// consumes one bounded channel; everything asynchronous posts events, and the
// monotonic turn id is the sole cancellation mechanism alongside context
// cancellation of in-flight requests.
type Orchestrator struct {
	opts      Options
	sessionID string

	capture Capture
	stt     Transcriber
	gen     Generator
	synth   Synthesizer
	queue   *playback.Queue
	history *History
	met     *metrics.Metrics

	listener  *vad.Listener
	interrupt *vad.InterruptDetector
	chunk     *chunker.Chunker

	speechThreshold float64

	events chan event

	mu            sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
	state         State
	turnSeq       int64
	current       *Turn
	genCtx        context.Context
	genCancel     context.CancelFunc
	genDone       bool
	synthInFlight int

	stopOnce sync.Once
}

// New wires the orchestrator. The playback queue, chunker and detectors are
// owned here; providers and the capture device are injected.
func New(deps Deps, opts Options) *Orchestrator {
	opts.applyDefaults()
	if deps.History == nil {
		deps.History = NewHistory()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}

	vcfg := opts.VAD
	if vcfg.SpeechThreshold == 0 {
		vcfg.SpeechThreshold = vad.DefaultConfig().SpeechThreshold
	}

	o := &Orchestrator{
		opts:            opts,
		sessionID:       uuid.NewString(),
		capture:         deps.Capture,
		stt:             deps.Transcriber,
		gen:             deps.Generator,
		synth:           deps.Synthesizer,
		history:         deps.History,
		met:             deps.Metrics,
		speechThreshold: vcfg.SpeechThreshold,
		events:          make(chan event, 256),
		state:           StateIdle,
	}

	o.queue = playback.New(opts.Queue, deps.Player, playback.Callbacks{
		OnPlaybackStart: func(turnID int64) {
			o.post(event{kind: evPlaybackStart, turn: turnID})
		},
		OnPlaybackComplete: func(turnID int64) {
			o.post(event{kind: evPlaybackComplete, turn: turnID})
		},
		OnSegmentPlayed: func(turnID int64, seq int) {
			o.met.SegmentsPlayed.Inc()
		},
		OnSegmentFailed: func(turnID int64, seq int, err error) {
			o.met.SegmentsFailed.Inc()
			o.post(event{kind: evSegmentFailed, turn: turnID, seq: seq, err: err})
		},
		OnBlocked: func(err error) {
			o.post(event{kind: evBlocked, err: err})
		},
	})

	o.chunk = chunker.New(opts.Chunker, o.onSegment)

	o.listener = vad.NewListener(opts.VAD, vad.Hooks{
		ShouldCheck: func() bool { return o.State() == StateRecording },
		OnSilence:   func() { o.post(event{kind: evStopRecording}) },
	})
	o.interrupt = vad.NewInterruptDetector(opts.Interrupt, vad.InterruptHooks{
		ShouldCheck: func() bool {
			s := o.State()
			return s == StateThinking || s == StateSpeaking
		},
		OnBargeIn: func() { o.post(event{kind: evBargeIn}) },
	})

	return o
}

// Start transitions idle->listening and spawns the event loop and the frame
// loop. The orchestrator runs until ctx is canceled or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already started (state %s)", o.state)
	}
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.state = StateListening
	o.mu.Unlock()

	log.Printf("session %s: listening", o.sessionID)
	go o.loop()
	go o.frameLoop()
	return nil
}

// Stop tears the session down: loops exit, playback stops, the capture
// device is released. Idempotent.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		o.mu.Lock()
		if o.cancel != nil {
			o.cancel()
		}
		if o.genCancel != nil {
			o.genCancel()
			o.genCancel = nil
		}
		o.mu.Unlock()

		o.queue.StopAll()
		o.listener.Stop()
		o.interrupt.Stop()
		o.capture.Release()
	})
}

// BeginRecording starts a capture immediately (push-to-talk press).
func (o *Orchestrator) BeginRecording() { o.post(event{kind: evSpeechOnset}) }

// FinishRecording stops the capture and submits the clip (push-to-talk
// release).
func (o *Orchestrator) FinishRecording() { o.post(event{kind: evStopRecording}) }

// RetryPlayback re-kicks the queue after the user granted output consent.
func (o *Orchestrator) RetryPlayback() { o.queue.Drain() }

// State returns the current machine state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SessionID returns the conversation session identity.
func (o *Orchestrator) SessionID() string { return o.sessionID }

// History returns the session's conversation log.
func (o *Orchestrator) History() *History { return o.history }

// ActiveTurnID returns the id async results are currently checked against.
func (o *Orchestrator) ActiveTurnID() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.turnSeq
}

// Snapshot is a point-in-time view for the status endpoint.
type Snapshot struct {
	SessionID string  `json:"session_id"`
	State     State   `json:"state"`
	TurnID    int64   `json:"turn_id"`
	Query     string  `json:"query,omitempty"`
	Reply     string  `json:"reply,omitempty"`
	QueueLen  int     `json:"queue_len"`
	Playing   bool    `json:"playing"`
	Ambient   float64 `json:"ambient_noise"`
	Messages  int     `json:"messages"`
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	s := Snapshot{
		SessionID: o.sessionID,
		State:     o.state,
		TurnID:    o.turnSeq,
	}
	if o.current != nil {
		s.Query = o.current.Query
		s.Reply = o.current.Reply
	}
	o.mu.Unlock()
	s.QueueLen = o.queue.Len()
	s.Playing = o.queue.IsPlaying()
	s.Ambient = o.interrupt.Ambient()
	s.Messages = o.history.Len()
	return s
}

func (o *Orchestrator) post(ev event) {
	o.mu.Lock()
	ctx := o.ctx
	o.mu.Unlock()
	if ctx == nil {
		return
	}
	select {
	case o.events <- ev:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) loop() {
	for {
		select {
		case <-o.ctx.Done():
			return
		case ev := <-o.events:
			o.handle(ev)
		}
	}
}

// frameLoop is the single volume-sampling primitive: one RMS value per frame
// feeds both detectors, and speech onset in the listening state starts a
// recording.
func (o *Orchestrator) frameLoop() {
	for {
		select {
		case <-o.ctx.Done():
			return
		case frame, ok := <-o.capture.Frames():
			if !ok {
				return
			}
			level := audio.RMS(frame)
			o.listener.Sample(level)
			o.interrupt.Sample(level)
			if level >= o.speechThreshold && o.State() == StateListening {
				o.post(event{kind: evSpeechOnset})
			}
		}
	}
}

func (o *Orchestrator) handle(ev event) {
	switch ev.kind {
	case evSpeechOnset:
		o.handleSpeechOnset()
	case evStopRecording:
		o.handleStopRecording()
	case evTranscript:
		o.handleTranscript(ev)
	case evFragment:
		o.handleFragment(ev)
	case evGenDone:
		if o.isCurrent(ev.turn) {
			o.mu.Lock()
			o.genDone = true
			o.mu.Unlock()
			o.chunk.End()
			o.maybeFinish()
		}
	case evGenErr:
		if o.isCurrent(ev.turn) {
			o.enterError(fmt.Errorf("generation: %w", ev.err))
		}
	case evSynthDone:
		if o.isCurrent(ev.turn) {
			o.mu.Lock()
			o.synthInFlight--
			o.mu.Unlock()
			o.met.QueueDepth.Set(float64(o.queue.Len()))
			o.maybeFinish()
		}
	case evSegmentFailed:
		log.Printf("turn %d: segment %d skipped: %v", ev.turn, ev.seq, ev.err)
		if o.isCurrent(ev.turn) {
			o.maybeFinish()
		}
	case evPlaybackStart:
		if o.isCurrent(ev.turn) {
			o.interrupt.Reset()
			o.setState(StateSpeaking)
		}
	case evPlaybackComplete:
		if o.isCurrent(ev.turn) {
			o.met.QueueDepth.Set(0)
			o.maybeFinish()
		}
	case evBargeIn:
		o.handleBargeIn()
	case evBlocked:
		log.Printf("playback blocked, awaiting user consent: %v", ev.err)
		if o.opts.OnBlocked != nil {
			o.opts.OnBlocked(ev.err)
		}
	case evRecovered:
		if o.State() == StateError {
			o.listener.ResetSpeech()
			o.setState(StateListening)
		}
	}
}

func (o *Orchestrator) handleSpeechOnset() {
	if o.State() != StateListening {
		return
	}
	o.capture.Start()
	o.listener.ResetSpeech()
	o.setState(StateRecording)
}

func (o *Orchestrator) handleStopRecording() {
	if o.State() != StateRecording {
		return
	}
	clip := o.capture.Stop()
	if clip.Empty() || clip.Duration() < o.opts.MinSpokenDuration {
		// accidental tap: nothing happened
		o.listener.ResetSpeech()
		o.setState(StateListening)
		return
	}

	o.mu.Lock()
	o.turnSeq++
	turnID := o.turnSeq
	if o.current != nil && o.current.Status != TurnComplete {
		o.current.Status = TurnAborted
	}
	o.current = &Turn{ID: turnID, Status: TurnPending}
	o.genDone = false
	o.synthInFlight = 0
	o.mu.Unlock()

	o.queue.SetActiveTurn(turnID)
	o.chunk.Reset(turnID)
	o.met.TurnsStarted.Inc()
	o.setState(StateThinking)

	go func() {
		tctx, cancel := context.WithTimeout(o.ctx, 30*time.Second)
		defer cancel()
		tr, err := o.stt.Transcribe(tctx, clip)
		o.post(event{kind: evTranscript, turn: turnID, transcript: tr, err: err})
	}()
}

func (o *Orchestrator) handleTranscript(ev event) {
	if !o.isCurrent(ev.turn) {
		return
	}
	if ev.err != nil {
		o.enterError(fmt.Errorf("transcription: %w", ev.err))
		return
	}
	text := strings.TrimSpace(ev.transcript.Text)
	if ev.transcript.Filtered || text == "" {
		// non-speech: treated as "nothing was said", not an error
		o.met.TranscriptsFiltered.Inc()
		o.mu.Lock()
		o.current.Status = TurnAborted
		o.current = nil
		o.mu.Unlock()
		o.listener.ResetSpeech()
		o.setState(StateListening)
		return
	}

	o.met.TranscriptsAccepted.Inc()
	recent := o.history.RecentContext(o.opts.ContextLimit)
	o.history.AddUserMessage(text)

	o.mu.Lock()
	o.current.Query = text
	o.current.Status = TurnStreaming
	genCtx, cancel := context.WithCancel(o.ctx)
	o.genCtx = genCtx
	o.genCancel = cancel
	o.mu.Unlock()

	log.Printf("turn %d: heard %q", ev.turn, text)
	frags, errs := o.gen.Stream(genCtx, text, recent)
	go o.pumpGeneration(ev.turn, frags, errs)
}

func (o *Orchestrator) pumpGeneration(turnID int64, frags <-chan string, errs <-chan error) {
	for f := range frags {
		o.post(event{kind: evFragment, turn: turnID, text: f})
	}
	if err := <-errs; err != nil {
		o.post(event{kind: evGenErr, turn: turnID, err: err})
		return
	}
	o.post(event{kind: evGenDone, turn: turnID})
}

func (o *Orchestrator) handleFragment(ev event) {
	if !o.isCurrent(ev.turn) {
		return
	}
	o.mu.Lock()
	o.current.Reply += ev.text
	o.mu.Unlock()
	o.chunk.Add(ev.text)
}

// onSegment receives chunker output. It runs on the loop goroutine (via Add
// and End) or on the idle-flush timer, so the in-flight count moves under the
// lock before the synthesis goroutine spawns.
func (o *Orchestrator) onSegment(seg chunker.Segment) {
	o.mu.Lock()
	if o.current == nil || o.current.ID != seg.TurnID || o.genCtx == nil {
		o.mu.Unlock()
		return
	}
	o.synthInFlight++
	genCtx := o.genCtx
	o.mu.Unlock()
	go o.synthesize(genCtx, seg)
}

func (o *Orchestrator) synthesize(ctx context.Context, seg chunker.Segment) {
	res, err := o.synth.Synthesize(ctx, seg.Text)
	if err != nil {
		if ctx.Err() == nil {
			o.queue.MarkFailed(seg.TurnID, seg.Seq, err)
		}
		o.post(event{kind: evSynthDone, turn: seg.TurnID, seq: seg.Seq})
		return
	}
	o.queue.EnqueueStream(seg.TurnID, seg.Seq, res.Encoding, res.Audio)
	o.met.QueueDepth.Set(float64(o.queue.Len()))
	o.post(event{kind: evSynthDone, turn: seg.TurnID, seq: seg.Seq})
}

func (o *Orchestrator) handleBargeIn() {
	s := o.State()
	if s != StateThinking && s != StateSpeaking {
		return
	}
	o.met.BargeIns.Inc()
	o.met.TurnsAborted.Inc()

	o.mu.Lock()
	o.turnSeq++
	superseded := o.turnSeq
	if o.current != nil {
		log.Printf("turn %d: interrupted by user", o.current.ID)
		o.current.Status = TurnAborted
	}
	o.current = nil
	cancel := o.genCancel
	o.genCancel = nil
	o.genCtx = nil
	o.mu.Unlock()

	o.queue.SetActiveTurn(superseded)
	if cancel != nil {
		cancel()
	}
	o.chunk.Reset(superseded)
	o.listener.ResetSpeech()
	o.interrupt.Reset()
	o.setState(StateListening)
}

// maybeFinish completes the turn once generation ended, every dispatched
// segment resolved, and the queue has nothing left to play.
func (o *Orchestrator) maybeFinish() {
	o.mu.Lock()
	if o.current == nil || !o.genDone || o.synthInFlight > 0 {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()
	if o.queue.Len() > 0 || o.queue.IsPlaying() || o.chunk.Pending() > 0 {
		return
	}

	o.mu.Lock()
	turn := o.current
	if turn == nil {
		o.mu.Unlock()
		return
	}
	turn.Status = TurnComplete
	reply := strings.TrimSpace(turn.Reply)
	cancel := o.genCancel
	o.genCancel = nil
	o.genCtx = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if reply != "" {
		o.history.AddAssistantMessage(reply)
	}
	o.met.TurnsCompleted.Inc()
	o.listener.ResetSpeech()
	o.interrupt.Reset()
	log.Printf("turn %d: complete", turn.ID)
	o.setState(StateListening)
}

// enterError handles transient failures: the turn aborts, the session
// survives, and listening resumes after a fixed delay. The turn is
// superseded exactly like a barge-in so late synthesis results for it
// cannot reach the queue or the state machine.
func (o *Orchestrator) enterError(err error) {
	log.Printf("recoverable failure: %v", err)

	o.mu.Lock()
	o.turnSeq++
	superseded := o.turnSeq
	if o.current != nil {
		o.current.Status = TurnAborted
	}
	o.current = nil
	cancel := o.genCancel
	o.genCancel = nil
	o.genCtx = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.queue.SetActiveTurn(superseded)
	o.chunk.Reset(superseded)
	o.met.TurnsAborted.Inc()
	o.setState(StateError)
	time.AfterFunc(o.opts.RecoverDelay, func() { o.post(event{kind: evRecovered}) })
}

func (o *Orchestrator) isCurrent(turnID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current != nil && o.current.ID == turnID
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	prev := o.state
	if prev == s {
		o.mu.Unlock()
		return
	}
	o.state = s
	o.mu.Unlock()
	o.met.SetState(string(prev), string(s))
	log.Printf("state: %s -> %s", prev, s)
}
