package convo

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxloop/voxloop/internal/audio"
	"github.com/voxloop/voxloop/internal/playback"
	"github.com/voxloop/voxloop/internal/tts"
	"github.com/voxloop/voxloop/internal/vad"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

type fakeCapture struct {
	mu       sync.Mutex
	frames   chan []int16
	active   bool
	clip     audio.Clip
	released bool
}

func newFakeCapture(clipSamples int) *fakeCapture {
	return &fakeCapture{
		frames: make(chan []int16, 64),
		clip:   audio.Clip{PCM: make([]int16, clipSamples), SampleRate: 16000},
	}
}

func (f *fakeCapture) Start() {
	f.mu.Lock()
	f.active = true
	f.mu.Unlock()
}

func (f *fakeCapture) Stop() audio.Clip {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return audio.Clip{SampleRate: 16000}
	}
	f.active = false
	return f.clip
}

func (f *fakeCapture) IsActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeCapture) Frames() <-chan []int16 { return f.frames }

func (f *fakeCapture) Release() {
	f.mu.Lock()
	f.released = true
	f.mu.Unlock()
}

func (f *fakeCapture) feed(level int16, n int) {
	frame := make([]int16, 160)
	for i := range frame {
		frame[i] = level
	}
	for i := 0; i < n; i++ {
		f.frames <- frame
	}
}

type fakeTranscriber struct {
	mu    sync.Mutex
	calls int
	tr    Transcript
	err   error
	delay time.Duration
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, clip audio.Clip) (Transcript, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Transcript{}, ctx.Err()
		}
	}
	return f.tr, f.err
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeGenerator struct {
	mu        sync.Mutex
	calls     int
	lastCtx   context.Context
	fragments []string
	hold      chan struct{} // keeps the stream open after the fragments
	err       error
}

func (g *fakeGenerator) Stream(ctx context.Context, query string, history []Message) (<-chan string, <-chan error) {
	g.mu.Lock()
	g.calls++
	g.lastCtx = ctx
	g.mu.Unlock()

	out := make(chan string, len(g.fragments)+1)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		for _, f := range g.fragments {
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
		if g.err != nil {
			errs <- g.err
			return
		}
		if g.hold != nil {
			select {
			case <-g.hold:
			case <-ctx.Done():
			}
		}
	}()
	return out, errs
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *fakeGenerator) canceled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastCtx != nil && g.lastCtx.Err() != nil
}

type fakeSynth struct {
	mu    sync.Mutex
	texts []string
	fail  map[string]bool
	delay time.Duration // resolves late regardless of cancellation
}

func (s *fakeSynth) Synthesize(ctx context.Context, text string) (*tts.Result, error) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	fail := s.fail[text]
	s.mu.Unlock()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if fail {
		return nil, errors.New("synthesis refused")
	}
	return &tts.Result{
		Encoding:   tts.EncodingLinear16,
		SampleRate: 48000,
		Audio:      io.NopCloser(strings.NewReader("pcm:" + text)),
	}, nil
}

type fakePlayer struct {
	mu     sync.Mutex
	played []string
	block  bool // hold each segment until its context is canceled
}

func (p *fakePlayer) Play(ctx context.Context, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.played = append(p.played, string(b))
	p.mu.Unlock()
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (p *fakePlayer) Close() error { return nil }

func (p *fakePlayer) playedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.played)
}

type fixture struct {
	orch    *Orchestrator
	capture *fakeCapture
	stt     *fakeTranscriber
	gen     *fakeGenerator
	synth   *fakeSynth
	player  *fakePlayer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		capture: newFakeCapture(16000), // 1s clip
		stt:     &fakeTranscriber{tr: Transcript{Text: "hello there"}},
		gen:     &fakeGenerator{fragments: []string{"Hi! ", "How can I help you today?"}},
		synth:   &fakeSynth{},
		player:  &fakePlayer{},
	}
	f.orch = New(Deps{
		Capture:     f.capture,
		Transcriber: f.stt,
		Generator:   f.gen,
		Synthesizer: f.synth,
		Player:      f.player,
	}, Options{
		Queue:             playback.Config{Prefetch: 2, MinStartBytes: 16},
		MinSpokenDuration: 50 * time.Millisecond,
		RecoverDelay:      50 * time.Millisecond,
		Interrupt: vad.InterruptConfig{
			MinDuration:    100 * time.Millisecond,
			SampleInterval: 100 * time.Millisecond,
		},
	})
	if err := f.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(f.orch.Stop)
	return f
}

func (f *fixture) runRecording(t *testing.T) {
	t.Helper()
	f.orch.BeginRecording()
	waitFor(t, time.Second, func() bool { return f.orch.State() == StateRecording }, "never entered recording")
	f.orch.FinishRecording()
}

func TestOrchestrator_FullTurn(t *testing.T) {
	f := newFixture(t)
	f.runRecording(t)

	waitFor(t, 2*time.Second, func() bool { return f.orch.State() == StateListening && f.orch.History().Len() == 2 },
		"turn never completed")

	msgs := f.orch.History().All()
	if msgs[0].Role != "user" || msgs[0].Content != "hello there" {
		t.Fatalf("user message = %+v", msgs[0])
	}
	if msgs[1].Role != "assistant" || msgs[1].Content != "Hi! How can I help you today?" {
		t.Fatalf("assistant message = %+v", msgs[1])
	}
	if f.player.playedCount() == 0 {
		t.Fatal("nothing was played")
	}
	f.player.mu.Lock()
	joined := strings.Join(f.player.played, " ")
	f.player.mu.Unlock()
	if !strings.Contains(joined, "How can I help you today?") {
		t.Fatalf("played audio missing reply text: %q", joined)
	}
	if got := f.orch.ActiveTurnID(); got != 1 {
		t.Fatalf("turn id = %d", got)
	}
}

func TestOrchestrator_FilteredTranscriptIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.stt.tr = Transcript{Text: "you", Filtered: true}

	f.runRecording(t)

	waitFor(t, time.Second, func() bool { return f.orch.State() == StateListening }, "never returned to listening")
	time.Sleep(50 * time.Millisecond)
	if f.gen.callCount() != 0 {
		t.Fatal("filtered transcript must not reach the generator")
	}
	if f.orch.History().Len() != 0 {
		t.Fatal("filtered transcript must not enter history")
	}
}

func TestOrchestrator_ShortClipDiscarded(t *testing.T) {
	f := newFixture(t)
	f.capture.clip = audio.Clip{PCM: make([]int16, 160), SampleRate: 16000} // 10ms

	f.runRecording(t)

	waitFor(t, time.Second, func() bool { return f.orch.State() == StateListening }, "never returned to listening")
	if f.stt.callCount() != 0 {
		t.Fatal("accidental tap must not be transcribed")
	}
}

func TestOrchestrator_BargeInDuringSpeaking(t *testing.T) {
	f := newFixture(t)
	f.gen.fragments = []string{"This is a fairly long first sentence. "}
	f.gen.hold = make(chan struct{}) // generation still open when the user interrupts
	f.player.block = true            // playback holds until canceled

	f.capture.feed(0, 3) // seed the ambient estimate while listening
	f.runRecording(t)

	waitFor(t, 2*time.Second, func() bool { return f.orch.State() == StateSpeaking }, "never started speaking")

	f.capture.feed(5000, 1) // sustained loud sample over the dynamic threshold

	waitFor(t, 2*time.Second, func() bool { return f.orch.State() == StateListening }, "barge-in never landed")
	waitFor(t, 2*time.Second, func() bool {
		snap := f.orch.Snapshot()
		return snap.QueueLen == 0 && !snap.Playing
	}, "queue not cleared after barge-in")
	waitFor(t, 2*time.Second, f.gen.canceled, "generation stream not canceled")

	if f.orch.ActiveTurnID() != 2 {
		t.Fatalf("turn id after barge-in = %d", f.orch.ActiveTurnID())
	}
}

func TestOrchestrator_StaleTranscriptIgnored(t *testing.T) {
	f := newFixture(t)
	f.stt.delay = 150 * time.Millisecond

	f.capture.feed(0, 3)
	f.runRecording(t)
	waitFor(t, time.Second, func() bool { return f.orch.State() == StateThinking }, "never entered thinking")

	f.capture.feed(5000, 1) // barge-in while thinking

	waitFor(t, time.Second, func() bool { return f.orch.State() == StateListening }, "barge-in never landed")

	// the delayed transcript arrives tagged with the superseded turn
	time.Sleep(300 * time.Millisecond)
	if f.gen.callCount() != 0 {
		t.Fatal("stale transcript must not start generation")
	}
	if got := f.orch.State(); got != StateListening {
		t.Fatalf("state = %s", got)
	}
	if f.orch.History().Len() != 0 {
		t.Fatal("stale transcript must not enter history")
	}
}

func TestOrchestrator_GenerationErrorRecovers(t *testing.T) {
	f := newFixture(t)
	f.gen.fragments = nil
	f.gen.err = errors.New("service unavailable")

	f.runRecording(t)

	waitFor(t, time.Second, func() bool { return f.orch.State() == StateError }, "never entered error state")
	waitFor(t, time.Second, func() bool { return f.orch.State() == StateListening }, "never auto-recovered")
}

func TestOrchestrator_LateSynthesisAfterErrorIsDropped(t *testing.T) {
	f := newFixture(t)
	f.gen.fragments = []string{"This is a complete first sentence. "}
	f.gen.err = errors.New("stream cut")
	f.synth = &fakeSynth{delay: 200 * time.Millisecond}
	f.orch.synth = f.synth

	f.runRecording(t)

	waitFor(t, time.Second, func() bool { return f.orch.State() == StateError }, "never entered error state")
	waitFor(t, time.Second, func() bool { return f.orch.State() == StateListening }, "never auto-recovered")

	// the slow synthesis result lands after recovery; it belongs to the
	// aborted turn and must reach neither the player nor the state machine
	time.Sleep(400 * time.Millisecond)
	if n := f.player.playedCount(); n != 0 {
		t.Fatalf("audio from the aborted turn was played (%d segments)", n)
	}
	if got := f.orch.State(); got != StateListening {
		t.Fatalf("state = %s", got)
	}
	if snap := f.orch.Snapshot(); snap.QueueLen != 0 {
		t.Fatalf("queue len = %d", snap.QueueLen)
	}
}

func TestOrchestrator_FailedSegmentDoesNotStallTurn(t *testing.T) {
	f := newFixture(t)
	f.gen.fragments = []string{"First complete sentence right here. ", "Second complete sentence follows now. "}
	f.synth = &fakeSynth{fail: map[string]bool{"First complete sentence right here.": true}}
	f.orch.synth = f.synth

	f.runRecording(t)

	waitFor(t, 2*time.Second, func() bool { return f.orch.State() == StateListening && f.orch.History().Len() == 2 },
		"turn with failed segment never completed")
	f.player.mu.Lock()
	joined := strings.Join(f.player.played, " ")
	f.player.mu.Unlock()
	if strings.Contains(joined, "First complete") {
		t.Fatal("failed segment must not be played")
	}
	if !strings.Contains(joined, "Second complete") {
		t.Fatalf("surviving segment missing: %q", joined)
	}
}
