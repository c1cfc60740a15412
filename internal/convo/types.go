// Package convo owns the conversation state machine: it wires capture, VAD,
// transcription, generation, chunking, and playback into turns, and
// implements interruption by advancing a monotonic turn id that every async
// result is checked against.
package convo

import (
	"context"

	"github.com/voxloop/voxloop/internal/audio"
	"github.com/voxloop/voxloop/internal/tts"
)

// State is the orchestrator's coarse position in a turn.
type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateRecording State = "recording"
	StateThinking  State = "thinking"
	StateSpeaking  State = "speaking"
	StateError     State = "error"
)

// TurnStatus tracks one turn's lifecycle.
type TurnStatus string

const (
	TurnPending   TurnStatus = "pending"
	TurnStreaming TurnStatus = "streaming"
	TurnComplete  TurnStatus = "complete"
	TurnAborted   TurnStatus = "aborted"
)

// Turn is one user-query/assistant-reply cycle. Exactly one turn is active;
// creating a new turn invalidates the previous one's in-flight work by id
// comparison, never by cancellation signal alone.
type Turn struct {
	ID     int64
	Query  string
	Reply  string
	Status TurnStatus
}

// Transcript is a transcription result. Filtered marks a non-speech or
// hallucinated output the orchestrator treats as "nothing was said".
type Transcript struct {
	Text     string
	Filtered bool
}

// Transcriber turns a finished clip into text.
type Transcriber interface {
	Transcribe(ctx context.Context, clip audio.Clip) (Transcript, error)
}

// Generator streams the assistant reply as ordered text fragments. The error
// channel carries at most one terminal event; both channels close on end.
type Generator interface {
	Stream(ctx context.Context, query string, history []Message) (<-chan string, <-chan error)
}

// Synthesizer converts one text segment into streaming audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*tts.Result, error)
}

// Capture is the recording surface the orchestrator drives. Frames flow
// continuously while the device is open; Start/Stop bound one clip.
type Capture interface {
	Start()
	Stop() audio.Clip
	IsActive() bool
	Frames() <-chan []int16
	Release()
}
