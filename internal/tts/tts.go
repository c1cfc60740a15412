// Package tts turns reply text into streaming audio. Providers return the
// audio as a reader so playback can begin before synthesis finishes.
package tts

import (
	"context"
	"io"
)

// Audio encodings a provider may return.
const (
	EncodingLinear16 = "linear16"
	EncodingOggOpus  = "ogg-opus"
)

// Result is a live synthesis stream. Audio must be closed by the consumer;
// closing it aborts any synthesis still in flight.
type Result struct {
	Encoding   string
	SampleRate int
	Audio      io.ReadCloser
}

// Synthesizer produces speech audio for a text segment.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*Result, error)
}
