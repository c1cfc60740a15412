package playback

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gordonklaus/portaudio"
)

// ErrPlaybackBlocked is returned when the output device cannot be started,
// the local analogue of a platform refusing playback without user consent.
// The caller should obtain consent and retry; the queue does not advance
// past a blocked segment.
var ErrPlaybackBlocked = errors.New("playback: output device blocked")

// Player renders one segment of mono PCM16LE audio. Play blocks until the
// reader is drained or the context is cancelled.
type Player interface {
	Play(ctx context.Context, pcm io.Reader) error
	Close() error
}

// Speaker plays PCM16 mono through the default output device in 20ms frames.
type Speaker struct {
	stream *portaudio.Stream
	out    []int16
	buf    []byte
}

// NewSpeaker opens the default output device at the given sample rate.
func NewSpeaker(sampleRate int) (*Speaker, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initialize: %v", ErrPlaybackBlocked, err)
	}
	frame := sampleRate / 50 // 20ms
	out := make([]int16, frame)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), frame, out)
	if err != nil {
		return nil, fmt.Errorf("%w: open output stream: %v", ErrPlaybackBlocked, err)
	}
	return &Speaker{stream: stream, out: out, buf: make([]byte, frame*2)}, nil
}

// Play streams the reader to the device frame by frame. Cancellation stops
// between frames; the partial tail frame is zero-padded.
func (s *Speaker) Play(ctx context.Context, pcm io.Reader) error {
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("%w: start output stream: %v", ErrPlaybackBlocked, err)
	}
	defer s.stream.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := io.ReadFull(pcm, s.buf)
		if n > 0 {
			for i := range s.out {
				s.out[i] = 0
			}
			for i := 0; i < n/2; i++ {
				s.out[i] = int16(uint16(s.buf[2*i]) | uint16(s.buf[2*i+1])<<8)
			}
			if err := s.stream.Write(); err != nil {
				return fmt.Errorf("write output frame: %w", err)
			}
		}
		if rerr != nil {
			if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
				return nil
			}
			return fmt.Errorf("read segment audio: %w", rerr)
		}
	}
}

// Close releases the output stream.
func (s *Speaker) Close() error {
	return s.stream.Close()
}
