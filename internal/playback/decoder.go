package playback

import (
	"fmt"
	"io"

	"github.com/hraban/opus"
)

// Audio encodings accepted by the queue. Synthesis providers either deliver
// raw PCM16 or an ogg/opus stream that is decoded progressively as bytes
// arrive.
const (
	EncodingLinear16 = "linear16"
	EncodingOggOpus  = "ogg-opus"
)

// newPCMReader wraps a segment payload reader so the player always consumes
// mono PCM16LE, whatever the provider returned.
func newPCMReader(encoding string, r io.Reader) (io.Reader, error) {
	switch encoding {
	case EncodingLinear16, "":
		return r, nil
	case EncodingOggOpus:
		stream, err := opus.NewStream(r)
		if err != nil {
			return nil, fmt.Errorf("open opus stream: %w", err)
		}
		return &opusReader{stream: stream, pcm: make([]int16, 960*4)}, nil
	default:
		return nil, fmt.Errorf("unsupported audio encoding %q", encoding)
	}
}

// recordingReader remembers every byte read through it, so a segment whose
// playback was refused by the device can be replayed from its first byte
// even after the decoder consumed container headers.
type recordingReader struct {
	r        io.Reader
	consumed []byte
}

func (r *recordingReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.consumed = append(r.consumed, p[:n]...)
	}
	return n, err
}

// opusReader adapts the opus decoder's int16 output to a byte stream.
type opusReader struct {
	stream *opus.Stream
	pcm    []int16
	rest   []byte
}

func (o *opusReader) Read(p []byte) (int, error) {
	if len(o.rest) == 0 {
		n, err := o.stream.Read(o.pcm)
		if n > 0 {
			o.rest = make([]byte, n*2)
			for i := 0; i < n; i++ {
				o.rest[2*i] = byte(o.pcm[i])
				o.rest[2*i+1] = byte(uint16(o.pcm[i]) >> 8)
			}
		} else if err != nil {
			return 0, err
		}
	}
	n := copy(p, o.rest)
	o.rest = o.rest[n:]
	return n, nil
}
