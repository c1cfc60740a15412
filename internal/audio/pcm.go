// Package audio holds the PCM primitives shared by capture, VAD and playback:
// RMS volume measurement, int16/byte conversion and WAV clip encoding.
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// RMS computes the root-mean-square amplitude of a PCM16 frame.
// Returns 0 for an empty frame.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// BytesToInt16 converts little-endian PCM16 bytes to samples.
// A trailing odd byte is ignored.
func BytesToInt16(pcm []byte) []int16 {
	n := len(pcm) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}
	return out
}

// Int16ToBytes converts PCM16 samples to little-endian bytes.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(s))
	}
	return out
}

// Clip is one finished mono recording, as handed to transcription.
type Clip struct {
	PCM        []int16
	SampleRate int
}

// Duration reports the clip length in wall time.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.PCM)) * time.Second / time.Duration(c.SampleRate)
}

// Empty reports whether the clip carries no samples. Stop() on a recorder that
// captured nothing returns an empty clip rather than an error.
func (c Clip) Empty() bool { return len(c.PCM) == 0 }
