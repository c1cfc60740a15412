package capture

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

var (
	paInitOnce sync.Once
	paInitErr  error
)

// Init initializes the PortAudio runtime once per process.
func Init() error {
	paInitOnce.Do(func() { paInitErr = portaudio.Initialize() })
	return paInitErr
}

// Terminate releases the PortAudio runtime. Call once at process exit.
func Terminate() {
	_ = portaudio.Terminate()
}

// openInputStream acquires the default input device for mono PCM16 capture,
// binding frames into the provided buffer.
func openInputStream(cfg Config, in []int16) (deviceStream, error) {
	if err := Init(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(cfg.SampleRate), cfg.FrameSize, in)
	if err != nil {
		return nil, fmt.Errorf("open default input stream: %w", err)
	}
	return stream, nil
}

// DeviceInfo describes an audio device for the CLI devices listing.
type DeviceInfo struct {
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
}

// Devices lists the host's audio devices.
func Devices() ([]DeviceInfo, error) {
	if err := Init(); err != nil {
		return nil, err
	}
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	out := make([]DeviceInfo, 0, len(devs))
	for _, d := range devs {
		out = append(out, DeviceInfo{
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			MaxOutputChannels: d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
		})
	}
	return out, nil
}
