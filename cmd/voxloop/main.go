// Command voxloop is a turn-based spoken-conversation client: it listens on
// the microphone, transcribes what was said, streams a generated reply, and
// speaks it back while watching for the user to interrupt.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"github.com/voxloop/voxloop/internal/audio"
	"github.com/voxloop/voxloop/internal/capture"
	"github.com/voxloop/voxloop/internal/chunker"
	"github.com/voxloop/voxloop/internal/config"
	"github.com/voxloop/voxloop/internal/convo"
	"github.com/voxloop/voxloop/internal/httpserver"
	"github.com/voxloop/voxloop/internal/llm"
	"github.com/voxloop/voxloop/internal/metrics"
	"github.com/voxloop/voxloop/internal/playback"
	"github.com/voxloop/voxloop/internal/stt"
	"github.com/voxloop/voxloop/internal/tts"
	"github.com/voxloop/voxloop/internal/vad"
)

var version = "dev"

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "voxloop",
		Short:         "Real-time spoken-conversation client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newDevicesCmd(), newVersionCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var listen, tuningPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the conversation loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(listen, tuningPath)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "status/debug HTTP address (empty disables the server)")
	cmd.Flags().StringVar(&tuningPath, "tuning", "", "YAML tuning file (overrides TUNING_FILE)")
	return cmd
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio input and output devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := capture.Init(); err != nil {
				return fmt.Errorf("audio subsystem: %w", err)
			}
			defer capture.Terminate()
			devs, err := capture.Devices()
			if err != nil {
				return err
			}
			for _, d := range devs {
				fmt.Printf("%-40s in=%d out=%d rate=%.0f\n",
					d.Name, d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("voxloop", version)
		},
	}
}

func run(listen, tuningPath string) error {
	cfg := config.Load()
	if tuningPath == "" {
		tuningPath = cfg.TuningPath
	}
	if listen == "" {
		listen = cfg.HTTPAddress
	}
	tuning, err := config.LoadTuning(tuningPath)
	if err != nil {
		return err
	}

	if err := capture.Init(); err != nil {
		return fmt.Errorf("audio subsystem: %w", err)
	}
	defer capture.Terminate()

	rec, err := capture.NewRecorder(capture.DefaultConfig())
	if err != nil {
		return err
	}

	speaker, err := playback.NewSpeaker(48000)
	if err != nil {
		return err
	}
	defer speaker.Close()

	synth, err := buildSynthesizer(cfg)
	if err != nil {
		return err
	}

	orch := convo.New(convo.Deps{
		Capture:     rec,
		Transcriber: transcriberAdapter{stt.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIKey, cfg.STTModel)},
		Generator:   generatorAdapter{llm.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIKey, cfg.GenModel)},
		Synthesizer: synth,
		Player:      speaker,
		Metrics:     metrics.New(),
	}, optionsFromTuning(tuning))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := orch.Start(ctx); err != nil {
		return err
	}
	defer orch.Stop()

	var srv *echo.Echo
	if listen != "" {
		srv = httpserver.New()
		httpserver.NewHandlers(orch).Register(srv)
		go func() {
			if err := srv.Start(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("http server: %v", err)
			}
		}()
		log.Printf("status server on %s", listen)
	}

	<-ctx.Done()
	log.Println("shutting down")
	if srv != nil {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
	}
	return nil
}

func buildSynthesizer(cfg config.Config) (tts.Synthesizer, error) {
	switch cfg.TTSProvider {
	case "elevenlabs":
		return tts.NewElevenLabsSynthesizer(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID), nil
	case "elevenlabs-ws":
		return tts.NewElevenLabsWSSynthesizer(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID), nil
	case "deepgram":
		return tts.NewDeepgramSynthesizer(cfg.DeepgramKey, cfg.DeepgramModel), nil
	default:
		return nil, fmt.Errorf("unknown tts provider %q", cfg.TTSProvider)
	}
}

// optionsFromTuning maps the tuning file onto orchestrator options; zero
// values flow through and resolve to package defaults.
func optionsFromTuning(t config.Tuning) convo.Options {
	return convo.Options{
		VAD: vad.Config{
			SpeechThreshold:  t.VAD.SpeechThreshold,
			SilenceThreshold: t.VAD.SilenceThreshold,
			SilenceDuration:  config.Millis(t.VAD.SilenceMillis),
		},
		Interrupt: vad.InterruptConfig{
			Alpha:       t.VAD.AmbientAlpha,
			Margin:      t.VAD.InterruptMargin,
			Floor:       t.VAD.InterruptFloor,
			MinDuration: config.Millis(t.VAD.InterruptSustainM),
		},
		Chunker: chunker.Config{
			FirstMinChars: t.Chunker.FirstMinChars,
			FirstMaxChars: t.Chunker.FirstMaxChars,
			NextMinChars:  t.Chunker.NextMinChars,
			NextMaxChars:  t.Chunker.NextMaxChars,
			FirstIdle:     config.Millis(t.Chunker.FirstIdleMs),
			NextIdle:      config.Millis(t.Chunker.NextIdleMs),
		},
		Queue: playback.Config{
			Prefetch:      t.Playback.Prefetch,
			MinStartBytes: t.Playback.MinStartBytes,
		},
		MinSpokenDuration: config.Millis(t.Turn.MinSpokenMs),
		ContextLimit:      t.Turn.ContextLimit,
		RecoverDelay:      config.Millis(t.Turn.RecoverDelayMs),
	}
}

// transcriberAdapter maps the STT client onto the orchestrator boundary.
type transcriberAdapter struct{ c *stt.Client }

func (a transcriberAdapter) Transcribe(ctx context.Context, clip audio.Clip) (convo.Transcript, error) {
	tr, err := a.c.Transcribe(ctx, clip)
	if err != nil {
		return convo.Transcript{}, err
	}
	return convo.Transcript{Text: tr.Text, Filtered: tr.Filtered}, nil
}

// generatorAdapter maps the LLM client onto the orchestrator boundary.
type generatorAdapter struct{ c *llm.Client }

func (a generatorAdapter) Stream(ctx context.Context, query string, history []convo.Message) (<-chan string, <-chan error) {
	msgs := make([]llm.Message, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	return a.c.Stream(ctx, query, msgs)
}
