// Command listen is a lightweight local speech-to-text tool: it captures
// microphone audio, segments it into utterances with an energy-based VAD,
// and transcribes each utterance locally with whisper.cpp.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/BradleyFarquharson/Listen/internal/config"
	"github.com/BradleyFarquharson/Listen/internal/hotkey"
	"github.com/BradleyFarquharson/Listen/internal/observe"
	"github.com/BradleyFarquharson/Listen/internal/permissions"
	"github.com/BradleyFarquharson/Listen/internal/server"
	"github.com/BradleyFarquharson/Listen/internal/session"
	"github.com/BradleyFarquharson/Listen/internal/sink"
	"github.com/BradleyFarquharson/Listen/pkg/audio/capture"
	"github.com/BradleyFarquharson/Listen/pkg/provider/stt/whisper"
)

// version is injected at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// rootFlags are the persistent flags shared by every subcommand.
type rootFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "listen",
		Short:         "Lightweight local speech-to-text",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "",
		"config file path (default: "+config.DefaultPath()+")")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "",
		"log verbosity: debug, info, warn or error")

	root.AddCommand(
		newStartCmd(flags),
		newTranscribeCmd(flags),
		newDevicesCmd(),
		newDownloadCmd(flags),
		newServeCmd(flags),
	)
	return root
}

// loadConfig builds the effective configuration for a command: defaults ←
// file ← explicit overrides. Flag values are layered only when the flag was
// actually set.
func (f *rootFlags) loadConfig(ov config.Overrides) (config.Config, error) {
	path := f.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	if f.logLevel != "" {
		lvl := config.LogLevel(f.logLevel)
		ov.LogLevel = &lvl
	}
	return config.Load(path, ov)
}

// setupLogging points the default slog logger at stderr. Stdout stays
// reserved for transcriptions and protocol lines.
func setupLogging(level config.LogLevel) {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openCapture adapts the capture package to the session.OpenSource contract,
// wiring the frame and drop counters.
func openCapture(metrics *observe.Metrics) session.OpenSource {
	return func(cfg config.Config) (session.FrameSource, error) {
		return capture.Open(capture.Config{
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
			Device:     cfg.Device,
		},
			capture.WithFrameCallback(func() {
				metrics.FramesCaptured.Add(context.Background(), 1)
			}),
			capture.WithDropCallback(func() {
				metrics.FramesDropped.Add(context.Background(), 1)
			}),
		)
	}
}

// newRecognizer resolves the model file and constructs the whisper
// recognizer. When fetch is true a missing model is downloaded first.
func newRecognizer(ctx context.Context, cfg config.Config, fetch bool) (*whisper.Recognizer, error) {
	var (
		path string
		err  error
	)
	if fetch {
		path, err = whisper.Download(ctx, cfg.Model, cfg.Quantized)
	} else {
		path, err = whisper.ResolveModel(cfg.Model, cfg.Quantized)
	}
	if err != nil {
		return nil, err
	}

	var opts []whisper.Option
	if cfg.Timestamps {
		opts = append(opts, whisper.WithTimestamps())
	}
	return whisper.New(path, opts...)
}

func newStartCmd(flags *rootFlags) *cobra.Command {
	var (
		pushToTalk bool
		hotkeySpec string
		model      string
		device     int
		quantized  bool
		output     string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start live transcription from the microphone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ov := config.Overrides{}
			if pushToTalk {
				mode := config.ModePushToTalk
				ov.Mode = &mode
			}
			if cmd.Flags().Changed("hotkey") {
				ov.Hotkey = &hotkeySpec
			}
			if cmd.Flags().Changed("model") {
				ov.Model = &model
			}
			if cmd.Flags().Changed("device") {
				ov.Device = &device
			}
			if quantized {
				ov.Quantized = &quantized
			}
			if cmd.Flags().Changed("output") {
				ov.OutputFile = &output
			}

			cfg, err := flags.loadConfig(ov)
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)
			return runStart(cfg)
		},
	}

	cmd.Flags().BoolVar(&pushToTalk, "push-to-talk", false, "push-to-talk mode (default: toggle-mute)")
	cmd.Flags().StringVarP(&hotkeySpec, "hotkey", "k", "", "custom hotkey (e.g. ctrl+shift+m)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "model name or ggml file path")
	cmd.Flags().IntVarP(&device, "device", "d", 0, "audio input device index")
	cmd.Flags().BoolVarP(&quantized, "quantized", "q", false, "use the quantized model variant")
	cmd.Flags().StringVarP(&output, "output", "o", "", "also append transcriptions to this file")
	return cmd
}

func runStart(cfg config.Config) error {
	ctx, cancel := signalContext()
	defer cancel()

	permissions.Check(os.Stderr, func() error {
		_, err := capture.ListDevices()
		return err
	})

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		MetricsAddr:    cfg.MetricsAddr,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown failed", "err", err)
		}
	}()

	chord, err := hotkey.ParseChord(cfg.EffectiveHotkey())
	if err != nil {
		return err
	}

	rec, err := newRecognizer(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer rec.Close()

	sinks := []sink.Sink{&sink.Console{W: os.Stdout}}
	if cfg.OutputFile != "" {
		fileSink, err := sink.OpenFile(cfg.OutputFile)
		if err != nil {
			return err
		}
		defer fileSink.Close()
		sinks = append(sinks, fileSink)
	}

	var broadcaster *sink.Broadcaster
	if cfg.EventAddr != "" {
		broadcaster = sink.NewBroadcaster(cfg.EventAddr)
		broadcaster.Start()
		defer broadcaster.Close()
		sinks = append(sinks, sink.Func(func(text string) error {
			broadcaster.Broadcast(server.Event{Type: "transcription", Text: text})
			return nil
		}))
	}

	ctrl := session.New(cfg, rec, openCapture(observe.DefaultMetrics()),
		session.WithSinks(sinks...),
		session.WithStateHook(func(s session.State) {
			fmt.Println(s.Status())
			if broadcaster != nil {
				broadcaster.Broadcast(server.Event{Type: "state", State: s.String()})
			}
		}),
		session.WithErrorHook(func(err error) {
			if broadcaster != nil {
				broadcaster.Broadcast(server.Event{Type: "error", Message: err.Error()})
			}
		}),
	)

	// Load the model up front so the first utterance is not delayed.
	if _, err := ctrl.LoadModel(ctx); err != nil {
		return err
	}

	if cfg.Mode == config.ModePushToTalk {
		fmt.Fprintf(os.Stderr, "Push-to-talk mode. Hold %s to record.\n", cfg.EffectiveHotkey())
	} else {
		fmt.Fprintf(os.Stderr, "Toggle-mute mode. Press %s to mute/unmute.\n", cfg.EffectiveHotkey())
	}
	fmt.Fprintln(os.Stderr, "Press Ctrl+C to stop.")

	if err := ctrl.Start(ctx); err != nil {
		return err
	}

	listener := hotkey.NewListener(hotkey.NewTracker(chord), ctrl.HandleChord)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listener.Run(gctx) })

	<-gctx.Done()

	stopErr := ctrl.Stop()
	waitErr := g.Wait()
	if errors.Is(waitErr, context.Canceled) {
		waitErr = nil
	}
	fmt.Fprintln(os.Stderr, "Stopped.")
	return errors.Join(stopErr, waitErr)
}

func newTranscribeCmd(flags *rootFlags) *cobra.Command {
	var (
		model      string
		timestamps bool
		output     string
		noVAD      bool
		quantized  bool
	)

	cmd := &cobra.Command{
		Use:   "transcribe <files...>",
		Short: "Transcribe audio files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, files []string) error {
			ov := config.Overrides{}
			if cmd.Flags().Changed("model") {
				ov.Model = &model
			}
			if timestamps {
				ov.Timestamps = &timestamps
			}
			if quantized {
				ov.Quantized = &quantized
			}
			if cmd.Flags().Changed("output") {
				ov.OutputFile = &output
			}

			cfg, err := flags.loadConfig(ov)
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)
			return runTranscribe(cfg, files, !noVAD)
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "model name or ggml file path")
	cmd.Flags().BoolVarP(&timestamps, "timestamps", "t", false, "include timestamps")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write output to this file")
	cmd.Flags().BoolVar(&noVAD, "no-vad", false, "disable voice activity detection")
	cmd.Flags().BoolVarP(&quantized, "quantized", "q", false, "use the quantized model variant")
	return cmd
}

func runTranscribe(cfg config.Config, files []string, vad bool) error {
	ctx, cancel := signalContext()
	defer cancel()

	path, err := whisper.Download(ctx, cfg.Model, cfg.Quantized)
	if err != nil {
		return err
	}
	var opts []whisper.Option
	if cfg.Timestamps {
		opts = append(opts, whisper.WithTimestamps())
	}
	if vad {
		opts = append(opts, whisper.WithVAD())
	}
	rec, err := whisper.New(path, opts...)
	if err != nil {
		return err
	}
	defer rec.Close()

	caps, err := rec.Load(ctx)
	if err != nil {
		return err
	}

	var out *sink.File
	if cfg.OutputFile != "" {
		if out, err = sink.OpenFile(cfg.OutputFile); err != nil {
			return err
		}
		defer out.Close()
	}

	for _, file := range files {
		if len(files) > 1 {
			fmt.Printf("\n--- %s ---\n", file)
		}
		spans, err := rec.RecognizeFile(ctx, file)
		if err != nil {
			return err
		}
		for _, span := range spans {
			text := strings.TrimSpace(span.Text)
			if text == "" {
				continue
			}
			line := text
			if caps.Timestamps {
				line = fmt.Sprintf("[%s -> %s] %s", span.Start, span.End, text)
			}
			fmt.Println(line)
			if out != nil {
				if err := out.WriteText(line); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List available audio input devices",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			devices, err := capture.ListDevices()
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Println("No audio input devices found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tNAME\tCHANNELS")
			for _, d := range devices {
				fmt.Fprintf(w, "%d\t%s\t%d\n", d.Index, d.Name, d.Channels)
			}
			return w.Flush()
		},
	}
}

func newDownloadCmd(flags *rootFlags) *cobra.Command {
	var quantized bool

	cmd := &cobra.Command{
		Use:   "download [model]",
		Short: "Pre-download a model for offline use",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ov := config.Overrides{}
			if len(args) == 1 {
				ov.Model = &args[0]
			}
			if quantized {
				ov.Quantized = &quantized
			}
			cfg, err := flags.loadConfig(ov)
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)

			ctx, cancel := signalContext()
			defer cancel()

			fmt.Fprintf(os.Stderr, "Downloading model: %s...\n", cfg.Model)
			path, err := whisper.Download(ctx, cfg.Model, cfg.Quantized)
			if err != nil {
				return fmt.Errorf("failed to download model: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Model %s ready at %s.\n", cfg.Model, path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quantized, "quantized", "q", false, "download the quantized model variant")
	return cmd
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the JSON command channel on stdin/stdout for UI frontends",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			// The command channel defaults to push-to-talk; the frontend
			// drives activation explicitly.
			mode := config.ModePushToTalk
			cfg, err := flags.loadConfig(config.Overrides{Mode: &mode})
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)
			return runServe(cfg)
		},
	}
}

func runServe(cfg config.Config) error {
	ctx, cancel := signalContext()
	defer cancel()

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		MetricsAddr:    cfg.MetricsAddr,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown failed", "err", err)
		}
	}()

	rec, err := newRecognizer(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer rec.Close()

	opts := []server.Option{
		server.WithModelLoader(func(ctx context.Context, status func(string)) error {
			status(fmt.Sprintf("Downloading model: %s...", cfg.Model))
			if _, err := whisper.Download(ctx, cfg.Model, cfg.Quantized); err != nil {
				return err
			}
			_, err := rec.Load(ctx)
			return err
		}),
	}

	if cfg.EventAddr != "" {
		broadcaster := sink.NewBroadcaster(cfg.EventAddr)
		broadcaster.Start()
		defer broadcaster.Close()
		opts = append(opts, server.WithBroadcast(func(ev server.Event) {
			broadcaster.Broadcast(ev)
		}))
	}

	srv := server.New(cfg, rec, openCapture(observe.DefaultMetrics()), os.Stdin, os.Stdout, opts...)
	return srv.Run(ctx)
}
