// Package capture opens a PortAudio input stream and feeds fixed-size audio
// frames into a bounded channel. The hardware callback is the producer; the
// segmentation loop is the single consumer. When the channel is full the
// oldest frame is dropped so the callback never blocks inside PortAudio.
package capture

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/BradleyFarquharson/Listen/internal/errkind"
	"github.com/BradleyFarquharson/Listen/pkg/audio"
)

// channelDepth bounds the producer→consumer frame channel. At 30 ms per
// frame this buffers roughly 7.5 s of audio before drop-oldest kicks in.
const channelDepth = 256

// Config describes how to open the capture stream.
type Config struct {
	// SampleRate in Hz.
	SampleRate int

	// Channels is the number of input channels to request. Only the first
	// channel is forwarded downstream.
	Channels int

	// Device is the PortAudio device index. Nil selects the system default
	// input device.
	Device *int
}

// Source is an open microphone capture stream.
type Source struct {
	stream  *portaudio.Stream
	frames  chan audio.Frame
	cfg     Config
	onDrop  func()
	onFrame func()
	closed  sync.Once
	started bool
}

// Option configures a Source.
type Option func(*Source)

// WithDropCallback registers fn to be invoked whenever a frame is discarded
// because the consumer fell behind. Must not block.
func WithDropCallback(fn func()) Option {
	return func(s *Source) { s.onDrop = fn }
}

// WithFrameCallback registers fn to be invoked for every frame the hardware
// delivers, before it is pushed downstream. Must not block.
func WithFrameCallback(fn func()) Option {
	return func(s *Source) { s.onFrame = fn }
}

// Open initialises PortAudio, resolves the configured device, and opens an
// input stream delivering 30 ms frames. The stream is started immediately.
// Opening an invalid or busy device fails with a device error; the caller
// must Close the returned Source on every exit path.
func Open(cfg Config, opts ...Option) (*Source, error) {
	if cfg.SampleRate <= 0 {
		return nil, errkind.Newf(errkind.Device, "invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, errkind.Wrap(errkind.Device, "initialise portaudio", err)
	}

	dev, err := resolveDevice(cfg.Device)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}

	s := &Source{
		frames: make(chan audio.Frame, channelDepth),
		cfg:    cfg,
	}
	for _, o := range opts {
		o(s)
	}

	blockSize := audio.FrameSize(cfg.SampleRate)
	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = cfg.Channels
	params.SampleRate = float64(cfg.SampleRate)
	// FramesPerBuffer counts frames, not samples; the interleaved callback
	// slice already carries FramesPerBuffer*Channels values.
	params.FramesPerBuffer = blockSize

	stream, err := portaudio.OpenStream(params, s.callback)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, errkind.Wrap(errkind.Device,
			fmt.Sprintf("open device %q", dev.Name), err)
	}
	s.stream = stream

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, errkind.Wrap(errkind.Device,
			fmt.Sprintf("start device %q", dev.Name), err)
	}
	s.started = true

	slog.Debug("capture stream opened",
		"device", dev.Name,
		"sample_rate", cfg.SampleRate,
		"block_size", blockSize,
	)
	return s, nil
}

// Frames returns the receive side of the frame channel. The channel is
// closed by Close after the hardware callback has been detached, so a
// consumer ranging over it terminates cleanly.
func (s *Source) Frames() <-chan audio.Frame { return s.frames }

// callback runs on the PortAudio thread once per hardware block. It copies
// the first channel into an owned buffer and pushes it without ever
// blocking: when the channel is full the oldest frame is evicted first.
func (s *Source) callback(in []float32) {
	samples := make([]float32, len(in)/s.cfg.Channels)
	if s.cfg.Channels == 1 {
		copy(samples, in)
	} else {
		for i := range samples {
			samples[i] = in[i*s.cfg.Channels]
		}
	}
	frame := audio.Frame{Samples: samples, SampleRate: s.cfg.SampleRate}
	if s.onFrame != nil {
		s.onFrame()
	}

	for {
		select {
		case s.frames <- frame:
			return
		default:
		}
		// Full: evict the oldest frame and retry. The callback is the only
		// producer, so the retry cannot race with another push.
		select {
		case <-s.frames:
			if s.onDrop != nil {
				s.onDrop()
			}
		default:
		}
	}
}

// Close stops the stream, detaches the hardware callback, closes the frame
// channel, and releases PortAudio. Safe to call more than once.
func (s *Source) Close() error {
	var err error
	s.closed.Do(func() {
		if s.started {
			if stopErr := s.stream.Stop(); stopErr != nil {
				err = fmt.Errorf("capture: stop stream: %w", stopErr)
			}
		}
		if closeErr := s.stream.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("capture: close stream: %w", closeErr)
		}
		close(s.frames)
		if termErr := portaudio.Terminate(); termErr != nil && err == nil {
			err = fmt.Errorf("capture: terminate portaudio: %w", termErr)
		}
	})
	return err
}

func resolveDevice(index *int) (*portaudio.DeviceInfo, error) {
	if index == nil {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, errkind.Wrap(errkind.Device, "no default input device", err)
		}
		return dev, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, errkind.Wrap(errkind.Device, "enumerate devices", err)
	}
	if *index < 0 || *index >= len(devices) {
		return nil, errkind.Newf(errkind.Device, "device index %d out of range", *index)
	}
	dev := devices[*index]
	if dev.MaxInputChannels <= 0 {
		return nil, errkind.Newf(errkind.Device, "device %d (%s) has no input channels", *index, dev.Name)
	}
	return dev, nil
}
