package audio

import (
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ReadWAV decodes a WAV file into mono float32 samples normalised to
// [-1.0, 1.0] and returns them with the file's sample rate. Multi-channel
// files are downmixed by averaging.
func ReadWAV(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: open %q: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("audio: decode %q: %w", path, err)
	}
	if buf == nil || buf.Format == nil {
		return nil, 0, fmt.Errorf("audio: decode %q: empty buffer", path)
	}

	samples := normalize(buf)
	samples = DownmixMono(samples, buf.Format.NumChannels)
	return samples, buf.Format.SampleRate, nil
}

// normalize scales integer PCM to [-1.0, 1.0] using the source bit depth.
// IntBuffer.AsFloat32Buffer casts without scaling, so the division happens
// here.
func normalize(buf *goaudio.IntBuffer) []float32 {
	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))
	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / scale
	}
	return samples
}
