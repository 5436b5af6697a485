package audio

import (
	"context"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WavDecoder is the in-process fallback used when ffmpeg is unavailable.
// It only accepts WAV input; it downmixes to mono, resamples linearly to the
// target rate and writes 16-bit PCM.
type WavDecoder struct {
	sampleRate int
}

// NewWavDecoder creates a WavDecoder producing sampleRate Hz output.
func NewWavDecoder(sampleRate int) *WavDecoder {
	return &WavDecoder{sampleRate: sampleRate}
}

// Decode converts the WAV at source into dst.
func (d *WavDecoder) Decode(ctx context.Context, source, dst string) error {
	in, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("open %s: %w", source, err)
	}
	defer in.Close()

	dec, err := openPCM(in, source)
	if err != nil {
		return err
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return fmt.Errorf("read pcm from %s: %w", source, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	mono := downmix(buf.Data, int(dec.NumChans), int(dec.BitDepth))
	out := resampleLinear(mono, int(dec.SampleRate), d.sampleRate)

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	enc := wav.NewEncoder(f, d.sampleRate, 16, 1, 1)
	err = enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: d.sampleRate},
		Data:           out,
		SourceBitDepth: 16,
	})
	if err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", dst, err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalize %s: %w", dst, err)
	}
	return f.Close()
}

// HealthCheck always succeeds; the decoder has no external dependency.
func (d *WavDecoder) HealthCheck(ctx context.Context) (bool, error) { return true, nil }

// Name returns "wav-native".
func (d *WavDecoder) Name() string { return "wav-native" }

// downmix averages interleaved channels and rescales samples to 16 bits.
func downmix(data []int, chans, bitDepth int) []int {
	if chans < 1 {
		chans = 1
	}
	frames := len(data) / chans
	out := make([]int, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < chans; c++ {
			sum += to16(data[i*chans+c], bitDepth)
		}
		out[i] = sum / chans
	}
	return out
}

func to16(v, bitDepth int) int {
	switch {
	case bitDepth == 8:
		// 8-bit WAV is unsigned
		return (v - 128) << 8
	case bitDepth > 16:
		return v >> (bitDepth - 16)
	default:
		return v
	}
}

// resampleLinear converts samples from rate `from` to rate `to` by linear
// interpolation. The output length is round(len*to/from).
func resampleLinear(in []int, from, to int) []int {
	if from == to || len(in) == 0 {
		return in
	}
	n := int((int64(len(in))*int64(to) + int64(from)/2) / int64(from))
	out := make([]int, n)
	ratio := float64(from) / float64(to)
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= last {
			out[i] = in[last]
			continue
		}
		frac := pos - float64(j)
		out[i] = int(float64(in[j])*(1-frac) + float64(in[j+1])*frac)
	}
	return out
}
