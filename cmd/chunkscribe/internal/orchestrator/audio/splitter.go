package audio

import (
	"context"
	"errors"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var (
	// ErrEmptyAudio is returned when the decoded audio has no frames.
	ErrEmptyAudio = errors.New("decoded audio is empty")

	// ErrInvalidChunkCount is returned for a chunk count below 1.
	ErrInvalidChunkCount = errors.New("chunk count must be >= 1")
)

// readBlockFrames bounds how many frames are held in memory while splitting.
const readBlockFrames = 8192

// Range is a time interval in seconds.
type Range struct {
	Start float64
	End   float64
}

// Ranges divides [0,total) into n contiguous ranges. Boundary i is total*i/n
// and the last range always ends exactly at total.
func Ranges(total float64, n int) []Range {
	if n < 1 {
		return nil
	}
	out := make([]Range, n)
	for i := 0; i < n; i++ {
		out[i].Start = total * float64(i) / float64(n)
		if i == n-1 {
			out[i].End = total
		} else {
			out[i].End = total * float64(i+1) / float64(n)
		}
	}
	return out
}

// FrameRange is a half-open interval of frame indices.
type FrameRange struct {
	Start int64
	End   int64
}

// FrameRanges divides frames into n contiguous, non-empty ranges on integer
// boundaries frames*i/n. n is clamped to frames so no range is empty.
func FrameRanges(frames int64, n int) []FrameRange {
	if n < 1 || frames <= 0 {
		return nil
	}
	if int64(n) > frames {
		n = int(frames)
	}
	out := make([]FrameRange, n)
	for i := 0; i < n; i++ {
		out[i].Start = frames * int64(i) / int64(n)
		out[i].End = frames * int64(i+1) / int64(n)
	}
	return out
}

// SegmentRef points at one chunk file and its placement on the global timeline.
type SegmentRef struct {
	Index      int
	Path       string
	Start      float64 // global offset in seconds
	End        float64
	SampleRate int
	Frames     int64
}

// Duration returns End-Start.
func (r SegmentRef) Duration() float64 { return r.End - r.Start }

// Release removes the chunk file. Idempotent.
func (r SegmentRef) Release() error {
	if err := os.Remove(r.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release chunk %d: %w", r.Index, err)
	}
	return nil
}

// Splitter cuts a decoded WAV into chunk files inside a Workspace.
type Splitter struct{}

// NewSplitter creates a Splitter.
func NewSplitter() *Splitter { return &Splitter{} }

// Probe returns the frame count and sample rate of a WAV file.
func (s *Splitter) Probe(wavPath string) (frames int64, sampleRate int, err error) {
	f, err := os.Open(wavPath)
	if err != nil {
		return 0, 0, fmt.Errorf("open %s: %w", wavPath, err)
	}
	defer f.Close()

	dec, err := openPCM(f, wavPath)
	if err != nil {
		return 0, 0, err
	}
	return pcmFrames(dec), int(dec.SampleRate), nil
}

// Split streams the WAV at wavPath into n chunk files named chunk_%04d.wav.
// Chunk i covers frames [frames*i/n, frames*(i+1)/n); the union of all chunks
// is exactly the input. When n exceeds the frame count fewer chunks are made.
func (s *Splitter) Split(ctx context.Context, wavPath string, n int, ws *Workspace) ([]SegmentRef, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidChunkCount, n)
	}

	f, err := os.Open(wavPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", wavPath, err)
	}
	defer f.Close()

	dec, err := openPCM(f, wavPath)
	if err != nil {
		return nil, err
	}

	total := pcmFrames(dec)
	if total == 0 {
		return nil, ErrEmptyAudio
	}

	sampleRate := int(dec.SampleRate)
	chans := int(dec.NumChans)
	bitDepth := int(dec.BitDepth)
	totalSeconds := float64(total) / float64(sampleRate)

	ranges := FrameRanges(total, n)
	refs := make([]SegmentRef, 0, len(ranges))
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: chans, SampleRate: sampleRate},
		Data:   make([]int, readBlockFrames*chans),
	}

	for i, fr := range ranges {
		if err := ctx.Err(); err != nil {
			releaseAll(refs)
			return nil, err
		}

		path := ws.Paths().GetChunkAudioPath(i)
		if err := writeChunk(dec, buf, path, fr.End-fr.Start, sampleRate, bitDepth, chans); err != nil {
			releaseAll(refs)
			os.Remove(path)
			return nil, fmt.Errorf("write chunk %d: %w", i, err)
		}

		ref := SegmentRef{
			Index:      i,
			Path:       path,
			Start:      float64(fr.Start) / float64(sampleRate),
			End:        float64(fr.End) / float64(sampleRate),
			SampleRate: sampleRate,
			Frames:     fr.End - fr.Start,
		}
		if i == len(ranges)-1 {
			ref.End = totalSeconds
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// writeChunk copies the next frames frames from dec into a new WAV at path.
func writeChunk(dec *wav.Decoder, buf *goaudio.IntBuffer, path string, frames int64, sampleRate, bitDepth, chans int) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := wav.NewEncoder(out, sampleRate, bitDepth, chans, 1)

	remaining := frames * int64(chans)
	full := buf.Data[:cap(buf.Data)]
	for remaining > 0 {
		want := int64(len(full))
		if remaining < want {
			want = remaining
		}
		buf.Data = full[:want]
		got, err := dec.PCMBuffer(buf)
		if err != nil {
			out.Close()
			return fmt.Errorf("read pcm: %w", err)
		}
		if got == 0 {
			out.Close()
			return fmt.Errorf("unexpected end of pcm data, %d samples missing", remaining)
		}
		buf.Data = buf.Data[:got]
		if err := enc.Write(buf); err != nil {
			out.Close()
			return fmt.Errorf("encode: %w", err)
		}
		remaining -= int64(got)
	}
	buf.Data = full

	if err := enc.Close(); err != nil {
		out.Close()
		return fmt.Errorf("finalize wav: %w", err)
	}
	return out.Close()
}

// openPCM validates the header and positions dec at the PCM data.
func openPCM(f *os.File, name string) (*wav.Decoder, error) {
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s is not a valid WAV file", name)
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("locate pcm data in %s: %w", name, err)
	}
	if dec.NumChans == 0 || dec.SampleRate == 0 || dec.BitDepth == 0 {
		return nil, fmt.Errorf("%s has an incomplete format header", name)
	}
	return dec, nil
}

func pcmFrames(dec *wav.Decoder) int64 {
	frameBytes := int64(dec.NumChans) * int64(dec.BitDepth) / 8
	if frameBytes == 0 {
		return 0
	}
	return dec.PCMLen() / frameBytes
}

func releaseAll(refs []SegmentRef) {
	for _, r := range refs {
		_ = r.Release()
	}
}
