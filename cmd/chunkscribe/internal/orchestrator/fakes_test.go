package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator/whisper"
)

const fixtureRate = 100

// silentDecoder writes seconds of 100 Hz mono silence regardless of the source.
type silentDecoder struct {
	seconds int
	err     error
	calls   atomic.Int32
}

func (d *silentDecoder) Decode(ctx context.Context, source, dst string) error {
	d.calls.Add(1)
	if d.err != nil {
		return d.err
	}
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	enc := wav.NewEncoder(f, fixtureRate, 16, 1, 1)
	if err := enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: fixtureRate},
		Data:           make([]int, d.seconds*fixtureRate),
		SourceBitDepth: 16,
	}); err != nil {
		f.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (d *silentDecoder) HealthCheck(ctx context.Context) (bool, error) { return true, nil }
func (d *silentDecoder) Name() string                                   { return "silent-test" }

// fakeProber returns a fixed free-memory figure or an error.
type fakeProber struct {
	free  int64
	err   error
	block bool
}

func (p *fakeProber) QueryGPUFreeMemory(ctx context.Context) (int64, error) {
	if p.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return p.free, p.err
}

// chunkScript is the scripted behaviour for one chunk file.
type chunkScript struct {
	segments []whisper.TranscriptionSegment
	err      error
	delay    time.Duration
	block    bool // wait for ctx cancellation
}

// scriptedBackend answers by chunk file base name (e.g. "chunk_0002").
type scriptedBackend struct {
	scripts map[string]chunkScript
	closed  *atomic.Int32
	seen    *sync.Map
}

func (b *scriptedBackend) Transcribe(ctx context.Context, audioPath string, options *whisper.TranscribeOptions) (*whisper.TranscriptionResult, error) {
	name := strings.TrimSuffix(filepath.Base(audioPath), ".wav")
	if b.seen != nil {
		b.seen.Store(name, *options)
	}
	if _, err := os.Stat(audioPath); err != nil {
		return nil, err
	}
	s, ok := b.scripts[name]
	if !ok {
		return &whisper.TranscriptionResult{Segments: []whisper.TranscriptionSegment{}}, nil
	}
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &whisper.TranscriptionResult{Segments: append([]whisper.TranscriptionSegment(nil), s.segments...)}, nil
}

func (b *scriptedBackend) HealthCheck(ctx context.Context) (bool, error) { return true, nil }
func (b *scriptedBackend) Name() string                                   { return "scripted" }

func (b *scriptedBackend) Close() error {
	if b.closed != nil {
		b.closed.Add(1)
	}
	return nil
}

// scriptedFactory builds a factory and counts instances created.
func scriptedFactory(scripts map[string]chunkScript) (whisper.Factory, *atomic.Int32, *atomic.Int32, *sync.Map) {
	var created, closed atomic.Int32
	seen := &sync.Map{}
	f := func() (whisper.WhisperTranscriber, error) {
		created.Add(1)
		return &scriptedBackend{scripts: scripts, closed: &closed, seen: seen}, nil
	}
	return f, &created, &closed, seen
}

var errBackendDown = errors.New("backend unavailable")
