package orchestrator

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator/audio"
	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator/whisper"
)

// fourRefs returns four 100-second chunk refs backed by real files.
func fourRefs(t *testing.T) []audio.SegmentRef {
	refs := make([]audio.SegmentRef, 4)
	for i := range refs {
		refs[i] = chunkRef(t, i, float64(i*100), float64((i+1)*100))
	}
	return refs
}

func oneSegment(text string) chunkScript {
	return chunkScript{segments: []whisper.TranscriptionSegment{{Start: 1, End: 2, Text: text}}}
}

func TestCoordinator_PartialFailure(t *testing.T) {
	factory, created, _, _ := scriptedFactory(map[string]chunkScript{
		"chunk_0000": oneSegment("a"),
		"chunk_0001": oneSegment("b"),
		"chunk_0002": {err: errBackendDown},
		"chunk_0003": oneSegment("d"),
	})
	refs := fourRefs(t)

	res, err := NewCoordinator(NewChunkTranscriber(factory, time.Minute)).Run(context.Background(), refs, whisper.TranscribeOptions{})
	require.NoError(t, err)

	assert.Equal(t, int32(4), created.Load(), "each worker owns its backend")
	assert.Equal(t, []int{0, 1, 3}, res.Succeeded)
	assert.Equal(t, []int{2}, res.FailedIndices())
	assert.False(t, res.Complete())

	var texts []string
	var starts []float64
	for _, s := range res.Segments {
		texts = append(texts, s.Text)
		starts = append(starts, s.Start)
	}
	assert.Equal(t, []string{"a", "b", "d"}, texts)
	assert.Equal(t, []float64{1, 101, 301}, starts)

	for _, ref := range refs {
		_, err := os.Stat(ref.Path)
		assert.True(t, os.IsNotExist(err), "chunk %d file must be released", ref.Index)
	}
}

func TestCoordinator_AllFailed(t *testing.T) {
	factory, _, _, _ := scriptedFactory(map[string]chunkScript{
		"chunk_0000": {err: errBackendDown},
		"chunk_0001": {err: errBackendDown},
		"chunk_0002": {err: errBackendDown},
		"chunk_0003": {err: errBackendDown},
	})

	res, err := NewCoordinator(NewChunkTranscriber(factory, time.Minute)).Run(context.Background(), fourRefs(t), whisper.TranscribeOptions{})
	assert.Nil(t, res)

	var all *AllChunksFailedError
	require.ErrorAs(t, err, &all)
	require.Len(t, all.Errors, 4)
	for i, ce := range all.Errors {
		assert.Equal(t, i, ce.Index)
	}
	assert.ErrorIs(t, err, errBackendDown)
}

func TestCoordinator_NoEarlyCancellation(t *testing.T) {
	// chunk 0 fails immediately; chunk 3 is slow but must still complete.
	factory, _, _, _ := scriptedFactory(map[string]chunkScript{
		"chunk_0000": {err: errBackendDown},
		"chunk_0003": {segments: []whisper.TranscriptionSegment{{Start: 0, End: 1, Text: "slow"}}, delay: 100 * time.Millisecond},
	})

	res, err := NewCoordinator(NewChunkTranscriber(factory, time.Minute)).Run(context.Background(), fourRefs(t), whisper.TranscribeOptions{})
	require.NoError(t, err)
	require.Len(t, res.Segments, 1)
	assert.Equal(t, "slow", res.Segments[0].Text)
	assert.Equal(t, 300.0, res.Segments[0].Start)
}

func TestCoordinator_CompletionOrderInvariance(t *testing.T) {
	segs := func(text string) []whisper.TranscriptionSegment {
		return []whisper.TranscriptionSegment{{Start: 0, End: 1, Text: text + "1"}, {Start: 5, End: 6, Text: text + "2"}}
	}
	fast := map[string]chunkScript{
		"chunk_0000": {segments: segs("a")},
		"chunk_0001": {segments: segs("b")},
		"chunk_0002": {segments: segs("c")},
		"chunk_0003": {segments: segs("d")},
	}
	// reversed completion: chunk 0 finishes last
	slow := map[string]chunkScript{
		"chunk_0000": {segments: segs("a"), delay: 120 * time.Millisecond},
		"chunk_0001": {segments: segs("b"), delay: 80 * time.Millisecond},
		"chunk_0002": {segments: segs("c"), delay: 40 * time.Millisecond},
		"chunk_0003": {segments: segs("d")},
	}

	fastFactory, _, _, _ := scriptedFactory(fast)
	slowFactory, _, _, _ := scriptedFactory(slow)

	r1, err := NewCoordinator(NewChunkTranscriber(fastFactory, time.Minute)).Run(context.Background(), fourRefs(t), whisper.TranscribeOptions{})
	require.NoError(t, err)
	r2, err := NewCoordinator(NewChunkTranscriber(slowFactory, time.Minute)).Run(context.Background(), fourRefs(t), whisper.TranscribeOptions{})
	require.NoError(t, err)

	assert.Equal(t, r1.Segments, r2.Segments)
	assert.Equal(t, "a1", r2.Segments[0].Text)
}

func TestCoordinator_ValidationIsFatal(t *testing.T) {
	factory, _, _, _ := scriptedFactory(map[string]chunkScript{
		"chunk_0000": oneSegment("ok"),
		"chunk_0001": {segments: []whisper.TranscriptionSegment{{Start: 3, End: 1, Text: "bad"}}},
	})
	refs := fourRefs(t)

	res, err := NewCoordinator(NewChunkTranscriber(factory, time.Minute)).Run(context.Background(), refs, whisper.TranscribeOptions{})
	assert.Nil(t, res)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, 1, ve.Chunk)

	// every worker still ran to completion and released its file
	for _, ref := range refs {
		_, statErr := os.Stat(ref.Path)
		assert.True(t, os.IsNotExist(statErr))
	}
}

func TestCoordinator_NoRefs(t *testing.T) {
	factory, _, _, _ := scriptedFactory(nil)
	_, err := NewCoordinator(NewChunkTranscriber(factory, 0)).Run(context.Background(), nil, whisper.TranscribeOptions{})
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

// barrierBackend succeeds only once every chunk's call is in flight at the same time.
type barrierBackend struct {
	arrived *sync.WaitGroup
	all     <-chan struct{}
}

func (b *barrierBackend) Transcribe(ctx context.Context, audioPath string, options *whisper.TranscribeOptions) (*whisper.TranscriptionResult, error) {
	b.arrived.Done()
	select {
	case <-b.all:
		return &whisper.TranscriptionResult{Segments: []whisper.TranscriptionSegment{{Start: 0, End: 1, Text: "x"}}}, nil
	case <-time.After(2 * time.Second):
		return nil, errors.New("not every chunk was dispatched concurrently")
	}
}

func (b *barrierBackend) HealthCheck(ctx context.Context) (bool, error) { return true, nil }
func (b *barrierBackend) Name() string                                   { return "barrier" }

func TestCoordinator_DispatchesEveryChunkAtOnce(t *testing.T) {
	const n = 12
	var arrived sync.WaitGroup
	arrived.Add(n)
	all := make(chan struct{})
	go func() {
		arrived.Wait()
		close(all)
	}()
	factory := func() (whisper.WhisperTranscriber, error) {
		return &barrierBackend{arrived: &arrived, all: all}, nil
	}

	refs := make([]audio.SegmentRef, n)
	for i := range refs {
		refs[i] = chunkRef(t, i, float64(i*10), float64((i+1)*10))
	}

	res, err := NewCoordinator(NewChunkTranscriber(factory, time.Minute)).Run(context.Background(), refs, whisper.TranscribeOptions{})
	require.NoError(t, err)
	assert.True(t, res.Complete())
	assert.Len(t, res.Segments, n)
}
