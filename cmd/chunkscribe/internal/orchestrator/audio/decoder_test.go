package audio

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator/dependency"
)

type fakeExecutor struct {
	resp      dependency.CommandResponse
	err       error
	healthErr error
	requests  []dependency.CommandRequest
}

func (f *fakeExecutor) ExecuteCommand(ctx context.Context, req dependency.CommandRequest) (dependency.CommandResponse, error) {
	f.requests = append(f.requests, req)
	return f.resp, f.err
}

func (f *fakeExecutor) HealthCheck(ctx context.Context, command string) error { return f.healthErr }

func TestFFmpegDecoder(t *testing.T) {
	exec := &fakeExecutor{resp: dependency.CommandResponse{Success: true}}
	dec := NewFFmpegDecoder(dependency.NewClientWithExecutor(exec, dependency.ExecutorConfig{}), 16000)

	require.NoError(t, dec.Decode(context.Background(), "/media/talk.mp4", "/tmp/ws/source.wav"))
	require.Len(t, exec.requests, 1)
	assert.Equal(t, "ffmpeg", exec.requests[0].Command)
	assert.Equal(t, "ffmpeg", dec.Name())

	ok, err := dec.HealthCheck(context.Background())
	assert.True(t, ok)
	assert.NoError(t, err)

	exec.resp = dependency.CommandResponse{Success: false, ExitCode: 1, Stderr: "moov atom not found"}
	err = dec.Decode(context.Background(), "/media/broken.mp4", "/tmp/ws/source.wav")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "moov atom not found")

	exec.healthErr = errors.New("ffmpeg missing")
	ok, err = dec.HealthCheck(context.Background())
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestWavDecoder_DownmixAndResample(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "stereo_8k.wav")
	dst := filepath.Join(dir, "source.wav")

	// 8000 stereo frames at 8 kHz: left=1000, right=3000.
	data := make([]int, 0, 16000)
	for i := 0; i < 8000; i++ {
		data = append(data, 1000, 3000)
	}
	writeWAV(t, src, 8000, 16, 2, data)

	dec := NewWavDecoder(16000)
	require.NoError(t, dec.Decode(context.Background(), src, dst))

	buf, info := readWAV(t, dst)
	assert.Equal(t, uint16(1), info.NumChans)
	assert.Equal(t, uint32(16000), info.SampleRate)
	assert.Equal(t, uint16(16), info.BitDepth)
	require.Len(t, buf.Data, 16000)
	for _, s := range buf.Data {
		assert.Equal(t, 2000, s)
	}
}

func TestWavDecoder_RejectsNonWav(t *testing.T) {
	dir := t.TempDir()
	dec := NewWavDecoder(16000)
	err := dec.Decode(context.Background(), filepath.Join(dir, "missing.mp3"), filepath.Join(dir, "out.wav"))
	assert.Error(t, err)

	ok, err := dec.HealthCheck(context.Background())
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, "wav-native", dec.Name())
}

func TestResampleLinear(t *testing.T) {
	assert.Equal(t, []int{0, 5, 10, 15, 20, 20}, resampleLinear([]int{0, 10, 20}, 1, 2))
	assert.Equal(t, []int{0, 20}, resampleLinear([]int{0, 10, 20, 30}, 2, 1))
	in := []int{1, 2, 3}
	assert.Equal(t, in, resampleLinear(in, 16000, 16000))
}

func TestTo16(t *testing.T) {
	assert.Equal(t, 0, to16(128, 8))
	assert.Equal(t, -32768, to16(0, 8))
	assert.Equal(t, 100, to16(100<<8, 24))
	assert.Equal(t, 1234, to16(1234, 16))
}
