package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func TestRecordChunk(t *testing.T) {
	AudioChunksTotal.Reset()

	RecordChunk("success")
	RecordChunk("success")
	RecordChunk("error")

	assert.Equal(t, 2.0, counterValue(t, AudioChunksTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, counterValue(t, AudioChunksTotal.WithLabelValues("error")))
}

func TestRecordErrorAndRun(t *testing.T) {
	AudioErrorsTotal.Reset()
	TranscriptionRunsTotal.Reset()

	RecordError("decode", "EXTRACTION_FAILED")
	RecordRun("partial")

	assert.Equal(t, 1.0, counterValue(t, AudioErrorsTotal.WithLabelValues("decode", "EXTRACTION_FAILED")))
	assert.Equal(t, 1.0, counterValue(t, TranscriptionRunsTotal.WithLabelValues("partial")))
}

func TestSetChunkCount(t *testing.T) {
	SetChunkCount(3)

	m := &dto.Metric{}
	require.NoError(t, ChunkCount.Write(m))
	assert.Equal(t, 3.0, m.GetGauge().GetValue())
}
