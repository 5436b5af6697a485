package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AudioChunksTotal 音频切片转写总数计数器
	// Labels: status (success/error/timeout)
	AudioChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunkscribe_audio_chunks_total",
			Help: "Total number of audio chunks transcribed by outcome",
		},
		[]string{"status"},
	)

	// AudioErrorsTotal 各阶段错误计数器
	// Labels: stage (decode/split/asr/assemble/output), error_code (EXTRACTION_FAILED/CHUNK_FAILED/...)
	AudioErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunkscribe_audio_errors_total",
			Help: "Total number of processing errors by stage and error code",
		},
		[]string{"stage", "error_code"},
	)

	// TranscriptionRunsTotal 整体转写任务计数器
	// Labels: coverage (complete/partial/failed/cancelled)
	TranscriptionRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunkscribe_transcription_runs_total",
			Help: "Total number of transcription runs by coverage outcome",
		},
		[]string{"coverage"},
	)

	// ChunkCount 最近一次任务使用的切片数量
	ChunkCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chunkscribe_chunk_count",
			Help: "Number of parallel chunks chosen for the most recent run",
		},
	)

	// StageDuration 各阶段耗时直方图（秒）
	// Labels: stage (decode/split/asr/assemble/output/total)
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chunkscribe_stage_duration_seconds",
			Help:    "Processing duration in seconds by pipeline stage",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 900, 1800},
		},
		[]string{"stage"},
	)
)

// RecordChunk 记录一个切片的转写结果
func RecordChunk(status string) {
	AudioChunksTotal.WithLabelValues(status).Inc()
}

// RecordError 记录某阶段的错误
func RecordError(stage, errorCode string) {
	AudioErrorsTotal.WithLabelValues(stage, errorCode).Inc()
}

// RecordRun 记录一次完整任务的覆盖情况
func RecordRun(coverage string) {
	TranscriptionRunsTotal.WithLabelValues(coverage).Inc()
}

// SetChunkCount 设置本次任务的切片数量
func SetChunkCount(n int) {
	ChunkCount.Set(float64(n))
}

// RecordDuration 记录阶段耗时（秒）
func RecordDuration(stage string, durationSeconds float64) {
	StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}
