package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode 表示转写流水线错误类型代码
type ErrorCode string

const (
	// EXTRACTION_FAILED 媒体解码失败（源文件不存在、格式不支持、ffmpeg 出错、音频为空）
	EXTRACTION_FAILED ErrorCode = "EXTRACTION_FAILED"

	// CHUNK_FAILED 单个切片转写失败（后端错误或超时）
	CHUNK_FAILED ErrorCode = "CHUNK_FAILED"

	// ALL_CHUNKS_FAILED 所有切片均转写失败
	ALL_CHUNKS_FAILED ErrorCode = "ALL_CHUNKS_FAILED"

	// VALIDATION_FAILED 数据不合法（end < start、负数起点、NaN、切片数 < 1）
	VALIDATION_FAILED ErrorCode = "VALIDATION_FAILED"

	// DISK_FULL 磁盘空间不足
	DISK_FULL ErrorCode = "DISK_FULL"

	// OUTPUT_FAILED 输出文件写入失败
	OUTPUT_FAILED ErrorCode = "OUTPUT_FAILED"

	// CANCELLED 调用方取消了本次运行（Ctrl-C、服务关闭），不产生任何输出
	CANCELLED ErrorCode = "CANCELLED"
)

// OrchError 表示流水线阶段级错误
type OrchError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// Error 实现 error 接口
func (e *OrchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 实现错误链支持
func (e *OrchError) Unwrap() error {
	return e.Cause
}

// NewOrchError 创建新的流水线错误
func NewOrchError(code ErrorCode, message string, cause error) *OrchError {
	return &OrchError{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// NewExtractionError 创建解码失败错误
func NewExtractionError(source string, cause error) *OrchError {
	return NewOrchError(EXTRACTION_FAILED, fmt.Sprintf("音频解码失败: %s", source), cause)
}

// NewDiskFullError 创建磁盘空间不足错误
func NewDiskFullError(path string, cause error) *OrchError {
	return NewOrchError(DISK_FULL, fmt.Sprintf("磁盘空间不足: %s", path), cause)
}

// NewOutputError 创建输出写入失败错误
func NewOutputError(dir string, cause error) *OrchError {
	return NewOrchError(OUTPUT_FAILED, fmt.Sprintf("输出写入失败: %s", dir), cause)
}

// NewCancelledError 创建运行被取消错误，cause 通常为 ctx.Err()
func NewCancelledError(stage string, cause error) *OrchError {
	return NewOrchError(CANCELLED, fmt.Sprintf("运行在 %s 阶段被取消", stage), cause)
}

// ChunkError 单个切片转写失败，由协调器吸收，不会中止整个流程
type ChunkError struct {
	Index    int
	Cause    error
	TimedOut bool
}

func (e *ChunkError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("chunk %d timed out: %v", e.Index, e.Cause)
	}
	return fmt.Sprintf("chunk %d failed: %v", e.Index, e.Cause)
}

func (e *ChunkError) Unwrap() error { return e.Cause }

// AllChunksFailedError 所有切片均失败，携带每个切片的错误
type AllChunksFailedError struct {
	Errors []*ChunkError
}

func (e *AllChunksFailedError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, ce := range e.Errors {
		parts = append(parts, ce.Error())
	}
	return fmt.Sprintf("all %d chunks failed: %s", len(e.Errors), strings.Join(parts, "; "))
}

// Unwrap 返回全部切片错误，支持 errors.Is/As 遍历
func (e *AllChunksFailedError) Unwrap() []error {
	out := make([]error, len(e.Errors))
	for i, ce := range e.Errors {
		out[i] = ce
	}
	return out
}

// ValidationError 数据校验失败，属于致命错误。Chunk 为 -1 表示与具体切片无关
type ValidationError struct {
	Chunk  int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Chunk < 0 {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed in chunk %d: %s", e.Chunk, e.Reason)
}

// CodeOf 返回错误链中第一个可识别的错误代码，未识别时返回空字符串
func CodeOf(err error) ErrorCode {
	var oe *OrchError
	if errors.As(err, &oe) {
		return oe.Code
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return VALIDATION_FAILED
	}
	var ae *AllChunksFailedError
	if errors.As(err, &ae) {
		return ALL_CHUNKS_FAILED
	}
	var ce *ChunkError
	if errors.As(err, &ce) {
		return CHUNK_FAILED
	}
	if errors.Is(err, context.Canceled) {
		return CANCELLED
	}
	return ""
}
