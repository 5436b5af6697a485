package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/houzhh15/chunkscribe/pkg/logger"
)

// GoWhisperImpl implements WhisperTranscriber for the go-whisper HTTP service
// (multipart/form-data upload, JSON response).
type GoWhisperImpl struct {
	apiURL     string
	httpClient *http.Client
}

// NewGoWhisperImpl creates a GoWhisperImpl for the service at apiURL
// (e.g., "http://localhost:8082").
//
// The HTTP client timeout is generous; per-chunk deadlines come from ctx.
func NewGoWhisperImpl(apiURL string) *GoWhisperImpl {
	return &GoWhisperImpl{
		apiURL: strings.TrimRight(apiURL, "/"),
		httpClient: &http.Client{
			Timeout: 2 * time.Hour,
		},
	}
}

// Transcribe posts the audio to {apiURL}/api/whisper/transcribe.
//
// Fields sent: audio, model, response_format=json, temperature and, when set,
// language, prompt and device.
func (g *GoWhisperImpl) Transcribe(ctx context.Context, audioPath string, options *TranscribeOptions) (*TranscriptionResult, error) {
	if options == nil {
		options = &TranscribeOptions{}
	}
	if options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}

	file, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to copy file data: %w", err)
	}

	model := "ggml-base"
	if options.Model != "" {
		model = options.Model
	}
	fields := [][2]string{
		{"model", model},
		{"response_format", "json"},
		{"temperature", fmt.Sprintf("%.1f", options.Temperature)},
	}
	if options.Language != "" {
		fields = append(fields, [2]string{"language", options.Language})
	}
	if options.Prompt != "" {
		fields = append(fields, [2]string{"prompt", options.Prompt})
	}
	if options.Device != "" {
		fields = append(fields, [2]string{"device", options.Device})
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("failed to write %s field: %w", f[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	endpoint := g.apiURL + "/api/whisper/transcribe"
	logger.L().Debug("sending transcription request",
		slog.String("backend", g.Name()),
		slog.String("endpoint", endpoint),
		slog.String("audio", audioPath),
		slog.String("model", model))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var result TranscriptionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}
	if result.Segments == nil {
		result.Segments = []TranscriptionSegment{}
	}
	return &result, nil
}

// HealthCheck sends GET {apiURL}/api/whisper/model and expects 200 OK.
func (g *GoWhisperImpl) HealthCheck(ctx context.Context) (bool, error) {
	endpoint := g.apiURL + "/api/whisper/model"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return true, nil
	}
	return false, fmt.Errorf("health check failed: status %d", resp.StatusCode)
}

// Name returns "go-whisper".
func (g *GoWhisperImpl) Name() string {
	return "go-whisper"
}
