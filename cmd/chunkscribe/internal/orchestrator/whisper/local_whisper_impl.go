package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator/dependency"
	"github.com/houzhh15/chunkscribe/pkg/logger"
)

const localWhisperCommand = "whisper"

// LocalWhisperImpl implements WhisperTranscriber by invoking a local whisper
// CLI program (e.g., a whisper.cpp build) through the dependency executor.
type LocalWhisperImpl struct {
	programPath string
	executor    dependency.DependencyExecutor
	config      dependency.ExecutorConfig
}

// NewLocalWhisperImpl validates that programPath exists and is executable.
func NewLocalWhisperImpl(programPath string) (*LocalWhisperImpl, error) {
	info, err := os.Stat(programPath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("whisper program not found: %s", programPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat whisper program: %w", err)
	}
	if info.Mode()&0111 == 0 {
		return nil, fmt.Errorf("whisper program is not executable: %s (mode: %s)", programPath, info.Mode())
	}

	cfg := dependency.ExecutorConfig{
		LocalBinaryPaths: map[string]string{localWhisperCommand: programPath},
		AllowedCommands:  []string{localWhisperCommand},
	}
	return &LocalWhisperImpl{
		programPath: programPath,
		executor:    dependency.NewLocalExecutor(cfg),
		config:      cfg,
	}, nil
}

// Transcribe runs: whisper transcribe <ggml-model> <audio> --format json
// [--temperature t] [--language l] [--prompt p].
//
// The program prints either one result object with a "segments" array or a
// stream of segment objects. Device "cpu" hides all GPUs from the process.
func (l *LocalWhisperImpl) Transcribe(ctx context.Context, audioPath string, options *TranscribeOptions) (*TranscriptionResult, error) {
	if options == nil {
		options = &TranscribeOptions{}
	}

	model := "ggml-base"
	if options.Model != "" {
		model = strings.TrimSuffix(options.Model, ".bin")
		if !strings.HasPrefix(model, "ggml-") {
			model = "ggml-" + model
		}
	}

	args := []string{"transcribe", model, audioPath, "--format", "json",
		"--temperature", fmt.Sprintf("%.1f", options.Temperature)}
	if options.Language != "" {
		args = append(args, "--language", options.Language)
	}
	if options.Prompt != "" {
		args = append(args, "--prompt", options.Prompt)
	}

	env := map[string]string{}
	if options.Device == "cpu" {
		env["CUDA_VISIBLE_DEVICES"] = ""
	}

	req := dependency.CommandRequest{
		Command: localWhisperCommand,
		Args:    args,
		Env:     env,
		Timeout: options.Timeout,
	}
	if err := dependency.ValidateCommandRequest(req, l.config); err != nil {
		return nil, fmt.Errorf("command validation failed: %w", err)
	}

	logger.L().Debug("executing whisper program",
		slog.String("backend", l.Name()),
		slog.String("program", l.programPath),
		slog.String("args", strings.Join(args, " ")))

	resp, err := l.executor.ExecuteCommand(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("CLI execution failed: %w, stderr: %s", err, strings.TrimSpace(resp.Stderr))
	}
	if !resp.Success {
		return nil, fmt.Errorf("CLI exited with code %d: %s", resp.ExitCode, strings.TrimSpace(resp.Stderr))
	}

	return parseCLIOutput([]byte(resp.Stdout))
}

// parseCLIOutput accepts a single result object or a sequence of segment objects.
// Empty output is a valid, silent result.
func parseCLIOutput(output []byte) (*TranscriptionResult, error) {
	result := &TranscriptionResult{Segments: []TranscriptionSegment{}}

	decoder := json.NewDecoder(bytes.NewReader(output))
	for {
		var raw map[string]json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to parse JSON output: %w", err)
		}

		if _, ok := raw["segments"]; ok {
			var r TranscriptionResult
			if err := remarshal(raw, &r); err != nil {
				return nil, fmt.Errorf("failed to parse JSON result: %w", err)
			}
			result.Segments = append(result.Segments, r.Segments...)
			if r.Language != "" {
				result.Language = r.Language
			}
			if r.Duration > result.Duration {
				result.Duration = r.Duration
			}
			continue
		}

		var seg TranscriptionSegment
		if err := remarshal(raw, &seg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON segment: %w", err)
		}
		result.Segments = append(result.Segments, seg)
	}

	texts := make([]string, 0, len(result.Segments))
	for _, s := range result.Segments {
		texts = append(texts, strings.TrimSpace(s.Text))
	}
	result.Text = strings.Join(texts, " ")
	return result, nil
}

func remarshal(raw map[string]json.RawMessage, v any) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// HealthCheck runs `whisper version` and expects some output.
func (l *LocalWhisperImpl) HealthCheck(ctx context.Context) (bool, error) {
	if err := l.executor.HealthCheck(ctx, localWhisperCommand); err != nil {
		return false, err
	}
	resp, err := l.executor.ExecuteCommand(ctx, dependency.CommandRequest{
		Command: localWhisperCommand,
		Args:    []string{"version"},
	})
	if err != nil {
		return false, fmt.Errorf("version check failed: %w, output: %s", err, resp.Stderr)
	}
	if strings.TrimSpace(resp.Stdout+resp.Stderr) == "" {
		return false, fmt.Errorf("unexpected empty version output")
	}
	return true, nil
}

// Name returns "local-whisper".
func (l *LocalWhisperImpl) Name() string {
	return "local-whisper"
}
