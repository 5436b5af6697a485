// Package config loads chunkscribe runtime configuration.
//
// Precedence (highest first): command-line flags, CHUNKSCRIBE_* environment
// variables, YAML config file, built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable used by the transcription pipeline. It is passed
// explicitly into the estimator, the transcriber factory and the coordinator.
type Config struct {
	OutputDir      string        `yaml:"output_dir"`
	TempDir        string        `yaml:"temp_dir"`         // parent of per-run workspaces; empty -> os.TempDir()
	Model          string        `yaml:"model"`            // model identifier passed to the inference backend
	MinFreeDiskMiB uint64        `yaml:"min_free_disk_mib"` // 0 disables the check
	DecodeTimeout  time.Duration `yaml:"decode_timeout"`
	ChunkTimeout   time.Duration `yaml:"chunk_timeout"`

	Estimator EstimatorConfig `yaml:"estimator"`
	Whisper   WhisperConfig   `yaml:"whisper"`
	Decoder   DecoderConfig   `yaml:"decoder"`
	Log       LogConfig       `yaml:"log"`
	API       APIConfig       `yaml:"api"`
}

// EstimatorConfig tunes the parallel chunk count heuristic.
type EstimatorConfig struct {
	Chunks        int           `yaml:"chunks"` // >0 forces a fixed chunk count
	LowMemoryMiB  int64         `yaml:"low_memory_mib"`
	HighMemoryMiB int64         `yaml:"high_memory_mib"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	NvidiaSMIPath string        `yaml:"nvidia_smi_path"`
}

// WhisperConfig selects and configures the inference backend.
type WhisperConfig struct {
	Mode        string  `yaml:"mode"` // "http" (go-whisper API) or "cli" (local program)
	APIURL      string  `yaml:"api_url"`
	ProgramPath string  `yaml:"program_path"`
	Language    string  `yaml:"language"`
	Temperature float64 `yaml:"temperature"`
	Device      string  `yaml:"device"` // "auto", "cpu" or "cuda"
}

// DecoderConfig configures media extraction.
type DecoderConfig struct {
	FFmpegPath string `yaml:"ffmpeg_path"`
	SampleRate int    `yaml:"sample_rate"`
}

// LogConfig mirrors logger.Config.
type LogConfig struct {
	Level       string `yaml:"level"`
	Environment string `yaml:"environment"`
	File        string `yaml:"file"`
}

// APIConfig configures serve mode.
type APIConfig struct {
	Addr      string `yaml:"addr"`
	JWTSecret string `yaml:"jwt_secret"` // empty disables bearer auth
	MaxJobs   int    `yaml:"max_jobs"`   // transcription jobs running at once

	// InputDir is the only tree path submissions may read from; empty
	// disables them and leaves uploads as the sole source.
	InputDir     string `yaml:"input_dir"`
	UploadDir    string `yaml:"upload_dir"`
	MaxUploadMiB int64  `yaml:"max_upload_mib"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		OutputDir:      "transcripts",
		Model:          "small",
		MinFreeDiskMiB: 256,
		DecodeTimeout:  30 * time.Minute,
		ChunkTimeout:   60 * time.Minute,
		Estimator: EstimatorConfig{
			LowMemoryMiB:  4096,
			HighMemoryMiB: 10240,
			ProbeTimeout:  3 * time.Second,
			NvidiaSMIPath: "nvidia-smi",
		},
		Whisper: WhisperConfig{
			Mode:        "http",
			APIURL:      "http://localhost:8082",
			ProgramPath: "./bin/whisper/whisper",
			Device:      "auto",
		},
		Decoder: DecoderConfig{
			FFmpegPath: "ffmpeg",
			SampleRate: 16000,
		},
		Log: LogConfig{
			Level:       "info",
			Environment: "dev",
		},
		API: APIConfig{
			Addr:         ":8090",
			MaxJobs:      1,
			UploadDir:    "uploads",
			MaxUploadMiB: 2048,
		},
	}
}

// DefaultConfigPath returns ~/.chunkscribe/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".chunkscribe", "config.yaml")
}

// Load reads and parses a YAML config file. Missing fields keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads path when given, otherwise the default config file if it
// exists, otherwise built-in defaults.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	if def := DefaultConfigPath(); def != "" {
		if _, err := os.Stat(def); err == nil {
			return Load(def)
		}
	}
	return Default(), nil
}

// ApplyEnv overrides fields from CHUNKSCRIBE_* variables. getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("CHUNKSCRIBE_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := getenv("CHUNKSCRIBE_TEMP_DIR"); v != "" {
		c.TempDir = v
	}
	if v := getenv("CHUNKSCRIBE_MODEL"); v != "" {
		c.Model = v
	}
	if v := getenv("CHUNKSCRIBE_WHISPER_MODE"); v != "" {
		c.Whisper.Mode = v
	}
	if v := getenv("CHUNKSCRIBE_WHISPER_URL"); v != "" {
		c.Whisper.APIURL = v
	}
	if v := getenv("CHUNKSCRIBE_WHISPER_PROGRAM"); v != "" {
		c.Whisper.ProgramPath = v
	}
	if v := getenv("CHUNKSCRIBE_DEVICE"); v != "" {
		c.Whisper.Device = v
	}
	if v := getenv("CHUNKSCRIBE_FFMPEG"); v != "" {
		c.Decoder.FFmpegPath = v
	}
	if v := getenv("CHUNKSCRIBE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("CHUNKSCRIBE_JWT_SECRET"); v != "" {
		c.API.JWTSecret = v
	}
	if v := getenv("CHUNKSCRIBE_INPUT_DIR"); v != "" {
		c.API.InputDir = v
	}
	if v := getenv("CHUNKSCRIBE_UPLOAD_DIR"); v != "" {
		c.API.UploadDir = v
	}
	if v := getenv("CHUNKSCRIBE_CHUNKS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CHUNKSCRIBE_CHUNKS must be an integer, got %q", v)
		}
		c.Estimator.Chunks = n
	}
	if v := getenv("CHUNKSCRIBE_CHUNK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CHUNKSCRIBE_CHUNK_TIMEOUT: %w", err)
		}
		c.ChunkTimeout = d
	}
	return nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OutputDir) == "" {
		return fmt.Errorf("output_dir must not be empty")
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("model must not be empty")
	}
	if c.DecodeTimeout <= 0 {
		return fmt.Errorf("decode_timeout must be > 0")
	}
	if c.ChunkTimeout <= 0 {
		return fmt.Errorf("chunk_timeout must be > 0")
	}

	if c.Estimator.Chunks < 0 {
		return fmt.Errorf("estimator.chunks must be >= 0, got %d", c.Estimator.Chunks)
	}
	if c.Estimator.LowMemoryMiB <= 0 || c.Estimator.HighMemoryMiB <= 0 {
		return fmt.Errorf("estimator memory thresholds must be > 0")
	}
	if c.Estimator.LowMemoryMiB > c.Estimator.HighMemoryMiB {
		return fmt.Errorf("estimator.low_memory_mib (%d) must not exceed high_memory_mib (%d)",
			c.Estimator.LowMemoryMiB, c.Estimator.HighMemoryMiB)
	}
	if c.Estimator.ProbeTimeout <= 0 {
		return fmt.Errorf("estimator.probe_timeout must be > 0")
	}

	switch c.Whisper.Mode {
	case "http":
		if c.Whisper.APIURL == "" {
			return fmt.Errorf("whisper.api_url must not be empty in http mode")
		}
	case "cli":
		if c.Whisper.ProgramPath == "" {
			return fmt.Errorf("whisper.program_path must not be empty in cli mode")
		}
	default:
		return fmt.Errorf("whisper.mode must be \"http\" or \"cli\", got %q", c.Whisper.Mode)
	}

	switch c.Whisper.Device {
	case "auto", "cpu", "cuda":
	default:
		return fmt.Errorf("whisper.device must be auto, cpu or cuda, got %q", c.Whisper.Device)
	}

	if c.Decoder.SampleRate <= 0 {
		return fmt.Errorf("decoder.sample_rate must be > 0")
	}

	if c.API.MaxJobs < 1 {
		return fmt.Errorf("api.max_jobs must be >= 1, got %d", c.API.MaxJobs)
	}
	if strings.TrimSpace(c.API.UploadDir) == "" {
		return fmt.Errorf("api.upload_dir must not be empty")
	}
	if c.API.MaxUploadMiB <= 0 {
		return fmt.Errorf("api.max_upload_mib must be > 0")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error, got %q", c.Log.Level)
	}

	return nil
}
