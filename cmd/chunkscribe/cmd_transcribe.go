package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/config"
	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator"
)

func newTranscribeCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "transcribe <source> [output_dir] [model]",
		Short: "Transcribe an audio or video file into 5-minute transcript windows",
		Args:  cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			req, err := resolveTranscribe(cmd, args, cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := buildPipeline(ctx, cfg)
			if err != nil {
				return err
			}

			report, err := p.orch.Transcribe(ctx, req)
			if err != nil {
				return fmt.Errorf("transcription failed: %w", err)
			}
			printReport(cmd, report)
			return nil
		},
	}
	c.Flags().StringP("output-dir", "o", "", "directory for transcript files (default transcripts)")
	c.Flags().StringP("model", "m", "", "model identifier passed to the inference backend (default small)")
	c.Flags().Int("chunks", 0, "force a fixed chunk count instead of estimating it")
	c.Flags().String("device", "", "auto, cpu or cuda")
	return c
}

// resolveTranscribe applies positional arguments and flags on top of cfg.
// Positional output_dir and model win over their flag forms.
func resolveTranscribe(cmd *cobra.Command, args []string, cfg *config.Config) (orchestrator.Request, error) {
	if v, _ := cmd.Flags().GetString("output-dir"); v != "" {
		cfg.OutputDir = v
	}
	if v, _ := cmd.Flags().GetString("model"); v != "" {
		cfg.Model = v
	}
	if cmd.Flags().Changed("chunks") {
		n, _ := cmd.Flags().GetInt("chunks")
		if n < 1 {
			return orchestrator.Request{}, fmt.Errorf("--chunks must be >= 1, got %d", n)
		}
		cfg.Estimator.Chunks = n
	}
	if v, _ := cmd.Flags().GetString("device"); v != "" {
		cfg.Whisper.Device = v
	}

	req := orchestrator.Request{Source: args[0]}
	if len(args) > 1 {
		cfg.OutputDir = args[1]
	}
	if len(args) > 2 {
		cfg.Model = args[2]
	}
	req.OutputDir = cfg.OutputDir
	req.Model = cfg.Model
	return req, nil
}

func printReport(cmd *cobra.Command, report *orchestrator.Report) {
	out := cmd.OutOrStdout()
	m := report.Manifest
	fmt.Fprintf(out, "Transcribed %s with %s on %s (%d chunks) in %s\n",
		m.SourceLocator, m.ModelIdentifier, m.Device, m.ChunkCount, report.Duration.Round(time.Millisecond))
	for _, key := range m.WindowKeys {
		fmt.Fprintf(out, "  %s\n", m.WindowFilePaths[key])
	}
	fmt.Fprintf(out, "  %s\n", m.FullTranscriptPath)

	if report.Partial() {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: transcript is partial, chunks %v failed (%d/%d succeeded)\n",
			m.FailedChunks, m.ChunksSucceeded, m.ChunkCount)
	}
}
