// Command chunkscribe transcribes long recordings by splitting the audio into
// chunks, transcribing them in parallel and stitching the results into a
// single timeline bucketed by five-minute windows.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/config"
	"github.com/houzhh15/chunkscribe/pkg/logger"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "chunkscribe",
		Short:         "Chunked parallel transcription of long audio and video",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "config file (default ~/.chunkscribe/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "debug, info, warn or error")

	rootCmd.AddCommand(newTranscribeCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newTokenCmd())
	return rootCmd
}

// loadConfig resolves the config file, CHUNKSCRIBE_* variables and the
// persistent flags, then initializes the global logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}

	if _, err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.Log.Environment,
		File:        cfg.Log.File,
	}); err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	return cfg, nil
}
