package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/config"
	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/middleware"
	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator"
	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/timeline"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestResolveTranscribe(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		flags      []string
		wantOut    string
		wantModel  string
		wantChunks int
		wantErr    bool
	}{
		{"defaults", []string{"a.mp4"}, nil, "transcripts", "small", 0, false},
		{"flags", []string{"a.mp4"}, []string{"-o", "out", "-m", "base", "--chunks", "3"}, "out", "base", 3, false},
		{"positional wins", []string{"a.mp4", "pos-out", "medium"}, []string{"-o", "flag-out", "-m", "base"}, "pos-out", "medium", 0, false},
		{"zero chunks", []string{"a.mp4"}, []string{"--chunks", "0"}, "", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newTranscribeCmd()
			require.NoError(t, cmd.Flags().Parse(tt.flags))
			cfg := config.Default()

			req, err := resolveTranscribe(cmd, tt.args, cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "a.mp4", req.Source)
			assert.Equal(t, tt.wantOut, req.OutputDir)
			assert.Equal(t, tt.wantModel, req.Model)
			assert.Equal(t, tt.wantChunks, cfg.Estimator.Chunks)
		})
	}
}

func TestPrintReport(t *testing.T) {
	report := &orchestrator.Report{
		Manifest: &timeline.Manifest{
			SourceLocator:      "talk.mp4",
			ModelIdentifier:    "small",
			Device:             "cpu",
			ChunkCount:         4,
			ChunksSucceeded:    3,
			FailedChunks:       []int{2},
			WindowKeys:         []string{"00_05"},
			WindowFilePaths:    map[string]string{"00_05": "out/talk_00_05.txt"},
			FullTranscriptPath: "out/talk_full.txt",
		},
		ChunkErrors: []*orchestrator.ChunkError{{Index: 2}},
		Duration:    1500 * time.Millisecond,
	}

	cmd := newTranscribeCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	printReport(cmd, report)

	assert.Contains(t, stdout.String(), "out/talk_00_05.txt")
	assert.Contains(t, stdout.String(), "out/talk_full.txt")
	assert.Contains(t, stdout.String(), "(4 chunks) in 1.5s")
	assert.Contains(t, stderr.String(), "chunks [2] failed (3/4 succeeded)")
}

func TestTokenCmd(t *testing.T) {
	cfgPath := writeConfig(t, "api:\n  jwt_secret: cli-secret\n")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"token", "alice", "--config", cfgPath, "--scope", "transcribe"})
	require.NoError(t, root.Execute())

	claims, err := middleware.ParseToken([]byte("cli-secret"), string(bytes.TrimSpace(out.Bytes())))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, []string{"transcribe"}, claims.Scopes)
}

func TestTokenCmd_RequiresSecret(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"token", "alice", "--config", writeConfig(t, "model: small\n")})
	assert.Error(t, root.Execute())
}

func TestTranscribeCmd_MissingSource(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, "temp_dir: "+filepath.Join(dir, "tmp")+"\n"+
		"min_free_disk_mib: 0\n"+
		"whisper:\n  api_url: http://127.0.0.1:1\n")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"transcribe", filepath.Join(dir, "missing.mp4"), filepath.Join(dir, "out"), "--config", cfgPath})

	err := root.Execute()
	require.Error(t, err)
	assert.Equal(t, orchestrator.EXTRACTION_FAILED, orchestrator.CodeOf(err))

	_, statErr := os.Stat(filepath.Join(dir, "out"))
	assert.True(t, os.IsNotExist(statErr), "no output directory on fatal failure")
}
