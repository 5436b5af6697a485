package timeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	CoverageComplete = "complete"
	CoveragePartial  = "partial"
)

// Manifest describes one completed run. It is written once.
type Manifest struct {
	SourceLocator      string            `json:"source_locator"`
	ModelIdentifier    string            `json:"model_identifier"`
	ChunkCount         int               `json:"chunk_count"`
	WindowKeys         []string          `json:"window_keys"`
	WindowFilePaths    map[string]string `json:"window_file_paths"`
	FullTranscriptPath string            `json:"full_transcript_path"`
	Device             string            `json:"device"`
	ChunksSucceeded    int               `json:"chunks_succeeded"`
	FailedChunks       []int             `json:"failed_chunks"`
	Coverage           string            `json:"coverage"`
	SegmentCount       int               `json:"segment_count"`
	CreatedAt          time.Time         `json:"created_at"`
	ManifestPath       string            `json:"-"`
}

// RunInfo is the run metadata recorded alongside the transcript.
type RunInfo struct {
	SourceLocator   string
	ModelIdentifier string
	ChunkCount      int
	Device          string
	ChunksSucceeded int
	FailedChunks    []int
}

// BaseName derives the output file prefix from a source locator:
// the base name with its last extension removed.
func BaseName(source string) string {
	base := filepath.Base(source)
	if i := strings.LastIndex(base, "."); i > 0 {
		return base[:i]
	}
	return base
}

// Writer writes transcript artefacts into an output directory.
type Writer struct {
	outputDir string
}

// NewWriter creates a Writer for dir. The directory is created on Write.
func NewWriter(dir string) *Writer {
	return &Writer{outputDir: dir}
}

// Write produces <base>_<key>.txt per window, <base>_full.txt and
// <base>_metadata.json. Files are staged in a private directory and renamed
// into place. Artefacts of an earlier run for the same base name are
// replaced as a set; on failure the earlier set is restored and nothing new
// is left in the output directory.
func (w *Writer) Write(baseName string, tl Timeline, info RunInfo) (*Manifest, error) {
	if err := os.MkdirAll(w.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	staging := filepath.Join(w.outputDir, ".staging-"+uuid.NewString())
	if err := os.Mkdir(staging, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	failed := info.FailedChunks
	if failed == nil {
		failed = []int{}
	}
	coverage := CoverageComplete
	if len(failed) > 0 {
		coverage = CoveragePartial
	}

	m := &Manifest{
		SourceLocator:      info.SourceLocator,
		ModelIdentifier:    info.ModelIdentifier,
		ChunkCount:         info.ChunkCount,
		WindowKeys:         tl.WindowKeys(),
		WindowFilePaths:    make(map[string]string, len(tl.Windows)),
		FullTranscriptPath: filepath.Join(w.outputDir, baseName+"_full.txt"),
		Device:             info.Device,
		ChunksSucceeded:    info.ChunksSucceeded,
		FailedChunks:       failed,
		Coverage:           coverage,
		SegmentCount:       len(tl.Segments),
		CreatedAt:          time.Now().UTC().Truncate(time.Second),
		ManifestPath:       filepath.Join(w.outputDir, baseName+"_metadata.json"),
	}

	var names []string
	stage := func(name string, data []byte) error {
		if err := os.WriteFile(filepath.Join(staging, name), data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		names = append(names, name)
		return nil
	}

	for _, win := range tl.Windows {
		name := fmt.Sprintf("%s_%s.txt", baseName, win.Key.Key())
		if err := stage(name, []byte(WindowFileContent(win))); err != nil {
			return nil, err
		}
		m.WindowFilePaths[win.Key.Key()] = filepath.Join(w.outputDir, name)
	}
	if err := stage(baseName+"_full.txt", []byte(tl.FullTranscript())); err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := stage(baseName+"_metadata.json", data); err != nil {
		return nil, err
	}

	prev, err := previousArtifacts(w.outputDir, baseName)
	if err != nil {
		return nil, err
	}
	backup := filepath.Join(staging, "previous")
	if err := os.Mkdir(backup, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	// earlier runs for this base name are moved aside so no stale window
	// file survives, and restored if publishing fails
	var moved []string
	restore := func() {
		for _, name := range moved {
			os.Rename(filepath.Join(backup, name), filepath.Join(w.outputDir, name))
		}
	}
	for _, name := range prev {
		if err := os.Rename(filepath.Join(w.outputDir, name), filepath.Join(backup, name)); err != nil {
			restore()
			return nil, fmt.Errorf("move aside %s: %w", name, err)
		}
		moved = append(moved, name)
	}

	var placed []string
	for _, name := range names {
		dst := filepath.Join(w.outputDir, name)
		if err := os.Rename(filepath.Join(staging, name), dst); err != nil {
			for _, p := range placed {
				os.Remove(p)
			}
			restore()
			return nil, fmt.Errorf("publish %s: %w", name, err)
		}
		placed = append(placed, dst)
	}
	return m, nil
}

var windowFileSuffix = regexp.MustCompile(`^\d{2,}_\d{2,}\.txt$`)

// previousArtifacts lists regular files in dir written by an earlier Write
// for baseName: window files, the full transcript and the manifest.
func previousArtifacts(dir, baseName string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read output dir: %w", err)
	}
	prefix := baseName + "_"
	var out []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		rest := strings.TrimPrefix(e.Name(), prefix)
		if rest == "full.txt" || rest == "metadata.json" || windowFileSuffix.MatchString(rest) {
			out = append(out, e.Name())
		}
	}
	return out, nil
}
