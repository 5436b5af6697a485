package dependency

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathManager builds and validates file paths inside one run workspace.
//
// Every run owns a flat directory with standardized naming:
//   - Decoded source: source.wav
//   - Audio chunks: chunk_0000.wav, chunk_0001.wav, ...
type PathManager struct {
	baseDir string // workspace directory, e.g. /tmp/chunkscribe-123456
}

// NewPathManager creates a new PathManager instance.
func NewPathManager(baseDir string) *PathManager {
	return &PathManager{baseDir: baseDir}
}

// BaseDir returns the workspace directory.
func (pm *PathManager) BaseDir() string {
	return pm.baseDir
}

// GetSourceAudioPath returns where the decoded mono PCM source is written.
func (pm *PathManager) GetSourceAudioPath() string {
	return filepath.Join(pm.baseDir, "source.wav")
}

// GetChunkBasename generates the base name for chunk-related files.
// Example: GetChunkBasename(0) -> "chunk_0000"
//
//	GetChunkBasename(15) -> "chunk_0015"
func (pm *PathManager) GetChunkBasename(chunkIndex int) string {
	return fmt.Sprintf("chunk_%04d", chunkIndex)
}

// GetChunkAudioPath returns the full path for a chunk's audio file.
// Example: GetChunkAudioPath(3) -> "/tmp/chunkscribe-123456/chunk_0003.wav"
func (pm *PathManager) GetChunkAudioPath(chunkIndex int) string {
	return filepath.Join(pm.baseDir, pm.GetChunkBasename(chunkIndex)+".wav")
}

// ValidatePath checks that path stays inside the workspace and is not a symlink.
func (pm *PathManager) ValidatePath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	absBaseDir, err := filepath.Abs(pm.baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %w", err)
	}

	rel, err := filepath.Rel(absBaseDir, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %s is outside workspace (%s)", path, pm.baseDir)
	}

	info, err := os.Lstat(absPath)
	if err == nil && info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("symbolic links are not allowed: %s", path)
	}
	return nil
}
