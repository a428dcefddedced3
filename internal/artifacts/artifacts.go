// Package artifacts registers files a pipeline left in its output directory.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hochfrequenz/pipeline-orchestrator/internal/domain"
)

// Registrar is the slice of the work store artifacts are recorded into.
type Registrar interface {
	AddArtifact(a *domain.Artifact) error
}

// Categorize maps a filename to an artifact category by extension.
// Unrecognized extensions count as documents; a collected file is never
// dropped just because its type is unfamiliar.
func Categorize(filename string) domain.ArtifactCategory {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp4", ".mov", ".webm", ".gif", ".png", ".jpg", ".jpeg":
		return domain.ArtifactRecording
	case ".log", ".txt", ".out":
		return domain.ArtifactLog
	default:
		return domain.ArtifactDocument
	}
}

// Collect scans dir non-recursively and registers every regular file as
// an artifact of runID. Subdirectories are skipped; pipelines that want
// nested output are expected to archive it first. Returns the collected
// artifacts in directory order.
func Collect(store Registrar, runID, dir string) ([]*domain.Artifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading artifacts dir: %w", err)
	}

	var collected []*domain.Artifact
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: stat %s: %v\n", entry.Name(), err)
			continue
		}

		a := &domain.Artifact{
			RunID:     runID,
			Filename:  entry.Name(),
			Category:  Categorize(entry.Name()),
			SizeBytes: info.Size(),
			Path:      filepath.Join(dir, entry.Name()),
		}
		if err := store.AddArtifact(a); err != nil {
			return collected, fmt.Errorf("registering artifact %s: %w", entry.Name(), err)
		}
		collected = append(collected, a)
	}
	return collected, nil
}
