package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/audiolibrelab/fluidcycle/internal/timeline"
)

// Default file names in the output directory
const (
	DefaultTimelineFile = "Timeline.csv"
	DefaultMetadataFile = "Timeline_Metadata.csv"
)

// Paths locates the pair of files describing one timeline
type Paths struct {
	Timeline string `json:"timeline"`
	Metadata string `json:"metadata"`
}

// PathsIn returns the file pair inside dir. Empty names fall back to the
// defaults.
func PathsIn(dir, timelineFile, metadataFile string) Paths {
	if timelineFile == "" {
		timelineFile = DefaultTimelineFile
	}
	if metadataFile == "" {
		metadataFile = DefaultMetadataFile
	}
	return Paths{
		Timeline: filepath.Join(dir, timelineFile),
		Metadata: filepath.Join(dir, metadataFile),
	}
}

// Save writes both files, creating their directories as needed
func Save(p Paths, t *timeline.Table, m timeline.Metadata) error {
	if err := writeFile(p.Timeline, func(f *os.File) error { return WriteTable(f, t) }); err != nil {
		return err
	}
	if err := writeFile(p.Metadata, func(f *os.File) error { return WriteMetadata(f, m) }); err != nil {
		return err
	}
	slog.Debug("Timeline saved", "timeline", p.Timeline, "metadata", p.Metadata, "rows", t.Rows())
	return nil
}

// Load reads both files back and validates the metadata
func Load(p Paths) (*timeline.Table, timeline.Metadata, error) {
	var meta timeline.Metadata

	tf, err := os.Open(p.Timeline)
	if err != nil {
		return nil, meta, fmt.Errorf("failed to open timeline: %w", err)
	}
	defer tf.Close()

	table, err := ReadTable(tf)
	if err != nil {
		return nil, meta, fmt.Errorf("failed to read timeline %s: %w", p.Timeline, err)
	}

	mf, err := os.Open(p.Metadata)
	if err != nil {
		return nil, meta, fmt.Errorf("failed to open metadata: %w", err)
	}
	defer mf.Close()

	meta, err = ReadMetadata(mf)
	if err != nil {
		return nil, meta, fmt.Errorf("failed to read metadata %s: %w", p.Metadata, err)
	}
	if err := meta.Validate(); err != nil {
		return nil, meta, fmt.Errorf("invalid metadata %s: %w", p.Metadata, err)
	}

	return table, meta, nil
}

func writeFile(path string, write func(*os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}
