package store

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/audiolibrelab/fluidcycle/internal/timeline"
)

func TestMetadataRoundTrip(t *testing.T) {
	meta := timeline.Metadata{
		BasePressure:       300,
		DeltaPlus:          200,
		DeltaMinus:         150,
		PressureMin:        150,
		PressureMax:        500,
		PressureResolution: 10,
		TimeResolution:     0.1,
		TotalDuration:      10,
		ChannelCount:       3,
	}

	var buf bytes.Buffer
	if err := WriteMetadata(&buf, meta); err != nil {
		t.Fatalf("WriteMetadata() error = %v", err)
	}
	if !strings.HasPrefix(buf.String(), "p_fluidic,delta_p+,delta_p-,p_min,p_max,pressure_reso,time_reso,total_duration,nb_of_channels\n") {
		t.Errorf("Unexpected header: %q", buf.String())
	}

	got, err := ReadMetadata(&buf)
	if err != nil {
		t.Fatalf("ReadMetadata() error = %v", err)
	}
	if got != meta {
		t.Errorf("Expected %+v, got %+v", meta, got)
	}
}

func TestReadMetadata_PandasOutput(t *testing.T) {
	in := "p_fluidic,delta_p+,delta_p-,p_min,p_max,pressure_reso,time_reso,total_duration,nb_of_channels\n" +
		"300.0,200.0,200.0,100.0,500.0,10,0.1,10.0,3\n"

	meta, err := ReadMetadata(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadMetadata() error = %v", err)
	}
	if meta.TimeResolution != 0.1 || meta.TotalDuration != 10 || meta.ChannelCount != 3 {
		t.Errorf("Unexpected metadata %+v", meta)
	}
}

func TestReadMetadata_MissingColumn(t *testing.T) {
	in := "p_fluidic,time_reso\n300,0.1\n"
	if _, err := ReadMetadata(strings.NewReader(in)); !errors.Is(err, timeline.ErrConfig) {
		t.Errorf("Expected ErrConfig, got %v", err)
	}
}

func TestSaveLoad(t *testing.T) {
	table, err := timeline.Align(timeline.Timeline{0: {300, 300}, 1: {100, 300, 500, 300}})
	if err != nil {
		t.Fatalf("Align() error = %v", err)
	}
	meta := timeline.Metadata{TimeResolution: 0.1, TotalDuration: 5, ChannelCount: 2}

	paths := PathsIn(filepath.Join(t.TempDir(), "assets"), "", "")
	if filepath.Base(paths.Timeline) != DefaultTimelineFile || filepath.Base(paths.Metadata) != DefaultMetadataFile {
		t.Errorf("Unexpected default paths %+v", paths)
	}

	if err := Save(paths, table, meta); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	gotTable, gotMeta, err := Load(paths)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if gotTable.Rows() != 4 || gotTable.Len(0) != 2 {
		t.Errorf("Unexpected table: %d rows, channel 0 length %d", gotTable.Rows(), gotTable.Len(0))
	}
	if gotMeta != meta {
		t.Errorf("Expected %+v, got %+v", meta, gotMeta)
	}
}

func TestLoad_InvalidMetadata(t *testing.T) {
	table, err := timeline.Align(timeline.Timeline{0: {1}})
	if err != nil {
		t.Fatalf("Align() error = %v", err)
	}
	paths := PathsIn(t.TempDir(), "", "")
	if err := Save(paths, table, timeline.Metadata{TimeResolution: 0, TotalDuration: 1}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, _, err := Load(paths); !errors.Is(err, timeline.ErrConfig) {
		t.Errorf("Expected ErrConfig, got %v", err)
	}
}
