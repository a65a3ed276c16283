package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/audiolibrelab/fluidcycle/internal/timeline"
)

// MetadataColumns is the column layout of the metadata file, kept
// compatible with the files of the original acquisition tool.
var MetadataColumns = []string{
	"p_fluidic",
	"delta_p+",
	"delta_p-",
	"p_min",
	"p_max",
	"pressure_reso",
	"time_reso",
	"total_duration",
	"nb_of_channels",
}

// WriteMetadata writes m as a single-row CSV
func WriteMetadata(w io.Writer, m timeline.Metadata) error {
	cw := csv.NewWriter(w)
	row := []string{
		formatFloat(m.BasePressure),
		formatFloat(m.DeltaPlus),
		formatFloat(m.DeltaMinus),
		formatFloat(m.PressureMin),
		formatFloat(m.PressureMax),
		strconv.Itoa(m.PressureResolution),
		formatFloat(m.TimeResolution),
		formatFloat(m.TotalDuration),
		strconv.Itoa(m.ChannelCount),
	}
	if err := cw.Write(MetadataColumns); err != nil {
		return fmt.Errorf("failed to write metadata header: %w", err)
	}
	if err := cw.Write(row); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	cw.Flush()
	return cw.Error()
}

// ReadMetadata parses a metadata file. Columns are matched by name, so their
// order does not matter; every column of MetadataColumns is required.
func ReadMetadata(r io.Reader) (timeline.Metadata, error) {
	var m timeline.Metadata

	records, err := readAll(r)
	if err != nil {
		return m, err
	}
	if len(records) < 2 {
		return m, fmt.Errorf("%w: metadata has no data row", timeline.ErrConfig)
	}
	header, row := records[0], records[1]
	if len(header) != len(row) {
		return m, fmt.Errorf("%w: metadata has %d columns but %d values", timeline.ErrConfig, len(header), len(row))
	}

	values := make(map[string]string, len(header))
	for i, name := range header {
		values[strings.TrimSpace(name)] = strings.TrimSpace(row[i])
	}

	floats := map[string]*float64{
		"p_fluidic":      &m.BasePressure,
		"delta_p+":       &m.DeltaPlus,
		"delta_p-":       &m.DeltaMinus,
		"p_min":          &m.PressureMin,
		"p_max":          &m.PressureMax,
		"time_reso":      &m.TimeResolution,
		"total_duration": &m.TotalDuration,
	}
	ints := map[string]*int{
		"pressure_reso":  &m.PressureResolution,
		"nb_of_channels": &m.ChannelCount,
	}

	for _, name := range MetadataColumns {
		raw, ok := values[name]
		if !ok {
			return m, fmt.Errorf("%w: metadata column %q is missing", timeline.ErrConfig, name)
		}
		if dst, ok := floats[name]; ok {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return m, fmt.Errorf("%w: metadata %s: invalid number %q", timeline.ErrConfig, name, raw)
			}
			*dst = v
			continue
		}
		// pandas may write integer columns as floats
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v != float64(int(v)) {
			return m, fmt.Errorf("%w: metadata %s: invalid integer %q", timeline.ErrConfig, name, raw)
		}
		*ints[name] = int(v)
	}

	return m, nil
}
