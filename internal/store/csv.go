package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/audiolibrelab/fluidcycle/internal/timeline"
)

// FrameColumn is the header of the row index column
const FrameColumn = "Frame"

// WriteTable writes t as CSV: a Frame column then one column per channel,
// named by channel index. Sentinel cells are left empty.
func WriteTable(w io.Writer, t *timeline.Table) error {
	cw := csv.NewWriter(w)

	channels := t.Channels()
	header := make([]string, 0, len(channels)+1)
	header = append(header, FrameColumn)
	for _, ch := range channels {
		header = append(header, strconv.Itoa(ch))
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write table header: %w", err)
	}

	record := make([]string, len(header))
	for row := 0; row < t.Rows(); row++ {
		record[0] = strconv.Itoa(row)
		for col, v := range t.Row(row) {
			record[col+1] = formatFloat(v)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write table row %d: %w", row, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush table: %w", err)
	}
	return nil
}

// ReadTable parses a table written by WriteTable. Files produced by pandas
// (empty or "nan" cells, float-looking channel headers) are accepted too.
func ReadTable(r io.Reader) (*timeline.Table, error) {
	records, err := readAll(r)
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%w: table has no data row", timeline.ErrConfig)
	}

	header := records[0]
	if len(header) < 2 || strings.TrimSpace(header[0]) != FrameColumn {
		return nil, fmt.Errorf("%w: table header must start with %q and name at least one channel", timeline.ErrConfig, FrameColumn)
	}

	channels := make([]int, len(header)-1)
	for i, name := range header[1:] {
		ch, err := parseChannel(name)
		if err != nil {
			return nil, fmt.Errorf("%w: column %d: %v", timeline.ErrConfig, i+1, err)
		}
		channels[i] = ch
	}

	rows := records[1:]
	columns := make([][]float64, len(channels))
	for i := range columns {
		columns[i] = make([]float64, len(rows))
	}

	for i, record := range rows {
		line := i + 2
		if len(record) != len(header) {
			return nil, fmt.Errorf("%w: line %d has %d fields, expected %d", timeline.ErrConfig, line, len(record), len(header))
		}
		frame, err := strconv.Atoi(strings.TrimSpace(record[0]))
		if err != nil || frame != i {
			return nil, fmt.Errorf("%w: line %d: expected frame %d, got %q", timeline.ErrConfig, line, i, record[0])
		}
		for col, cell := range record[1:] {
			v, err := parseFloat(cell)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d, channel %d: %v", timeline.ErrConfig, line, channels[col], err)
			}
			columns[col][i] = v
		}
	}

	return timeline.NewTable(channels, columns)
}

func readAll(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: malformed csv: %v", timeline.ErrConfig, err)
	}
	return records, nil
}

func formatFloat(v float64) string {
	if timeline.IsUndefined(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseFloat(cell string) (float64, error) {
	cell = strings.TrimSpace(cell)
	switch strings.ToLower(cell) {
	case "", "nan":
		return timeline.Undefined(), nil
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", cell)
	}
	if math.IsInf(v, 0) {
		return 0, fmt.Errorf("infinite value %q", cell)
	}
	return v, nil
}

func parseChannel(name string) (int, error) {
	name = strings.TrimSpace(name)
	if ch, err := strconv.Atoi(name); err == nil {
		if ch < 0 {
			return 0, fmt.Errorf("negative channel %q", name)
		}
		return ch, nil
	}
	f, err := strconv.ParseFloat(name, 64)
	if err != nil || f != math.Trunc(f) || f < 0 {
		return 0, fmt.Errorf("invalid channel name %q", name)
	}
	return int(f), nil
}
