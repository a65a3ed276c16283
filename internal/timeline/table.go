package timeline

import (
	"fmt"
	"sort"
)

// Table is the rectangular form of a Timeline: one row per time step, one
// column per channel. Cells past a channel's native length hold the
// Undefined sentinel. A Table is immutable once built.
type Table struct {
	channels []int
	columns  [][]float64
	lengths  []int
	rows     int
}

// Align pads every sequence of tl with the sentinel up to the longest one.
// Columns are ordered by ascending channel index.
func Align(tl Timeline) (*Table, error) {
	if len(tl) == 0 {
		return nil, fmt.Errorf("%w: cannot align an empty timeline", ErrConfig)
	}

	rows := 0
	for _, seq := range tl {
		if len(seq) > rows {
			rows = len(seq)
		}
	}

	channels := make([]int, 0, len(tl))
	for ch := range tl {
		channels = append(channels, ch)
	}
	sort.Ints(channels)

	columns := make([][]float64, len(channels))
	for i, ch := range channels {
		col := make([]float64, rows)
		n := copy(col, tl[ch])
		for j := n; j < rows; j++ {
			col[j] = Undefined()
		}
		columns[i] = col
	}

	return NewTable(channels, columns)
}

// NewTable validates raw columns, typically read back from persistence. Each
// column must be a defined prefix followed only by sentinels.
func NewTable(channels []int, columns [][]float64) (*Table, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("%w: table has no channel column", ErrConfig)
	}
	if len(channels) != len(columns) {
		return nil, fmt.Errorf("%w: %d channels for %d columns", ErrConfig, len(channels), len(columns))
	}

	rows := len(columns[0])
	if rows == 0 {
		return nil, fmt.Errorf("%w: zero-length table", ErrConfig)
	}

	seen := make(map[int]bool, len(channels))
	lengths := make([]int, len(columns))
	for i, col := range columns {
		ch := channels[i]
		if ch < 0 {
			return nil, fmt.Errorf("%w: column %d: channel index must be >= 0, got %d", ErrConfig, i, ch)
		}
		if seen[ch] {
			return nil, fmt.Errorf("%w: duplicate channel column %d", ErrConfig, ch)
		}
		seen[ch] = true

		if len(col) != rows {
			return nil, fmt.Errorf("%w: channel %d has %d rows, expected %d", ErrConfig, ch, len(col), rows)
		}

		n := 0
		for n < rows && !IsUndefined(col[n]) {
			n++
		}
		if n == 0 {
			return nil, fmt.Errorf("%w: channel %d has no defined sample", ErrConfig, ch)
		}
		for j := n; j < rows; j++ {
			if !IsUndefined(col[j]) {
				return nil, fmt.Errorf("%w: channel %d has a sample at row %d after padding started at row %d", ErrConfig, ch, j, n)
			}
		}
		lengths[i] = n
	}

	return &Table{
		channels: append([]int(nil), channels...),
		columns:  columns,
		lengths:  lengths,
		rows:     rows,
	}, nil
}

// Rows is the number of time steps, the longest native length
func (t *Table) Rows() int { return t.rows }

// Channels returns the channel index of each column
func (t *Table) Channels() []int { return append([]int(nil), t.channels...) }

// Len returns the native length of column col, its cycle length at playback
func (t *Table) Len(col int) int { return t.lengths[col] }

// Value returns the cell at (col, row), possibly the sentinel
func (t *Table) Value(col, row int) float64 { return t.columns[col][row] }

// column returns a copy of column col including its padding
func (t *Table) column(col int) []float64 {
	return append([]float64(nil), t.columns[col]...)
}

// Samples returns a copy of the defined prefix of column col
func (t *Table) Samples(col int) []float64 {
	return append([]float64(nil), t.columns[col][:t.lengths[col]]...)
}

// Row returns the pressure of every column at row
func (t *Table) Row(row int) []float64 {
	out := make([]float64, len(t.columns))
	for i, col := range t.columns {
		out[i] = col[row]
	}
	return out
}
