package timeseries

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Column names every raw table must carry.
const (
	ColumnDate  = "date"
	ColumnValue = "value"
)

// ErrSchema marks a table or stored file that does not have the (date, value) shape.
var ErrSchema = errors.New("timeseries: schema violation")

// SchemaError describes why a table could not be normalized.
type SchemaError struct {
	Column  string
	Row     int // 0-based data row, -1 when the problem is the header
	Message string
}

func (e *SchemaError) Error() string {
	if e.Row >= 0 {
		return fmt.Sprintf("%s (row %d, column %q)", e.Message, e.Row, e.Column)
	}
	return e.Message
}

// Unwrap lets errors.Is match ErrSchema.
func (e *SchemaError) Unwrap() error { return ErrSchema }

// Table is a raw provider frame: named columns and string cells.
type Table struct {
	Columns []string
	Rows    [][]string
}

// NewTable builds a two-column (date, value) table.
func NewTable() *Table {
	return &Table{Columns: []string{ColumnDate, ColumnValue}}
}

// Append adds a (date, value) row to a table built with NewTable.
func (t *Table) Append(date, value string) {
	t.Rows = append(t.Rows, []string{date, value})
}

var dateLayouts = []string{
	DateLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// Normalize turns raw rows into a canonical Series.
//
// Rows may arrive in any order and repeat dates; the last row for a date wins.
// Unparsable values become nil. A missing date or value column is a SchemaError,
// while a table without rows is simply empty.
func Normalize(t Table) (Series, error) {
	if len(t.Rows) == 0 {
		return Series{}, nil
	}

	dateCol, valueCol := -1, -1
	for i, c := range t.Columns {
		switch strings.ToLower(strings.TrimSpace(c)) {
		case ColumnDate:
			dateCol = i
		case ColumnValue:
			valueCol = i
		}
	}
	if dateCol < 0 || valueCol < 0 {
		return nil, &SchemaError{
			Row:     -1,
			Message: fmt.Sprintf("timeseries must have columns date,value (got %v)", t.Columns),
		}
	}

	raw := make(Series, 0, len(t.Rows))
	for i, row := range t.Rows {
		if dateCol >= len(row) {
			return nil, &SchemaError{Column: ColumnDate, Row: i, Message: "short row"}
		}
		cell := strings.TrimSpace(row[dateCol])
		if cell == "" {
			continue
		}
		date, err := ParseDate(cell)
		if err != nil {
			return nil, &SchemaError{Column: ColumnDate, Row: i, Message: fmt.Sprintf("unparsable date %q", cell)}
		}
		var value *float64
		if valueCol < len(row) {
			value = ParseValue(row[valueCol])
		}
		raw = append(raw, Point{Date: date, Value: value})
	}

	return Dedupe(raw), nil
}

// ParseDate accepts ISO dates, RFC3339 timestamps and unix seconds and returns the UTC day.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Day(t), nil
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Day(time.Unix(secs, 0)), nil
	}
	return time.Time{}, fmt.Errorf("parse date %q", s)
}

// ParseValue coerces a cell to a float. Blank, ".", NaN, infinities and garbage are nil.
func ParseValue(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "." {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
