// Package export writes query results as CSV or JSON.
package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rebeliceyang/dataops/internal/models"
)

// Format is an export file format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ErrUnknownFormat is returned for formats other than csv and json
var ErrUnknownFormat = errors.New("unknown export format")

// ParseFormat accepts "csv" or "json" in any case
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("%q: %w", s, ErrUnknownFormat)
	}
}

// ContentType returns the MIME type of the format
func (f Format) ContentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "text/csv"
}

// Write exports rs to w in the given format
func Write(w io.Writer, rs models.ResultSet, format Format) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, rs)
	case FormatJSON:
		return WriteJSON(w, rs)
	default:
		return fmt.Errorf("%q: %w", format, ErrUnknownFormat)
	}
}

// WriteCSV writes a header row of column names followed by the rows
func WriteCSV(w io.Writer, rs models.ResultSet) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(rs.Columns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, row := range rs.Rows {
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteJSON writes an array with one object per row. Keys keep the column
// order of the result, which encoding a map would not.
func WriteJSON(w io.Writer, rs models.ResultSet) error {
	bw := bufio.NewWriter(w)

	keys := make([][]byte, len(rs.Columns))
	for i, col := range rs.Columns {
		k, err := json.Marshal(col)
		if err != nil {
			return fmt.Errorf("failed to marshal column name: %w", err)
		}
		keys[i] = k
	}

	_, _ = bw.WriteString("[")
	for r, row := range rs.Rows {
		if r > 0 {
			_, _ = bw.WriteString(",")
		}
		_, _ = bw.WriteString("\n  {")
		for i, key := range keys {
			if i > 0 {
				_, _ = bw.WriteString(", ")
			}
			val := ""
			if i < len(row) {
				val = row[i]
			}
			v, err := json.Marshal(val)
			if err != nil {
				return fmt.Errorf("failed to marshal value: %w", err)
			}
			_, _ = bw.Write(key)
			_, _ = bw.WriteString(": ")
			_, _ = bw.Write(v)
		}
		_, _ = bw.WriteString("}")
	}
	if len(rs.Rows) > 0 {
		_, _ = bw.WriteString("\n")
	}
	_, _ = bw.WriteString("]\n")

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write JSON: %w", err)
	}
	return nil
}
