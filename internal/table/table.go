// Package table reads the simulation output and the hospital reference
// time series.
package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/copyleftdev/episim-calibrate/internal/errors"
)

// DateLayout is the layout of the date column in simulation output.
const DateLayout = "2006-01-02"

// header maps column names to their index.
type header map[string]int

func newHeader(record []string) header {
	h := make(header, len(record))
	for i, name := range record {
		name = strings.TrimSpace(name)
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		h[name] = i
	}
	return h
}

func (h header) require(op string, names ...string) error {
	var missing []string
	for _, n := range names {
		if _, ok := h[n]; !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return errors.Errorf(errors.KindParse, op, "missing columns %q", missing)
	}
	return nil
}

func (h header) value(record []string, name string) string {
	idx, ok := h[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func parseCount(op string, line int, column, raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.Wrapf(err, errors.KindParse, op, "line %d: column %s", line, column)
	}
	return v, nil
}

// readAll reads every record of a delimited file, returning the header
// separately. Empty files are a parse error.
func readAll(op string, r io.Reader, comma rune) (header, [][]string, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.KindParse, op, "read records")
	}
	if len(records) == 0 {
		return nil, nil, errors.New(errors.KindParse, op, "file has no header")
	}
	return newHeader(records[0]), records[1:], nil
}

func openFile(op, path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		kind := errors.KindParse
		if os.IsNotExist(err) {
			kind = errors.KindNotFound
		}
		return nil, errors.Wrap(err, kind, op, fmt.Sprintf("open %s", path))
	}
	return f, nil
}

// inWindow reports whether d lies in [start, end] by calendar day.
func inWindow(d, start, end time.Time) bool {
	return !d.Before(start) && !d.After(end)
}
