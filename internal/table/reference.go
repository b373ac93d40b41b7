package table

import (
	"io"
	"time"

	"github.com/copyleftdev/episim-calibrate/internal/errors"
)

// ReferenceColumns names the columns of a hospital reference file.
type ReferenceColumns struct {
	Date         string `yaml:"date"`
	Hospitalized string `yaml:"hospitalized"`
	Critical     string `yaml:"critical"`
}

// DefaultReferenceColumns returns the column names of the Berlin hospital
// report.
func DefaultReferenceColumns() ReferenceColumns {
	return ReferenceColumns{
		Date:         "Datum",
		Hospitalized: "Stationäre Behandlung",
		Critical:     "Intensivmedizin",
	}
}

// Day-first layouts accepted for reference dates, tried in order.
var referenceDateLayouts = []string{
	"2.1.2006",
	"2/1/2006",
	"2-1-2006",
	"2006-01-02",
}

// ParseReferenceDate parses a day-first date.
func ParseReferenceDate(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range referenceDateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// ReferenceRow is one calendar day of reference data.
type ReferenceRow struct {
	Date         time.Time
	Hospitalized float64
	Critical     float64
}

// Reference is a hospital reference table in file order.
type Reference struct {
	Rows []ReferenceRow
}

// ReadReference loads a comma-separated reference file.
func ReadReference(path string, cols ReferenceColumns) (*Reference, error) {
	const op = "table.ReadReference"

	f, err := openFile(op, path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ref, err := ParseReference(f, cols)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindOf(err), op, "%s", path)
	}
	return ref, nil
}

// ParseReference parses comma-separated reference data with a header row.
func ParseReference(r io.Reader, cols ReferenceColumns) (*Reference, error) {
	const op = "table.ParseReference"

	h, records, err := readAll(op, r, ',')
	if err != nil {
		return nil, err
	}
	if err := h.require(op, cols.Date, cols.Hospitalized, cols.Critical); err != nil {
		return nil, err
	}

	ref := &Reference{Rows: make([]ReferenceRow, 0, len(records))}
	for i, rec := range records {
		line := i + 2
		var row ReferenceRow

		if row.Date, err = ParseReferenceDate(h.value(rec, cols.Date)); err != nil {
			return nil, errors.Wrapf(err, errors.KindParse, op, "line %d: column %s", line, cols.Date)
		}
		if row.Hospitalized, err = parseCount(op, line, cols.Hospitalized, h.value(rec, cols.Hospitalized)); err != nil {
			return nil, err
		}
		if row.Critical, err = parseCount(op, line, cols.Critical, h.value(rec, cols.Critical)); err != nil {
			return nil, err
		}
		ref.Rows = append(ref.Rows, row)
	}
	return ref, nil
}

// Between returns the rows whose date lies in [start, end], in file order.
func (r *Reference) Between(start, end time.Time) *Reference {
	res := &Reference{}
	for _, row := range r.Rows {
		if inWindow(row.Date, start, end) {
			res.Rows = append(res.Rows, row)
		}
	}
	return res
}

// Len returns the number of rows.
func (r *Reference) Len() int {
	return len(r.Rows)
}
