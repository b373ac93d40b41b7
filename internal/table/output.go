package table

import (
	"io"
	"strconv"
	"time"

	"github.com/copyleftdev/episim-calibrate/internal/errors"
)

// Column names of the simulation's infections.txt.
const (
	ColDistrict      = "district"
	ColDay           = "day"
	ColDate          = "date"
	ColTotalInfected = "nTotalInfected"
	ColSeriouslySick = "nSeriouslySick"
	ColCritical      = "nCritical"
)

// OutputRow is one (district, day) row of simulation output.
type OutputRow struct {
	District      string
	Day           int
	Date          time.Time
	TotalInfected float64
	SeriouslySick float64
	Critical      float64
}

// Output is a simulation output table in file order.
type Output struct {
	Rows []OutputRow
}

// ReadOutput loads a tab-separated simulation output file.
func ReadOutput(path string) (*Output, error) {
	const op = "table.ReadOutput"

	f, err := openFile(op, path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out, err := ParseOutput(f)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindOf(err), op, "%s", path)
	}
	return out, nil
}

// ParseOutput parses tab-separated simulation output with a header row.
// Columns beyond the required ones are ignored.
func ParseOutput(r io.Reader) (*Output, error) {
	const op = "table.ParseOutput"

	h, records, err := readAll(op, r, '\t')
	if err != nil {
		return nil, err
	}
	if err := h.require(op, ColDistrict, ColDay, ColDate, ColTotalInfected, ColSeriouslySick, ColCritical); err != nil {
		return nil, err
	}

	out := &Output{Rows: make([]OutputRow, 0, len(records))}
	for i, rec := range records {
		line := i + 2
		row := OutputRow{District: h.value(rec, ColDistrict)}

		if row.Day, err = strconv.Atoi(h.value(rec, ColDay)); err != nil {
			return nil, errors.Wrapf(err, errors.KindParse, op, "line %d: column %s", line, ColDay)
		}
		if row.Date, err = time.Parse(DateLayout, h.value(rec, ColDate)); err != nil {
			return nil, errors.Wrapf(err, errors.KindParse, op, "line %d: column %s", line, ColDate)
		}
		if row.TotalInfected, err = parseCount(op, line, ColTotalInfected, h.value(rec, ColTotalInfected)); err != nil {
			return nil, err
		}
		if row.SeriouslySick, err = parseCount(op, line, ColSeriouslySick, h.value(rec, ColSeriouslySick)); err != nil {
			return nil, err
		}
		if row.Critical, err = parseCount(op, line, ColCritical, h.value(rec, ColCritical)); err != nil {
			return nil, err
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// Filter returns the rows of district, in file order.
func (o *Output) Filter(district string) *Output {
	res := &Output{}
	for _, row := range o.Rows {
		if row.District == district {
			res.Rows = append(res.Rows, row)
		}
	}
	return res
}

// AtDay returns the single row for day. Zero or several matches are a
// data-alignment error.
func (o *Output) AtDay(day int) (OutputRow, error) {
	var (
		found OutputRow
		n     int
	)
	for _, row := range o.Rows {
		if row.Day == day {
			found = row
			n++
		}
	}
	switch n {
	case 1:
		return found, nil
	case 0:
		return OutputRow{}, errors.Errorf(errors.KindDataAlignment, "table.AtDay", "no row for day %d", day)
	default:
		return OutputRow{}, errors.Errorf(errors.KindDataAlignment, "table.AtDay", "%d rows for day %d", n, day)
	}
}

// Between returns the rows whose date lies in [start, end], in file order.
func (o *Output) Between(start, end time.Time) *Output {
	res := &Output{}
	for _, row := range o.Rows {
		if inWindow(row.Date, start, end) {
			res.Rows = append(res.Rows, row)
		}
	}
	return res
}

// Len returns the number of rows.
func (o *Output) Len() int {
	return len(o.Rows)
}
