package rates

import (
	"fmt"
	"sort"
	"time"

	"github.com/copyleftdev/episim-calibrate/internal/errors"
	"github.com/copyleftdev/episim-calibrate/internal/metric"
	"github.com/copyleftdev/episim-calibrate/internal/table"
)

// Alignment selects how simulated and reference rows are paired.
type Alignment string

const (
	// AlignByDate pairs rows by calendar date and requires every date in
	// the window to appear exactly once on both sides.
	AlignByDate Alignment = "date"
	// AlignPositional pairs the filtered rows in file order and only
	// requires equal counts.
	AlignPositional Alignment = "positional"
)

// HospitalizationOptions configures HospitalizationRate.
type HospitalizationOptions struct {
	Start     time.Time
	End       time.Time
	Columns   table.ReferenceColumns
	Alignment Alignment
}

// DefaultHospitalizationOptions compares 2020-03-15 through 2020-05-08 by date.
func DefaultHospitalizationOptions() HospitalizationOptions {
	return HospitalizationOptions{
		Start:     time.Date(2020, time.March, 15, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2020, time.May, 8, 0, 0, 0, 0, time.UTC),
		Columns:   table.DefaultReferenceColumns(),
		Alignment: AlignByDate,
	}
}

// HospitalizationResult holds the MAPE of both hospital series.
type HospitalizationResult struct {
	ErrorSick     float64
	ErrorCritical float64
	// Days is the number of compared dates.
	Days int
}

// HospitalizationRate loads the simulation output and the reference file
// and compares hospital occupancy for district.
func HospitalizationRate(outputPath, district, referencePath string, opts HospitalizationOptions) (*HospitalizationResult, error) {
	out, err := table.ReadOutput(outputPath)
	if err != nil {
		return nil, err
	}
	ref, err := table.ReadReference(referencePath, opts.Columns)
	if err != nil {
		return nil, err
	}
	return HospitalizationRateFromTables(out, ref, district, opts)
}

// HospitalizationRateFromTables computes MAPE(reference hospitalised,
// nSeriouslySick) and MAPE(reference critical, nCritical) over the
// inclusive window.
func HospitalizationRateFromTables(out *table.Output, ref *table.Reference, district string, opts HospitalizationOptions) (*HospitalizationResult, error) {
	const op = "rates.HospitalizationRate"

	if opts.End.Before(opts.Start) {
		return nil, errors.Errorf(errors.KindConfig, op, "window ends %s before it starts %s",
			opts.End.Format(table.DateLayout), opts.Start.Format(table.DateLayout))
	}

	sim := out.Filter(district).Between(opts.Start, opts.End)
	cmp := ref.Between(opts.Start, opts.End)

	var (
		pairs *alignedSeries
		err   error
	)
	switch opts.Alignment {
	case AlignPositional:
		pairs, err = alignPositional(sim, cmp)
	case AlignByDate, "":
		pairs, err = alignByDate(sim, cmp)
	default:
		err = errors.Errorf(errors.KindConfig, op, "unknown alignment %q", opts.Alignment)
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindOf(err), op, "district %q", district)
	}

	errSick, err := metric.MeanAbsolutePercentageError(pairs.refSick, pairs.simSick)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindOf(err), op, "seriously sick")
	}
	errCritical, err := metric.MeanAbsolutePercentageError(pairs.refCritical, pairs.simCritical)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindOf(err), op, "critical")
	}

	return &HospitalizationResult{
		ErrorSick:     errSick,
		ErrorCritical: errCritical,
		Days:          len(pairs.refSick),
	}, nil
}

type alignedSeries struct {
	refSick, simSick         []float64
	refCritical, simCritical []float64
}

func (a *alignedSeries) add(r table.ReferenceRow, s table.OutputRow) {
	a.refSick = append(a.refSick, r.Hospitalized)
	a.simSick = append(a.simSick, s.SeriouslySick)
	a.refCritical = append(a.refCritical, r.Critical)
	a.simCritical = append(a.simCritical, s.Critical)
}

func alignPositional(sim *table.Output, ref *table.Reference) (*alignedSeries, error) {
	if sim.Len() != ref.Len() {
		return nil, errors.Errorf(errors.KindLengthMismatch, "rates.alignPositional",
			"simulation has %d rows in window, reference has %d", sim.Len(), ref.Len())
	}
	a := &alignedSeries{}
	for i := range sim.Rows {
		a.add(ref.Rows[i], sim.Rows[i])
	}
	return a, nil
}

func dayKey(t time.Time) string {
	return t.Format(table.DateLayout)
}

func alignByDate(sim *table.Output, ref *table.Reference) (*alignedSeries, error) {
	const op = "rates.alignByDate"

	simByDate := make(map[string]table.OutputRow, sim.Len())
	for _, row := range sim.Rows {
		k := dayKey(row.Date)
		if _, dup := simByDate[k]; dup {
			return nil, errors.Errorf(errors.KindDataAlignment, op, "simulation has several rows for %s", k)
		}
		simByDate[k] = row
	}

	seen := make(map[string]bool, ref.Len())
	var missing []string
	a := &alignedSeries{}
	for _, row := range ref.Rows {
		k := dayKey(row.Date)
		if seen[k] {
			return nil, errors.Errorf(errors.KindDataAlignment, op, "reference has several rows for %s", k)
		}
		seen[k] = true

		s, ok := simByDate[k]
		if !ok {
			missing = append(missing, "simulation:"+k)
			continue
		}
		a.add(row, s)
	}
	for k := range simByDate {
		if !seen[k] {
			missing = append(missing, "reference:"+k)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, errors.Errorf(errors.KindDataAlignment, op, "dates missing on one side: %s", summarize(missing))
	}
	if len(a.refSick) == 0 {
		return nil, errors.New(errors.KindDataAlignment, op, "no dates in window")
	}
	return a, nil
}

func summarize(items []string) string {
	const limit = 5
	if len(items) <= limit {
		return fmt.Sprint(items)
	}
	return fmt.Sprintf("%v and %d more", items[:limit], len(items)-limit)
}
