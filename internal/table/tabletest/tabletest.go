// Package tabletest writes synthetic simulation output and reference files
// for tests.
package tabletest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Row is one line of synthetic simulation output.
type Row struct {
	District      string
	Day           int
	Date          time.Time
	TotalInfected float64
	SeriouslySick float64
	Critical      float64
}

// RefRow is one line of a synthetic reference file.
type RefRow struct {
	Date         time.Time
	Hospitalized float64
	Critical     float64
}

// Start is the date of day 0 in generated output.
var Start = time.Date(2020, time.February, 15, 0, 0, 0, 0, time.UTC)

// Growth returns rows for district over days [from, to] where
// nTotalInfected(day) = base * ratio^day.
func Growth(district string, from, to int, base, ratio float64) []Row {
	rows := make([]Row, 0, to-from+1)
	v := base
	for d := 0; d < from; d++ {
		v *= ratio
	}
	for d := from; d <= to; d++ {
		rows = append(rows, Row{
			District:      district,
			Day:           d,
			Date:          Start.AddDate(0, 0, d),
			TotalInfected: v,
		})
		v *= ratio
	}
	return rows
}

// Constant returns rows for district covering [start, end] with fixed
// hospital counts.
func Constant(district string, start, end time.Time, sick, critical float64) []Row {
	var rows []Row
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		rows = append(rows, Row{
			District:      district,
			Day:           int(d.Sub(Start).Hours() / 24),
			Date:          d,
			TotalInfected: 1000,
			SeriouslySick: sick,
			Critical:      critical,
		})
	}
	return rows
}

// ConstantReference returns reference rows covering [start, end].
func ConstantReference(start, end time.Time, hospitalized, critical float64) []RefRow {
	var rows []RefRow
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		rows = append(rows, RefRow{Date: d, Hospitalized: hospitalized, Critical: critical})
	}
	return rows
}

// FormatOutput renders rows as tab-separated simulation output.
func FormatOutput(rows []Row) string {
	var b strings.Builder
	b.WriteString("day\tdate\tnSusceptible\tnTotalInfected\tnSeriouslySick\tnCritical\tdistrict\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%d\t%s\t0\t%g\t%g\t%g\t%s\n",
			r.Day, r.Date.Format("2006-01-02"), r.TotalInfected, r.SeriouslySick, r.Critical, r.District)
	}
	return b.String()
}

// FormatReference renders rows in the Berlin hospital report layout.
func FormatReference(rows []RefRow) string {
	var b strings.Builder
	b.WriteString("Datum,Stationäre Behandlung,Intensivmedizin\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%s,%g,%g\n", r.Date.Format("02.01.2006"), r.Hospitalized, r.Critical)
	}
	return b.String()
}

// WriteOutput writes rows to path, creating parent directories.
func WriteOutput(t testing.TB, path string, rows []Row) {
	t.Helper()
	write(t, path, FormatOutput(rows))
}

// WriteReference writes rows to path, creating parent directories.
func WriteReference(t testing.TB, path string, rows []RefRow) {
	t.Helper()
	write(t, path, FormatReference(rows))
}

func write(t testing.TB, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
