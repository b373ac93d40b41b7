package table

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/episim-calibrate/internal/errors"
)

const sampleOutput = "day\tdate\tnSusceptible\tnTotalInfected\tnSeriouslySick\tnCritical\tdistrict\n" +
	"1\t2020-02-16\t100\t1\t0\t0\tBerlin\n" +
	"1\t2020-02-16\t100\t5\t0\t0\tMünchen\n" +
	"2\t2020-02-17\t99\t3\t1\t0\tBerlin\n" +
	"3\t2020-02-18\t98\t9\t2\t1\tBerlin\n"

func date(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestParseOutput(t *testing.T) {
	out, err := ParseOutput(strings.NewReader(sampleOutput))
	require.NoError(t, err)
	require.Equal(t, 4, out.Len())

	berlin := out.Filter("Berlin")
	require.Equal(t, 3, berlin.Len())

	row, err := berlin.AtDay(3)
	require.NoError(t, err)
	assert.Equal(t, 9.0, row.TotalInfected)
	assert.Equal(t, 2.0, row.SeriouslySick)
	assert.Equal(t, 1.0, row.Critical)
	assert.Equal(t, date("2020-02-18"), row.Date)

	window := berlin.Between(date("2020-02-17"), date("2020-02-18"))
	require.Equal(t, 2, window.Len())
	assert.Equal(t, 2, window.Rows[0].Day)
}

func TestAtDayAlignment(t *testing.T) {
	out, err := ParseOutput(strings.NewReader(sampleOutput))
	require.NoError(t, err)

	_, err = out.AtDay(7)
	assert.True(t, errors.IsKind(err, errors.KindDataAlignment))

	// Day 1 exists for two districts until filtered.
	_, err = out.AtDay(1)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindDataAlignment))
	assert.Contains(t, err.Error(), "2 rows for day 1")

	_, err = out.Filter("Berlin").AtDay(1)
	assert.NoError(t, err)
}

func TestParseOutputErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "no header"},
		{"missing column", "district\tday\n", "missing columns"},
		{"bad day", "district\tday\tdate\tnTotalInfected\tnSeriouslySick\tnCritical\nBerlin\tx\t2020-01-01\t1\t1\t1\n", "column day"},
		{"bad date", "district\tday\tdate\tnTotalInfected\tnSeriouslySick\tnCritical\nBerlin\t1\t01.01.2020\t1\t1\t1\n", "column date"},
		{"bad count", "district\tday\tdate\tnTotalInfected\tnSeriouslySick\tnCritical\nBerlin\t1\t2020-01-01\tmany\t1\t1\n", "column nTotalInfected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOutput(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindParse), "got %v", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadOutputMissingFile(t *testing.T) {
	_, err := ReadOutput(filepath.Join(t.TempDir(), "nope", "infections.txt"))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestParseReference(t *testing.T) {
	input := "\ufeffDatum,Stationäre Behandlung,Intensivmedizin,Sonstiges\n" +
		"15.03.2020,20,5,x\n" +
		"16.03.2020,25,6,y\n" +
		"2020-03-17,30,7,z\n"

	ref, err := ParseReference(strings.NewReader(input), DefaultReferenceColumns())
	require.NoError(t, err)
	require.Equal(t, 3, ref.Len())
	assert.Equal(t, date("2020-03-15"), ref.Rows[0].Date)
	assert.Equal(t, 25.0, ref.Rows[1].Hospitalized)
	assert.Equal(t, 7.0, ref.Rows[2].Critical)

	window := ref.Between(date("2020-03-16"), date("2020-03-16"))
	require.Equal(t, 1, window.Len())
	assert.Equal(t, 6.0, window.Rows[0].Critical)
}

func TestParseReferenceCustomColumns(t *testing.T) {
	cols := ReferenceColumns{Date: "date", Hospitalized: "hosp", Critical: "icu"}
	ref, err := ParseReference(strings.NewReader("date,hosp,icu\n1/4/2020,1,2\n"), cols)
	require.NoError(t, err)
	assert.Equal(t, date("2020-04-01"), ref.Rows[0].Date)

	_, err = ParseReference(strings.NewReader("date,hosp,icu\n1/4/2020,,2\n"), cols)
	assert.True(t, errors.IsKind(err, errors.KindParse))

	_, err = ParseReference(strings.NewReader("Datum,hosp\n"), DefaultReferenceColumns())
	assert.True(t, errors.IsKind(err, errors.KindParse))
}

func TestParseReferenceDate(t *testing.T) {
	for _, s := range []string{"08.05.2020", "8.5.2020", "08/05/2020", "8-5-2020", "2020-05-08"} {
		got, err := ParseReferenceDate(s)
		require.NoError(t, err, s)
		assert.Equal(t, date("2020-05-08"), got, s)
	}
	_, err := ParseReferenceDate("May 8")
	assert.Error(t, err)
}

func TestReadReferenceFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "berlin-hospital.csv")
	require.NoError(t, os.WriteFile(path, []byte("Datum,Stationäre Behandlung,Intensivmedizin\n15.03.2020,1,1\n"), 0o644))

	ref, err := ReadReference(path, DefaultReferenceColumns())
	require.NoError(t, err)
	assert.Equal(t, 1, ref.Len())
}
